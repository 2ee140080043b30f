package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	AppEnv                string
	LogLevel              string
	LogFormat             string
	LogOutput             string
	DatabaseURL           string
	AutoMigrate           bool
	SeedDemo              bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	SummaryTTLSeconds     int
	AuthSecret            string
	AccessTokenTTLMinutes int
	LowStockThreshold     int
	StockLockTimeoutMS    int
	StoreTimeoutMS        int
	NotifyBuffer          int
	RabbitMQURL           string
	RabbitMQExchange      string
	KafkaBrokers          []string
	KafkaTopic            string
}

// Load reads configuration from the environment. Values in a .env file in
// the working directory are used for keys the environment does not set.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		AppEnv:                getEnv("APP_ENV", "development"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             os.Getenv("LOG_FORMAT"),
		LogOutput:             getEnv("LOG_OUTPUT", "stdout"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		AutoMigrate:           getEnv("AUTO_MIGRATE", "true") != "false",
		SeedDemo:              getEnv("SEED_DEMO", "false") == "true",
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		SummaryTTLSeconds:     getPositiveInt("SUMMARY_TTL_SECONDS", 30),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		LowStockThreshold:     getPositiveInt("LOW_STOCK_THRESHOLD", 150),
		StockLockTimeoutMS:    getPositiveInt("STOCK_LOCK_TIMEOUT_MS", 2000),
		StoreTimeoutMS:        getPositiveInt("STORE_TIMEOUT_MS", 5000),
		NotifyBuffer:          getPositiveInt("NOTIFY_BUFFER", 256),
		RabbitMQURL:           strings.TrimSpace(os.Getenv("RABBITMQ_URL")),
		RabbitMQExchange:      getEnv("RABBITMQ_EXCHANGE", "pharmacy.stock"),
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:            getEnv("KAFKA_TOPIC", "pharmacy.stock-alerts"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
