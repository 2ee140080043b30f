package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pharmaledger/backend/internal/cache"
	"pharmaledger/backend/internal/config"
	"pharmaledger/backend/internal/httpapi"
	"pharmaledger/backend/internal/ledger"
	"pharmaledger/backend/internal/logger"
	"pharmaledger/backend/internal/notify"
	"pharmaledger/backend/internal/service"
	"pharmaledger/backend/internal/store"
	"pharmaledger/backend/internal/store/memory"
	pgstore "pharmaledger/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}

	zlog, err := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: logger.FormatForEnvironment(cfg.AppEnv, cfg.LogFormat),
		Output: cfg.LogOutput,
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 4)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			zlog.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		closers = append(closers, pg.Close)
		if cfg.AutoMigrate {
			if err := pg.Migrate(zlog.Named("migrate")); err != nil {
				zlog.Fatal("schema migration failed", zap.Error(err))
			}
		}
		repo = pg
		zlog.Info("repository: postgres")
		if cfg.SeedDemo {
			if err := seedDemo(ctx, repo, zlog.Named("seed")); err != nil {
				zlog.Fatal("demo seed failed", zap.Error(err))
			}
		}
	} else {
		repo = memory.NewSeeded(zlog.Named("store"))
		zlog.Info("repository: in-memory")
	}

	summaries := cache.SummaryCache(cache.NoopSummaryCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSummaryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			zlog.Warn("redis unavailable, using noop cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			summaries = redisCache
			closers = append(closers, redisCache.Close)
			zlog.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		zlog.Info("cache: noop")
	}

	sinks := notify.Fanout{notify.NewLogSink(zlog.Named("notify"))}
	if cfg.RabbitMQURL != "" {
		conn, ch, err := notify.DialRabbitMQ(cfg.RabbitMQURL, cfg.RabbitMQExchange, zlog.Named("notify"))
		if err != nil {
			zlog.Warn("rabbitmq unavailable, alerts stay in the log", zap.Error(err))
		} else {
			sinks = append(sinks, notify.NewRabbitMQSink(ch, cfg.RabbitMQExchange))
			closers = append(closers, ch.Close, conn.Close)
			zlog.Info("notify: rabbitmq", zap.String("exchange", cfg.RabbitMQExchange))
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := notify.NewKafkaSink(notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		sinks = append(sinks, kafkaSink)
		closers = append(closers, kafkaSink.Close)
		zlog.Info("notify: kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}
	dispatcher := notify.NewDispatcher(sinks, cfg.NotifyBuffer, zlog.Named("notify"))
	dispatcher.Start()

	storeTimeout := time.Duration(cfg.StoreTimeoutMS) * time.Millisecond
	stockLedger := ledger.New(repo, ledger.Options{
		LockTimeout:  time.Duration(cfg.StockLockTimeoutMS) * time.Millisecond,
		StoreTimeout: storeTimeout,
		Logger:       zlog.Named("ledger"),
	})
	svc := service.New(repo, stockLedger, service.Options{
		LowStockThreshold: cfg.LowStockThreshold,
		StoreTimeout:      storeTimeout,
		SummaryTTL:        time.Duration(cfg.SummaryTTLSeconds) * time.Second,
		SummaryCache:      summaries,
		Notifier:          dispatcher,
		Logger:            zlog.Named("sale"),
	})
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, zlog.Named("auth"))
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, zlog.Named("http"))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zlog.Info("pharmacy ledger listening", zap.String("addr", cfg.Address()), zap.Int("low_stock_threshold", svc.Threshold()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("shutdown error", zap.Error(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		zlog.Warn("pending alerts not delivered", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			zlog.Warn("close error", zap.Error(err))
		}
	}

	zlog.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.LowStockThreshold < 1 {
		return fmt.Errorf("LOW_STOCK_THRESHOLD must be positive")
	}
	return nil
}
