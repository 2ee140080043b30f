package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadStockDefaultsAndFallbacks(t *testing.T) {
	t.Setenv("LOW_STOCK_THRESHOLD", "")
	t.Setenv("STOCK_LOCK_TIMEOUT_MS", "-5")
	t.Setenv("NOTIFY_BUFFER", "lots")

	cfg := Load()
	if cfg.LowStockThreshold != 150 {
		t.Fatalf("expected default threshold 150, got %d", cfg.LowStockThreshold)
	}
	if cfg.StockLockTimeoutMS != 2000 {
		t.Fatalf("expected invalid lock timeout to fall back, got %d", cfg.StockLockTimeoutMS)
	}
	if cfg.NotifyBuffer != 256 {
		t.Fatalf("expected invalid buffer to fall back, got %d", cfg.NotifyBuffer)
	}
}

func TestLoadSplitsKafkaBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,,")
	t.Setenv("LOW_STOCK_THRESHOLD", "10")

	cfg := Load()
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.LowStockThreshold != 10 {
		t.Fatalf("expected threshold override, got %d", cfg.LowStockThreshold)
	}
}
