package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bartab/internal/economy"
	"bartab/internal/market"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("BARTAB_ENV_FILE", filepath.Join(dir, "missing.env"))
	for _, key := range []string{"PORT", "BARTAB_API_ADDR", "BARTAB_API_TOKEN", "DATABASE_URL", "REDIS_URL", "BARTAB_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	return dir
}

func TestLoadAPIFromEnv(t *testing.T) {
	isolateEnv(t)
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected error without BARTAB_API_TOKEN")
	}

	t.Setenv("BARTAB_API_TOKEN", "secret")
	t.Setenv("PORT", "9000")
	t.Setenv("BARTAB_LOG_LEVEL", "debug")
	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("addr = %q, want :9000", cfg.Addr)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("level = %v", cfg.LogLevel)
	}
	if cfg.Storage.DatabaseURL != "" || cfg.Storage.ConnectAttempts != 3 || cfg.Storage.ConnectBackoff != 2*time.Second {
		t.Fatalf("unexpected storage options: %+v", cfg.Storage)
	}
}

func TestDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := isolateEnv(t)
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("BARTAB_API_TOKEN=from-file\nBARTAB_API_ADDR=:7000\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("BARTAB_ENV_FILE", path)
	t.Setenv("BARTAB_API_ADDR", ":7100")
	// godotenv never overrides a variable that is present, even when empty.
	os.Unsetenv("BARTAB_API_TOKEN")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Token != "from-file" {
		t.Fatalf("token = %q, want value from .env", cfg.Token)
	}
	if cfg.Addr != ":7100" {
		t.Fatalf("addr = %q, environment should win", cfg.Addr)
	}
}

func TestLoadWorkerFromEnv(t *testing.T) {
	isolateEnv(t)
	t.Setenv("BARTAB_WORKER_RUN_ONCE", "true")
	t.Setenv("BARTAB_WORKER_PURGE_EVERY", "30s")
	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.RunOnce || cfg.PurgeEvery != 30*time.Second || cfg.MigrateBatch != 500 {
		t.Fatalf("unexpected worker config: %+v", cfg)
	}

	t.Setenv("BARTAB_WORKER_PURGE_EVERY", "1ms")
	if _, err := LoadWorkerFromEnv(); err == nil {
		t.Fatalf("expected error for a sub-second purge interval")
	}
}

func TestLoadTuningDefaults(t *testing.T) {
	tun, err := LoadTuning("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := tun.ForEconomy(); got != economy.DefaultTuning() {
		t.Fatalf("economy tuning = %+v", got)
	}
	if got := tun.ForMarket(); got != market.DefaultTuning() {
		t.Fatalf("market tuning = %+v", got)
	}
	if tun.Locks.Timeout != 10*time.Second || tun.Locks.IdleTTL != 10*time.Minute {
		t.Fatalf("lock tuning = %+v", tun.Locks)
	}
}

func TestLoadTuningFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	body := "rewards:\n  daily_min: 2000\n  daily_max: 4000\nmarket:\n  tick_interval: 1m\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write tuning: %v", err)
	}
	t.Setenv("BARTAB_MARKET_RAPID_LIMIT", "3")

	tun, err := LoadTuning(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tun.Rewards.DailyMin != 2000 || tun.Rewards.DailyMax != 4000 {
		t.Fatalf("daily range = %d..%d", tun.Rewards.DailyMin, tun.Rewards.DailyMax)
	}
	if tun.Market.TickInterval != time.Minute {
		t.Fatalf("tick interval = %s", tun.Market.TickInterval)
	}
	if tun.Market.RapidLimit != 3 {
		t.Fatalf("rapid limit = %d, want env override 3", tun.Market.RapidLimit)
	}
	if tun.Rewards.BegMax != 70 {
		t.Fatalf("unset keys keep defaults, beg_max = %d", tun.Rewards.BegMax)
	}
}

func TestTuningValidate(t *testing.T) {
	base, err := LoadTuning("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	bad := base
	bad.Market.OpenHour, bad.Market.CloseHour = 18, 9
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for inverted trading hours")
	}
	bad = base
	bad.Rewards.BegSuccessRate = 1.5
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for probability above 1")
	}
	bad = base
	bad.Rewards.DailyMax = 10
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for daily_max below daily_min")
	}
}
