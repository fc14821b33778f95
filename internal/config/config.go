package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"bartab/internal/store"
)

type APIConfig struct {
	Addr            string
	Token           string
	LogLevel        slog.Level
	Storage         store.Options
	DiscordToken    string
	MarketChannelID string
	TelegramToken   string
	TelegramChatID  string
	RateLimitRPS    float64
	RateLimitBurst  int
	TuningFile      string
}

type WorkerConfig struct {
	LogLevel       slog.Level
	Storage        store.Options
	PurgeEvery     time.Duration
	MigrateBatch   int
	RunOnce        bool
	TelegramToken  string
	TelegramChatID string
	TuningFile     string
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadAPIFromEnv() (APIConfig, error) {
	if err := loadDotEnv(); err != nil {
		return APIConfig{}, err
	}

	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("BARTAB_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:            addr,
		Token:           strings.TrimSpace(os.Getenv("BARTAB_API_TOKEN")),
		LogLevel:        envLevelDefault("BARTAB_LOG_LEVEL", slog.LevelInfo),
		Storage:         storageFromEnv(),
		DiscordToken:    strings.TrimSpace(os.Getenv("DISCORD_TOKEN")),
		MarketChannelID: strings.TrimSpace(os.Getenv("BARTAB_MARKET_CHANNEL_ID")),
		TelegramToken:   strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		TelegramChatID:  strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")),
		RateLimitRPS:    envFloatDefault("BARTAB_RATE_LIMIT_RPS", 10),
		RateLimitBurst:  envIntDefault("BARTAB_RATE_LIMIT_BURST", 20),
		TuningFile:      strings.TrimSpace(os.Getenv("BARTAB_TUNING_FILE")),
	}
	if cfg.Token == "" {
		return cfg, fmt.Errorf("BARTAB_API_TOKEN is required")
	}
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst <= 0 {
		return cfg, fmt.Errorf("BARTAB_RATE_LIMIT_RPS and BARTAB_RATE_LIMIT_BURST must be positive")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	if err := loadDotEnv(); err != nil {
		return WorkerConfig{}, err
	}
	cfg := WorkerConfig{
		LogLevel:       envLevelDefault("BARTAB_LOG_LEVEL", slog.LevelInfo),
		Storage:        storageFromEnv(),
		PurgeEvery:     envDurationDefault("BARTAB_WORKER_PURGE_EVERY", 10*time.Minute),
		MigrateBatch:   envIntDefault("BARTAB_WORKER_MIGRATE_BATCH", 500),
		RunOnce:        envBoolDefault("BARTAB_WORKER_RUN_ONCE", false),
		TelegramToken:  strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		TelegramChatID: strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")),
		TuningFile:     strings.TrimSpace(os.Getenv("BARTAB_TUNING_FILE")),
	}
	if cfg.PurgeEvery < time.Second {
		return cfg, fmt.Errorf("BARTAB_WORKER_PURGE_EVERY must be at least 1s")
	}
	if cfg.MigrateBatch <= 0 {
		return cfg, fmt.Errorf("BARTAB_WORKER_MIGRATE_BATCH must be positive")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	_ = loadDotEnv()
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("TAB_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func storageFromEnv() store.Options {
	return store.Options{
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
		ConnectAttempts: envIntDefault("BARTAB_DB_CONNECT_ATTEMPTS", 3),
		ConnectBackoff:  envDurationDefault("BARTAB_DB_CONNECT_BACKOFF", 2*time.Second),
		CacheTTL:        envDurationDefault("BARTAB_CACHE_TTL", 5*time.Minute),
	}
}

// loadDotEnv reads BARTAB_ENV_FILE (default .env) into the environment.
// Variables already set win, and a missing file is fine.
func loadDotEnv() error {
	path := envDefault("BARTAB_ENV_FILE", ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envLevelDefault(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return level
}
