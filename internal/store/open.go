package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"bartab/internal/db"
	"bartab/internal/economy"
)

type Options struct {
	DatabaseURL     string
	RedisURL        string
	ConnectAttempts int
	ConnectBackoff  time.Duration
	CacheTTL        time.Duration
	// OnDegraded is called when a configured backend could not be reached
	// and the memory store was used instead.
	OnDegraded func(err error)
}

// Handle owns the chosen store and the connections behind it.
type Handle struct {
	Store   economy.Store
	Backend string
	pool    *pgxpool.Pool
	rdb     *redis.Client
}

func (h *Handle) Close() {
	if h.rdb != nil {
		_ = h.rdb.Close()
	}
	if h.pool != nil {
		h.pool.Close()
	}
}

// Open picks the storage backend. With no DATABASE_URL the memory store is
// used. A database that stays unreachable after the retries degrades to the
// memory store, logged at error level; it is never fatal.
func Open(ctx context.Context, opts Options, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.DatabaseURL == "" {
		logger.Info("no database configured, using memory store")
		return &Handle{Store: NewMemoryStore(), Backend: "memory"}
	}

	pool, err := db.ConnectWithRetry(ctx, opts.DatabaseURL, opts.ConnectAttempts, opts.ConnectBackoff, logger)
	if err == nil {
		err = db.EnsureSchema(ctx, pool)
		if err != nil {
			pool.Close()
		}
	}
	if err != nil {
		degraded := fmt.Errorf("%w: %v", economy.ErrStorageUnavailable, err)
		logger.Error("database unavailable, falling back to memory store", "err", degraded)
		if opts.OnDegraded != nil {
			opts.OnDegraded(degraded)
		}
		return &Handle{Store: NewMemoryStore(), Backend: "memory"}
	}

	h := &Handle{Store: NewPostgresStore(pool), Backend: "postgres", pool: pool}
	if opts.RedisURL == "" {
		return h
	}
	rdb, err := connectRedis(ctx, opts.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable, continuing without cache", "err", err)
		return h
	}
	h.rdb = rdb
	h.Store = NewCachedStore(h.Store, rdb, opts.CacheTTL, logger)
	h.Backend = "postgres+redis"
	return h
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
