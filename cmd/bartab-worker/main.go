package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bartab/internal/config"
	"bartab/internal/economy"
	"bartab/internal/metrics"
	"bartab/internal/notify"
	"bartab/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		slog.Error("load tuning", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	alerter := notify.NewAlerter(cfg.TelegramToken, cfg.TelegramChatID, "bartab-worker", logger)
	alert := func(subject string, err error) {
		if aerr := alerter.Alert(ctx, subject, err.Error()); aerr != nil {
			logger.Warn("alert failed", "err", aerr)
		}
	}

	cfg.Storage.OnDegraded = func(err error) { alert("storage degraded", err) }
	handle := store.Open(ctx, cfg.Storage, logger)
	defer handle.Close()
	if handle.Backend == "memory" {
		logger.Warn("worker is running against the memory store; maintenance only affects this process")
	}

	svc := economy.NewService(handle.Store, logger,
		economy.WithTuning(tuning.ForEconomy()),
		economy.WithLockTimeout(tuning.Locks.Timeout),
	)

	if err := migrateAll(ctx, svc, cfg.MigrateBatch, logger); err != nil {
		logger.Error("schema migration failed", "err", err)
		alert("schema migration failed", err)
		if cfg.RunOnce {
			os.Exit(1)
		}
	}

	if cfg.RunOnce {
		if err := purge(ctx, svc, logger); err != nil {
			logger.Error("cooldown purge failed", "err", err)
			alert("cooldown purge failed", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.PurgeEvery)
	defer ticker.Stop()

	logger.Info("worker started", "purge_every", cfg.PurgeEvery.String(), "backend", handle.Backend)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := purge(ctx, svc, logger); err != nil {
				logger.Error("cooldown purge failed", "err", err)
				alert("cooldown purge failed", err)
				continue
			}
		}
	}
}

// migrateAll rewrites stale account documents batch by batch until none
// are left.
func migrateAll(ctx context.Context, svc *economy.Service, batch int, logger *slog.Logger) error {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := svc.MigrateStale(ctx, batch)
		total += n
		metrics.AccountsMigrated.Add(float64(n))
		if err != nil {
			return fmt.Errorf("after %d accounts: %w", total, err)
		}
		if n < batch {
			break
		}
	}
	if total > 0 {
		logger.Info("migrated stale accounts", "count", total, "schema_version", economy.CurrentSchemaVersion)
	}
	return nil
}

func purge(ctx context.Context, svc *economy.Service, logger *slog.Logger) error {
	n, err := svc.PurgeCooldowns(ctx)
	if err != nil {
		return err
	}
	metrics.CooldownsPurged.Add(float64(n))
	logger.Info("cooldown purge complete", "purged", n)
	return nil
}
