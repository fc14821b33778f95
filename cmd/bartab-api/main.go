package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bartab/internal/api"
	"bartab/internal/config"
	"bartab/internal/economy"
	"bartab/internal/market"
	"bartab/internal/notify"
	"bartab/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
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

	alerter := notify.NewAlerter(cfg.TelegramToken, cfg.TelegramChatID, "bartab-api", logger)
	cfg.Storage.OnDegraded = func(err error) {
		if aerr := alerter.Alert(ctx, "storage degraded", err.Error()); aerr != nil {
			logger.Warn("alert failed", "err", aerr)
		}
	}
	handle := store.Open(ctx, cfg.Storage, logger)
	defer handle.Close()

	locks := economy.NewLockRegistry(tuning.Locks.IdleTTL)
	econ := economy.NewService(handle.Store, logger,
		economy.WithTuning(tuning.ForEconomy()),
		economy.WithLockTimeout(tuning.Locks.Timeout),
		economy.WithLockRegistry(locks),
	)

	marketTuning := tuning.ForMarket()
	engine := market.NewEngine(logger,
		market.WithTuning(marketTuning),
		market.WithAnnouncer(notify.NewAnnouncer(cfg.DiscordToken, cfg.MarketChannelID, logger)),
	)
	limiter := market.NewLimiter(marketTuning, nil)
	trader := market.NewTrader(engine, limiter, econ, logger)

	server := api.New(cfg, logger, econ, engine, trader)

	go engine.Run(ctx)
	go limiter.Run(ctx, time.Hour, logger)
	go server.Run(ctx)
	go sweepLocks(ctx, locks, tuning.Locks.IdleTTL, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("bartab api listening", "addr", cfg.Addr, "backend", handle.Backend)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

// sweepLocks drops per-account locks that have been idle for longer than
// idleTTL.
func sweepLocks(ctx context.Context, locks *economy.LockRegistry, idleTTL time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("lock sweeper shutdown")
			return
		case <-ticker.C:
			if n := locks.Sweep(); n > 0 {
				logger.Debug("swept idle account locks", "count", n, "remaining", locks.Len())
			}
		}
	}
}
