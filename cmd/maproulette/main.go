package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/Decarabia/maproulette2/internal/config"
	"github.com/Decarabia/maproulette2/internal/httpapi"
	"github.com/Decarabia/maproulette2/internal/logging"
	"github.com/Decarabia/maproulette2/internal/observability"
	"github.com/Decarabia/maproulette2/internal/task"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(1)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := task.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("task store init failed")
	}
	defer store.Close()

	events := task.NewEvents()
	selector := task.NewSelector(store, cfg.RandomCandidateMax, cfg.ProximityPoolSize)
	locks := task.NewLockCoordinator(store, cfg.TaskLockTTL, events)

	sweepLog := logging.Component(logger, "lock_sweep")
	scheduler := cron.New()
	_, err = scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.LockSweepInterval), func() {
		released, err := locks.SweepExpired(context.Background())
		if err != nil {
			sweepLog.Error().Err(err).Msg("lock sweep failed")
			return
		}
		if released > 0 {
			metrics.LocksReleased.Add(float64(released))
			sweepLog.Info().Int("released", released).Msg("released expired task locks")
		}
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("lock sweep schedule failed")
	}
	scheduler.Start()
	defer scheduler.Stop()

	api := httpapi.New(cfg, store, selector, locks, events, metrics, logging.Component(logger, "httpapi"))
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		logger.Info().Str("addr", cfg.BindAddr).Str("store", cfg.StoreMode()).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	logger.Info().Msg("shutdown complete")
}
