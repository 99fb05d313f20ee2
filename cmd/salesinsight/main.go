package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"salesinsight/internal/cli"
	apphttp "salesinsight/internal/http"
	applog "salesinsight/internal/log"
	"salesinsight/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	bootstrap := cli.SetupLogger("info", applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(bootstrap.Logger)
	logger := cli.SetupLogger(cfg.LogLevel, applog.ComponentApp)

	result := cli.InitBackend(context.Background(), logger.Logger, cfg)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Aggregates: result.Aggregator,
		Reports:    result.Reports,
		Loader:     result.Ingest,
		Readiness:  result.Store,
	}, apphttp.Options{
		IngestRateLimit: cfg.IngestRateLimit,
		Logger:          logger,
	})

	// Configure server timeouts and limits. The write timeout leaves room
	// for a full feed fetch on /initialize-database.
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = cfg.FeedTimeout + 15*time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger.Logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	// Batches committed by the worker or seed land in the shared store
	// behind this server's back; their events clear the report cache.
	if result.AMQP != nil && result.CacheEnabled {
		inv := worker.NewCacheInvalidator(result.Aggregator)
		go func() {
			err := result.AMQP.ConsumeDatasetReloaded(ctx, inv.Resync, inv.HandleDatasetReloaded)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Dataset event consumer stopped", "error", err)
			}
		}()
	}

	logger.Info("Starting salesinsight server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"amqp_enabled", cfg.AMQPEnabled(),
		"cache_entries", cfg.CacheMaxEntries)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		_ = result.Cleanup()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
