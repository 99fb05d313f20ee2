package main

import (
	"context"
	"errors"
	"os"
	"time"

	"salesinsight/internal/cli"
	applog "salesinsight/internal/log"
	"salesinsight/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	bootstrap := cli.SetupLogger("info", applog.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(bootstrap.Logger)
	logger := cli.SetupLogger(cfg.LogLevel, applog.ComponentWorker)

	logger.Info("Starting ingest-worker")

	if !cfg.AMQPEnabled() {
		logger.Error("ingest-worker needs AMQP_URL to consume reload requests")
		os.Exit(1)
	}

	result := cli.InitBackend(context.Background(), logger.Logger, cfg)
	if result.AMQP == nil {
		logger.Error("AMQP broker unreachable, nothing to consume")
		_ = result.Cleanup()
		os.Exit(1)
	}

	reloadWorker := worker.NewReloadWorker(result.Ingest)

	consumed := make(chan struct{})
	ctx, done := cli.GracefulShutdown(logger.Logger, 30*time.Second, func(ctx context.Context) {
		// Let an in-flight reload finish before closing the store.
		select {
		case <-consumed:
		case <-ctx.Done():
		}
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	go func() {
		defer close(consumed)
		err := result.AMQP.ConsumeReloadRequests(ctx, reloadWorker.HandleReloadRequest)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", "error", err)
			_ = result.Cleanup()
			os.Exit(1)
		}
	}()

	logger.Info("Consuming reload requests",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPReloadQueue,
		"backend", cfg.DataBackend)

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped")
}
