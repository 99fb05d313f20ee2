package main

import (
	"context"
	"flag"
	"os"
	"time"

	"salesinsight/internal/cli"
	"salesinsight/internal/feed"
	applog "salesinsight/internal/log"
)

func main() {
	var (
		file    = flag.String("file", "", "load the batch from a local JSON file instead of the feed URL")
		ifEmpty = flag.Bool("if-empty", false, "skip loading when the store already holds records")
		enqueue = flag.Bool("enqueue", false, "publish a reload request for ingest-worker instead of loading directly")
		timeout = flag.Duration("timeout", 2*time.Minute, "overall deadline")
	)
	flag.Parse()

	cli.LoadEnvFile()

	bootstrap := cli.SetupLogger("info", applog.ComponentSeed)
	cfg := cli.LoadAndValidateConfig(bootstrap.Logger)
	logger := cli.SetupLogger(cfg.LogLevel, applog.ComponentSeed)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result := cli.InitBackend(ctx, logger.Logger, cfg)
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	}()

	if *ifEmpty {
		n, err := result.Store.Count(ctx)
		if err != nil {
			logger.Error("Failed to count records", "error", err)
			exit(result.Cleanup, 1)
		}
		if n > 0 {
			logger.Info("Store already seeded, skipping", "records", n)
			return
		}
	}

	if *enqueue {
		if result.AMQP == nil {
			logger.Error("Cannot enqueue a reload request without AMQP")
			exit(result.Cleanup, 1)
		}
		if err := result.AMQP.PublishReloadRequest(ctx, "seed"); err != nil {
			logger.Error("Failed to publish reload request", "error", err)
			exit(result.Cleanup, 1)
		}
		logger.Info("Reload request published", "queue", cfg.AMQPReloadQueue)
		return
	}

	var (
		batch []feed.RawRecord
		err   error
	)
	if *file != "" {
		batch, err = feed.LoadFile(*file)
	} else {
		batch, err = feed.NewClient(cfg.FeedURL, cfg.FeedTimeout).Fetch(ctx)
	}
	if err != nil {
		logger.Error("Failed to read seed batch", "error", err, "file", *file)
		exit(result.Cleanup, 1)
	}

	report, err := result.Ingest.Ingest(ctx, batch)
	if err != nil {
		logger.Error("Seeding failed", "error", err)
		exit(result.Cleanup, 1)
	}
	logger.Info("Seed complete",
		"run_id", report.RunID,
		"inserted", report.InsertedCount,
		"duration_ms", report.Duration.Milliseconds())
}

// exit runs cleanup before leaving, since os.Exit skips deferred calls.
func exit(cleanup func() error, code int) {
	_ = cleanup()
	os.Exit(code)
}
