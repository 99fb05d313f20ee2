package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"salesinsight/internal/amqp"
	"salesinsight/internal/cache"
	"salesinsight/internal/core"
	"salesinsight/internal/feed"
	"salesinsight/internal/services"
	"salesinsight/internal/storage"
	"salesinsight/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend opens the store, ensures its schema and wires the services
// around it.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := f.createStore(config)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	result := &BackendResult{Store: store}
	closers := []func() error{store.Close}

	// Initialize AMQP client (optional)
	var publisher services.EventPublisher
	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPEventsQueue, config.AMQPReloadQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
		} else {
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"events_queue", config.AMQPEventsQueue,
				"reload_queue", config.AMQPReloadQueue)
			result.AMQP = client
			publisher = client
			closers = append(closers, client.Close)
		}
	}

	// Another process may write to the same SQLite file; without the events
	// queue this server would never learn about it.
	cacheConfig := config
	if config.Type == SQLiteBackend && result.AMQP == nil && config.CacheMaxEntries > 0 {
		f.logger.Warn("Report cache disabled: SQLite store without AMQP cannot observe external writes")
		cacheConfig.CacheMaxEntries = 0
	}
	caches, closeCaches, err := f.createCaches(cacheConfig)
	if err != nil {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}
	closers = append(closers, closeCaches)
	result.CacheEnabled = cacheConfig.CacheMaxEntries > 0

	result.Aggregator = services.NewAggregator(store, caches)
	result.Reports = services.NewReportComposer(result.Aggregator)
	result.Ingest = services.NewIngestService(store, feed.NewClient(config.FeedURL, config.FeedTimeout), publisher, result.Aggregator)

	result.Cleanup = func() error {
		var errs []error
		// close in reverse order of creation
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	f.logger.Info("Initialized backend",
		"type", config.Type,
		"cache_enabled", result.CacheEnabled,
		"amqp_enabled", result.AMQP != nil)

	return result, nil
}

func (f *DefaultFactory) createStore(config Config) (services.TransactionStore, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.Open(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Opened SQLite store", "db_path", config.SQLiteDBPath)
		return repo, nil
	case MemoryBackend:
		f.logger.Info("Using in-memory store")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createCaches(config Config) (services.AggregatorCaches, func() error, error) {
	noop := func() error { return nil }
	if config.CacheMaxEntries == 0 {
		return services.AggregatorCaches{}, noop, nil
	}

	cfg := cache.Config{MaxEntries: int64(config.CacheMaxEntries), TTL: config.CacheTTL}
	stats, err := cache.NewRistretto[core.Statistics](cfg)
	if err != nil {
		return services.AggregatorCaches{}, noop, err
	}
	hist, err := cache.NewRistretto[[]core.PriceRangeCount](cfg)
	if err != nil {
		stats.Close()
		return services.AggregatorCaches{}, noop, err
	}
	cats, err := cache.NewRistretto[[]core.CategoryCount](cfg)
	if err != nil {
		stats.Close()
		hist.Close()
		return services.AggregatorCaches{}, noop, err
	}

	closeAll := func() error {
		stats.Close()
		hist.Close()
		cats.Close()
		return nil
	}
	return services.AggregatorCaches{Statistics: stats, Histogram: hist, Categories: cats}, closeAll, nil
}
