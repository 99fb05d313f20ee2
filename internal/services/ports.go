package services

import (
	"context"
	"iter"

	"salesinsight/internal/core"
)

// Ports for the transaction store and outbound notifications.
type (
	TransactionWriter interface {
		BulkInsert(ctx context.Context, records []core.TransactionRecord) error
	}

	TransactionReader interface {
		QueryByMonth(ctx context.Context, monthKey string, filter core.MonthFilter) iter.Seq2[core.TransactionRecord, error]
	}

	// TransactionStore is the full store lifecycle.
	TransactionStore interface {
		TransactionWriter
		TransactionReader
		EnsureSchema(ctx context.Context) error
		Count(ctx context.Context) (int64, error)
		Close() error
	}

	// MonthSummarizer is implemented by stores that can group a month in
	// the engine itself. The aggregator prefers it over scanning rows.
	MonthSummarizer interface {
		PriceHistogram(ctx context.Context, monthKey string) ([]core.PriceRangeCount, error)
		CategoryCounts(ctx context.Context, monthKey string) ([]core.CategoryCount, error)
	}

	// MonthAggregator produces the three monthly views.
	MonthAggregator interface {
		Statistics(ctx context.Context, monthKey string) (core.Statistics, error)
		Histogram(ctx context.Context, monthKey string) ([]core.PriceRangeCount, error)
		CategoryDistribution(ctx context.Context, monthKey string) ([]core.CategoryCount, error)
	}

	// EventPublisher announces a committed reload.
	EventPublisher interface {
		PublishDatasetReloaded(ctx context.Context, runID string, insertedCount int) error
	}

	// Invalidator drops derived state after the dataset changes.
	Invalidator interface {
		Invalidate()
	}
)
