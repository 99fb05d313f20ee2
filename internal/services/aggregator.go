package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"salesinsight/internal/cache"
	"salesinsight/internal/core"
)

// AggregatorCaches memoizes each view per month. Any field may be nil.
type AggregatorCaches struct {
	Statistics cache.Cache[core.Statistics]
	Histogram  cache.Cache[[]core.PriceRangeCount]
	Categories cache.Cache[[]core.CategoryCount]
}

// Aggregator computes the monthly views from a TransactionReader. When the
// reader also implements MonthSummarizer, histogram and category grouping
// run inside the store.
type Aggregator struct {
	reader     TransactionReader
	summarizer MonthSummarizer
	caches     AggregatorCaches

	// generation is bumped on every Invalidate so that a result computed
	// against the previous dataset is never stored under a current key.
	generation atomic.Uint64
}

func NewAggregator(reader TransactionReader, caches AggregatorCaches) *Aggregator {
	a := &Aggregator{reader: reader, caches: caches}
	if s, ok := reader.(MonthSummarizer); ok {
		a.summarizer = s
	}
	return a
}

// Invalidate discards every memoized view. Called after each ingest.
func (a *Aggregator) Invalidate() {
	a.generation.Add(1)
	if a.caches.Statistics != nil {
		a.caches.Statistics.Clear()
	}
	if a.caches.Histogram != nil {
		a.caches.Histogram.Clear()
	}
	if a.caches.Categories != nil {
		a.caches.Categories.Clear()
	}
}

// Statistics sums price over every record of the month and counts sold and
// unsold records. An empty month yields zeros.
func (a *Aggregator) Statistics(ctx context.Context, monthKey string) (core.Statistics, error) {
	if err := checkMonthKey(monthKey); err != nil {
		return core.Statistics{}, err
	}
	key := a.cacheKey(monthKey)
	if a.caches.Statistics != nil {
		if s, ok := a.caches.Statistics.Get(key); ok {
			return s, nil
		}
	}

	stats := core.EmptyStatistics()
	for rec, err := range a.reader.QueryByMonth(ctx, monthKey, core.MonthFilter{}) {
		if err != nil {
			return core.Statistics{}, aggregationFailure(ctx, "statistics", monthKey, err)
		}
		stats.TotalSaleAmount = stats.TotalSaleAmount.Add(rec.Price)
		if rec.Sold {
			stats.TotalSoldItems++
		} else {
			stats.TotalNotSoldItems++
		}
	}

	if a.caches.Statistics != nil {
		a.caches.Statistics.Set(key, stats)
	}
	return stats, nil
}

// Histogram counts the month's records per price bucket, in bucket order.
// Empty buckets are omitted.
func (a *Aggregator) Histogram(ctx context.Context, monthKey string) ([]core.PriceRangeCount, error) {
	if err := checkMonthKey(monthKey); err != nil {
		return nil, err
	}
	key := a.cacheKey(monthKey)
	if a.caches.Histogram != nil {
		if h, ok := a.caches.Histogram.Get(key); ok {
			return slices.Clone(h), nil
		}
	}

	var (
		out []core.PriceRangeCount
		err error
	)
	if a.summarizer != nil {
		out, err = a.summarizer.PriceHistogram(ctx, monthKey)
	} else {
		out, err = a.scanHistogram(ctx, monthKey)
	}
	if err != nil {
		return nil, aggregationFailure(ctx, "histogram", monthKey, err)
	}

	out = slices.DeleteFunc(out, func(p core.PriceRangeCount) bool { return p.ItemCount == 0 })
	slices.SortFunc(out, func(x, y core.PriceRangeCount) int {
		return core.BucketOrder(x.PriceRange) - core.BucketOrder(y.PriceRange)
	})
	if out == nil {
		out = []core.PriceRangeCount{}
	}

	if a.caches.Histogram != nil {
		a.caches.Histogram.Set(key, slices.Clone(out))
	}
	return out, nil
}

func (a *Aggregator) scanHistogram(ctx context.Context, monthKey string) ([]core.PriceRangeCount, error) {
	counts := make([]int64, len(core.PriceBuckets))
	for rec, err := range a.reader.QueryByMonth(ctx, monthKey, core.MonthFilter{}) {
		if err != nil {
			return nil, err
		}
		idx := core.BucketIndex(rec.Price)
		if idx < 0 {
			return nil, fmt.Errorf("record %d: %w", rec.ID, core.ErrNegativePrice)
		}
		counts[idx]++
	}

	var out []core.PriceRangeCount
	for i, n := range counts {
		if n > 0 {
			out = append(out, core.PriceRangeCount{PriceRange: core.PriceBuckets[i].Label, ItemCount: n})
		}
	}
	return out, nil
}

// CategoryDistribution counts the month's records per exact category
// value, ordered by category.
func (a *Aggregator) CategoryDistribution(ctx context.Context, monthKey string) ([]core.CategoryCount, error) {
	if err := checkMonthKey(monthKey); err != nil {
		return nil, err
	}
	key := a.cacheKey(monthKey)
	if a.caches.Categories != nil {
		if c, ok := a.caches.Categories.Get(key); ok {
			return slices.Clone(c), nil
		}
	}

	var (
		out []core.CategoryCount
		err error
	)
	if a.summarizer != nil {
		out, err = a.summarizer.CategoryCounts(ctx, monthKey)
	} else {
		out, err = a.scanCategories(ctx, monthKey)
	}
	if err != nil {
		return nil, aggregationFailure(ctx, "category distribution", monthKey, err)
	}

	slices.SortFunc(out, func(x, y core.CategoryCount) int {
		return strings.Compare(x.Category, y.Category)
	})
	if out == nil {
		out = []core.CategoryCount{}
	}

	if a.caches.Categories != nil {
		a.caches.Categories.Set(key, slices.Clone(out))
	}
	return out, nil
}

func (a *Aggregator) scanCategories(ctx context.Context, monthKey string) ([]core.CategoryCount, error) {
	counts := map[string]int64{}
	for rec, err := range a.reader.QueryByMonth(ctx, monthKey, core.MonthFilter{}) {
		if err != nil {
			return nil, err
		}
		counts[rec.Category]++
	}

	out := make([]core.CategoryCount, 0, len(counts))
	for category, n := range counts {
		out = append(out, core.CategoryCount{Category: category, ItemCount: n})
	}
	return out, nil
}

func (a *Aggregator) cacheKey(monthKey string) string {
	return fmt.Sprintf("%d:%s", a.generation.Load(), monthKey)
}

func checkMonthKey(monthKey string) error {
	if !core.ValidMonthKey(monthKey) {
		return core.Wrap(core.ErrValidation, "aggregate", fmt.Errorf("%w: key %q", core.ErrInvalidMonth, monthKey))
	}
	return nil
}

func aggregationFailure(ctx context.Context, view, monthKey string, err error) error {
	slog.ErrorContext(ctx, "Aggregation failed", "view", view, "month_key", monthKey, "error", err)
	return core.Wrap(core.ErrAggregation, view, err)
}
