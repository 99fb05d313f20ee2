package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"salesinsight/internal/core"
)

// ReportComposer merges the three monthly views into one report.
type ReportComposer struct {
	aggregator MonthAggregator
}

func NewReportComposer(aggregator MonthAggregator) *ReportComposer {
	return &ReportComposer{aggregator: aggregator}
}

// Combined runs the three aggregations concurrently and waits for all of
// them. If any fails the whole report fails; no partial report is returned.
func (c *ReportComposer) Combined(ctx context.Context, monthKey string) (core.CombinedReport, error) {
	if err := checkMonthKey(monthKey); err != nil {
		return core.CombinedReport{}, err
	}

	start := time.Now()
	var (
		stats      core.Statistics
		histogram  []core.PriceRangeCount
		categories []core.CategoryCount
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = c.aggregator.Statistics(gctx, monthKey)
		return err
	})
	g.Go(func() error {
		var err error
		histogram, err = c.aggregator.Histogram(gctx, monthKey)
		return err
	})
	g.Go(func() error {
		var err error
		categories, err = c.aggregator.CategoryDistribution(gctx, monthKey)
		return err
	})

	if err := g.Wait(); err != nil {
		if !errors.Is(err, core.ErrAggregation) {
			err = core.Wrap(core.ErrAggregation, "combined report", err)
		}
		return core.CombinedReport{}, err
	}

	slog.DebugContext(ctx, "Combined report composed",
		"month_key", monthKey,
		"duration_ms", time.Since(start).Milliseconds())

	return core.CombinedReport{
		Statistics: stats,
		BarChart:   histogram,
		PieChart:   categories,
	}, nil
}
