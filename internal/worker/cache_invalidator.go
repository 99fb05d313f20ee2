package worker

import (
	"context"
	"log/slog"

	"salesinsight/internal/amqp"
	"salesinsight/internal/services"
)

// CacheInvalidator drops the report cache whenever any process commits a
// batch.
type CacheInvalidator struct {
	invalidator services.Invalidator
}

func NewCacheInvalidator(invalidator services.Invalidator) *CacheInvalidator {
	return &CacheInvalidator{invalidator: invalidator}
}

// HandleDatasetReloaded processes a single dataset event from AMQP.
func (w *CacheInvalidator) HandleDatasetReloaded(ctx context.Context, msg *amqp.DatasetReloadedMessage) error {
	w.invalidator.Invalidate()
	slog.InfoContext(ctx, "Report cache invalidated",
		"run_id", msg.RunID,
		"inserted", msg.InsertedCount)
	return nil
}

// Resync drops the cache after a (re)subscription, since events sent while
// unsubscribed were missed.
func (w *CacheInvalidator) Resync(ctx context.Context) {
	w.invalidator.Invalidate()
	slog.DebugContext(ctx, "Report cache invalidated on subscribe")
}
