package worker

import (
	"context"
	"fmt"
	"log/slog"

	"salesinsight/internal/amqp"
	"salesinsight/internal/services"
)

// Reloader runs one fetch-and-ingest cycle.
type Reloader interface {
	Reload(ctx context.Context) (services.IngestReport, error)
}

// ReloadWorker turns reload requests from AMQP into ingestion runs.
type ReloadWorker struct {
	reloader Reloader
}

func NewReloadWorker(reloader Reloader) *ReloadWorker {
	return &ReloadWorker{reloader: reloader}
}

// HandleReloadRequest processes a single reload request message from AMQP
func (w *ReloadWorker) HandleReloadRequest(ctx context.Context, msg *amqp.ReloadRequestMessage) error {
	slog.InfoContext(ctx, "Processing reload request",
		"requested_by", msg.RequestedBy,
		"requested_at", msg.Timestamp)

	report, err := w.reloader.Reload(ctx)
	if err != nil {
		return fmt.Errorf("reload requested by %s: %w", msg.RequestedBy, err)
	}

	slog.InfoContext(ctx, "Reload completed",
		"requested_by", msg.RequestedBy,
		"run_id", report.RunID,
		"inserted", report.InsertedCount,
		"duration_ms", report.Duration.Milliseconds())
	return nil
}
