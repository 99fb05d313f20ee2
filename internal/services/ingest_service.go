package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"salesinsight/internal/core"
	"salesinsight/internal/feed"
)

// IngestReport describes one committed batch.
type IngestReport struct {
	RunID         string        `json:"runId"`
	InsertedCount int           `json:"insertedCount"`
	Duration      time.Duration `json:"-"`
}

// IngestService loads raw batches into the store. Only one ingestion runs
// at a time per service.
type IngestService struct {
	store       TransactionWriter
	fetcher     feed.Fetcher
	publisher   EventPublisher
	invalidator Invalidator

	mu sync.Mutex
}

// NewIngestService wires the ingestion path. fetcher, publisher and
// invalidator may be nil.
func NewIngestService(store TransactionWriter, fetcher feed.Fetcher, publisher EventPublisher, invalidator Invalidator) *IngestService {
	return &IngestService{
		store:       store,
		fetcher:     fetcher,
		publisher:   publisher,
		invalidator: invalidator,
	}
}

// Ingest coerces the whole batch, then inserts it in one atomic write.
// Nothing is written if any record fails coercion.
func (s *IngestService) Ingest(ctx context.Context, batch []feed.RawRecord) (IngestReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ingestLocked(ctx, batch)
}

// Reload fetches the feed and ingests it.
func (s *IngestService) Reload(ctx context.Context) (IngestReport, error) {
	if s.fetcher == nil {
		return IngestReport{}, core.Wrap(core.ErrFetch, "reload", fmt.Errorf("no feed configured"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch, err := s.fetcher.Fetch(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Feed fetch failed", "error", err)
		return IngestReport{}, err
	}
	return s.ingestLocked(ctx, batch)
}

func (s *IngestService) ingestLocked(ctx context.Context, batch []feed.RawRecord) (IngestReport, error) {
	start := time.Now()
	runID := uuid.NewString()

	records, err := CoerceBatch(batch)
	if err != nil {
		slog.WarnContext(ctx, "Batch rejected during validation", "run_id", runID, "size", len(batch), "error", err)
		return IngestReport{}, err
	}

	if err := s.store.BulkInsert(ctx, records); err != nil {
		slog.ErrorContext(ctx, "Bulk insert failed", "run_id", runID, "size", len(records), "error", err)
		return IngestReport{}, err
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate()
	}

	report := IngestReport{
		RunID:         runID,
		InsertedCount: len(records),
		Duration:      time.Since(start),
	}

	slog.InfoContext(ctx, "Batch ingested",
		"run_id", runID,
		"inserted", report.InsertedCount,
		"duration_ms", report.Duration.Milliseconds())

	// The batch is already committed; a lost notification is not a failure.
	if err := s.publishReloaded(ctx, report); err != nil {
		slog.ErrorContext(ctx, "Failed to publish dataset reloaded event", "run_id", runID, "error", err)
	}

	return report, nil
}

func (s *IngestService) publishReloaded(ctx context.Context, report IngestReport) error {
	if s.publisher == nil {
		slog.DebugContext(ctx, "AMQP publisher not available, skipping reload event")
		return nil
	}
	return s.publisher.PublishDatasetReloaded(ctx, report.RunID, report.InsertedCount)
}
