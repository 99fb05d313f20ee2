package backend

import (
	"context"
	"time"

	"salesinsight/internal/amqp"
	"salesinsight/internal/services"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult bundles the store with the services built on top of it.
type BackendResult struct {
	Store      services.TransactionStore
	Aggregator *services.Aggregator
	Reports    *services.ReportComposer
	Ingest     *services.IngestService

	// AMQP is nil when no broker is configured or it was unreachable.
	AMQP *amqp.Client

	// CacheEnabled reports whether the Aggregator memoizes views. It is
	// false for SQLite without AMQP even when a cache size is configured.
	CacheEnabled bool

	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Optional event bus
	AMQPURL         string
	AMQPExchange    string
	AMQPEventsQueue string
	AMQPReloadQueue string

	// Reload source
	FeedURL     string
	FeedTimeout time.Duration

	// Report cache, disabled when CacheMaxEntries is 0
	CacheMaxEntries int
	CacheTTL        time.Duration
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
