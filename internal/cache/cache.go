package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	// Get retrieves a value from the cache
	Get(key string) (T, bool)

	// Set stores a value in the cache. Admission is best effort.
	Set(key string, data T)

	// Clear drops every entry
	Clear()

	// Close releases background resources
	Close()
}

// Config sizes a cache. Each entry costs one unit.
type Config struct {
	MaxEntries int64
	TTL        time.Duration
}

// Ristretto is a Cache backed by dgraph-io/ristretto.
type Ristretto[T any] struct {
	cache *ristretto.Cache[string, T]
	ttl   time.Duration
}

// NewRistretto creates a cache holding up to cfg.MaxEntries values for
// cfg.TTL each. A zero TTL keeps entries until evicted.
func NewRistretto[T any](cfg Config) (*Ristretto[T], error) {
	if cfg.MaxEntries < 1 {
		return nil, fmt.Errorf("cache max entries must be positive, got %d", cfg.MaxEntries)
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, T]{
		NumCounters: cfg.MaxEntries * 10, // number of keys to track frequency of
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64, // number of keys per Get buffer
		// Cost counts entries, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &Ristretto[T]{cache: c, ttl: cfg.TTL}, nil
}

func (r *Ristretto[T]) Get(key string) (T, bool) {
	return r.cache.Get(key)
}

func (r *Ristretto[T]) Set(key string, data T) {
	if r.ttl > 0 {
		r.cache.SetWithTTL(key, data, 1, r.ttl)
		return
	}
	r.cache.Set(key, data, 1)
}

// Wait blocks until buffered writes are applied.
func (r *Ristretto[T]) Wait() {
	r.cache.Wait()
}

func (r *Ristretto[T]) Clear() {
	r.cache.Clear()
}

func (r *Ristretto[T]) Close() {
	r.cache.Close()
}
