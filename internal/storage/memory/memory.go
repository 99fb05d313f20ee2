package memory

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"salesinsight/internal/core"
)

var ErrClosed = errors.New("memory store is closed")

// Store is an in-process TransactionStore. A bulk insert builds the new
// state aside and swaps it in under the write lock, so readers observe
// either the old or the new snapshot.
type Store struct {
	mu      sync.RWMutex
	byID    map[int64]core.TransactionRecord
	byMonth map[string][]int64
	closed  bool
}

func New() *Store {
	return &Store{
		byID:    map[int64]core.TransactionRecord{},
		byMonth: map[string][]int64{},
	}
}

// EnsureSchema is a no-op kept for parity with the SQLite store.
func (s *Store) EnsureSchema(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.byID == nil {
		s.byID = map[int64]core.TransactionRecord{}
		s.byMonth = map[string][]int64{}
	}
	return nil
}

// BulkInsert adds every record or none of them.
func (s *Store) BulkInsert(_ context.Context, records []core.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.Wrap(core.ErrIngestion, "bulk insert", ErrClosed)
	}

	added := make(map[int64]string, len(records))
	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			return core.Wrap(core.ErrIngestion, "bulk insert", fmt.Errorf("record %d (id %d): %w", i, rec.ID, err))
		}
		if _, dup := s.byID[rec.ID]; dup {
			return core.Wrap(core.ErrIngestion, "bulk insert", fmt.Errorf("record %d: duplicate id %d", i, rec.ID))
		}
		if _, dup := added[rec.ID]; dup {
			return core.Wrap(core.ErrIngestion, "bulk insert", fmt.Errorf("record %d: duplicate id %d in batch", i, rec.ID))
		}
		key, _ := rec.MonthKey()
		added[rec.ID] = key
	}

	byID := make(map[int64]core.TransactionRecord, len(s.byID)+len(records))
	for id, rec := range s.byID {
		byID[id] = rec
	}
	byMonth := make(map[string][]int64, len(s.byMonth))
	for key, ids := range s.byMonth {
		byMonth[key] = append([]int64(nil), ids...)
	}
	for _, rec := range records {
		byID[rec.ID] = rec
		byMonth[added[rec.ID]] = append(byMonth[added[rec.ID]], rec.ID)
	}

	s.byID, s.byMonth = byID, byMonth
	return nil
}

// QueryByMonth iterates over a snapshot taken when iteration starts.
func (s *Store) QueryByMonth(_ context.Context, monthKey string, filter core.MonthFilter) iter.Seq2[core.TransactionRecord, error] {
	return func(yield func(core.TransactionRecord, error) bool) {
		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			yield(core.TransactionRecord{}, ErrClosed)
			return
		}
		ids := s.byMonth[monthKey]
		snapshot := make([]core.TransactionRecord, 0, len(ids))
		for _, id := range ids {
			if rec := s.byID[id]; filter.Matches(rec) {
				snapshot = append(snapshot, rec)
			}
		}
		s.mu.RUnlock()

		for _, rec := range snapshot {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (s *Store) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return int64(len(s.byID)), nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
