package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"salesinsight/internal/core"
)

func rec(id int64, date string, sold bool) core.TransactionRecord {
	return core.TransactionRecord{
		ID:         id,
		Title:      "t",
		Price:      decimal.NewFromInt(id * 10),
		Category:   "A",
		Sold:       sold,
		DateOfSale: date,
	}
}

func count(s *Store, key string, f core.MonthFilter) (int, error) {
	n := 0
	for _, err := range s.QueryByMonth(context.Background(), key, f) {
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func TestMemoryStoreInsertAndQuery(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	err := s.BulkInsert(ctx, []core.TransactionRecord{
		rec(1, "2021-03-01", true),
		rec(2, "2022-03-09", false),
		rec(3, "2021-04-01", true),
	})
	if err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}

	if n, _ := count(s, "03", core.MonthFilter{}); n != 2 {
		t.Errorf("March count = %d, want 2", n)
	}
	if n, _ := count(s, "03", core.SoldOnly()); n != 1 {
		t.Errorf("March sold = %d, want 1", n)
	}
	if n, _ := count(s, "12", core.MonthFilter{}); n != 0 {
		t.Errorf("December count = %d, want 0", n)
	}
	if total, _ := s.Count(ctx); total != 3 {
		t.Errorf("Count = %d, want 3", total)
	}
}

func TestMemoryStoreAllOrNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.BulkInsert(ctx, []core.TransactionRecord{rec(1, "2021-03-01", true)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tests := []struct {
		name  string
		batch []core.TransactionRecord
	}{
		{"duplicate of stored id", []core.TransactionRecord{rec(2, "2021-03-01", true), rec(1, "2021-03-01", true)}},
		{"duplicate inside batch", []core.TransactionRecord{rec(5, "2021-03-01", true), rec(5, "2021-03-02", true)}},
		{"invalid record", []core.TransactionRecord{rec(6, "2021-03-01", true), rec(7, "not a date", true)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.BulkInsert(ctx, tt.batch)
			if !errors.Is(err, core.ErrIngestion) {
				t.Fatalf("expected ingestion failure, got %v", err)
			}
			if total, _ := s.Count(ctx); total != 1 {
				t.Errorf("store changed: Count = %d", total)
			}
			if n, _ := count(s, "03", core.MonthFilter{}); n != 1 {
				t.Errorf("March count = %d after failed batch", n)
			}
		})
	}
}

func TestMemoryStoreConcurrentReadsDuringInsert(t *testing.T) {
	s := New()
	ctx := context.Background()

	var batch []core.TransactionRecord
	for i := int64(1); i <= 200; i++ {
		batch = append(batch, rec(i, "2021-08-01", i%2 == 0))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.BulkInsert(ctx, batch); err != nil {
			t.Errorf("BulkInsert: %v", err)
		}
	}()

	for i := 0; i < 50; i++ {
		n, err := count(s, "08", core.MonthFilter{})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if n != 0 && n != len(batch) {
			t.Fatalf("observed partial batch: %d records", n)
		}
	}
	wg.Wait()
}

func TestMemoryStoreClosed(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Count(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Count after close = %v", err)
	}
	if _, err := count(s, "01", core.MonthFilter{}); !errors.Is(err, ErrClosed) {
		t.Errorf("query after close = %v", err)
	}
	if err := s.BulkInsert(ctx, []core.TransactionRecord{rec(1, "2021-01-01", true)}); !errors.Is(err, core.ErrIngestion) {
		t.Errorf("insert after close = %v", err)
	}
}
