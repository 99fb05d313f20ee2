// Package core holds the sales transaction record and the rules every layer
// shares: month and price bucket tables, exact price parsing, report shapes
// and the failure kinds.
package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

type (
	// TransactionRecord is one product transaction from the seed feed.
	// Records are created in bulk by ingestion and never modified afterwards.
	TransactionRecord struct {
		ID          int64
		Title       string
		Price       decimal.Decimal
		Description *string
		Category    string
		Image       *string
		Sold        bool
		DateOfSale  string // ISO-8601, only the month is used
	}

	// MonthFilter narrows a month query. A nil Sold matches both states.
	MonthFilter struct {
		Sold *bool
	}
)

var (
	ErrEmptyTitle     = errors.New("empty title")
	ErrEmptyCategory  = errors.New("empty category")
	ErrNegativePrice  = errors.New("negative price")
	ErrInvalidID      = errors.New("invalid id")
	ErrInvalidDate    = errors.New("invalid date of sale")
	ErrInvalidMonth   = errors.New("invalid month")
	ErrInvalidSold    = errors.New("invalid sold flag")
	ErrInvalidPrice   = errors.New("invalid price")
	ErrInvalidOptText = errors.New("optional field must be a string")
)

// MonthKey returns the two-digit month of the sale date.
func (r TransactionRecord) MonthKey() (string, error) {
	return MonthKeyFromDate(r.DateOfSale)
}

func (r TransactionRecord) Validate() error {
	if r.ID < 0 {
		return ErrInvalidID
	}
	if strings.TrimSpace(r.Title) == "" {
		return ErrEmptyTitle
	}
	if r.Price.IsNegative() {
		return ErrNegativePrice
	}
	if r.Category == "" {
		return ErrEmptyCategory
	}
	if _, err := r.MonthKey(); err != nil {
		return err
	}
	return nil
}

// SoldOnly and UnsoldOnly are the two narrowing filters.
func SoldOnly() MonthFilter   { return MonthFilter{Sold: boolPtr(true)} }
func UnsoldOnly() MonthFilter { return MonthFilter{Sold: boolPtr(false)} }

// Matches reports whether the record passes the filter.
func (f MonthFilter) Matches(r TransactionRecord) bool {
	return f.Sold == nil || *f.Sold == r.Sold
}

func boolPtr(b bool) *bool { return &b }
