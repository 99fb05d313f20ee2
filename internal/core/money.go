package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParsePrice converts a loosely typed feed value into a non-negative price.
// Feed prices arrive either as JSON numbers or as numeric strings; both
// become decimal.Decimal so that revenue sums are exact.
//
// Accepted inputs:
//
//	json.Number("329.85") -> 329.85
//	329.85 (float64)      -> 329.85
//	"329.85"              -> 329.85
//	"12,5"                -> 12.5 (decimal comma)
func ParsePrice(v any) (decimal.Decimal, error) {
	var (
		d   decimal.Decimal
		err error
	)
	switch p := v.(type) {
	case json.Number:
		d, err = decimal.NewFromString(p.String())
	case float64:
		d = decimal.NewFromFloat(p)
	case int:
		d = decimal.NewFromInt(int64(p))
	case int64:
		d = decimal.NewFromInt(p)
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(p), ",", ".")
		if s == "" {
			return decimal.Decimal{}, ErrInvalidPrice
		}
		d, err = decimal.NewFromString(s)
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidPrice, v)
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, ErrNegativePrice
	}
	return d, nil
}
