package services

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"salesinsight/internal/core"
	"salesinsight/internal/feed"
)

// Feed field names.
const (
	fieldID          = "id"
	fieldTitle       = "title"
	fieldPrice       = "price"
	fieldDescription = "description"
	fieldCategory    = "category"
	fieldImage       = "image"
	fieldSold        = "sold"
	fieldDateOfSale  = "dateOfSale"
)

// FieldError reports the record and field a coercion failed on.
type FieldError struct {
	Index int
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("record %d: field %q: %v", e.Index, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// CoerceBatch converts every raw record before anything is written. The
// first bad field aborts the whole batch with a validation failure.
func CoerceBatch(batch []feed.RawRecord) ([]core.TransactionRecord, error) {
	records := make([]core.TransactionRecord, 0, len(batch))
	for i, raw := range batch {
		rec, err := CoerceRecord(i, raw)
		if err != nil {
			return nil, core.Wrap(core.ErrValidation, "coerce batch", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// CoerceRecord converts one raw feed object into a TransactionRecord.
func CoerceRecord(index int, raw feed.RawRecord) (core.TransactionRecord, error) {
	fail := func(field string, err error) (core.TransactionRecord, error) {
		return core.TransactionRecord{}, &FieldError{Index: index, Field: field, Err: err}
	}

	var rec core.TransactionRecord
	var err error

	if rec.ID, err = coerceID(raw[fieldID]); err != nil {
		return fail(fieldID, err)
	}
	if rec.Title, err = requiredString(raw[fieldTitle]); err != nil {
		return fail(fieldTitle, err)
	}
	if rec.Price, err = core.ParsePrice(raw[fieldPrice]); err != nil {
		return fail(fieldPrice, err)
	}
	if rec.Description, err = optionalString(raw[fieldDescription]); err != nil {
		return fail(fieldDescription, err)
	}
	if rec.Category, err = requiredString(raw[fieldCategory]); err != nil {
		return fail(fieldCategory, err)
	}
	if rec.Image, err = optionalString(raw[fieldImage]); err != nil {
		return fail(fieldImage, err)
	}
	if rec.Sold, err = coerceSold(raw[fieldSold]); err != nil {
		return fail(fieldSold, err)
	}
	if rec.DateOfSale, err = requiredString(raw[fieldDateOfSale]); err != nil {
		return fail(fieldDateOfSale, err)
	}
	if _, err := core.MonthKeyFromDate(rec.DateOfSale); err != nil {
		return fail(fieldDateOfSale, err)
	}
	return rec, nil
}

func coerceID(v any) (int64, error) {
	switch id := v.(type) {
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return nonNegativeID(n)
		}
		f, err := id.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", core.ErrInvalidID, id.String())
		}
		return integralID(f)
	case float64:
		return integralID(id)
	case int:
		return nonNegativeID(int64(id))
	case int64:
		return nonNegativeID(id)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", core.ErrInvalidID, id)
		}
		return nonNegativeID(n)
	case nil:
		return 0, fmt.Errorf("%w: missing", core.ErrInvalidID)
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", core.ErrInvalidID, v)
	}
}

func integralID(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("%w: %v is not an integer", core.ErrInvalidID, f)
	}
	return nonNegativeID(int64(f))
}

func nonNegativeID(n int64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: %d is negative", core.ErrInvalidID, n)
	}
	return n, nil
}

func coerceSold(v any) (bool, error) {
	switch s := v.(type) {
	case bool:
		return s, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return false, fmt.Errorf("%w: %q", core.ErrInvalidSold, s)
		}
		return b, nil
	case json.Number:
		return zeroOrOne(s.String())
	case float64:
		return zeroOrOne(strconv.FormatFloat(s, 'f', -1, 64))
	case nil:
		return false, fmt.Errorf("%w: missing", core.ErrInvalidSold)
	default:
		return false, fmt.Errorf("%w: unsupported type %T", core.ErrInvalidSold, v)
	}
}

func zeroOrOne(s string) (bool, error) {
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, fmt.Errorf("%w: %s", core.ErrInvalidSold, s)
}

func requiredString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		if v == nil {
			return "", fmt.Errorf("missing required field")
		}
		return "", fmt.Errorf("expected string, got %T", v)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("empty required field")
	}
	return s, nil
}

func optionalString(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", core.ErrInvalidOptText, v)
	}
	return &s, nil
}
