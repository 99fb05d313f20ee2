package core

import (
	"errors"
	"fmt"
)

// Failure kinds. Every error leaving the services layer matches exactly one
// of these with errors.Is.
var (
	ErrValidation  = errors.New("validation failure")
	ErrIngestion   = errors.New("ingestion failure")
	ErrFetch       = errors.New("fetch failure")
	ErrAggregation = errors.New("aggregation failure")
)

// Error carries the failure kind, the operation that failed and its cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap tags err with a failure kind. A nil err yields a bare kind error.
func Wrap(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the failure kind of err, or nil if it has none.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrIngestion, ErrFetch, ErrAggregation} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
