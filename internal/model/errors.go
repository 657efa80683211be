package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCandle is returned for candles with non-finite or inconsistent fields.
	ErrInvalidCandle = errors.New("invalid candle")

	// ErrOutOfOrder is returned when a candle does not strictly follow the previous one in time.
	ErrOutOfOrder = errors.New("candle out of order")
)

// ValidationError describes why a candle was rejected.
// Index is the position in the input sequence, or -1 when unknown.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("candle %d: %s: %s: %v", e.Index, e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("candle: %s: %s: %v", e.Field, e.Reason, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// WithIndex returns a copy of err annotated with the input index when err is a
// *ValidationError; other errors are returned unchanged.
func WithIndex(err error, idx int) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		cp := *ve
		cp.Index = idx
		return &cp
	}
	return err
}
