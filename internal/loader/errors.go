package loader

import (
	"errors"
	"fmt"
)

var (
	// ErrDataUnavailable means the source could not be opened or read.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrMalformedRow means a row failed schema parsing.
	ErrMalformedRow = errors.New("malformed row")

	errUnknownStage = errors.New("unknown stage")
)

// MalformedRowError locates a row that failed to parse. For CSV sources Line
// counts the header as line 1; for database sources it is the row position.
type MalformedRowError struct {
	Line   int
	Column string
	Value  string
	Err    error
}

func (e *MalformedRowError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("line %d: column %s: %v", e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("line %d: column %s: %q: %v", e.Line, e.Column, e.Value, e.Err)
}

func (e *MalformedRowError) Unwrap() []error {
	return []error{ErrMalformedRow, e.Err}
}

func unavailable(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDataUnavailable, what, err)
}
