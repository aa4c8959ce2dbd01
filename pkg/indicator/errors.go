package indicator

import (
	"errors"
	"fmt"
)

var (
	// ErrParse marks a malformed response envelope or record.
	ErrParse = errors.New("parse error")

	// ErrInvalidRequest is returned when Fetch arguments are unusable.
	ErrInvalidRequest = errors.New("invalid fetch request")
)

// ParseError describes where a response failed to decode.
// errors.Is(err, ErrParse) reports true for every ParseError.
type ParseError struct {
	Indicator string
	Page      int
	// Record is the zero-based record index, or -1 for envelope errors.
	Record int
	Field  string
	Err    error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	where := fmt.Sprintf("indicator %s page %d", e.Indicator, e.Page)
	if e.Record >= 0 {
		where += fmt.Sprintf(" record %d", e.Record)
	}
	if e.Err != nil {
		return fmt.Sprintf("parse error: %s: %s: %v", where, e.Field, e.Err)
	}
	return fmt.Sprintf("parse error: %s: %s", where, e.Field)
}

// Is reports whether target is ErrParse.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ParseError) Unwrap() error {
	return e.Err
}
