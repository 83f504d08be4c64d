package domain

import "fmt"

// SourceUnavailableError is returned when a source could not be fetched and
// no usable cached copy exists. Recoverable by retrying or pointing at a
// local file; fatal only when neither is possible.
type SourceUnavailableError struct {
	Source   string
	Location string
	Err      error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable (%s): %v", e.Source, e.Location, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// SchemaMismatchError is returned when a source's shape does not match its
// documented schema: a column is missing, a sheet is absent, or a value has
// the wrong type or range. Always fatal; values are never silently coerced.
type SchemaMismatchError struct {
	Source string
	Column string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("source %s: schema mismatch: %s", e.Source, e.Reason)
	}
	return fmt.Sprintf("source %s: schema mismatch in column %s: %s", e.Source, e.Column, e.Reason)
}
