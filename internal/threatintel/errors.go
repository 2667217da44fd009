package threatintel

import (
	"fmt"
	"time"
)

// SubmissionError means a scan request was rejected or returned no
// scan identifier.
type SubmissionError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s: submit scan: %v", e.Provider, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// LookupError means a result could not be fetched or decoded.
type LookupError struct {
	Provider string
	Status   int // HTTP status, 0 if the request never completed
	Err      error
}

// Error implements the error interface.
func (e *LookupError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: lookup (status %d): %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: lookup: %v", e.Provider, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// TimeoutError means the poll budget ran out before a result was ready.
type TimeoutError struct {
	Provider string
	Attempts int
	Elapsed  time.Duration
	Err      error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: result not ready after %d attempts (%s)", e.Provider, e.Attempts, e.Elapsed.Round(time.Millisecond))
}

func (e *TimeoutError) Unwrap() error { return e.Err }
