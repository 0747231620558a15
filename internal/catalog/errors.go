package catalog

import (
	"errors"
	"fmt"
)

// Sentinel errors for catalog operations.
var (
	// ErrRetrievalFailed is matched by every error returned when the catalog
	// could not produce a result.
	ErrRetrievalFailed = errors.New("catalog: retrieval failed")

	ErrRateLimited      = errors.New("catalog: rate limited by server")
	ErrServer           = errors.New("catalog: server error")
	ErrUnexpectedStatus = errors.New("catalog: unexpected status")
)

// Error wraps an underlying error with operation context.
type Error struct {
	Op       string // Operation: "search"
	Term     string
	Attempts int
	Err      error

	failed bool
}

func (e *Error) Error() string {
	if e.failed {
		unit := "attempts"
		if e.Attempts == 1 {
			unit = "attempt"
		}
		return fmt.Sprintf("catalog %s [%q]: failed after %d %s: %v", e.Op, e.Term, e.Attempts, unit, e.Err)
	}
	return fmt.Sprintf("catalog %s [%q]: %v", e.Op, e.Term, e.Err)
}

// Unwrap exposes the last attempt's cause, plus ErrRetrievalFailed when the
// catalog failed.
func (e *Error) Unwrap() []error {
	if e.failed {
		return []error{ErrRetrievalFailed, e.Err}
	}
	return []error{e.Err}
}

// Failed reports whether the catalog failed, as opposed to the caller
// giving up early.
func (e *Error) Failed() bool {
	return e.failed
}

// wrapError creates an Error with context.
func wrapError(op, term string, attempts int, failed bool, err error) error {
	return &Error{
		Op:       op,
		Term:     term,
		Attempts: attempts,
		Err:      err,
		failed:   failed,
	}
}
