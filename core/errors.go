package core

import (
	"context"
	"errors"
	"fmt"
)

// TransientError marks a backend failure (timeout, connection drop)
// that is worth retrying exactly once before degrading. Components
// wrap the underlying error so the orchestrator can tell transient
// faults apart from permanent ones.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError for the named operation.
// Returns nil when err is nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err should be retried once. Deadline
// expiry counts as transient even when a backend did not wrap it.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
