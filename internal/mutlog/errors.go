package mutlog

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound reports an unknown operation, commit, or branch id.
	ErrNotFound = errors.New("not found")
	// ErrValidation reports a malformed operation request.
	ErrValidation = errors.New("invalid operation")
	// ErrCycleFound reports a dependency cycle inside a requested batch.
	ErrCycleFound = errors.New("cycle detected")
)

// BatchError wraps batch scheduling failures so callers can distinguish a
// caller defect (a cycle) from an individual operation failing at runtime.
type BatchError struct {
	Kind error
	Msg  string
}

func (e *BatchError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *BatchError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &BatchError{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &BatchError{Kind: ErrCycleFound, Msg: msg}
}
