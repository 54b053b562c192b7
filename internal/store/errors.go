package store

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrQuotaExceeded indicates the write would exceed the store's byte quota.
	ErrQuotaExceeded = errors.New("store quota exceeded")
	// ErrContextInvalid indicates the privileged context backing the store
	// was torn down mid-operation.
	ErrContextInvalid = errors.New("store context invalidated")
	// ErrThrottled indicates the store rejected a burst of calls.
	ErrThrottled = errors.New("store call throttled")
	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store is closed")
)

// PartialError reports a batch write where some keys committed and the rest
// were rejected. Committed keys are durable; rejected keys carry their
// individual cause.
type PartialError struct {
	Committed []string
	Rejected  map[string]error
}

func (e *PartialError) Error() string {
	keys := make([]string, 0, len(e.Rejected))
	for k := range e.Rejected {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("partial commit: %d committed, rejected keys %v", len(e.Committed), keys)
}

// Class is the retry classification of a store error.
type Class int

const (
	// ClassRetryable covers transient failures: throttling, I/O, unknown.
	ClassRetryable Class = iota
	// ClassQuota covers quota rejections, which get one cleanup pass before retry.
	ClassQuota
	// ClassContextInvalid covers invalidated-context failures, retried after a short delay.
	ClassContextInvalid
	// ClassFatal covers failures that must not be retried.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassQuota:
		return "quota"
	case ClassContextInvalid:
		return "context-invalid"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps a store error onto its retry class. Partial commits and
// closed stores are fatal: retrying the whole batch would duplicate the
// committed half, and a closed store never recovers.
func Classify(err error) Class {
	var partial *PartialError
	switch {
	case errors.As(err, &partial):
		return ClassFatal
	case errors.Is(err, ErrClosed):
		return ClassFatal
	case errors.Is(err, ErrQuotaExceeded):
		return ClassQuota
	case errors.Is(err, ErrContextInvalid):
		return ClassContextInvalid
	default:
		return ClassRetryable
	}
}
