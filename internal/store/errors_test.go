package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"quota", ErrQuotaExceeded, ClassQuota},
		{"wrapped quota", fmt.Errorf("write: %w", ErrQuotaExceeded), ClassQuota},
		{"context invalid", ErrContextInvalid, ClassContextInvalid},
		{"throttled", ErrThrottled, ClassRetryable},
		{"unknown", errors.New("connection reset"), ClassRetryable},
		{"closed", ErrClosed, ClassFatal},
		{"partial", &PartialError{Committed: []string{"a"}, Rejected: map[string]error{"b": ErrQuotaExceeded}}, ClassFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestPartialErrorMessage(t *testing.T) {
	err := &PartialError{
		Committed: []string{"a", "b"},
		Rejected:  map[string]error{"c": ErrQuotaExceeded},
	}
	assert.Contains(t, err.Error(), "2 committed")
	assert.Contains(t, err.Error(), "c")
}
