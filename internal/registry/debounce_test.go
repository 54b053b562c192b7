package registry

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncerCoalescesResets(t *testing.T) {
	var fired atomic.Int32
	d := newDebouncer(30*time.Millisecond, func() { fired.Add(1) })
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Reset()
		time.Sleep(5 * time.Millisecond)
	}
	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// No second firing without a new Reset.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestDebouncerCancel(t *testing.T) {
	var fired atomic.Int32
	d := newDebouncer(20*time.Millisecond, func() { fired.Add(1) })
	defer d.Stop()

	d.Reset()
	d.Cancel()
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestDebouncerFireNow(t *testing.T) {
	var fired atomic.Int32
	d := newDebouncer(time.Hour, func() { fired.Add(1) })
	defer d.Stop()

	d.Reset()
	d.FireNow()
	assert.Equal(t, int32(1), fired.Load())

	// The pending schedule was consumed by FireNow.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestDebouncerStop(t *testing.T) {
	var fired atomic.Int32
	d := newDebouncer(10*time.Millisecond, func() { fired.Add(1) })

	d.Reset()
	d.Stop()
	d.Reset()
	d.FireNow()
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, fired.Load())
}
