package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, map[string]Record{
		"a": {Type: "number", Value: float64(1)},
		"b": {Type: "text", Value: "hello"},
	}))

	got, err := s.Get(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, float64(1), got["a"].Value)

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.Remove(ctx, []string{"a"}))
	all, err = s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.Clear(ctx))
	all, err = s.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryStoreQuota(t *testing.T) {
	s := NewMemoryStore(WithQuota(100))
	defer s.Close()
	ctx := context.Background()

	err := s.Set(ctx, map[string]Record{
		"big": {Type: "longtext", Value: string(make([]byte, 200))},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// Overwriting an existing record only counts the size delta.
	require.NoError(t, s.Set(ctx, map[string]Record{"k": {Type: "text", Value: "aaaa"}}))
	require.NoError(t, s.Set(ctx, map[string]Record{"k": {Type: "text", Value: "bbbb"}}))
}

func TestMemoryStorePartialCommit(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()
	s.RejectKey("a", errors.New("record too large"))

	err := s.Set(ctx, map[string]Record{
		"a": {Type: "number", Value: float64(1)},
		"b": {Type: "number", Value: float64(2)},
	})
	var partial *PartialError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"b"}, partial.Committed)
	assert.Contains(t, partial.Rejected, "a")

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, float64(2), all["b"].Value)
}

func TestMemoryStoreFailureInjection(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()
	s.FailNext(ErrThrottled, ErrThrottled)

	err := s.Set(ctx, map[string]Record{"k": {Type: "text", Value: "v"}})
	assert.ErrorIs(t, err, ErrThrottled)
	err = s.Set(ctx, map[string]Record{"k": {Type: "text", Value: "v"}})
	assert.ErrorIs(t, err, ErrThrottled)
	// Injected failures are consumed; the third call succeeds.
	require.NoError(t, s.Set(ctx, map[string]Record{"k": {Type: "text", Value: "v"}}))
}

func TestMemoryStoreSweep(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	require.NoError(t, s.Set(ctx, map[string]Record{
		"expired": {Type: "text", Value: "old", Expiration: &past},
		"fresh":   {Type: "text", Value: "new", Expiration: &future},
		"forever": {Type: "text", Value: "keep"},
	}))

	removed, err := s.Sweep(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"expired"}, removed)

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStoreWatch(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	events, cancel, err := s.Watch(ctx)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, s.Set(ctx, map[string]Record{"k": {Type: "text", Value: "v"}}))
	select {
	case ev := <-events:
		assert.Equal(t, "v", ev.Changes["k"].Value)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
	}

	require.NoError(t, s.Clear(ctx))
	select {
	case ev := <-events:
		assert.True(t, ev.Cleared)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for clear event")
	}

	cancel()
	_, open := <-events
	assert.False(t, open, "channel should close after cancel")
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	_, err := s.GetAll(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	err = s.Set(context.Background(), map[string]Record{"k": {}})
	assert.ErrorIs(t, err, ErrClosed)
}
