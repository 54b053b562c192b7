package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AstroMined/settings-extension-sub002/internal/store"
)

func newTestStore(t *testing.T, opts Options) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "settings.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	maxLen := 100
	require.NoError(t, s.Set(ctx, map[string]store.Record{
		"api_key": {Type: "text", Value: "secret", Description: "key", MaxLength: &maxLen},
		"enabled": {Type: "boolean", Value: true, Description: "toggle"},
	}))

	got, err := s.Get(ctx, []string{"api_key", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "secret", got["api_key"].Value)
	require.NotNil(t, got["api_key"].MaxLength)
	assert.Equal(t, 100, *got["api_key"].MaxLength)

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.Remove(ctx, []string{"api_key", "missing"}))
	all, err = s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.Clear(ctx))
	all, err = s.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.db")
	ctx := context.Background()

	s, err := New(path, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, map[string]store.Record{
		"k": {Type: "number", Value: float64(42), Description: "d"},
	}))
	require.NoError(t, s.Close())

	s2, err := New(path, Options{})
	require.NoError(t, err)
	defer s2.Close()
	all, err := s2.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, float64(42), all["k"].Value)
}

func TestSQLiteQuota(t *testing.T) {
	s := newTestStore(t, Options{QuotaBytes: 200, MaxValueBytes: 10000})
	ctx := context.Background()

	err := s.Set(ctx, map[string]store.Record{
		"big": {Type: "longtext", Value: string(make([]byte, 500)), Description: "d"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrQuotaExceeded)

	// Nothing was committed.
	all, getErr := s.GetAll(ctx)
	require.NoError(t, getErr)
	assert.Empty(t, all)
}

func TestSQLitePerKeyLimitPartialCommit(t *testing.T) {
	s := newTestStore(t, Options{MaxValueBytes: 150})
	ctx := context.Background()

	err := s.Set(ctx, map[string]store.Record{
		"small": {Type: "text", Value: "ok", Description: "d"},
		"huge":  {Type: "longtext", Value: string(make([]byte, 400)), Description: "d"},
	})
	var partial *store.PartialError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"small"}, partial.Committed)
	assert.ErrorIs(t, partial.Rejected["huge"], store.ErrQuotaExceeded)

	all, getErr := s.GetAll(ctx)
	require.NoError(t, getErr)
	require.Len(t, all, 1)
	assert.Equal(t, "ok", all["small"].Value)
}

func TestSQLiteSweep(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	require.NoError(t, s.Set(ctx, map[string]store.Record{
		"expired": {Type: "text", Value: "old", Description: "d", Expiration: &past},
		"forever": {Type: "text", Value: "keep", Description: "d"},
	}))

	removed, err := s.Sweep(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"expired"}, removed)

	removed, err = s.Sweep(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestSQLiteWatchObservesCommits(t *testing.T) {
	s := newTestStore(t, Options{PollInterval: 20 * time.Millisecond})
	ctx := context.Background()

	events, cancel, err := s.Watch(ctx)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, s.Set(ctx, map[string]store.Record{
		"k": {Type: "text", Value: "v1", Description: "d"},
	}))

	select {
	case ev := <-events:
		assert.Equal(t, "v1", ev.Changes["k"].Value)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}

	require.NoError(t, s.Clear(ctx))
	select {
	case ev := <-events:
		assert.True(t, ev.Cleared)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for clear event")
	}
}

func TestSQLiteWatchCoalesces(t *testing.T) {
	s := newTestStore(t, Options{PollInterval: 100 * time.Millisecond})
	ctx := context.Background()

	events, cancel, err := s.Watch(ctx)
	require.NoError(t, err)
	defer cancel()

	// Two writes inside one polling interval arrive as one event with the
	// latest value.
	require.NoError(t, s.Set(ctx, map[string]store.Record{"k": {Type: "text", Value: "v1", Description: "d"}}))
	require.NoError(t, s.Set(ctx, map[string]store.Record{"k": {Type: "text", Value: "v2", Description: "d"}}))

	select {
	case ev := <-events:
		assert.Equal(t, "v2", ev.Changes["k"].Value)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestSQLiteRejectsEmptyPath(t *testing.T) {
	_, err := New("  ", Options{})
	assert.Error(t, err)
}
