//go:build integration
// +build integration

package daemon

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AstroMined/settings-extension-sub002/internal/authority"
	"github.com/AstroMined/settings-extension-sub002/internal/bus"
	"github.com/AstroMined/settings-extension-sub002/internal/client"
	"github.com/AstroMined/settings-extension-sub002/internal/protocol"
	"github.com/AstroMined/settings-extension-sub002/internal/queue"
	"github.com/AstroMined/settings-extension-sub002/internal/registry"
	"github.com/AstroMined/settings-extension-sub002/internal/schema"
	"github.com/AstroMined/settings-extension-sub002/internal/store/sqlite"
)

// stack is one running daemon: sqlite store, queue, registry and authority,
// wired the same way the serve command wires them.
type stack struct {
	store *sqlite.SQLiteStore
	queue *queue.Queue
	reg   *registry.Registry
	auth  *authority.Authority
	addr  string
	done  chan struct{}
}

func startStack(t *testing.T, dbPath string) *stack {
	t.Helper()
	st, err := sqlite.New(dbPath, sqlite.Options{PollInterval: 20 * time.Millisecond})
	require.NoError(t, err)

	q := queue.New(st, queue.Config{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
	}, nil)

	sch, err := schema.Default()
	require.NoError(t, err)
	require.NoError(t, authority.Seed(context.Background(), q, sch, nil))

	hub := bus.New(nil)
	reg, err := registry.New(registry.Options{
		Queue:          q,
		Schema:         sch,
		Store:          st,
		DebounceWindow: 30 * time.Millisecond,
		Publisher:      hub,
	})
	require.NoError(t, err)
	require.NoError(t, reg.Initialize(context.Background()))

	auth := authority.New(reg, hub, nil)
	addr, err := auth.Listen("127.0.0.1:0")
	require.NoError(t, err)

	s := &stack{store: st, queue: q, reg: reg, auth: auth, addr: addr, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		_ = auth.Serve()
	}()
	return s
}

func (s *stack) stop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.reg.FlushNow(ctx))
	require.NoError(t, s.auth.Shutdown(ctx))
	<-s.done
	s.reg.Dispose()
	s.queue.Close()
	require.NoError(t, s.store.Close())
}

func TestDaemonPersistsAcrossRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "settings.db")
	ctx := context.Background()

	s := startStack(t, dbPath)
	c, err := client.Dial(ctx, s.addr, nil, nil)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "refresh_interval", 90))
	require.NoError(t, c.Close())
	s.stop(t)

	// A fresh daemon over the same database serves the committed value and
	// does not re-seed defaults over it.
	s2 := startStack(t, dbPath)
	defer s2.stop(t)
	c2, err := client.Dial(ctx, s2.addr, nil, nil)
	require.NoError(t, err)
	defer c2.Close()

	v, err := c2.Get(ctx, "refresh_interval")
	require.NoError(t, err)
	assert.Equal(t, float64(90), v)
}

func TestDaemonBroadcastsBetweenClients(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "settings.db")
	ctx := context.Background()
	s := startStack(t, dbPath)
	defer s.stop(t)

	var mu sync.Mutex
	var got []protocol.Broadcast
	observer, err := client.Dial(ctx, s.addr, func(b protocol.Broadcast) {
		mu.Lock()
		got = append(got, b)
		mu.Unlock()
	}, nil)
	require.NoError(t, err)
	defer observer.Close()

	writer, err := client.Dial(ctx, s.addr, nil, nil)
	require.NoError(t, err)
	defer writer.Close()
	require.NoError(t, writer.Set(ctx, "feature_enabled", false))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, b := range got {
			if b.Type == protocol.MsgSettingsChanged && b.Changes["feature_enabled"] == false {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDaemonExportImportReset(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "settings.db")
	ctx := context.Background()
	s := startStack(t, dbPath)
	defer s.stop(t)

	c, err := client.Dial(ctx, s.addr, nil, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetMany(ctx, map[string]any{
		"refresh_interval": 120,
		"api_key":          "integration",
	}))
	file, err := c.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(120), file.Settings["refresh_interval"].Value)

	require.NoError(t, c.Reset(ctx))
	v, err := c.Get(ctx, "refresh_interval")
	require.NoError(t, err)
	assert.Equal(t, float64(60), v)

	data, err := json.Marshal(file)
	require.NoError(t, err)
	require.NoError(t, c.Import(ctx, data))
	v, err = c.Get(ctx, "api_key")
	require.NoError(t, err)
	assert.Equal(t, "integration", v)
}
