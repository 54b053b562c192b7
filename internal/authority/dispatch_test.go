package authority

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AstroMined/settings-extension-sub002/internal/bus"
	"github.com/AstroMined/settings-extension-sub002/internal/protocol"
	"github.com/AstroMined/settings-extension-sub002/internal/registry"
	"github.com/AstroMined/settings-extension-sub002/internal/schema"
	"github.com/AstroMined/settings-extension-sub002/internal/store"
)

func newTestAuthority(t *testing.T) (*Authority, *store.MemoryStore, *bus.Hub) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	q := testQueue(t, st)
	sch, err := schema.Load([]byte(testSchemaJSON))
	require.NoError(t, err)
	require.NoError(t, Seed(context.Background(), q, sch, nil))

	hub := bus.New(nil)
	reg, err := registry.New(registry.Options{
		Queue:          q,
		Schema:         sch,
		Store:          st,
		DebounceWindow: 20 * time.Millisecond,
		Publisher:      hub,
	})
	require.NoError(t, err)
	require.NoError(t, reg.Initialize(context.Background()))
	t.Cleanup(reg.Dispose)
	return New(reg, hub, nil), st, hub
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestDispatchGet(t *testing.T) {
	a, _, _ := newTestAuthority(t)
	ctx := context.Background()

	resp := a.Dispatch(ctx, protocol.Request{ID: "r1", Type: protocol.MsgGetSetting, Key: "timeout"})
	assert.Equal(t, "r1", resp.ID)
	assert.Empty(t, resp.Error)
	assert.Equal(t, float64(60), resp.Value)

	resp = a.Dispatch(ctx, protocol.Request{ID: "r2", Type: protocol.MsgGetSettings, Keys: []string{"timeout", "enabled"}})
	assert.Equal(t, map[string]any{"timeout": float64(60), "enabled": true}, resp.Values)

	resp = a.Dispatch(ctx, protocol.Request{ID: "r3", Type: protocol.MsgGetAllSettings})
	assert.Len(t, resp.Settings, 3)
	assert.Equal(t, "hello", resp.Settings["greeting"].Value)
}

func TestDispatchUpdate(t *testing.T) {
	a, _, _ := newTestAuthority(t)
	ctx := context.Background()

	resp := a.Dispatch(ctx, protocol.Request{
		ID: "r1", Type: protocol.MsgUpdateSetting, Key: "timeout", Value: raw(t, 90),
	})
	assert.Empty(t, resp.Error)
	assert.True(t, resp.Success)

	resp = a.Dispatch(ctx, protocol.Request{ID: "r2", Type: protocol.MsgGetSetting, Key: "timeout"})
	assert.Equal(t, float64(90), resp.Value)

	resp = a.Dispatch(ctx, protocol.Request{
		ID: "r3", Type: protocol.MsgUpdateSettings,
		Updates: map[string]json.RawMessage{"enabled": raw(t, false), "greeting": raw(t, "hi")},
	})
	assert.True(t, resp.Success)
}

func TestDispatchErrors(t *testing.T) {
	a, _, _ := newTestAuthority(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  protocol.Request
	}{
		{"unknown key", protocol.Request{ID: "e1", Type: protocol.MsgGetSetting, Key: "nope"}},
		{"out of range", protocol.Request{ID: "e2", Type: protocol.MsgUpdateSetting, Key: "timeout", Value: raw(t, 5000)}},
		{"missing value", protocol.Request{ID: "e3", Type: protocol.MsgUpdateSetting, Key: "timeout"}},
		{"malformed value", protocol.Request{ID: "e4", Type: protocol.MsgUpdateSetting, Key: "timeout", Value: json.RawMessage(`{`)}},
		{"unknown type", protocol.Request{ID: "e5", Type: "BOGUS"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := a.Dispatch(ctx, tt.req)
			assert.Equal(t, tt.req.ID, resp.ID, "errors still correlate to the request")
			assert.NotEmpty(t, resp.Error)
			assert.False(t, resp.Success)
		})
	}
}

func TestDispatchExportImportReset(t *testing.T) {
	a, st, _ := newTestAuthority(t)
	ctx := context.Background()

	resp := a.Dispatch(ctx, protocol.Request{
		ID: "r1", Type: protocol.MsgUpdateSetting, Key: "timeout", Value: raw(t, 90),
	})
	require.Empty(t, resp.Error)

	resp = a.Dispatch(ctx, protocol.Request{ID: "r2", Type: protocol.MsgExportSettings})
	require.Empty(t, resp.Error)
	require.NotNil(t, resp.Data)
	assert.Equal(t, protocol.ExportVersion, resp.Data.Version)
	assert.Equal(t, float64(90), resp.Data.Settings["timeout"].Value)
	exported, err := json.Marshal(resp.Data)
	require.NoError(t, err)

	resp = a.Dispatch(ctx, protocol.Request{ID: "r3", Type: protocol.MsgResetSettings})
	require.Empty(t, resp.Error)
	all, err := st.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(60), all["timeout"].Value)

	resp = a.Dispatch(ctx, protocol.Request{ID: "r4", Type: protocol.MsgImportSettings, Data: exported})
	require.Empty(t, resp.Error)
	resp = a.Dispatch(ctx, protocol.Request{ID: "r5", Type: protocol.MsgGetSetting, Key: "timeout"})
	assert.Equal(t, float64(90), resp.Value)
}
