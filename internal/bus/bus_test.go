package bus

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AstroMined/settings-extension-sub002/internal/protocol"
)

func TestHubFanOut(t *testing.T) {
	h := New(nil)
	var mu sync.Mutex
	var got []string

	for _, name := range []string{"a", "b", "c"} {
		name := name
		h.Subscribe(func(protocol.Broadcast) error {
			mu.Lock()
			got = append(got, name)
			mu.Unlock()
			return nil
		})
	}
	require.Equal(t, 3, h.Len())

	h.Publish(protocol.Broadcast{Type: protocol.MsgSettingsChanged})
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b", "c"}, got)
}

func TestHubIsolatesFailingSubscriber(t *testing.T) {
	h := New(nil)
	var delivered int
	h.Subscribe(func(protocol.Broadcast) error {
		return errors.New("connection gone")
	})
	h.Subscribe(func(protocol.Broadcast) error {
		delivered++
		return nil
	})

	h.Publish(protocol.Broadcast{Type: protocol.MsgSettingsChanged})
	h.Publish(protocol.Broadcast{Type: protocol.MsgSettingsReset})
	assert.Equal(t, 2, delivered, "healthy subscriber receives every broadcast")
	assert.Equal(t, 2, h.Len(), "failing subscriber is skipped, not evicted")
}

func TestHubUnsubscribe(t *testing.T) {
	h := New(nil)
	var delivered int
	cancel := h.Subscribe(func(protocol.Broadcast) error {
		delivered++
		return nil
	})

	h.Publish(protocol.Broadcast{Type: protocol.MsgSettingsChanged})
	cancel()
	cancel() // idempotent
	h.Publish(protocol.Broadcast{Type: protocol.MsgSettingsChanged})

	assert.Equal(t, 1, delivered)
	assert.Zero(t, h.Len())
}

func TestHubConcurrentPublishSubscribe(t *testing.T) {
	h := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			cancel := h.Subscribe(func(protocol.Broadcast) error { return nil })
			cancel()
		}()
		go func() {
			defer wg.Done()
			h.Publish(protocol.Broadcast{Type: protocol.MsgSettingsChanged})
		}()
	}
	wg.Wait()
	assert.Zero(t, h.Len())
}
