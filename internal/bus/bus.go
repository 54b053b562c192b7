// Package bus fans committed-change broadcasts out to a dynamic set of
// subscribers. Delivery is best effort: one failing subscriber is logged and
// skipped, never fatal to the publish and never a rollback of the commit.
package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/AstroMined/settings-extension-sub002/internal/logging"
	"github.com/AstroMined/settings-extension-sub002/internal/protocol"
)

// SubscriberFunc receives one broadcast. A returned error is isolated to
// this subscriber.
type SubscriberFunc func(protocol.Broadcast) error

// Hub is the broadcast fan-out point of a process.
type Hub struct {
	logger logging.Logger

	mu   sync.RWMutex
	subs map[string]SubscriberFunc
}

// New creates an empty hub.
func New(logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Hub{
		logger: logger.With("component", "bus"),
		subs:   make(map[string]SubscriberFunc),
	}
}

// Subscribe registers fn and returns a cancel function. Cancel is idempotent.
func (h *Hub) Subscribe(fn SubscriberFunc) func() {
	id := uuid.NewString()
	h.mu.Lock()
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Publish delivers b to every current subscriber. Failed deliveries are
// logged and skipped.
func (h *Hub) Publish(b protocol.Broadcast) {
	h.mu.RLock()
	subs := make(map[string]SubscriberFunc, len(h.subs))
	for id, fn := range h.subs {
		subs[id] = fn
	}
	h.mu.RUnlock()

	for id, fn := range subs {
		if err := fn(b); err != nil {
			h.logger.Warn("broadcast delivery failed, subscriber skipped",
				"subscriber", id, "type", b.Type, "error", err)
		}
	}
}

// Len returns the current subscriber count.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
