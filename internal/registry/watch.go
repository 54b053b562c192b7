package registry

import (
	"github.com/AstroMined/settings-extension-sub002/internal/schema"
	"github.com/AstroMined/settings-extension-sub002/internal/store"
)

// watchLoop applies the store's native change events. This is the fallback
// convergence channel: a context that missed a broadcast still converges
// once it observes the store's own event. Keys with a local pending edit
// keep their pending value until the next flush resolves them.
func (r *Registry) watchLoop(events <-chan store.Event) {
	defer close(r.watchDone)
	for ev := range events {
		r.applyExternal(ev)
	}
}

func (r *Registry) applyExternal(ev store.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return
	}

	// A clear resets to defaults first; coalesced events may carry writes
	// that landed after the clear, applied below.
	if ev.Cleared {
		for _, key := range r.schema.Keys() {
			if _, pending := r.pending[key]; pending {
				continue
			}
			def, _ := r.schema.Get(key)
			r.cache[key] = def.Record
		}
	}

	for key, rec := range ev.Changes {
		def, ok := r.schema.Get(key)
		if !ok {
			continue
		}
		if _, pending := r.pending[key]; pending {
			continue
		}
		value, err := schema.Coerce(key, def.Record, rec.Value)
		if err != nil {
			r.logger.Warn("ignoring invalid external change", "key", key, "error", err)
			continue
		}
		cached := r.cache[key]
		cached.Value = value
		cached.Expiration = rec.Expiration
		r.cache[key] = cached
	}

	// A removed key falls back to its schema default; settings are never
	// deleted from the registry's view.
	for _, key := range ev.Removed {
		def, ok := r.schema.Get(key)
		if !ok {
			continue
		}
		if _, pending := r.pending[key]; pending {
			continue
		}
		r.cache[key] = def.Record
	}
}

// ApplyBroadcast converges the local view from a broadcast received over the
// inter-context channel. Used by contexts without direct store access.
func (r *Registry) ApplyBroadcast(changes map[string]any) {
	ev := store.Event{Changes: make(map[string]store.Record, len(changes))}
	for key, value := range changes {
		ev.Changes[key] = store.Record{Value: value}
	}
	r.applyExternal(ev)
}
