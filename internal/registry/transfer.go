package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/AstroMined/settings-extension-sub002/internal/protocol"
	"github.com/AstroMined/settings-extension-sub002/internal/queue"
	"github.com/AstroMined/settings-extension-sub002/internal/schema"
)

// ExportAll serializes the full validated settings map, pending edits
// included.
func (r *Registry) ExportAll() (*protocol.ExportFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return nil, ErrNotReady
	}
	entries := make(map[string]protocol.ExportEntry, len(r.cache))
	for key, rec := range r.cache {
		entries[key] = protocol.ExportEntry{
			Type:        rec.Type,
			Value:       rec.Value,
			Description: rec.Description,
		}
	}
	return &protocol.ExportFile{
		Version:   protocol.ExportVersion,
		Timestamp: time.Now().UTC(),
		Settings:  entries,
	}, nil
}

// ImportAll applies an export file. Unknown keys are ignored; known keys are
// re-validated and entries that fail validation are skipped with a logged
// warning. Accepted entries are flushed immediately and a SETTINGS_IMPORTED
// broadcast carries the resulting full map.
func (r *Registry) ImportAll(ctx context.Context, data []byte) error {
	file, err := protocol.ParseExport(data)
	if err != nil {
		return err
	}

	accepted := make(map[string]any, len(file.Settings))
	r.mu.Lock()
	if !r.ready {
		r.mu.Unlock()
		return ErrNotReady
	}
	for key, entry := range file.Settings {
		def, ok := r.schema.Get(key)
		if !ok {
			r.logger.Debug("import skipping unknown key", "key", key)
			continue
		}
		value, verr := schema.Coerce(key, def.Record, entry.Value)
		if verr != nil {
			r.logger.Warn("import skipping invalid value", "key", key, "error", verr)
			continue
		}
		accepted[key] = value
	}
	r.mu.Unlock()

	if len(accepted) == 0 {
		return nil
	}
	if err := r.SetMany(accepted); err != nil {
		return err
	}
	if err := r.FlushNow(ctx); err != nil {
		return fmt.Errorf("failed to commit imported settings: %w", err)
	}
	snapshot, err := r.Snapshot()
	if err != nil {
		return err
	}
	r.publish(protocol.Broadcast{Type: protocol.MsgSettingsImported, Settings: snapshot})
	r.logger.Info("settings imported", "accepted", len(accepted), "total", len(file.Settings))
	return nil
}

// ResetToDefaults discards pending changes, clears the store and rewrites
// the schema defaults through the queue, then resets the in-memory view.
func (r *Registry) ResetToDefaults(ctx context.Context) error {
	r.debounce.Cancel()

	r.mu.Lock()
	if !r.ready {
		r.mu.Unlock()
		return ErrNotReady
	}
	r.pending = make(map[string]pendingChange)
	r.mu.Unlock()

	clearTicket := r.queue.Enqueue(&queue.Operation{Kind: queue.KindClear})
	if _, err := clearTicket.Wait(ctx); err != nil {
		return fmt.Errorf("failed to clear settings: %w", err)
	}
	defaults := r.schema.Defaults()
	setTicket := r.queue.Enqueue(&queue.Operation{Kind: queue.KindSet, Records: defaults})
	if _, err := setTicket.Wait(ctx); err != nil {
		return fmt.Errorf("failed to restore defaults: %w", err)
	}

	r.mu.Lock()
	for key, rec := range defaults {
		r.cache[key] = rec
	}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.publish(protocol.Broadcast{Type: protocol.MsgSettingsReset, Settings: snapshot})
	r.logger.Info("settings reset to defaults")
	return nil
}
