// Package store defines the persistent store adapter: an asynchronous
// key-value API with a change-notification stream, shared by every process
// that persists settings.
package store

import (
	"context"
	"time"
)

// Record is the persisted shape of a single setting.
type Record struct {
	// Type is the setting type: "boolean", "text", "longtext", "number", "json" or "enum".
	Type string `json:"type"`

	// Value is the typed payload. Numbers decode as float64, json as any.
	Value any `json:"value"`

	// Description documents the setting. Display-only.
	Description string `json:"description"`

	// DisplayName is a human-readable name. Display-only.
	DisplayName string `json:"displayName,omitempty"`

	// Category groups related settings. Display-only.
	Category string `json:"category,omitempty"`

	// MaxLength bounds text and longtext values.
	MaxLength *int `json:"maxLength,omitempty"`

	// Min and Max bound number values.
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`

	// Options maps valid enum keys to display labels.
	Options map[string]string `json:"options,omitempty"`

	// Expiration marks the record eligible for removal after this instant.
	// Nil means never.
	Expiration *time.Time `json:"expiration,omitempty"`
}

// Expired reports whether the record is past its expiration at now.
func (r Record) Expired(now time.Time) bool {
	return r.Expiration != nil && now.After(*r.Expiration)
}

// Event describes a committed change observed on the store. Exactly one
// process commits each change; every process, committer included, observes
// the resulting event.
type Event struct {
	// Changes holds the records written, keyed by setting key.
	Changes map[string]Record

	// Removed lists keys deleted from the store.
	Removed []string

	// Cleared is true when the whole store was emptied. A coalesced event
	// may also carry Changes written after the clear.
	Cleared bool
}

// Store is the asynchronous key-value API every backend implements.
// Implementations must be safe for concurrent use; callers serialize writes
// through the operation queue regardless.
type Store interface {
	// Get returns the records for the requested keys. Missing keys are
	// absent from the result, not an error.
	Get(ctx context.Context, keys []string) (map[string]Record, error)

	// GetAll returns every record in the store.
	GetAll(ctx context.Context) (map[string]Record, error)

	// Set writes all records in one batch. It may return *PartialError when
	// some keys were committed and others rejected.
	Set(ctx context.Context, records map[string]Record) error

	// Remove deletes the given keys. Unknown keys are ignored.
	Remove(ctx context.Context, keys []string) error

	// Clear empties the store.
	Clear(ctx context.Context) error

	// Sweep removes expired records and returns the removed keys. Used as
	// the bounded cleanup pass after a quota failure.
	Sweep(ctx context.Context, now time.Time) ([]string, error)

	// Watch delivers change events until cancel is called or ctx is done.
	// The channel is closed on cancellation. Events are coalesced: a slow
	// consumer sees fewer, larger events, never a gap.
	Watch(ctx context.Context) (<-chan Event, func(), error)

	// Close releases the backend.
	Close() error
}
