// Package registry holds the validated, typed, in-memory view of all
// settings for one process. Writes are accepted synchronously, coalesced per
// key inside a debounce window, and flushed as one batched operation through
// the operation queue.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AstroMined/settings-extension-sub002/internal/logging"
	"github.com/AstroMined/settings-extension-sub002/internal/protocol"
	"github.com/AstroMined/settings-extension-sub002/internal/queue"
	"github.com/AstroMined/settings-extension-sub002/internal/schema"
	"github.com/AstroMined/settings-extension-sub002/internal/store"
)

var (
	// ErrNotReady indicates a read or write before Initialize completed.
	ErrNotReady = errors.New("registry not initialized")
	// ErrUnknownKey indicates a key absent from the schema.
	ErrUnknownKey = errors.New("unknown setting key")
)

// DefaultDebounceWindow is the delay after the most recent edit before a
// flush is triggered.
const DefaultDebounceWindow = 400 * time.Millisecond

// Publisher fans a broadcast out to every other live context. Implementations
// must isolate per-subscriber failures; a publish never fails the commit.
type Publisher interface {
	Publish(protocol.Broadcast)
}

// Options configures a Registry.
type Options struct {
	Queue  *queue.Queue
	Schema *schema.Schema

	// Store is watched for external changes (the fallback convergence
	// channel). Optional; contexts without direct store access leave it nil.
	Store store.Store

	// DebounceWindow overrides DefaultDebounceWindow when positive.
	DebounceWindow time.Duration

	// Publisher receives a broadcast after every successful commit. Optional.
	Publisher Publisher

	// OnFlushResult observes the terminal state of every flush, nil on
	// success. Drives caller-visible "save failed" indicators. Optional.
	OnFlushResult func(error)

	Logger logging.Logger
}

type pendingChange struct {
	value    any
	editedAt time.Time
}

// Registry is the per-process settings manager. One instance per process,
// created explicitly and passed by reference; methods are safe for
// concurrent use.
type Registry struct {
	queue     *queue.Queue
	schema    *schema.Schema
	st        store.Store
	publisher Publisher
	onFlush   func(error)
	logger    logging.Logger
	window    time.Duration

	mu      sync.Mutex
	cache   map[string]store.Record
	pending map[string]pendingChange
	ready   bool

	debounce    *debouncer
	watchCancel func()
	watchDone   chan struct{}
}

// New creates an uninitialized Registry. Call Initialize before use and
// Dispose when done.
func New(opts Options) (*Registry, error) {
	if opts.Queue == nil {
		return nil, fmt.Errorf("registry requires an operation queue")
	}
	if opts.Schema == nil {
		return nil, fmt.Errorf("registry requires a schema")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	window := opts.DebounceWindow
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	r := &Registry{
		queue:     opts.Queue,
		schema:    opts.Schema,
		st:        opts.Store,
		publisher: opts.Publisher,
		onFlush:   opts.OnFlushResult,
		logger:    logger.With("component", "registry"),
		window:    window,
		cache:     make(map[string]store.Record),
		pending:   make(map[string]pendingChange),
	}
	r.debounce = newDebouncer(window, r.flushFromTimer)
	return r, nil
}

// Initialize loads stored values through the operation queue and merges them
// over schema defaults. A stored value wins when present and still valid;
// otherwise the default is used and the stored value is discarded with a
// logged warning. Also starts watching the store's change stream when a
// store was provided.
func (r *Registry) Initialize(ctx context.Context) error {
	ticket := r.queue.Enqueue(&queue.Operation{Kind: queue.KindGet})
	stored, err := ticket.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	r.mu.Lock()
	for _, key := range r.schema.Keys() {
		def, _ := r.schema.Get(key)
		record := def.Record
		if rec, ok := stored[key]; ok {
			value, verr := schema.Coerce(key, def.Record, rec.Value)
			if verr != nil {
				r.logger.Warn("discarding invalid stored value", "key", key, "error", verr)
			} else {
				record.Value = value
				record.Expiration = rec.Expiration
			}
		}
		r.cache[key] = record
	}
	for key := range stored {
		if !r.schema.Has(key) {
			r.logger.Debug("ignoring stored key absent from schema", "key", key)
		}
	}
	r.ready = true
	r.mu.Unlock()

	if r.st != nil {
		events, cancel, werr := r.st.Watch(context.Background())
		if werr != nil {
			return fmt.Errorf("failed to watch store: %w", werr)
		}
		r.watchCancel = cancel
		r.watchDone = make(chan struct{})
		go r.watchLoop(events)
	}
	r.logger.Info("registry initialized", "settings", r.schema.Len())
	return nil
}

// Dispose stops the debounce timer and the store watcher. Pending changes
// are not flushed; call FlushNow first when that matters.
func (r *Registry) Dispose() {
	r.debounce.Stop()
	if r.watchCancel != nil {
		r.watchCancel()
		<-r.watchDone
		r.watchCancel = nil
	}
}

// Get returns the current value for key. A pending, unflushed edit is
// returned in preference to the last committed value.
func (r *Registry) Get(key string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return nil, ErrNotReady
	}
	rec, ok := r.cache[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return rec.Value, nil
}

// GetMany returns the current values for the given keys.
func (r *Registry) GetMany(keys []string) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return nil, ErrNotReady
	}
	out := make(map[string]any, len(keys))
	for _, key := range keys {
		rec, ok := r.cache[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		out[key] = rec.Value
	}
	return out, nil
}

// GetAll returns every current value keyed by setting key.
func (r *Registry) GetAll() (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return nil, ErrNotReady
	}
	out := make(map[string]any, len(r.cache))
	for key, rec := range r.cache {
		out[key] = rec.Value
	}
	return out, nil
}

// Snapshot returns the full typed records, including pending edits.
func (r *Registry) Snapshot() (map[string]store.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return nil, ErrNotReady
	}
	return r.snapshotLocked(), nil
}

func (r *Registry) snapshotLocked() map[string]store.Record {
	out := make(map[string]store.Record, len(r.cache))
	for key, rec := range r.cache {
		out[key] = rec
	}
	return out
}

// Set validates and accepts a single edit. The in-memory view updates
// immediately; the write is committed by the next flush.
func (r *Registry) Set(key string, value any) error {
	return r.SetMany(map[string]any{key: value})
}

// SetMany validates and accepts a batch of edits atomically: if any value is
// invalid the whole batch is rejected and nothing mutates. Accepted edits
// overwrite earlier pending edits to the same keys (last write wins) and
// reset the debounce window.
func (r *Registry) SetMany(updates map[string]any) error {
	r.mu.Lock()
	if !r.ready {
		r.mu.Unlock()
		return ErrNotReady
	}

	coerced := make(map[string]any, len(updates))
	for key, value := range updates {
		def, ok := r.schema.Get(key)
		if !ok {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		v, err := schema.Coerce(key, def.Record, value)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		coerced[key] = v
	}
	if len(coerced) == 0 {
		r.mu.Unlock()
		return nil
	}

	now := time.Now()
	for key, value := range coerced {
		rec := r.cache[key]
		rec.Value = value
		r.cache[key] = rec
		r.pending[key] = pendingChange{value: value, editedAt: now}
	}
	r.mu.Unlock()

	r.debounce.Reset()
	return nil
}

// PendingCount returns the number of uncommitted changes.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// HasPending reports whether key has an uncommitted change.
func (r *Registry) HasPending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}

// FlushNow cancels the debounce timer and commits all pending changes as one
// batched operation. It returns once the batch reaches a terminal state.
// With no pending changes it issues zero store calls.
func (r *Registry) FlushNow(ctx context.Context) error {
	r.debounce.Cancel()
	return r.flush(ctx)
}

// flushFromTimer is the debounce firing path.
func (r *Registry) flushFromTimer() {
	if err := r.flush(context.Background()); err != nil {
		r.logger.Error("debounced flush failed", "error", err)
	}
}

// flush snapshots and commits the pending set. On terminal failure the
// affected changes are re-added to the pending map, unless a newer edit to
// the same key arrived while the batch was in flight.
func (r *Registry) flush(ctx context.Context) error {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		r.reportFlush(nil)
		return nil
	}
	batch := r.pending
	r.pending = make(map[string]pendingChange)
	records := make(map[string]store.Record, len(batch))
	for key, change := range batch {
		rec := r.cache[key]
		rec.Value = change.value
		records[key] = rec
	}
	r.mu.Unlock()

	ticket := r.queue.Enqueue(&queue.Operation{Kind: queue.KindSet, Records: records})
	_, err := ticket.Wait(ctx)
	if err == nil {
		changes := make(map[string]any, len(records))
		for key, rec := range records {
			changes[key] = rec.Value
		}
		r.publish(protocol.Broadcast{Type: protocol.MsgSettingsChanged, Changes: changes})
		r.logger.Debug("flush committed", "keys", len(records), "attempts", ticket.Attempts())
		r.reportFlush(nil)
		return nil
	}

	var partial *store.PartialError
	if errors.As(err, &partial) {
		// The committed half is durable; only rejected keys return to pending.
		committed := make(map[string]any, len(partial.Committed))
		for _, key := range partial.Committed {
			committed[key] = records[key].Value
		}
		if len(committed) > 0 {
			r.publish(protocol.Broadcast{Type: protocol.MsgSettingsChanged, Changes: committed})
		}
		r.requeue(batch, partial.Rejected)
	} else {
		r.requeue(batch, nil)
	}
	r.logger.Warn("flush failed, pending changes retained", "error", err)
	r.reportFlush(err)
	return err
}

// requeue restores failed changes into the pending map. rejected limits the
// restore to those keys when non-nil. A key edited again while the batch was
// in flight keeps its newer pending value.
func (r *Registry) requeue(batch map[string]pendingChange, rejected map[string]error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, change := range batch {
		if rejected != nil {
			if _, ok := rejected[key]; !ok {
				continue
			}
		}
		if _, ok := r.pending[key]; ok {
			continue
		}
		r.pending[key] = change
	}
}

func (r *Registry) reportFlush(err error) {
	if r.onFlush != nil {
		r.onFlush(err)
	}
}

func (r *Registry) publish(b protocol.Broadcast) {
	if r.publisher != nil {
		r.publisher.Publish(b)
	}
}
