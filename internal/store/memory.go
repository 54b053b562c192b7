package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and by contexts that do
// not need durability. Failures can be injected to exercise the queue's
// retry paths.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	closed  bool

	quotaBytes    int
	maxValueBytes int

	watchers map[int]chan Event
	nextID   int

	// failure injection
	failNext  []error
	rejectKey map[string]error

	setCalls    int
	getCalls    int
	removeCalls int
	clearCalls  int
	inFlight    int
	maxInFlight int
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithQuota bounds the total encoded size of all records.
func WithQuota(bytes int) MemoryOption {
	return func(s *MemoryStore) { s.quotaBytes = bytes }
}

// WithMaxValueBytes bounds the encoded size of a single record. Oversized
// records are rejected per-key while the rest of the batch commits.
func WithMaxValueBytes(bytes int) MemoryOption {
	return func(s *MemoryStore) { s.maxValueBytes = bytes }
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		records:   make(map[string]Record),
		watchers:  make(map[int]chan Event),
		rejectKey: make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNext queues errs to be returned, one per subsequent write call, before
// normal behavior resumes.
func (s *MemoryStore) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, errs...)
}

// RejectKey makes every Set reject the given key with err while committing
// the rest of the batch. Pass a nil err to clear.
func (s *MemoryStore) RejectKey(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.rejectKey, key)
		return
	}
	s.rejectKey[key] = err
}

// SetCalls returns how many Set calls reached the store.
func (s *MemoryStore) SetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCalls
}

// WriteCalls returns how many write calls (set, remove, clear) reached the store.
func (s *MemoryStore) WriteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCalls + s.removeCalls + s.clearCalls
}

// MaxInFlight returns the highest number of store calls observed at once.
// The operation queue keeps this at 1.
func (s *MemoryStore) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

func (s *MemoryStore) enter() {
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
}

func (s *MemoryStore) leave() {
	s.inFlight--
}

func (s *MemoryStore) popFailure() error {
	if len(s.failNext) == 0 {
		return nil
	}
	err := s.failNext[0]
	s.failNext = s.failNext[1:]
	return err
}

func recordSize(key string, r Record) int {
	data, err := json.Marshal(r)
	if err != nil {
		return len(key)
	}
	return len(key) + len(data)
}

func (s *MemoryStore) usedBytes() int {
	total := 0
	for k, r := range s.records {
		total += recordSize(k, r)
	}
	return total
}

func (s *MemoryStore) Get(ctx context.Context, keys []string) (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.enter()
	defer s.leave()
	s.getCalls++
	out := make(map[string]Record, len(keys))
	for _, k := range keys {
		if r, ok := s.records[k]; ok {
			out[k] = r
		}
	}
	return out, nil
}

func (s *MemoryStore) GetAll(ctx context.Context) (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.enter()
	defer s.leave()
	s.getCalls++
	out := make(map[string]Record, len(s.records))
	for k, r := range s.records {
		out[k] = r
	}
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, records map[string]Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.enter()
	defer s.leave()
	s.setCalls++
	if err := s.popFailure(); err != nil {
		return err
	}

	committed := make(map[string]Record, len(records))
	rejected := make(map[string]error)
	added := 0
	for k, r := range records {
		if err, ok := s.rejectKey[k]; ok {
			rejected[k] = err
			continue
		}
		size := recordSize(k, r)
		if s.maxValueBytes > 0 && size > s.maxValueBytes {
			rejected[k] = ErrQuotaExceeded
			continue
		}
		added += size
		if prev, ok := s.records[k]; ok {
			added -= recordSize(k, prev)
		}
		committed[k] = r
	}
	if s.quotaBytes > 0 && s.usedBytes()+added > s.quotaBytes {
		return ErrQuotaExceeded
	}

	for k, r := range committed {
		s.records[k] = r
	}
	if len(committed) > 0 {
		s.notify(Event{Changes: committed})
	}
	if len(rejected) > 0 {
		keys := make([]string, 0, len(committed))
		for k := range committed {
			keys = append(keys, k)
		}
		return &PartialError{Committed: keys, Rejected: rejected}
	}
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.enter()
	defer s.leave()
	s.removeCalls++
	if err := s.popFailure(); err != nil {
		return err
	}
	var removed []string
	for _, k := range keys {
		if _, ok := s.records[k]; ok {
			delete(s.records, k)
			removed = append(removed, k)
		}
	}
	if len(removed) > 0 {
		s.notify(Event{Removed: removed})
	}
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.enter()
	defer s.leave()
	s.clearCalls++
	if err := s.popFailure(); err != nil {
		return err
	}
	s.records = make(map[string]Record)
	s.notify(Event{Cleared: true})
	return nil
}

func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var removed []string
	for k, r := range s.records {
		if r.Expired(now) {
			delete(s.records, k)
			removed = append(removed, k)
		}
	}
	if len(removed) > 0 {
		s.notify(Event{Removed: removed})
	}
	return removed, nil
}

func (s *MemoryStore) Watch(ctx context.Context) (<-chan Event, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrClosed
	}
	id := s.nextID
	s.nextID++
	ch := make(chan Event, 16)
	s.watchers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.watchers[id]; ok {
				delete(s.watchers, id)
				close(c)
			}
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return ch, func() { stop(); cancel() }, nil
}

// notify fans an event out to all watchers. Called with s.mu held; a watcher
// with a full buffer is skipped rather than blocking the writer.
func (s *MemoryStore) notify(ev Event) {
	for _, ch := range s.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
	return nil
}
