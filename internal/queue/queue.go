// Package queue serializes all store calls issued by one process. Exactly
// one operation is in flight at any time; later operations wait their turn
// in FIFO order, and a failed retryable operation re-enters at the front of
// the line once its backoff delay elapses.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/AstroMined/settings-extension-sub002/internal/logging"
	"github.com/AstroMined/settings-extension-sub002/internal/store"
)

// Kind identifies the store call an operation performs.
type Kind int

const (
	// KindGet reads records for a set of keys (all keys when empty).
	KindGet Kind = iota
	// KindSet writes a batch of records.
	KindSet
	// KindRemove deletes a set of keys.
	KindRemove
	// KindClear empties the store.
	KindClear
)

func (k Kind) String() string {
	switch k {
	case KindGet:
		return "get"
	case KindSet:
		return "set"
	case KindRemove:
		return "remove"
	case KindClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Operation is one unit of work submitted to the queue.
type Operation struct {
	Kind    Kind
	Records map[string]store.Record // set payload
	Keys    []string                // get/remove payload

	attempts   int
	swept      bool
	enqueuedAt time.Time
	ticket     *Ticket
}

// Config tunes the retry policy.
type Config struct {
	// MaxAttempts bounds total execution attempts per operation.
	MaxAttempts int
	// BaseDelay is the first retry delay; each further retry doubles it.
	BaseDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// ContextRetryDelay is the fixed delay before retrying after a
	// context-invalidated failure.
	ContextRetryDelay time.Duration
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		BaseDelay:         50 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		ContextRetryDelay: 25 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.ContextRetryDelay <= 0 {
		c.ContextRetryDelay = d.ContextRetryDelay
	}
	return c
}

// Queue is the per-process serialized writer. All store access of a process
// funnels through one Queue, which eliminates intra-process read/write races
// against the store.
type Queue struct {
	store  store.Store
	cfg    Config
	logger logging.Logger

	mu     sync.Mutex
	items  []*Operation
	closed bool
	wake   chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup

	timersMu sync.Mutex
	timers   map[*time.Timer]*Operation
}

// New creates a queue over the given store and starts its worker.
func New(st store.Store, cfg Config, logger logging.Logger) *Queue {
	if logger == nil {
		logger = logging.Nop()
	}
	q := &Queue{
		store:  st,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "queue"),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		timers: make(map[*time.Timer]*Operation),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Enqueue submits an operation and returns its ticket. The ticket resolves
// when the operation reaches a terminal state.
func (q *Queue) Enqueue(op *Operation) *Ticket {
	op.ticket = newTicket()
	op.enqueuedAt = time.Now()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		op.ticket.resolve(nil, store.ErrClosed, 0)
		return op.ticket
	}
	q.items = append(q.items, op)
	q.mu.Unlock()
	q.signal()
	return op.ticket
}

// Close stops the worker. Queued and backoff-pending operations reject with
// store.ErrClosed; an operation already handed to the store finishes first.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.stop)
	q.timersMu.Lock()
	for t, op := range q.timers {
		if t.Stop() {
			// Timer never fired; the operation is not coming back via
			// pushFront, so reject it here.
			op.ticket.resolve(nil, store.ErrClosed, op.attempts)
		}
		delete(q.timers, t)
	}
	q.timersMu.Unlock()
	q.wg.Wait()

	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.mu.Unlock()
	for _, op := range pending {
		op.ticket.resolve(nil, store.ErrClosed, op.attempts)
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) popFront() *Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	op := q.items[0]
	q.items = q.items[1:]
	return op
}

func (q *Queue) pushFront(op *Operation) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		op.ticket.resolve(nil, store.ErrClosed, op.attempts)
		return
	}
	q.items = append([]*Operation{op}, q.items...)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		op := q.popFront()
		if op == nil {
			select {
			case <-q.wake:
				continue
			case <-q.stop:
				return
			}
		}
		q.execute(op)

		select {
		case <-q.stop:
			return
		default:
		}
	}
}

// execute performs one attempt and routes the outcome: resolve, immediate
// quota retry after a sweep, or delayed re-insertion at the queue front.
func (q *Queue) execute(op *Operation) {
	op.attempts++
	records, err := q.dispatch(op)
	if err == nil {
		op.ticket.resolve(records, nil, op.attempts)
		return
	}

	class := store.Classify(err)
	log := q.logger.With("kind", op.Kind.String(), "attempt", op.attempts, "class", class.String())

	switch class {
	case store.ClassQuota:
		if !op.swept {
			op.swept = true
			removed, sweepErr := q.store.Sweep(context.Background(), time.Now())
			if sweepErr != nil {
				log.Warn("quota cleanup pass failed", "error", sweepErr)
			} else {
				log.Info("quota cleanup pass removed expired entries", "removed", len(removed))
			}
			// One immediate retry after the cleanup pass.
			q.execute(op)
			return
		}
		log.Error("operation rejected, quota still exceeded after cleanup", "error", err)
		op.ticket.resolve(nil, err, op.attempts)

	case store.ClassContextInvalid, store.ClassRetryable:
		if op.attempts >= q.cfg.MaxAttempts {
			log.Error("operation rejected, attempts exhausted", "error", err)
			op.ticket.resolve(nil, err, op.attempts)
			return
		}
		delay := q.retryDelay(class, op.attempts)
		log.Warn("operation failed, scheduling retry", "error", err, "delay", delay)
		q.scheduleRetry(op, delay)

	default:
		log.Error("operation rejected", "error", err)
		op.ticket.resolve(nil, err, op.attempts)
	}
}

func (q *Queue) dispatch(op *Operation) (map[string]store.Record, error) {
	ctx := context.Background()
	switch op.Kind {
	case KindGet:
		if len(op.Keys) == 0 {
			return q.store.GetAll(ctx)
		}
		return q.store.Get(ctx, op.Keys)
	case KindSet:
		return nil, q.store.Set(ctx, op.Records)
	case KindRemove:
		return nil, q.store.Remove(ctx, op.Keys)
	case KindClear:
		return nil, q.store.Clear(ctx)
	default:
		return nil, store.ErrClosed
	}
}

func (q *Queue) retryDelay(class store.Class, attempts int) time.Duration {
	if class == store.ClassContextInvalid {
		return q.cfg.ContextRetryDelay
	}
	delay := q.cfg.BaseDelay << (attempts - 1)
	if delay > q.cfg.MaxDelay || delay <= 0 {
		delay = q.cfg.MaxDelay
	}
	return delay
}

// scheduleRetry re-inserts op at the queue front once delay elapses. Other
// queued operations keep running during the backoff window.
func (q *Queue) scheduleRetry(op *Operation, delay time.Duration) {
	q.timersMu.Lock()
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.timersMu.Lock()
		delete(q.timers, timer)
		q.timersMu.Unlock()
		q.pushFront(op)
	})
	q.timers[timer] = op
	q.timersMu.Unlock()
}
