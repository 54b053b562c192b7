package queue

import (
	"context"
	"sync"

	"github.com/AstroMined/settings-extension-sub002/internal/store"
)

// Ticket is the promise for a submitted operation. It resolves exactly once,
// when the operation commits or is rejected.
type Ticket struct {
	done chan struct{}
	once sync.Once

	records  map[string]store.Record
	err      error
	attempts int
}

func newTicket() *Ticket {
	return &Ticket{done: make(chan struct{})}
}

func (t *Ticket) resolve(records map[string]store.Record, err error, attempts int) {
	t.once.Do(func() {
		t.records = records
		t.err = err
		t.attempts = attempts
		close(t.done)
	})
}

// Wait blocks until the operation reaches a terminal state or ctx is done.
// For get operations the returned map holds the fetched records.
func (t *Ticket) Wait(ctx context.Context) (map[string]store.Record, error) {
	select {
	case <-t.done:
		return t.records, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed when the operation is terminal.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Attempts returns how many executions the operation took. Valid after Done.
func (t *Ticket) Attempts() int {
	return t.attempts
}
