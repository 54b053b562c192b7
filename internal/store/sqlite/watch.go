package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AstroMined/settings-extension-sub002/internal/store"
)

// Watch polls the change log and coalesces new rows into events. A watcher
// starts at the current log head, so it only observes changes committed
// after the call.
func (s *SQLiteStore) Watch(ctx context.Context) (<-chan store.Event, func(), error) {
	if s.isClosed() {
		return nil, nil, store.ErrClosed
	}
	var head sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM change_log`).Scan(&head); err != nil {
		return nil, nil, fmt.Errorf("sqlite store: watch head: %w", err)
	}

	ch := make(chan store.Event, 16)
	watchCtx, cancel := context.WithCancel(ctx)
	s.watchWG.Add(1)
	go s.poll(watchCtx, ch, head.Int64)
	return ch, cancel, nil
}

func (s *SQLiteStore) poll(ctx context.Context, ch chan<- store.Event, lastSeq int64) {
	defer s.watchWG.Done()
	defer close(ch)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.isClosed() {
			return
		}
		ev, next, err := s.collect(ctx, lastSeq)
		if err != nil {
			// Transient read failures are retried on the next tick.
			continue
		}
		lastSeq = next
		if ev == nil {
			continue
		}
		select {
		case ch <- *ev:
		case <-ctx.Done():
			return
		}
	}
}

// collect reads log rows after lastSeq and coalesces them into one event.
// A clear row resets everything gathered before it, matching the order the
// store applied the operations.
func (s *SQLiteStore) collect(ctx context.Context, lastSeq int64) (*store.Event, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, op, key, record FROM change_log WHERE seq > ? ORDER BY seq`, lastSeq)
	if err != nil {
		return nil, lastSeq, err
	}
	defer rows.Close()

	ev := &store.Event{Changes: make(map[string]store.Record)}
	removed := make(map[string]struct{})
	seen := false
	for rows.Next() {
		var (
			seq    int64
			op     string
			key    sql.NullString
			record []byte
		)
		if err := rows.Scan(&seq, &op, &key, &record); err != nil {
			return nil, lastSeq, err
		}
		lastSeq = seq
		seen = true
		switch op {
		case "set":
			rec, err := decodeRecord(record)
			if err != nil {
				continue
			}
			delete(removed, key.String)
			ev.Changes[key.String] = rec
		case "remove":
			delete(ev.Changes, key.String)
			removed[key.String] = struct{}{}
		case "clear":
			ev.Changes = make(map[string]store.Record)
			removed = make(map[string]struct{})
			ev.Cleared = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, lastSeq, err
	}
	if !seen {
		return nil, lastSeq, nil
	}
	for key := range removed {
		ev.Removed = append(ev.Removed, key)
	}
	return ev, lastSeq, nil
}
