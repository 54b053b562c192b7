// Package authority implements the single designated context that seeds
// defaults into the store, answers requests from contexts without store
// access, and relays committed changes to every live context.
package authority

import (
	"context"
	"fmt"

	"github.com/AstroMined/settings-extension-sub002/internal/logging"
	"github.com/AstroMined/settings-extension-sub002/internal/queue"
	"github.com/AstroMined/settings-extension-sub002/internal/schema"
)

// Seed writes the schema defaults through the operation queue when the store
// holds no settings. Runs before the authority answers any read.
func Seed(ctx context.Context, q *queue.Queue, sch *schema.Schema, logger logging.Logger) error {
	if logger == nil {
		logger = logging.Nop()
	}
	ticket := q.Enqueue(&queue.Operation{Kind: queue.KindGet})
	stored, err := ticket.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to inspect store for seeding: %w", err)
	}
	if len(stored) > 0 {
		logger.Debug("store already seeded", "keys", len(stored))
		return nil
	}
	setTicket := q.Enqueue(&queue.Operation{Kind: queue.KindSet, Records: sch.Defaults()})
	if _, err := setTicket.Wait(ctx); err != nil {
		return fmt.Errorf("failed to seed defaults: %w", err)
	}
	logger.Info("seeded schema defaults", "keys", sch.Len())
	return nil
}
