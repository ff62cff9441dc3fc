package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ArchiveLogHandler writes one structured log entry per archived aggregate.
func ArchiveLogHandler(logger *zap.Logger) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Typed(func(_ context.Context, ev Event, p AggregateArchivedPayload) error {
		logger.Info("aggregate archived",
			zap.String("event_id", ev.ID),
			zap.String("aggregate_type", ev.AggregateType),
			zap.String("aggregate_id", ev.AggregateID),
			zap.String("placeholder_id", p.PlaceholderID),
			zap.String("actor_id", p.ActorID),
			zap.Int64("tasks", p.Cascade.Tasks),
			zap.Int64("user_links", p.Cascade.UserLinks),
			zap.Int64("phase_links", p.Cascade.PhaseLinks),
			zap.Int64("log_assignments", p.Cascade.LogAssignments))
		return nil
	})
}

// RegisterBuiltins installs the default handler for every known event type:
// the archive log sink where it applies, followed by webhook delivery when
// webhooks is not nil.
func RegisterBuiltins(reg *Registry, logger *zap.Logger, webhooks *WebhookHandler) error {
	for _, t := range KnownEventTypes() {
		var chain []Handler
		if t == EventAggregateArchived {
			chain = append(chain, ArchiveLogHandler(logger))
		}
		if webhooks != nil {
			chain = append(chain, webhooks)
		}
		if len(chain) == 0 {
			continue
		}
		if err := reg.Register(t, Chain(chain...)); err != nil {
			return fmt.Errorf("register %s handler: %w", t, err)
		}
	}
	return nil
}
