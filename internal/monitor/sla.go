package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/clinical-alerts/internal/events"
)

// SLAStore is the persistence surface the SLA tracker needs
type SLAStore interface {
	MarkSLABreached(ctx context.Context, now time.Time) ([]string, error)
}

// SLATracker marks alerts whose deadline has elapsed as breached. It is a
// pure status flip: no new alerts and no workflow entries, only an escalation
// signal for downstream consumers.
type SLATracker struct {
	logger    *zap.Logger
	store     SLAStore
	publisher events.Publisher
}

// NewSLATracker creates an SLA tracker
func NewSLATracker(logger *zap.Logger, store SLAStore, publisher events.Publisher) *SLATracker {
	return &SLATracker{
		logger:    logger.Named("sla-tracker"),
		store:     store,
		publisher: publisher,
	}
}

// Sweep flips sla_breached on every eligible alert and publishes one breach
// event per alert. The flip is monotonic.
func (t *SLATracker) Sweep(ctx context.Context, now time.Time) (int, error) {
	ids, err := t.store.MarkSLABreached(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to mark SLA breaches: %w", err)
	}

	for _, id := range ids {
		if err := t.publisher.Publish(ctx, events.EventSLABreached, id, nil); err != nil {
			t.logger.Error("Failed to publish SLA breach event",
				zap.String("alert_id", id),
				zap.Error(err))
		}
	}

	if len(ids) > 0 {
		t.logger.Info("SLA sweep complete", zap.Int("breached", len(ids)))
	}
	return len(ids), nil
}
