package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ledgerline/peregrine/internal/domain"
)

// BusSink publishes audit events to the event bus for out-of-process
// consumers. Delivery is best-effort; callers log and swallow failures.
type BusSink struct {
	bus domain.EventBus
}

// NewBusSink creates an event bus backed audit sink.
func NewBusSink(bus domain.EventBus) *BusSink {
	return &BusSink{bus: bus}
}

// Emit publishes one audit event to the audit topic.
func (s *BusSink) Emit(ctx context.Context, event *domain.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	return s.bus.Publish(ctx, domain.TopicAudit, payload)
}
