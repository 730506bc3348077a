package domain

import (
	"context"
	"time"
)

// AuditEventType identifies the lifecycle moment an audit event records.
type AuditEventType string

const (
	AuditEvaluationStarted   AuditEventType = "EVALUATION_STARTED"
	AuditEvaluationCompleted AuditEventType = "EVALUATION_COMPLETED"
	AuditEvaluationFlagged   AuditEventType = "EVALUATION_FLAGGED"
	AuditReviewed            AuditEventType = "REVIEWED"
	AuditOverridden          AuditEventType = "OVERRIDDEN"
)

// AuditEvent is one structured event emitted per evaluation or review
// action for external audit persistence.
type AuditEvent struct {
	ID            string         `json:"id"`
	Type          AuditEventType `json:"type"`
	TransactionID string         `json:"transactionId"`
	UserID        string         `json:"userId,omitempty"`
	RiskScore     float64        `json:"riskScore,omitempty"`
	RiskLevel     RiskLevel      `json:"riskLevel,omitempty"`
	Actor         string         `json:"actor,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
	Details       map[string]any `json:"details,omitempty"`
}

// AuditSink receives audit events. Implementations must not block
// evaluation correctness: emit failures are logged by the caller and
// swallowed, never propagated.
type AuditSink interface {
	Emit(ctx context.Context, event *AuditEvent) error
}
