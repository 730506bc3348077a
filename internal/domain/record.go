// Package domain defines the core types and interfaces for Peregrine.
package domain

import (
	"time"
)

// RiskLevel is the coarse bucket derived from the numeric risk score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// ReviewStatus is the admin workflow state of a risk record.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "PENDING_REVIEW"
	ReviewApproved  ReviewStatus = "APPROVED"
	ReviewRejected  ReviewStatus = "REJECTED"
	ReviewEscalated ReviewStatus = "ESCALATED"
)

// RuleAdminReview tags the audit log entry appended by a review decision.
// It is not a scoring rule; previousScore always equals newScore.
const RuleAdminReview = "ADMIN_REVIEW"

// RiskFactor is a single triggered rule's score and explanation.
// Produced by exactly one check invocation and never mutated afterwards.
type RiskFactor struct {
	Rule     string         `json:"rule"`
	Score    float64        `json:"score"`
	Reason   string         `json:"reason"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EvaluationLogEntry is one row of a record's append-only evaluation history.
type EvaluationLogEntry struct {
	EvaluatedAt    time.Time    `json:"evaluatedAt"`
	PreviousScore  float64      `json:"previousScore"`
	NewScore       float64      `json:"newScore"`
	Factors        []RiskFactor `json:"factors,omitempty"`
	TriggeredRules []string     `json:"triggeredRules,omitempty"`
	// EvaluatedBy holds the admin ID on manual re-runs and review entries.
	EvaluatedBy string `json:"evaluatedBy,omitempty"`
}

// VelocityData is a windowed count/volume snapshot for a user, computed
// relative to AsOf.
type VelocityData struct {
	Count1h      int64     `json:"count1h"`
	Amount1h     float64   `json:"amount1h"`
	Count24h     int64     `json:"count24h"`
	Amount24h    float64   `json:"amount24h"`
	AvgAmount24h float64   `json:"avgAmount24h"`
	AsOf         time.Time `json:"asOf"`
}

// DeviceSnapshot is the point-in-time device trust state captured during an
// evaluation, kept on the record for audit and explainability.
type DeviceSnapshot struct {
	DeviceKey  string     `json:"deviceKey"`
	TrustScore int        `json:"trustScore"`
	TrustLevel TrustLevel `json:"trustLevel"`
	// Known is false when no trust record existed at evaluation time.
	Known     bool      `json:"known"`
	FirstSeen time.Time `json:"firstSeen,omitempty"`
}

// RiskRecord is the durable risk verdict for a transaction. Exactly one
// exists per transaction ID; re-evaluations update it in place and append
// to EvaluationLog.
type RiskRecord struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`
	UserID        string `json:"userId,omitempty"`

	// Latest evaluation outcome. RiskScore is the sum of the triggered
	// factor scores from the most recent evaluation, not a running total.
	RiskScore   float64      `json:"riskScore"`
	RiskLevel   RiskLevel    `json:"riskLevel"`
	IsFlagged   bool         `json:"isFlagged"`
	FlaggedAt   *time.Time   `json:"flaggedAt,omitempty"`
	FlagReason  string       `json:"flagReason,omitempty"`
	RiskFactors []RiskFactor `json:"riskFactors,omitempty"`

	EvaluationLog []EvaluationLogEntry `json:"evaluationLog,omitempty"`

	// Review workflow state. Never touched by Evaluate.
	ReviewStatus ReviewStatus `json:"reviewStatus"`
	ReviewedBy   string       `json:"reviewedBy,omitempty"`
	ReviewedAt   *time.Time   `json:"reviewedAt,omitempty"`
	AdminNotes   string       `json:"adminNotes,omitempty"`

	// Admin override state, independent of the review status.
	Overridden     bool      `json:"overridden"`
	OverriddenBy   string    `json:"overriddenBy,omitempty"`
	OverrideReason string    `json:"overrideReason,omitempty"`
	OverrideLevel  RiskLevel `json:"overrideLevel,omitempty"`

	// Auxiliary snapshots captured during the latest evaluation.
	Velocity *VelocityData   `json:"velocity,omitempty"`
	Device   *DeviceSnapshot `json:"device,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TriggeredRules returns the rule names of the current factors, in
// evaluation order.
func (r *RiskRecord) TriggeredRules() []string {
	if len(r.RiskFactors) == 0 {
		return nil
	}
	names := make([]string, len(r.RiskFactors))
	for i, f := range r.RiskFactors {
		names[i] = f.Rule
	}
	return names
}

// RiskEvaluationResult is the verdict returned to callers of Evaluate.
type RiskEvaluationResult struct {
	RecordID      string `json:"recordId"`
	TransactionID string `json:"transactionId"`
	UserID        string `json:"userId,omitempty"`

	RiskScore float64      `json:"riskScore"`
	RiskLevel RiskLevel    `json:"riskLevel"`
	IsFlagged bool         `json:"isFlagged"`
	Factors   []RiskFactor `json:"factors,omitempty"`

	// RequiresManualReview mirrors IsFlagged: a flagged transaction must
	// pass human review before auto-processing.
	RequiresManualReview bool `json:"requiresManualReview"`

	Velocity    *VelocityData   `json:"velocity,omitempty"`
	Device      *DeviceSnapshot `json:"device,omitempty"`
	EvaluatedAt time.Time       `json:"evaluatedAt"`
}

// RiskRecordFilter narrows risk record queries. Zero values mean "no
// constraint" except ExcludeOverridden, which callers set explicitly.
type RiskRecordFilter struct {
	RiskLevel         RiskLevel
	ReviewStatus      ReviewStatus
	FlaggedOnly       bool
	ExcludeOverridden bool
	MinScore          *float64
	MaxScore          *float64
	From              *time.Time
	To                *time.Time
}
