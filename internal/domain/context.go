package domain

import (
	"fmt"
	"time"
)

// RiskEvaluationContext carries everything a single evaluation needs.
// Construct once per call and treat as immutable.
type RiskEvaluationContext struct {
	TransactionID string         `json:"transactionId"`
	UserID        string         `json:"userId,omitempty"`
	Amount        float64        `json:"amount"`
	Currency      string         `json:"currency"`
	DeviceKey     string         `json:"deviceKey,omitempty"`
	IPAddress     string         `json:"ipAddress,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`

	// AsOf anchors the velocity windows. Zero means time.Now().
	AsOf time.Time `json:"asOf,omitempty"`

	// EvaluatedBy is set on manual admin re-runs and recorded in the
	// evaluation history.
	EvaluatedBy string `json:"evaluatedBy,omitempty"`
}

// Validate checks the context before evaluation.
func (ec *RiskEvaluationContext) Validate() error {
	if ec.TransactionID == "" {
		return fmt.Errorf("%w: transactionId is required", ErrInvalidInput)
	}
	if ec.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	}
	if len(ec.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter ISO code", ErrInvalidInput)
	}
	return nil
}

// EffectiveAsOf returns the evaluation anchor time.
func (ec *RiskEvaluationContext) EffectiveAsOf() time.Time {
	if ec.AsOf.IsZero() {
		return time.Now().UTC()
	}
	return ec.AsOf
}
