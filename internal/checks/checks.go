// Package checks contains the pluggable risk check set.
package checks

import (
	"context"

	"github.com/ledgerline/peregrine/internal/domain"
)

// Rule names emitted by the built-in checks.
const (
	RuleHighValue       = "HIGH_VALUE_TRANSACTION"
	RuleRapidTransfers  = "RAPID_TRANSFERS"
	RuleVelocityAnomaly = "VELOCITY_ANOMALY"
	RuleNewDevice       = "NEW_DEVICE"
	RuleUntrustedDevice = "UNTRUSTED_DEVICE"
	RuleRecentDevice    = "RECENT_DEVICE"
)

// AuxData carries the read-only auxiliary inputs shared by every check in
// one evaluation. Both fields are fetched before any check runs.
type AuxData struct {
	Velocity *domain.VelocityData

	// Device is nil when the context has no device key or the pair has
	// never been seen. Checks use the nil to detect a new device.
	Device *domain.DeviceTrustRecord
}

// Check is a single risk heuristic. Run returns nil when the check does
// not trigger. Checks are pure with respect to their inputs and may run
// concurrently.
type Check interface {
	Name() string
	Run(ctx context.Context, ec *domain.RiskEvaluationContext, aux *AuxData) (*domain.RiskFactor, error)
}
