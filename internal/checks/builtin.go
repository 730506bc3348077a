package checks

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ledgerline/peregrine/internal/domain"
)

// HighValueCheck scores transactions at or above a fixed amount threshold.
// The threshold is currency-blind: amounts are compared without FX
// normalization, a known limitation of the upstream policy.
type HighValueCheck struct {
	config domain.ScoringConfig
}

func NewHighValueCheck(cfg domain.ScoringConfig) *HighValueCheck {
	return &HighValueCheck{config: cfg}
}

func (c *HighValueCheck) Name() string { return RuleHighValue }

func (c *HighValueCheck) Run(ctx context.Context, ec *domain.RiskEvaluationContext, aux *AuxData) (*domain.RiskFactor, error) {
	if c.config.HighValueThreshold <= 0 || ec.Amount < c.config.HighValueThreshold {
		return nil, nil
	}

	score := math.Floor(ec.Amount / c.config.HighValueThreshold * 10)
	if score > c.config.HighValueMaxScore {
		score = c.config.HighValueMaxScore
	}

	return &domain.RiskFactor{
		Rule:   RuleHighValue,
		Score:  score,
		Reason: fmt.Sprintf("amount %.2f %s is at or above the high-value threshold %.2f", ec.Amount, ec.Currency, c.config.HighValueThreshold),
		Metadata: map[string]any{
			"amount":    ec.Amount,
			"threshold": c.config.HighValueThreshold,
		},
	}, nil
}

// RapidTransfersCheck scores bursts of transactions in the trailing hourly
// window.
type RapidTransfersCheck struct {
	config domain.ScoringConfig
}

func NewRapidTransfersCheck(cfg domain.ScoringConfig) *RapidTransfersCheck {
	return &RapidTransfersCheck{config: cfg}
}

func (c *RapidTransfersCheck) Name() string { return RuleRapidTransfers }

func (c *RapidTransfersCheck) Run(ctx context.Context, ec *domain.RiskEvaluationContext, aux *AuxData) (*domain.RiskFactor, error) {
	if aux == nil || aux.Velocity == nil {
		return nil, nil
	}
	if c.config.RapidCountMin <= 0 || aux.Velocity.Count1h < c.config.RapidCountMin {
		return nil, nil
	}

	return &domain.RiskFactor{
		Rule:   RuleRapidTransfers,
		Score:  c.config.RapidScore,
		Reason: fmt.Sprintf("%d transactions in the last %d minutes (threshold %d)", aux.Velocity.Count1h, c.config.RapidWindowMinutes, c.config.RapidCountMin),
		Metadata: map[string]any{
			"count":     aux.Velocity.Count1h,
			"threshold": c.config.RapidCountMin,
		},
	}, nil
}

// VelocityAnomalyCheck has two sub-triggers, a spend spike against the 24h
// average and an absolute hourly count. At most one factor fires per call:
// when both sub-triggers match, the higher-scoring one wins, and the spend
// spike wins ties.
type VelocityAnomalyCheck struct {
	config domain.ScoringConfig
}

func NewVelocityAnomalyCheck(cfg domain.ScoringConfig) *VelocityAnomalyCheck {
	return &VelocityAnomalyCheck{config: cfg}
}

func (c *VelocityAnomalyCheck) Name() string { return RuleVelocityAnomaly }

func (c *VelocityAnomalyCheck) Run(ctx context.Context, ec *domain.RiskEvaluationContext, aux *AuxData) (*domain.RiskFactor, error) {
	if aux == nil || aux.Velocity == nil {
		return nil, nil
	}
	v := aux.Velocity

	var spike *domain.RiskFactor
	if v.AvgAmount24h > 0 && c.config.SpendSpikeMultiplier > 0 && ec.Amount > v.AvgAmount24h*c.config.SpendSpikeMultiplier {
		ratio := ec.Amount / v.AvgAmount24h
		spike = &domain.RiskFactor{
			Rule:   RuleVelocityAnomaly,
			Score:  c.config.SpendSpikeScore,
			Reason: fmt.Sprintf("amount %.2f is %.1fx the 24h average %.2f", ec.Amount, ratio, v.AvgAmount24h),
			Metadata: map[string]any{
				"ratio":        ratio,
				"avgAmount24h": v.AvgAmount24h,
			},
		}
	}

	var burst *domain.RiskFactor
	if c.config.HourlyCountMax > 0 && v.Count1h > c.config.HourlyCountMax {
		burst = &domain.RiskFactor{
			Rule:   RuleVelocityAnomaly,
			Score:  c.config.HourlyCountScore,
			Reason: fmt.Sprintf("%d transactions in the last hour exceeds the limit of %d", v.Count1h, c.config.HourlyCountMax),
			Metadata: map[string]any{
				"count1h": v.Count1h,
				"limit":   c.config.HourlyCountMax,
			},
		}
	}

	switch {
	case spike != nil && burst != nil:
		if burst.Score > spike.Score {
			return burst, nil
		}
		return spike, nil
	case spike != nil:
		return spike, nil
	case burst != nil:
		return burst, nil
	default:
		return nil, nil
	}
}

// DeviceCheck scores the trust state of the transaction's device. Exactly
// one of NEW_DEVICE, UNTRUSTED_DEVICE, RECENT_DEVICE, or nothing fires.
type DeviceCheck struct {
	config domain.ScoringConfig
}

func NewDeviceCheck(cfg domain.ScoringConfig) *DeviceCheck {
	return &DeviceCheck{config: cfg}
}

func (c *DeviceCheck) Name() string { return RuleNewDevice }

func (c *DeviceCheck) Run(ctx context.Context, ec *domain.RiskEvaluationContext, aux *AuxData) (*domain.RiskFactor, error) {
	if ec.DeviceKey == "" {
		return nil, nil
	}

	if aux == nil || aux.Device == nil {
		return &domain.RiskFactor{
			Rule:   RuleNewDevice,
			Score:  c.config.NewDeviceScore,
			Reason: "first transaction from this device",
			Metadata: map[string]any{
				"deviceKey": ec.DeviceKey,
			},
		}, nil
	}

	dev := aux.Device
	if dev.TrustLevel == domain.TrustRisky {
		return &domain.RiskFactor{
			Rule:   RuleUntrustedDevice,
			Score:  c.config.UntrustedDeviceScore,
			Reason: fmt.Sprintf("device trust score %d is in the risky band", dev.TrustScore),
			Metadata: map[string]any{
				"deviceKey":  ec.DeviceKey,
				"trustScore": dev.TrustScore,
			},
		}, nil
	}

	if c.config.RecentDeviceAgeHours > 0 {
		age := ec.EffectiveAsOf().Sub(dev.CreatedAt)
		if age >= 0 && age < time.Duration(c.config.RecentDeviceAgeHours)*time.Hour {
			return &domain.RiskFactor{
				Rule:   RuleRecentDevice,
				Score:  c.config.RecentDeviceScore,
				Reason: fmt.Sprintf("device first seen %.1f hours ago", age.Hours()),
				Metadata: map[string]any{
					"deviceKey": ec.DeviceKey,
					"ageHours":  age.Hours(),
				},
			}, nil
		}
	}

	return nil, nil
}

// DefaultChecks returns the built-in check set in its canonical order.
// Factor order in risk records follows this insertion order.
func DefaultChecks(cfg domain.ScoringConfig) []Check {
	return []Check{
		NewHighValueCheck(cfg),
		NewRapidTransfersCheck(cfg),
		NewVelocityAnomalyCheck(cfg),
		NewDeviceCheck(cfg),
	}
}
