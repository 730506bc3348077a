package checks

import (
	"context"
	"testing"
	"time"

	"github.com/ledgerline/peregrine/internal/domain"
)

func scoringDefaults() domain.ScoringConfig {
	return domain.DefaultConfig().Scoring
}

func TestHighValueCheck(t *testing.T) {
	check := NewHighValueCheck(scoringDefaults())
	ctx := context.Background()

	t.Run("BelowThreshold", func(t *testing.T) {
		factor, err := check.Run(ctx, &domain.RiskEvaluationContext{Amount: 9999.99, Currency: "USD"}, &AuxData{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if factor != nil {
			t.Errorf("expected no factor below threshold, got %+v", factor)
		}
	})

	t.Run("AtThreshold", func(t *testing.T) {
		factor, err := check.Run(ctx, &domain.RiskEvaluationContext{Amount: 10000, Currency: "USD"}, &AuxData{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if factor == nil {
			t.Fatal("expected a factor at threshold")
		}
		if factor.Score != 10 {
			t.Errorf("score = %.0f, want 10", factor.Score)
		}
	})

	t.Run("ScalesAndCaps", func(t *testing.T) {
		factor, err := check.Run(ctx, &domain.RiskEvaluationContext{Amount: 50000, Currency: "USD"}, &AuxData{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if factor == nil {
			t.Fatal("expected a factor")
		}
		// min(30, floor(5 * 10)) = 30
		if factor.Score != 30 {
			t.Errorf("score = %.0f, want capped at 30", factor.Score)
		}
		if factor.Rule != RuleHighValue {
			t.Errorf("rule = %s, want %s", factor.Rule, RuleHighValue)
		}
	})

	t.Run("MidScale", func(t *testing.T) {
		factor, err := check.Run(ctx, &domain.RiskEvaluationContext{Amount: 15000, Currency: "USD"}, &AuxData{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if factor == nil || factor.Score != 15 {
			t.Errorf("expected score 15 for 1.5x threshold, got %+v", factor)
		}
	})
}

func TestRapidTransfersCheck(t *testing.T) {
	check := NewRapidTransfersCheck(scoringDefaults())
	ctx := context.Background()
	ec := &domain.RiskEvaluationContext{Amount: 100, Currency: "USD"}

	t.Run("BelowCount", func(t *testing.T) {
		factor, _ := check.Run(ctx, ec, &AuxData{Velocity: &domain.VelocityData{Count1h: 4}})
		if factor != nil {
			t.Errorf("expected no factor at 4 transactions, got %+v", factor)
		}
	})

	t.Run("AtCount", func(t *testing.T) {
		factor, err := check.Run(ctx, ec, &AuxData{Velocity: &domain.VelocityData{Count1h: 5}})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if factor == nil || factor.Score != 25 {
			t.Errorf("expected score 25 at threshold count, got %+v", factor)
		}
	})

	t.Run("NoVelocityData", func(t *testing.T) {
		factor, _ := check.Run(ctx, ec, &AuxData{})
		if factor != nil {
			t.Errorf("expected no factor without velocity data, got %+v", factor)
		}
	})
}

func TestVelocityAnomalyCheck(t *testing.T) {
	check := NewVelocityAnomalyCheck(scoringDefaults())
	ctx := context.Background()

	t.Run("SpendSpike", func(t *testing.T) {
		ec := &domain.RiskEvaluationContext{Amount: 1000, Currency: "USD"}
		factor, err := check.Run(ctx, ec, &AuxData{Velocity: &domain.VelocityData{AvgAmount24h: 100}})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if factor == nil || factor.Score != 35 {
			t.Fatalf("expected spend spike score 35, got %+v", factor)
		}
		if factor.Rule != RuleVelocityAnomaly {
			t.Errorf("rule = %s, want %s", factor.Rule, RuleVelocityAnomaly)
		}
	})

	t.Run("HourlyBurst", func(t *testing.T) {
		ec := &domain.RiskEvaluationContext{Amount: 50, Currency: "USD"}
		factor, err := check.Run(ctx, ec, &AuxData{Velocity: &domain.VelocityData{Count1h: 11, AvgAmount24h: 100}})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if factor == nil || factor.Score != 20 {
			t.Errorf("expected hourly burst score 20, got %+v", factor)
		}
	})

	t.Run("BothTriggerSingleFactorHighestWins", func(t *testing.T) {
		// 12 tx in the last hour and amount 10x the daily average. One
		// factor only; the spend spike's 35 beats the burst's 20.
		ec := &domain.RiskEvaluationContext{Amount: 1000, Currency: "USD"}
		factor, err := check.Run(ctx, ec, &AuxData{Velocity: &domain.VelocityData{Count1h: 12, AvgAmount24h: 100}})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if factor == nil {
			t.Fatal("expected a factor")
		}
		if factor.Score != 35 {
			t.Errorf("score = %.0f, want the higher sub-trigger 35", factor.Score)
		}
	})

	t.Run("NoAverageNoSpike", func(t *testing.T) {
		ec := &domain.RiskEvaluationContext{Amount: 1000000, Currency: "USD"}
		factor, _ := check.Run(ctx, ec, &AuxData{Velocity: &domain.VelocityData{AvgAmount24h: 0}})
		if factor != nil {
			t.Errorf("spend spike must not fire with a zero average, got %+v", factor)
		}
	})
}

func TestDeviceCheck(t *testing.T) {
	check := NewDeviceCheck(scoringDefaults())
	ctx := context.Background()
	asOf := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ec := &domain.RiskEvaluationContext{Amount: 100, Currency: "USD", DeviceKey: "device-a", AsOf: asOf}

	t.Run("NewDevice", func(t *testing.T) {
		factor, err := check.Run(ctx, ec, &AuxData{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if factor == nil || factor.Rule != RuleNewDevice || factor.Score != 25 {
			t.Errorf("expected NEW_DEVICE score 25, got %+v", factor)
		}
	})

	t.Run("UntrustedDevice", func(t *testing.T) {
		dev := &domain.DeviceTrustRecord{
			TrustScore: 20,
			TrustLevel: domain.TrustRisky,
			CreatedAt:  asOf.Add(-100 * time.Hour),
		}
		factor, err := check.Run(ctx, ec, &AuxData{Device: dev})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if factor == nil || factor.Rule != RuleUntrustedDevice || factor.Score != 40 {
			t.Errorf("expected UNTRUSTED_DEVICE score 40, got %+v", factor)
		}
	})

	t.Run("RiskyAndRecentFiresUntrustedOnly", func(t *testing.T) {
		dev := &domain.DeviceTrustRecord{
			TrustScore: 20,
			TrustLevel: domain.TrustRisky,
			CreatedAt:  asOf.Add(-time.Hour),
		}
		factor, _ := check.Run(ctx, ec, &AuxData{Device: dev})
		if factor == nil || factor.Rule != RuleUntrustedDevice {
			t.Errorf("risky wins over recent, got %+v", factor)
		}
	})

	t.Run("RecentDevice", func(t *testing.T) {
		dev := &domain.DeviceTrustRecord{
			TrustScore: 50,
			TrustLevel: domain.TrustNeutral,
			CreatedAt:  asOf.Add(-2 * time.Hour),
		}
		factor, err := check.Run(ctx, ec, &AuxData{Device: dev})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if factor == nil || factor.Rule != RuleRecentDevice || factor.Score != 15 {
			t.Errorf("expected RECENT_DEVICE score 15, got %+v", factor)
		}
	})

	t.Run("EstablishedNeutralDevice", func(t *testing.T) {
		dev := &domain.DeviceTrustRecord{
			TrustScore: 55,
			TrustLevel: domain.TrustNeutral,
			CreatedAt:  asOf.Add(-72 * time.Hour),
		}
		factor, _ := check.Run(ctx, ec, &AuxData{Device: dev})
		if factor != nil {
			t.Errorf("established neutral device should not trigger, got %+v", factor)
		}
	})

	t.Run("NoDeviceKey", func(t *testing.T) {
		factor, _ := check.Run(ctx, &domain.RiskEvaluationContext{Amount: 100, Currency: "USD"}, &AuxData{})
		if factor != nil {
			t.Errorf("no device key means no device factor, got %+v", factor)
		}
	})
}
