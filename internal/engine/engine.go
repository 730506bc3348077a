// Package engine orchestrates the risk check set into a persisted verdict.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ledgerline/peregrine/internal/checks"
	"github.com/ledgerline/peregrine/internal/devicetrust"
	"github.com/ledgerline/peregrine/internal/domain"
	"github.com/ledgerline/peregrine/internal/velocity"
)

// Engine evaluates transactions against the registered check set and
// persists one RiskRecord per transaction. Concurrent calls for different
// transactions are independent; duplicate calls for the same transaction
// resolve through the unique constraint on transaction ID plus a
// re-fetch-and-update retry.
type Engine struct {
	repo     domain.Repository
	velocity *velocity.Aggregator
	devices  *devicetrust.Store
	scoring  domain.ScoringConfig
	runtime  domain.EngineConfig
	audit    domain.AuditSink
	logger   *slog.Logger
	tracer   trace.Tracer

	mu     sync.RWMutex
	checks []checks.Check
}

// New creates a scoring engine with the given check set. audit may be nil.
func New(
	repo domain.Repository,
	vel *velocity.Aggregator,
	devices *devicetrust.Store,
	checkSet []checks.Check,
	scoring domain.ScoringConfig,
	runtime domain.EngineConfig,
	audit domain.AuditSink,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:     repo,
		velocity: vel,
		devices:  devices,
		scoring:  scoring,
		runtime:  runtime,
		audit:    audit,
		logger:   logger,
		tracer:   otel.Tracer("peregrine/engine"),
		checks:   checkSet,
	}
}

// RegisterCheck appends a check to the set. Factor order in records
// follows registration order.
func (e *Engine) RegisterCheck(c checks.Check) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checks = append(e.checks, c)
}

// Evaluate scores one transaction and upserts its risk record. The whole
// call, auxiliary fetches included, is bounded by the configured timeout
// and fails closed rather than scoring with partial data.
func (e *Engine) Evaluate(ctx context.Context, ec *domain.RiskEvaluationContext) (*domain.RiskEvaluationResult, error) {
	if ec == nil {
		return nil, fmt.Errorf("%w: evaluation context is required", domain.ErrInvalidInput)
	}
	if err := ec.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.runtime.EvaluateTimeout())
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "engine.Evaluate",
		trace.WithAttributes(
			attribute.String("transaction.id", ec.TransactionID),
			attribute.String("user.id", ec.UserID),
		),
	)
	defer span.End()

	e.emit(ctx, &domain.AuditEvent{
		Type:          domain.AuditEvaluationStarted,
		TransactionID: ec.TransactionID,
		UserID:        ec.UserID,
		Actor:         ec.EvaluatedBy,
	})

	aux, err := e.fetchAux(ctx, ec)
	if err != nil {
		return nil, err
	}

	factors, err := e.runChecks(ctx, ec, aux)
	if err != nil {
		return nil, err
	}

	var score float64
	for _, f := range factors {
		score += f.Score
	}
	level := e.scoring.LevelFor(score)
	flagged := score >= e.scoring.AutoFlagThreshold

	span.SetAttributes(
		attribute.Float64("risk.score", score),
		attribute.String("risk.level", string(level)),
		attribute.Bool("risk.flagged", flagged),
	)

	now := time.Now().UTC()
	rec, err := e.persist(ctx, ec, aux, factors, score, level, flagged, now)
	if err != nil {
		return nil, err
	}

	e.emit(ctx, &domain.AuditEvent{
		Type:          domain.AuditEvaluationCompleted,
		TransactionID: ec.TransactionID,
		UserID:        ec.UserID,
		RiskScore:     score,
		RiskLevel:     level,
		Actor:         ec.EvaluatedBy,
		Details:       map[string]any{"triggeredRules": rec.TriggeredRules()},
	})
	if flagged {
		e.emit(ctx, &domain.AuditEvent{
			Type:          domain.AuditEvaluationFlagged,
			TransactionID: ec.TransactionID,
			UserID:        ec.UserID,
			RiskScore:     score,
			RiskLevel:     level,
			Details:       map[string]any{"flagReason": rec.FlagReason},
		})
	}

	e.logger.Info("transaction evaluated",
		"transaction_id", ec.TransactionID,
		"user_id", ec.UserID,
		"risk_score", score,
		"risk_level", level,
		"flagged", flagged,
		"factors", len(factors),
	)

	return &domain.RiskEvaluationResult{
		RecordID:             rec.ID,
		TransactionID:        rec.TransactionID,
		UserID:               rec.UserID,
		RiskScore:            rec.RiskScore,
		RiskLevel:            rec.RiskLevel,
		IsFlagged:            rec.IsFlagged,
		Factors:              rec.RiskFactors,
		RequiresManualReview: rec.IsFlagged,
		Velocity:             rec.Velocity,
		Device:               rec.Device,
		EvaluatedAt:          now,
	}, nil
}

// GetByTransaction returns the current risk record for a transaction.
func (e *Engine) GetByTransaction(ctx context.Context, txID string) (*domain.RiskRecord, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: transactionId is required", domain.ErrInvalidInput)
	}
	return e.repo.GetRiskRecordByTransaction(ctx, txID)
}

// fetchAux loads the velocity and device trust inputs concurrently. Both
// must complete before any check runs; a failure or deadline on either
// fails the evaluation closed.
func (e *Engine) fetchAux(ctx context.Context, ec *domain.RiskEvaluationContext) (*checks.AuxData, error) {
	aux := &checks.AuxData{}
	var velErr, devErr error
	var wg sync.WaitGroup

	if ec.UserID != "" && e.velocity != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			aux.Velocity, velErr = e.velocity.Compute(ctx, ec.UserID, ec.EffectiveAsOf())
		}()
	}
	if ec.UserID != "" && ec.DeviceKey != "" && e.devices != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			aux.Device, devErr = e.devices.Get(ctx, ec.UserID, ec.DeviceKey)
		}()
	}
	wg.Wait()

	for _, err := range []error{velErr, devErr} {
		if err == nil {
			continue
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: auxiliary data fetch: %v", domain.ErrTimeout, err)
		}
		return nil, fmt.Errorf("auxiliary data fetch failed: %w", err)
	}
	return aux, nil
}

// runChecks executes the registered checks in parallel, bounded by the
// configured concurrency, and returns the triggered factors in
// registration order.
func (e *Engine) runChecks(ctx context.Context, ec *domain.RiskEvaluationContext, aux *checks.AuxData) ([]domain.RiskFactor, error) {
	e.mu.RLock()
	checkSet := make([]checks.Check, len(e.checks))
	copy(checkSet, e.checks)
	e.mu.RUnlock()

	maxWorkers := e.runtime.MaxConcurrentChecks
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	results := make([]*domain.RiskFactor, len(checkSet))
	errs := make([]error, len(checkSet))
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for i, check := range checkSet {
		wg.Add(1)
		go func(idx int, c checks.Check) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx], errs[idx] = c.Run(ctx, ec, aux)
		}(i, check)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: check %s: %v", domain.ErrTimeout, checkSet[i].Name(), err)
		}
		return nil, fmt.Errorf("check %s failed: %w", checkSet[i].Name(), err)
	}

	var factors []domain.RiskFactor
	for _, f := range results {
		if f != nil {
			factors = append(factors, *f)
		}
	}
	return factors, nil
}

// persist upserts the risk record for this evaluation. A creation conflict
// from a duplicate trigger is resolved by re-fetching the winner's record
// and falling through to the update path.
func (e *Engine) persist(
	ctx context.Context,
	ec *domain.RiskEvaluationContext,
	aux *checks.AuxData,
	factors []domain.RiskFactor,
	score float64,
	level domain.RiskLevel,
	flagged bool,
	now time.Time,
) (*domain.RiskRecord, error) {
	rec, err := e.repo.GetRiskRecordByTransaction(ctx, ec.TransactionID)
	isNew := false
	if errors.Is(err, domain.ErrNotFound) {
		rec = e.newRecord(ec, now)
		isNew = true
	} else if err != nil {
		return nil, fmt.Errorf("%w: failed to load risk record: %v", domain.ErrPersistence, err)
	}

	retries := e.runtime.CreateRetries
	if retries <= 0 {
		retries = 3
	}

	for attempt := 0; attempt <= retries; attempt++ {
		e.applyEvaluation(rec, ec, aux, factors, score, level, flagged, now)

		if isNew {
			err = e.repo.CreateRiskRecord(ctx, rec)
			if err == nil {
				return rec, nil
			}
			if errors.Is(err, domain.ErrConflict) {
				// Lost the creation race; adopt the winner's record.
				rec, err = e.repo.GetRiskRecordByTransaction(ctx, ec.TransactionID)
				if err != nil {
					return nil, fmt.Errorf("%w: conflict re-fetch failed: %v", domain.ErrPersistence, err)
				}
				isNew = false
				continue
			}
			return nil, fmt.Errorf("%w: failed to create risk record: %v", domain.ErrPersistence, err)
		}

		if err = e.repo.UpdateRiskRecord(ctx, rec); err == nil {
			return rec, nil
		}
		return nil, fmt.Errorf("%w: failed to update risk record: %v", domain.ErrPersistence, err)
	}

	return nil, fmt.Errorf("%w: creation conflict retries exhausted for transaction %s", domain.ErrPersistence, ec.TransactionID)
}

func (e *Engine) newRecord(ec *domain.RiskEvaluationContext, now time.Time) *domain.RiskRecord {
	return &domain.RiskRecord{
		ID:            uuid.New().String(),
		TransactionID: ec.TransactionID,
		UserID:        ec.UserID,
		RiskLevel:     domain.RiskLevelLow,
		ReviewStatus:  domain.ReviewPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// applyEvaluation writes this evaluation's outcome onto the record and
// appends a history entry. Review and override fields are never touched.
func (e *Engine) applyEvaluation(
	rec *domain.RiskRecord,
	ec *domain.RiskEvaluationContext,
	aux *checks.AuxData,
	factors []domain.RiskFactor,
	score float64,
	level domain.RiskLevel,
	flagged bool,
	now time.Time,
) {
	prev := rec.RiskScore

	rec.RiskScore = score
	rec.RiskLevel = level
	rec.IsFlagged = flagged
	rec.RiskFactors = factors

	if flagged && rec.FlaggedAt == nil {
		flaggedAt := now
		rec.FlaggedAt = &flaggedAt
		rec.FlagReason = flagReason(factors, e.scoring.CriticalFactorCutoff)
	}

	if aux != nil {
		rec.Velocity = aux.Velocity
		if aux.Device != nil {
			rec.Device = aux.Device.Snapshot()
		} else if ec.DeviceKey != "" {
			rec.Device = &domain.DeviceSnapshot{DeviceKey: ec.DeviceKey, Known: false}
		}
	}

	rec.EvaluationLog = append(rec.EvaluationLog, domain.EvaluationLogEntry{
		EvaluatedAt:    now,
		PreviousScore:  prev,
		NewScore:       score,
		Factors:        factors,
		TriggeredRules: rec.TriggeredRules(),
		EvaluatedBy:    ec.EvaluatedBy,
	})
	rec.UpdatedAt = now
}

// flagReason joins the names of the factors at or above the critical
// cutoff; when none qualify, all triggered rule names are used instead.
func flagReason(factors []domain.RiskFactor, cutoff float64) string {
	var critical []string
	var all []string
	for _, f := range factors {
		all = append(all, f.Rule)
		if f.Score >= cutoff {
			critical = append(critical, f.Rule)
		}
	}
	if len(critical) > 0 {
		return strings.Join(critical, ", ")
	}
	return strings.Join(all, ", ")
}

func (e *Engine) emit(ctx context.Context, event *domain.AuditEvent) {
	if e.audit == nil {
		return
	}
	event.ID = uuid.New().String()
	event.OccurredAt = time.Now().UTC()
	if err := e.audit.Emit(ctx, event); err != nil {
		e.logger.Warn("audit emit failed",
			"event_type", event.Type,
			"transaction_id", event.TransactionID,
			"error", err,
		)
	}
}
