// Package review implements the admin review workflow over risk records.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/peregrine/internal/domain"
)

// Workflow drives the admin side of flagged records: listing the inbox,
// recording decisions, gating auto-processing, and overrides. Evaluation
// never touches review state; this package is its only writer.
type Workflow struct {
	repo   domain.Repository
	audit  domain.AuditSink
	logger *slog.Logger
}

// New creates a review workflow. audit may be nil.
func New(repo domain.Repository, audit domain.AuditSink, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{repo: repo, audit: audit, logger: logger}
}

// InboxFilter narrows the flagged-record listing. An unset ReviewStatus
// selects PENDING_REVIEW; other zero values mean no constraint.
type InboxFilter struct {
	RiskLevel    domain.RiskLevel
	ReviewStatus domain.ReviewStatus
	MinScore     *float64
	MaxScore     *float64
}

// ListFlagged returns the admin inbox: flagged records that have not been
// overridden, newest first. By default only records still awaiting review
// are listed; pass an explicit ReviewStatus to see decided ones.
func (w *Workflow) ListFlagged(ctx context.Context, filter InboxFilter, page, limit int) ([]*domain.RiskRecord, int64, error) {
	status := filter.ReviewStatus
	if status == "" {
		status = domain.ReviewPending
	}
	return w.repo.QueryRiskRecords(ctx, domain.RiskRecordFilter{
		RiskLevel:         filter.RiskLevel,
		ReviewStatus:      status,
		FlaggedOnly:       true,
		ExcludeOverridden: true,
		MinScore:          filter.MinScore,
		MaxScore:          filter.MaxScore,
	}, page, limit)
}

// Review records an admin decision on a risk record. Re-review is allowed;
// no terminal state is enforced here. The decision appends an audit entry
// to the evaluation history without changing the score.
func (w *Workflow) Review(ctx context.Context, recordID, adminID string, decision domain.ReviewStatus, notes string) (*domain.RiskRecord, error) {
	if recordID == "" || adminID == "" {
		return nil, fmt.Errorf("%w: recordId and adminId are required", domain.ErrInvalidInput)
	}
	switch decision {
	case domain.ReviewApproved, domain.ReviewRejected, domain.ReviewEscalated:
	default:
		return nil, fmt.Errorf("%w: unsupported review decision %q", domain.ErrInvalidInput, decision)
	}

	rec, err := w.repo.GetRiskRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec.ReviewStatus = decision
	rec.ReviewedBy = adminID
	rec.ReviewedAt = &now
	rec.AdminNotes = notes
	rec.EvaluationLog = append(rec.EvaluationLog, domain.EvaluationLogEntry{
		EvaluatedAt:    now,
		PreviousScore:  rec.RiskScore,
		NewScore:       rec.RiskScore,
		TriggeredRules: []string{domain.RuleAdminReview},
		EvaluatedBy:    adminID,
	})
	rec.UpdatedAt = now

	if err := w.repo.UpdateRiskRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: failed to save review decision: %v", domain.ErrPersistence, err)
	}

	w.emit(ctx, &domain.AuditEvent{
		Type:          domain.AuditReviewed,
		TransactionID: rec.TransactionID,
		UserID:        rec.UserID,
		RiskScore:     rec.RiskScore,
		RiskLevel:     rec.RiskLevel,
		Actor:         adminID,
		Details:       map[string]any{"decision": decision, "notes": notes},
	})

	w.logger.Info("risk record reviewed",
		"record_id", rec.ID,
		"transaction_id", rec.TransactionID,
		"decision", decision,
		"admin_id", adminID,
	)

	return rec, nil
}

// CanAutoProcess reports whether a transaction may proceed without human
// intervention. Unknown transactions pass: no record means nothing flagged
// them.
func (w *Workflow) CanAutoProcess(ctx context.Context, txID string) (bool, error) {
	if txID == "" {
		return false, fmt.Errorf("%w: transactionId is required", domain.ErrInvalidInput)
	}

	rec, err := w.repo.GetRiskRecordByTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return true, nil
		}
		return false, err
	}

	if rec.ReviewStatus == domain.ReviewRejected {
		return false, nil
	}
	if rec.IsFlagged && rec.ReviewStatus == domain.ReviewPending {
		return false, nil
	}
	return true, nil
}

// AdminOverride force-sets the override state on a transaction's record,
// independent of the review workflow. flagged is the post-override flag
// state; an override normally clears the flag, so callers pass false
// unless they mean to keep the record in the inbox.
func (w *Workflow) AdminOverride(ctx context.Context, txID, adminID, reason string, flagged bool, level domain.RiskLevel) (*domain.RiskRecord, error) {
	if txID == "" || adminID == "" {
		return nil, fmt.Errorf("%w: transactionId and adminId are required", domain.ErrInvalidInput)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: an override requires a reason", domain.ErrInvalidInput)
	}

	rec, err := w.repo.GetRiskRecordByTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}

	rec.Overridden = true
	rec.OverriddenBy = adminID
	rec.OverrideReason = reason
	rec.OverrideLevel = level
	rec.IsFlagged = flagged
	rec.UpdatedAt = time.Now().UTC()

	if err := w.repo.UpdateRiskRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: failed to save override: %v", domain.ErrPersistence, err)
	}

	w.emit(ctx, &domain.AuditEvent{
		Type:          domain.AuditOverridden,
		TransactionID: rec.TransactionID,
		UserID:        rec.UserID,
		RiskScore:     rec.RiskScore,
		RiskLevel:     rec.RiskLevel,
		Actor:         adminID,
		Details:       map[string]any{"reason": reason, "overrideLevel": level, "flagged": flagged},
	})

	w.logger.Info("risk record overridden",
		"record_id", rec.ID,
		"transaction_id", rec.TransactionID,
		"admin_id", adminID,
		"flagged", flagged,
	)

	return rec, nil
}

func (w *Workflow) emit(ctx context.Context, event *domain.AuditEvent) {
	if w.audit == nil {
		return
	}
	event.ID = uuid.New().String()
	event.OccurredAt = time.Now().UTC()
	if err := w.audit.Emit(ctx, event); err != nil {
		w.logger.Warn("audit emit failed",
			"event_type", event.Type,
			"transaction_id", event.TransactionID,
			"error", err,
		)
	}
}
