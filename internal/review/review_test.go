package review

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/peregrine/internal/domain"
	"github.com/ledgerline/peregrine/internal/repository"
)

func newTestWorkflow(t *testing.T) (*Workflow, domain.Repository) {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "review_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return New(repo, nil, nil), repo
}

func seedRecord(t *testing.T, repo domain.Repository, txID string, score float64, flagged bool) *domain.RiskRecord {
	t.Helper()
	now := time.Now().UTC()
	rec := &domain.RiskRecord{
		ID:            uuid.New().String(),
		TransactionID: txID,
		UserID:        "user-1",
		RiskScore:     score,
		RiskLevel:     domain.RiskLevelHigh,
		IsFlagged:     flagged,
		ReviewStatus:  domain.ReviewPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if flagged {
		rec.FlaggedAt = &now
		rec.FlagReason = "HIGH_VALUE_TRANSACTION"
	}
	if err := repo.CreateRiskRecord(context.Background(), rec); err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}
	return rec
}

func TestListFlaggedInbox(t *testing.T) {
	w, repo := newTestWorkflow(t)
	ctx := context.Background()

	seedRecord(t, repo, "tx-1", 80, true)
	seedRecord(t, repo, "tx-2", 75, true)
	seedRecord(t, repo, "tx-3", 20, false)

	// Overridden records leave the inbox.
	overridden := seedRecord(t, repo, "tx-4", 85, true)
	if _, err := w.AdminOverride(ctx, overridden.TransactionID, "admin-1", "known customer", false, ""); err != nil {
		t.Fatalf("AdminOverride failed: %v", err)
	}

	items, total, err := w.ListFlagged(ctx, InboxFilter{}, 1, 20)
	if err != nil {
		t.Fatalf("ListFlagged failed: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2 (unflagged and overridden excluded)", total)
	}
	for _, item := range items {
		if !item.IsFlagged || item.Overridden {
			t.Errorf("inbox leaked record %s (flagged=%v overridden=%v)", item.TransactionID, item.IsFlagged, item.Overridden)
		}
	}

	min := 78.0
	_, total, err = w.ListFlagged(ctx, InboxFilter{MinScore: &min}, 1, 20)
	if err != nil {
		t.Fatalf("ListFlagged with MinScore failed: %v", err)
	}
	if total != 1 {
		t.Errorf("total with minScore 78 = %d, want 1", total)
	}

	// A decided record leaves the default inbox but stays reachable with
	// an explicit status filter.
	if _, err := w.Review(ctx, items[0].ID, "admin-1", domain.ReviewApproved, "checked out"); err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	remaining, total, err := w.ListFlagged(ctx, InboxFilter{}, 1, 20)
	if err != nil {
		t.Fatalf("ListFlagged after review failed: %v", err)
	}
	if total != 1 {
		t.Errorf("total after approving one = %d, want 1", total)
	}
	for _, item := range remaining {
		if item.ReviewStatus != domain.ReviewPending {
			t.Errorf("default inbox leaked decided record %s (%s)", item.TransactionID, item.ReviewStatus)
		}
	}
	_, total, err = w.ListFlagged(ctx, InboxFilter{ReviewStatus: domain.ReviewApproved}, 1, 20)
	if err != nil {
		t.Fatalf("ListFlagged with status failed: %v", err)
	}
	if total != 1 {
		t.Errorf("total with APPROVED filter = %d, want 1", total)
	}
}

func TestReviewDecision(t *testing.T) {
	w, repo := newTestWorkflow(t)
	ctx := context.Background()
	rec := seedRecord(t, repo, "tx-1", 80, true)

	reviewed, err := w.Review(ctx, rec.ID, "admin-1", domain.ReviewApproved, "verified with customer")
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}

	if reviewed.ReviewStatus != domain.ReviewApproved {
		t.Errorf("reviewStatus = %s, want APPROVED", reviewed.ReviewStatus)
	}
	if reviewed.ReviewedBy != "admin-1" || reviewed.ReviewedAt == nil {
		t.Error("reviewer attribution missing")
	}
	if reviewed.AdminNotes != "verified with customer" {
		t.Errorf("adminNotes = %q", reviewed.AdminNotes)
	}

	// The decision appends an audit entry without changing the score.
	if len(reviewed.EvaluationLog) != 1 {
		t.Fatalf("evaluation log entries = %d, want 1", len(reviewed.EvaluationLog))
	}
	entry := reviewed.EvaluationLog[0]
	if entry.PreviousScore != 80 || entry.NewScore != 80 {
		t.Errorf("review entry scores = (%.0f, %.0f), want (80, 80)", entry.PreviousScore, entry.NewScore)
	}
	if len(entry.TriggeredRules) != 1 || entry.TriggeredRules[0] != domain.RuleAdminReview {
		t.Errorf("review entry rules = %v, want [ADMIN_REVIEW]", entry.TriggeredRules)
	}
	if entry.EvaluatedBy != "admin-1" {
		t.Errorf("evaluatedBy = %q, want admin-1", entry.EvaluatedBy)
	}
	if reviewed.RiskScore != 80 {
		t.Errorf("review changed the score to %.0f", reviewed.RiskScore)
	}
}

func TestReviewValidation(t *testing.T) {
	w, repo := newTestWorkflow(t)
	ctx := context.Background()
	rec := seedRecord(t, repo, "tx-1", 80, true)

	if _, err := w.Review(ctx, rec.ID, "admin-1", domain.ReviewPending, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("PENDING_REVIEW decision: expected ErrInvalidInput, got %v", err)
	}
	if _, err := w.Review(ctx, "no-such-record", "admin-1", domain.ReviewApproved, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown record: expected ErrNotFound, got %v", err)
	}
	if _, err := w.Review(ctx, rec.ID, "", domain.ReviewApproved, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("missing admin: expected ErrInvalidInput, got %v", err)
	}
}

func TestReReviewAllowed(t *testing.T) {
	w, repo := newTestWorkflow(t)
	ctx := context.Background()
	rec := seedRecord(t, repo, "tx-1", 80, true)

	if _, err := w.Review(ctx, rec.ID, "admin-1", domain.ReviewEscalated, "needs a second look"); err != nil {
		t.Fatalf("first review failed: %v", err)
	}
	reviewed, err := w.Review(ctx, rec.ID, "admin-2", domain.ReviewRejected, "confirmed fraud")
	if err != nil {
		t.Fatalf("re-review failed: %v", err)
	}
	if reviewed.ReviewStatus != domain.ReviewRejected {
		t.Errorf("reviewStatus = %s, want REJECTED", reviewed.ReviewStatus)
	}
	if len(reviewed.EvaluationLog) != 2 {
		t.Errorf("evaluation log entries = %d, want 2", len(reviewed.EvaluationLog))
	}
}

func TestCanAutoProcess(t *testing.T) {
	w, repo := newTestWorkflow(t)
	ctx := context.Background()

	t.Run("NoRecord", func(t *testing.T) {
		ok, err := w.CanAutoProcess(ctx, "tx-unknown")
		if err != nil {
			t.Fatalf("CanAutoProcess failed: %v", err)
		}
		if !ok {
			t.Error("unknown transaction must auto-process")
		}
	})

	t.Run("FlaggedPending", func(t *testing.T) {
		seedRecord(t, repo, "tx-pending", 80, true)
		ok, err := w.CanAutoProcess(ctx, "tx-pending")
		if err != nil {
			t.Fatalf("CanAutoProcess failed: %v", err)
		}
		if ok {
			t.Error("flagged pending record must block auto-processing")
		}
	})

	t.Run("ApprovedUnblocks", func(t *testing.T) {
		rec := seedRecord(t, repo, "tx-approve", 80, true)
		if ok, _ := w.CanAutoProcess(ctx, "tx-approve"); ok {
			t.Fatal("expected blocked before review")
		}
		if _, err := w.Review(ctx, rec.ID, "admin-1", domain.ReviewApproved, ""); err != nil {
			t.Fatalf("Review failed: %v", err)
		}
		ok, err := w.CanAutoProcess(ctx, "tx-approve")
		if err != nil {
			t.Fatalf("CanAutoProcess failed: %v", err)
		}
		if !ok {
			t.Error("approval must unblock auto-processing")
		}
	})

	t.Run("RejectedBlocks", func(t *testing.T) {
		rec := seedRecord(t, repo, "tx-reject", 30, false)
		if _, err := w.Review(ctx, rec.ID, "admin-1", domain.ReviewRejected, ""); err != nil {
			t.Fatalf("Review failed: %v", err)
		}
		ok, err := w.CanAutoProcess(ctx, "tx-reject")
		if err != nil {
			t.Fatalf("CanAutoProcess failed: %v", err)
		}
		if ok {
			t.Error("rejected record must block auto-processing even when unflagged")
		}
	})

	t.Run("UnflaggedPendingPasses", func(t *testing.T) {
		seedRecord(t, repo, "tx-low", 10, false)
		ok, err := w.CanAutoProcess(ctx, "tx-low")
		if err != nil {
			t.Fatalf("CanAutoProcess failed: %v", err)
		}
		if !ok {
			t.Error("unflagged pending record must auto-process")
		}
	})
}

func TestAdminOverride(t *testing.T) {
	w, repo := newTestWorkflow(t)
	ctx := context.Background()
	seedRecord(t, repo, "tx-1", 85, true)

	rec, err := w.AdminOverride(ctx, "tx-1", "admin-1", "verified legitimate", false, domain.RiskLevelLow)
	if err != nil {
		t.Fatalf("AdminOverride failed: %v", err)
	}

	if !rec.Overridden || rec.OverriddenBy != "admin-1" {
		t.Error("override attribution missing")
	}
	if rec.OverrideReason != "verified legitimate" || rec.OverrideLevel != domain.RiskLevelLow {
		t.Errorf("override details wrong: %+v", rec)
	}
	if rec.IsFlagged {
		t.Error("override with flagged=false must clear the flag")
	}
	// Review state is independent of the override.
	if rec.ReviewStatus != domain.ReviewPending {
		t.Errorf("override touched reviewStatus: %s", rec.ReviewStatus)
	}
}

func TestAdminOverrideRequiresRecord(t *testing.T) {
	w, _ := newTestWorkflow(t)
	ctx := context.Background()

	if _, err := w.AdminOverride(ctx, "tx-none", "admin-1", "reason", false, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := w.AdminOverride(ctx, "tx-none", "admin-1", "", false, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("missing reason: expected ErrInvalidInput, got %v", err)
	}
}
