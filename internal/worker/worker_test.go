package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/ledgerline/peregrine/internal/bus"
	"github.com/ledgerline/peregrine/internal/checks"
	"github.com/ledgerline/peregrine/internal/devicetrust"
	"github.com/ledgerline/peregrine/internal/domain"
	"github.com/ledgerline/peregrine/internal/engine"
	"github.com/ledgerline/peregrine/internal/repository"
	"github.com/ledgerline/peregrine/internal/velocity"
)

func newTestWorker(t *testing.T) (*Worker, domain.EventBus, domain.Repository) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	cfg := domain.DefaultConfig()
	eng := engine.New(
		repo,
		velocity.NewAggregator(repo, nil, 0),
		devicetrust.NewStore(repo, cfg.DeviceTrust, nil),
		checks.DefaultChecks(cfg.Scoring),
		cfg.Scoring,
		cfg.Engine,
		nil,
		nil,
	)

	w := New(b, repo, eng, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("worker Start failed: %v", err)
	}
	t.Cleanup(w.Stop)

	return w, b, repo
}

func waitForRecord(t *testing.T, repo domain.Repository, txID string) *domain.RiskRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := repo.GetRiskRecordByTransaction(context.Background(), txID)
		if err == nil {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no risk record appeared for transaction %s", txID)
	return nil
}

func TestWorkerEvaluatesIngestedTransaction(t *testing.T) {
	_, b, repo := newTestWorker(t)
	ctx := context.Background()

	payload, err := json.Marshal(IngestMessage{
		Transaction: domain.Transaction{
			ID:        "tx-ingest",
			UserID:    "user-1",
			Type:      "TRANSFER",
			Amount:    50000,
			Currency:  "USD",
			Status:    domain.TxStatusCompleted,
			Timestamp: time.Now().UTC(),
		},
		DeviceKey: "device-new",
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	if err := b.Publish(ctx, domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	rec := waitForRecord(t, repo, "tx-ingest")
	// Capped high value (30) plus NEW_DEVICE (25).
	if rec.RiskScore != 55 {
		t.Errorf("score = %.0f, want 55", rec.RiskScore)
	}
	if rec.RiskLevel != domain.RiskLevelMedium {
		t.Errorf("level = %s, want MEDIUM", rec.RiskLevel)
	}

	// The projection backs future velocity windows.
	tx, err := repo.GetTransaction(ctx, "tx-ingest")
	if err != nil {
		t.Fatalf("transaction projection not stored: %v", err)
	}
	if tx.Amount != 50000 {
		t.Errorf("stored amount = %.0f, want 50000", tx.Amount)
	}
}

func TestWorkerIgnoresMalformedMessages(t *testing.T) {
	_, b, repo := newTestWorker(t)
	ctx := context.Background()

	if err := b.Publish(ctx, domain.TopicTransactionIngested, []byte("not json")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// A good message after a bad one still processes.
	payload, _ := json.Marshal(IngestMessage{
		Transaction: domain.Transaction{
			ID:        "tx-after-bad",
			UserID:    "user-1",
			Amount:    100,
			Currency:  "USD",
			Status:    domain.TxStatusCompleted,
			Timestamp: time.Now().UTC(),
		},
	})
	if err := b.Publish(ctx, domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitForRecord(t, repo, "tx-after-bad")
}
