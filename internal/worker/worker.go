// Package worker evaluates transactions arriving on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ledgerline/peregrine/internal/domain"
	"github.com/ledgerline/peregrine/internal/engine"
)

// IngestMessage is the payload published on the transaction-ingested
// topic: the transaction projection plus the device and network context
// captured at ingest time.
type IngestMessage struct {
	Transaction domain.Transaction `json:"transaction"`
	DeviceKey   string             `json:"deviceKey,omitempty"`
	IPAddress   string             `json:"ipAddress,omitempty"`
}

// Worker consumes ingested transactions from the bus, stores the velocity
// projection, and runs a risk evaluation for each. Evaluation failures are
// logged, not retried; retry policy belongs to the publisher.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	engine *engine.Engine
	logger *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// New creates an evaluation worker.
func New(bus domain.EventBus, repo domain.Repository, eng *engine.Engine, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		engine: eng,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the transaction-ingested topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicTransactionIngested, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	w.logger.Info("evaluation worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

// Stop unsubscribes and stops processing.
func (w *Worker) Stop() {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		_ = sub.Unsubscribe()
	}
	w.subscriptions = nil

	w.logger.Info("evaluation worker stopped")
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var ingest IngestMessage
	if err := json.Unmarshal(msg.Payload, &ingest); err != nil {
		w.logger.Error("failed to decode ingest message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	tx := ingest.Transaction
	if tx.ID == "" {
		w.logger.Error("ingest message missing transaction id", "message_id", msg.ID)
		return fmt.Errorf("%w: transaction id is required", domain.ErrInvalidInput)
	}

	if err := w.repo.SaveTransaction(ctx, &tx); err != nil {
		w.logger.Error("failed to store transaction projection",
			"transaction_id", tx.ID,
			"error", err,
		)
		return err
	}

	result, err := w.engine.Evaluate(ctx, &domain.RiskEvaluationContext{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		DeviceKey:     ingest.DeviceKey,
		IPAddress:     ingest.IPAddress,
		Metadata:      tx.Metadata,
		AsOf:          tx.Timestamp,
	})
	if err != nil {
		w.logger.Error("evaluation failed",
			"transaction_id", tx.ID,
			"error", err,
		)
		return err
	}

	w.logger.Debug("transaction evaluated from bus",
		"transaction_id", tx.ID,
		"risk_score", result.RiskScore,
		"flagged", result.IsFlagged,
	)
	return nil
}
