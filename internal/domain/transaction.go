package domain

import "time"

// Transaction statuses the velocity windows count. Terminal failures and
// reversals are excluded from velocity so declined retries do not inflate
// a user's burst profile.
const (
	TxStatusPending   = "PENDING"
	TxStatusCompleted = "COMPLETED"
	TxStatusFailed    = "FAILED"
	TxStatusReversed  = "REVERSED"
)

// Transaction is the financial transaction being scored. Peregrine stores a
// minimal projection of it to back velocity windows; the system of record
// lives with an external collaborator.
type Transaction struct {
	ID       string  `json:"id"`
	UserID   string  `json:"userId"`
	Type     string  `json:"type,omitempty"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Status   string  `json:"status"`

	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	Metadata map[string]any `json:"metadata,omitempty"`
}
