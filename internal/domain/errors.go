package domain

import "errors"

// Error taxonomy for the risk scoring core. Implementations wrap these
// sentinels with fmt.Errorf("%w: ...") so callers can branch with errors.Is.
var (
	// ErrNotFound indicates an unknown transaction, risk record, or device.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates a malformed evaluation context or filter.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates a uniqueness violation during record creation.
	// The engine resolves these internally via re-fetch; callers should
	// never observe one from Evaluate.
	ErrConflict = errors.New("record already exists")

	// ErrTimeout indicates an auxiliary data fetch exceeded its deadline.
	// Evaluation fails closed rather than scoring with partial data.
	ErrTimeout = errors.New("evaluation deadline exceeded")

	// ErrPersistence indicates a store write failed after evaluation
	// completed in memory, or conflict retries were exhausted.
	ErrPersistence = errors.New("persistence failure")
)
