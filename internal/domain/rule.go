package domain

import "time"

// ExpressionRule is an operator-defined risk check backed by a CEL
// expression. Expressions evaluate against the transaction context plus
// velocity and device trust variables and must return a bool; a true result
// contributes a factor with the configured score.
//
// Expression rules let new heuristics ship without a code change. The
// built-in checks stay in Go where they need stateful inputs.
type ExpressionRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Expression is the CEL source, e.g.
	// "amount > 5000.0 && velocity.count1h >= 3".
	Expression string `json:"expression"`

	// Score contributed when the expression evaluates to true.
	Score float64 `json:"score"`

	// Reason is the human-readable explanation attached to the factor.
	Reason string `json:"reason"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
