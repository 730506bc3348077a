// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ledgerline/peregrine/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction projection.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" || tx.UserID == "" {
		return fmt.Errorf("%w: transaction id and userId are required", domain.ErrInvalidInput)
	}

	metadata, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions (
			id, user_id, type, amount, currency, status,
			timestamp, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.UserID, tx.Type,
		tx.Amount, tx.Currency, tx.Status,
		tx.Timestamp, tx.CreatedAt, string(metadata),
	)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: transaction %s", domain.ErrConflict, tx.ID)
	}
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, user_id, type, amount, currency, status,
		       timestamp, created_at, metadata
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	var txType, metadata sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &tx.UserID, &txType,
		&tx.Amount, &tx.Currency, &tx.Status,
		&tx.Timestamp, &tx.CreatedAt, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.Type = txType.String
	if metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &tx.Metadata)
	}

	return &tx, nil
}

// CountAndSumByUser counts and sums a user's velocity-eligible transactions
// with timestamp in [from, to). Failed and reversed transactions are
// excluded so declined retries do not inflate the velocity windows.
func (r *SQLRepository) CountAndSumByUser(ctx context.Context, userID string, from, to time.Time) (int64, float64, error) {
	if userID == "" {
		return 0, 0, fmt.Errorf("%w: userId is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE user_id = ?
		  AND timestamp >= ? AND timestamp < ?
		  AND status NOT IN (?, ?)
	`

	var count int64
	var total float64
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		userID, from, to,
		domain.TxStatusFailed, domain.TxStatusReversed,
	).Scan(&count, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate transactions: %w", err)
	}

	return count, total, nil
}

// SaveExpressionRule stores an expression rule, replacing any prior version.
func (r *SQLRepository) SaveExpressionRule(ctx context.Context, rule *domain.ExpressionRule) error {
	if rule.ID == "" || rule.Expression == "" {
		return fmt.Errorf("%w: rule id and expression are required", domain.ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO expression_rules (
			id, name, description, expression, score, reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			score = excluded.score,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description,
		rule.Expression, rule.Score, rule.Reason, enabled,
		now, now,
	)
	return err
}

// ListExpressionRules retrieves all enabled expression rules.
func (r *SQLRepository) ListExpressionRules(ctx context.Context) ([]*domain.ExpressionRule, error) {
	query := `
		SELECT id, name, description, expression, score, reason, enabled, created_at, updated_at
		FROM expression_rules
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ExpressionRule
	for rows.Next() {
		var rule domain.ExpressionRule
		var description, reason sql.NullString
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.Name, &description,
			&rule.Expression, &rule.Score, &reason, &enabled,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rule.Description = description.String
		rule.Reason = reason.String
		rule.Enabled = enabled == 1
		out = append(out, &rule)
	}

	return out, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// isUniqueViolation reports whether err is a uniqueness constraint error
// from either driver. modernc sqlite reports "UNIQUE constraint failed";
// lib/pq reports "duplicate key value violates unique constraint".
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
