package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerline/peregrine/internal/domain"
)

const riskRecordColumns = `
	id, transaction_id, user_id, risk_score, risk_level, is_flagged,
	flagged_at, flag_reason, risk_factors, evaluation_log,
	review_status, reviewed_by, reviewed_at, admin_notes,
	overridden, overridden_by, override_reason, override_level,
	velocity, device, created_at, updated_at
`

// CreateRiskRecord inserts a new risk record. Returns domain.ErrConflict if
// a record for the same transaction already exists; callers re-fetch and
// take the update path.
func (r *SQLRepository) CreateRiskRecord(ctx context.Context, rec *domain.RiskRecord) error {
	if rec.ID == "" || rec.TransactionID == "" {
		return fmt.Errorf("%w: record id and transactionId are required", domain.ErrInvalidInput)
	}

	factors, _ := json.Marshal(rec.RiskFactors)
	log, _ := json.Marshal(rec.EvaluationLog)
	velocity, _ := json.Marshal(rec.Velocity)
	device, _ := json.Marshal(rec.Device)

	query := `
		INSERT INTO risk_records (` + riskRecordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.TransactionID, rec.UserID,
		rec.RiskScore, string(rec.RiskLevel), boolToInt(rec.IsFlagged),
		nullTime(rec.FlaggedAt), rec.FlagReason, string(factors), string(log),
		string(rec.ReviewStatus), rec.ReviewedBy, nullTime(rec.ReviewedAt), rec.AdminNotes,
		boolToInt(rec.Overridden), rec.OverriddenBy, rec.OverrideReason, string(rec.OverrideLevel),
		string(velocity), string(device), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: transaction %s", domain.ErrConflict, rec.TransactionID)
	}
	return err
}

// UpdateRiskRecord rewrites a record's mutable columns by ID.
func (r *SQLRepository) UpdateRiskRecord(ctx context.Context, rec *domain.RiskRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: record id is required", domain.ErrInvalidInput)
	}

	factors, _ := json.Marshal(rec.RiskFactors)
	log, _ := json.Marshal(rec.EvaluationLog)
	velocity, _ := json.Marshal(rec.Velocity)
	device, _ := json.Marshal(rec.Device)

	query := `
		UPDATE risk_records SET
			risk_score = ?, risk_level = ?, is_flagged = ?,
			flagged_at = ?, flag_reason = ?, risk_factors = ?, evaluation_log = ?,
			review_status = ?, reviewed_by = ?, reviewed_at = ?, admin_notes = ?,
			overridden = ?, overridden_by = ?, override_reason = ?, override_level = ?,
			velocity = ?, device = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.RiskScore, string(rec.RiskLevel), boolToInt(rec.IsFlagged),
		nullTime(rec.FlaggedAt), rec.FlagReason, string(factors), string(log),
		string(rec.ReviewStatus), rec.ReviewedBy, nullTime(rec.ReviewedAt), rec.AdminNotes,
		boolToInt(rec.Overridden), rec.OverriddenBy, rec.OverrideReason, string(rec.OverrideLevel),
		string(velocity), string(device), rec.UpdatedAt,
		rec.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// GetRiskRecord retrieves a risk record by its ID.
func (r *SQLRepository) GetRiskRecord(ctx context.Context, id string) (*domain.RiskRecord, error) {
	query := `SELECT ` + riskRecordColumns + ` FROM risk_records WHERE id = ?`
	row := r.db.QueryRowContext(ctx, r.rebind(query), id)
	return scanRiskRecord(row)
}

// GetRiskRecordByTransaction retrieves the risk record for a transaction.
func (r *SQLRepository) GetRiskRecordByTransaction(ctx context.Context, txID string) (*domain.RiskRecord, error) {
	query := `SELECT ` + riskRecordColumns + ` FROM risk_records WHERE transaction_id = ?`
	row := r.db.QueryRowContext(ctx, r.rebind(query), txID)
	return scanRiskRecord(row)
}

// QueryRiskRecords returns a filtered page of records plus the total match
// count, newest first.
func (r *SQLRepository) QueryRiskRecords(ctx context.Context, filter domain.RiskRecordFilter, page, limit int) ([]*domain.RiskRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	where, args := buildRiskFilter(filter)

	total, err := r.CountRiskRecords(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + riskRecordColumns + ` FROM risk_records` + where +
		` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, (page-1)*limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []*domain.RiskRecord
	for rows.Next() {
		rec, err := scanRiskRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}

	return records, total, rows.Err()
}

// CountRiskRecords counts records matching the filter.
func (r *SQLRepository) CountRiskRecords(ctx context.Context, filter domain.RiskRecordFilter) (int64, error) {
	where, args := buildRiskFilter(filter)

	var count int64
	query := `SELECT COUNT(*) FROM risk_records` + where
	if err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// AverageRiskScore returns the mean risk score over records matching the
// filter, or 0 when none match.
func (r *SQLRepository) AverageRiskScore(ctx context.Context, filter domain.RiskRecordFilter) (float64, error) {
	where, args := buildRiskFilter(filter)

	var avg float64
	query := `SELECT COALESCE(AVG(risk_score), 0) FROM risk_records` + where
	if err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&avg); err != nil {
		return 0, err
	}
	return avg, nil
}

// RiskRecordsInRange returns records created in [from, to), oldest first.
func (r *SQLRepository) RiskRecordsInRange(ctx context.Context, from, to time.Time) ([]*domain.RiskRecord, error) {
	query := `SELECT ` + riskRecordColumns + ` FROM risk_records
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.RiskRecord
	for rows.Next() {
		rec, err := scanRiskRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// buildRiskFilter renders a filter into a WHERE clause and argument list.
func buildRiskFilter(filter domain.RiskRecordFilter) (string, []any) {
	var clauses []string
	var args []any

	if filter.RiskLevel != "" {
		clauses = append(clauses, "risk_level = ?")
		args = append(args, string(filter.RiskLevel))
	}
	if filter.ReviewStatus != "" {
		clauses = append(clauses, "review_status = ?")
		args = append(args, string(filter.ReviewStatus))
	}
	if filter.FlaggedOnly {
		clauses = append(clauses, "is_flagged = 1")
	}
	if filter.ExcludeOverridden {
		clauses = append(clauses, "overridden = 0")
	}
	if filter.MinScore != nil {
		clauses = append(clauses, "risk_score >= ?")
		args = append(args, *filter.MinScore)
	}
	if filter.MaxScore != nil {
		clauses = append(clauses, "risk_score <= ?")
		args = append(args, *filter.MaxScore)
	}
	if filter.From != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		clauses = append(clauses, "created_at < ?")
		args = append(args, *filter.To)
	}

	if len(clauses) == 0 {
		return "", nil
	}

	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRiskRecord(row rowScanner) (*domain.RiskRecord, error) {
	var rec domain.RiskRecord
	var userID, flagReason, reviewedBy, adminNotes sql.NullString
	var overriddenBy, overrideReason, overrideLevel sql.NullString
	var factors, log, velocity, device sql.NullString
	var flaggedAt, reviewedAt sql.NullTime
	var level, reviewStatus string
	var isFlagged, overridden int

	err := row.Scan(
		&rec.ID, &rec.TransactionID, &userID,
		&rec.RiskScore, &level, &isFlagged,
		&flaggedAt, &flagReason, &factors, &log,
		&reviewStatus, &reviewedBy, &reviewedAt, &adminNotes,
		&overridden, &overriddenBy, &overrideReason, &overrideLevel,
		&velocity, &device, &rec.CreatedAt, &rec.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.UserID = userID.String
	rec.RiskLevel = domain.RiskLevel(level)
	rec.IsFlagged = isFlagged == 1
	rec.FlagReason = flagReason.String
	rec.ReviewStatus = domain.ReviewStatus(reviewStatus)
	rec.ReviewedBy = reviewedBy.String
	rec.AdminNotes = adminNotes.String
	rec.Overridden = overridden == 1
	rec.OverriddenBy = overriddenBy.String
	rec.OverrideReason = overrideReason.String
	rec.OverrideLevel = domain.RiskLevel(overrideLevel.String)

	if flaggedAt.Valid {
		t := flaggedAt.Time
		rec.FlaggedAt = &t
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		rec.ReviewedAt = &t
	}

	if factors.String != "" {
		json.Unmarshal([]byte(factors.String), &rec.RiskFactors)
	}
	if log.String != "" {
		json.Unmarshal([]byte(log.String), &rec.EvaluationLog)
	}
	if velocity.String != "" && velocity.String != "null" {
		json.Unmarshal([]byte(velocity.String), &rec.Velocity)
	}
	if device.String != "" && device.String != "null" {
		json.Unmarshal([]byte(device.String), &rec.Device)
	}

	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
