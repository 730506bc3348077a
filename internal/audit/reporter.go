// Package audit derives compliance statistics and exports from risk records.
package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ledgerline/peregrine/internal/domain"
)

// Export formats accepted by ExportEvaluationLogs.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Reporter computes point-in-time aggregates and range reports over risk
// records. All operations are read-only.
type Reporter struct {
	repo   domain.Repository
	logger *slog.Logger
}

// NewReporter creates an audit reporter.
func NewReporter(repo domain.Repository, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{repo: repo, logger: logger}
}

// Statistics is the point-in-time aggregate over all risk records.
type Statistics struct {
	TotalFlagged     int64                      `json:"totalFlagged"`
	PendingReview    int64                      `json:"pendingReview"`
	Approved         int64                      `json:"approved"`
	Rejected         int64                      `json:"rejected"`
	Escalated        int64                      `json:"escalated"`
	AverageRiskScore float64                    `json:"averageRiskScore"`
	CountsByLevel    map[domain.RiskLevel]int64 `json:"countsByLevel"`
}

// Statistics aggregates the current state of every risk record.
func (r *Reporter) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		CountsByLevel: make(map[domain.RiskLevel]int64),
	}

	var err error
	if stats.TotalFlagged, err = r.repo.CountRiskRecords(ctx, domain.RiskRecordFilter{FlaggedOnly: true}); err != nil {
		return nil, fmt.Errorf("failed to count flagged records: %w", err)
	}

	statuses := []struct {
		status domain.ReviewStatus
		dest   *int64
	}{
		{domain.ReviewPending, &stats.PendingReview},
		{domain.ReviewApproved, &stats.Approved},
		{domain.ReviewRejected, &stats.Rejected},
		{domain.ReviewEscalated, &stats.Escalated},
	}
	for _, s := range statuses {
		count, err := r.repo.CountRiskRecords(ctx, domain.RiskRecordFilter{ReviewStatus: s.status})
		if err != nil {
			return nil, fmt.Errorf("failed to count %s records: %w", s.status, err)
		}
		*s.dest = count
	}

	for _, level := range []domain.RiskLevel{domain.RiskLevelLow, domain.RiskLevelMedium, domain.RiskLevelHigh, domain.RiskLevelCritical} {
		count, err := r.repo.CountRiskRecords(ctx, domain.RiskRecordFilter{RiskLevel: level})
		if err != nil {
			return nil, fmt.Errorf("failed to count %s records: %w", level, err)
		}
		stats.CountsByLevel[level] = count
	}

	if stats.AverageRiskScore, err = r.repo.AverageRiskScore(ctx, domain.RiskRecordFilter{}); err != nil {
		return nil, fmt.Errorf("failed to average risk scores: %w", err)
	}

	return stats, nil
}

// FactorFrequency is one entry of a report's top triggered rules.
type FactorFrequency struct {
	Rule  string `json:"rule"`
	Count int64  `json:"count"`
}

// AuditReport summarizes the records created in a time range.
type AuditReport struct {
	From             time.Time         `json:"from"`
	To               time.Time         `json:"to"`
	TotalEvaluations int64             `json:"totalEvaluations"`
	FlaggedCount     int64             `json:"flaggedCount"`
	ReviewedCount    int64             `json:"reviewedCount"`
	AverageRiskScore float64           `json:"averageRiskScore"`
	TopRiskFactors   []FactorFrequency `json:"topRiskFactors"`
}

// topFactorLimit bounds the factor leaderboard in reports.
const topFactorLimit = 5

// GenerateAuditReport aggregates the risk records created in [from, to).
func (r *Reporter) GenerateAuditReport(ctx context.Context, from, to time.Time) (*AuditReport, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: report range end must be after start", domain.ErrInvalidInput)
	}

	records, err := r.repo.RiskRecordsInRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load records in range: %w", err)
	}

	report := &AuditReport{From: from, To: to, TotalEvaluations: int64(len(records))}

	var scoreSum float64
	frequencies := make(map[string]int64)
	for _, rec := range records {
		scoreSum += rec.RiskScore
		if rec.IsFlagged {
			report.FlaggedCount++
		}
		if rec.ReviewStatus != domain.ReviewPending {
			report.ReviewedCount++
		}
		for _, f := range rec.RiskFactors {
			frequencies[f.Rule]++
		}
	}
	if len(records) > 0 {
		report.AverageRiskScore = scoreSum / float64(len(records))
	}

	for rule, count := range frequencies {
		report.TopRiskFactors = append(report.TopRiskFactors, FactorFrequency{Rule: rule, Count: count})
	}
	sort.Slice(report.TopRiskFactors, func(i, j int) bool {
		a, b := report.TopRiskFactors[i], report.TopRiskFactors[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Rule < b.Rule
	})
	if len(report.TopRiskFactors) > topFactorLimit {
		report.TopRiskFactors = report.TopRiskFactors[:topFactorLimit]
	}

	return report, nil
}

// ExportEvaluationLogs serializes the risk records created in [from, to)
// for compliance extraction. JSON exports the full records; CSV flattens
// one row per record.
func (r *Reporter) ExportEvaluationLogs(ctx context.Context, from, to time.Time, format string) (string, error) {
	records, err := r.repo.RiskRecordsInRange(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("failed to load records in range: %w", err)
	}

	switch strings.ToLower(format) {
	case FormatJSON:
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal export: %w", err)
		}
		return string(data), nil

	case FormatCSV:
		return exportCSV(records)

	default:
		return "", fmt.Errorf("%w: unsupported export format %q", domain.ErrInvalidInput, format)
	}
}

func exportCSV(records []*domain.RiskRecord) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"record_id", "transaction_id", "user_id",
		"risk_score", "risk_level", "is_flagged", "flag_reason",
		"review_status", "reviewed_by", "overridden",
		"triggered_rules", "evaluations", "created_at", "updated_at",
	}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			rec.ID,
			rec.TransactionID,
			rec.UserID,
			strconv.FormatFloat(rec.RiskScore, 'f', 2, 64),
			string(rec.RiskLevel),
			strconv.FormatBool(rec.IsFlagged),
			rec.FlagReason,
			string(rec.ReviewStatus),
			rec.ReviewedBy,
			strconv.FormatBool(rec.Overridden),
			strings.Join(rec.TriggeredRules(), ";"),
			strconv.Itoa(len(rec.EvaluationLog)),
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.String(), nil
}
