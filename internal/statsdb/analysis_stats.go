package statsdb

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// OutcomeSuccess marks a completed analysis. Failures carry the error kind.
const OutcomeSuccess = "success"

// DefaultListLimit is used when a non-positive limit is requested.
const DefaultListLimit = 50

// AnalysisStat is the record of one finished attempt loop.
type AnalysisStat struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"requestId"`
	Target     string    `json:"target"`
	Date       string    `json:"date"`
	Outcome    string    `json:"outcome"`
	Message    string    `json:"message,omitempty"`
	Attempts   int       `json:"attempts"`
	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

type AnalysisStatsStore interface {
	InsertAnalysisStat(ctx context.Context, stat AnalysisStat) error
	ListRecentAnalysisStats(ctx context.Context, limit int) ([]AnalysisStat, error)
	Close() error
}

type SQLiteAnalysisStatsStore struct {
	db *sql.DB
}

func OpenSQLiteAnalysisStatsStore(path string) (*SQLiteAnalysisStatsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("empty sqlite path")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteAnalysisStatsStore{db: db}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteAnalysisStatsStore) initSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("nil sqlite store")
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *SQLiteAnalysisStatsStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteAnalysisStatsStore) InsertAnalysisStat(ctx context.Context, stat AnalysisStat) error {
	if s == nil || s.db == nil {
		return nil
	}

	normalized := normalizeAnalysisStat(stat)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO analysis_stats(
  request_id, target, date, outcome, message,
  attempts, duration_ms, created_at
) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		normalized.RequestID,
		normalized.Target,
		normalized.Date,
		normalized.Outcome,
		normalized.Message,
		normalized.Attempts,
		normalized.DurationMs,
		normalized.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert analysis_stats: %w", err)
	}
	return nil
}

// ListRecentAnalysisStats returns the newest records first.
func (s *SQLiteAnalysisStatsStore) ListRecentAnalysisStats(ctx context.Context, limit int) ([]AnalysisStat, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("nil sqlite store")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, target, date, outcome, message, attempts, duration_ms, created_at
		FROM analysis_stats
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query analysis_stats: %w", err)
	}
	defer rows.Close()

	result := make([]AnalysisStat, 0, limit)
	for rows.Next() {
		var stat AnalysisStat
		var createdAt int64
		if err := rows.Scan(&stat.ID, &stat.RequestID, &stat.Target, &stat.Date, &stat.Outcome, &stat.Message, &stat.Attempts, &stat.DurationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		stat.CreatedAt = time.UnixMilli(createdAt)
		result = append(result, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// OutcomeSummary counts finished analyses per outcome.
type OutcomeSummary struct {
	Outcome       string `json:"outcome"`
	RequestCount  int64  `json:"requestCount"`
	TotalAttempts int64  `json:"totalAttempts"`
	AvgDurationMs int64  `json:"avgDurationMs"`
}

// TimeRange represents a time range for querying stats
type TimeRange string

const (
	TimeRangeToday     TimeRange = "today"
	TimeRangeYesterday TimeRange = "yesterday"
	TimeRangeWeek      TimeRange = "week"
	TimeRangeMonth     TimeRange = "month"
	TimeRangeAll       TimeRange = "all"
)

// GetOutcomeSummary groups the records in timeRange by outcome.
func (s *SQLiteAnalysisStatsStore) GetOutcomeSummary(ctx context.Context, timeRange TimeRange) ([]OutcomeSummary, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("nil sqlite store")
	}

	cond, args := buildDateCondition(timeRange, time.Now())
	query := fmt.Sprintf(`
		SELECT
			outcome,
			COUNT(*) as request_count,
			COALESCE(SUM(attempts), 0) as total_attempts,
			CAST(COALESCE(AVG(duration_ms), 0) AS INTEGER) as avg_duration_ms
		FROM analysis_stats
		WHERE %s
		GROUP BY outcome
		ORDER BY request_count DESC, outcome
	`, cond)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var result []OutcomeSummary
	for rows.Next() {
		var sum OutcomeSummary
		if err := rows.Scan(&sum.Outcome, &sum.RequestCount, &sum.TotalAttempts, &sum.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		result = append(result, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// ClearStats clears all stats or stats for a specific time range
func (s *SQLiteAnalysisStatsStore) ClearStats(ctx context.Context, timeRange TimeRange) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("nil sqlite store")
	}

	cond, args := buildDateCondition(timeRange, time.Now())
	res, err := s.db.ExecContext(ctx, "DELETE FROM analysis_stats WHERE "+cond, args...)
	if err != nil {
		return 0, fmt.Errorf("clear stats: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func buildDateCondition(timeRange TimeRange, now time.Time) (string, []any) {
	switch timeRange {
	case TimeRangeToday:
		return "date = ?", []any{now.Format("2006-01-02")}
	case TimeRangeYesterday:
		return "date = ?", []any{now.AddDate(0, 0, -1).Format("2006-01-02")}
	case TimeRangeWeek:
		weekStart := now.AddDate(0, 0, -int(now.Weekday()))
		return "date >= ?", []any{weekStart.Format("2006-01-02")}
	case TimeRangeMonth:
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return "date >= ?", []any{monthStart.Format("2006-01-02")}
	default:
		return "1=1", nil
	}
}

func normalizeAnalysisStat(stat AnalysisStat) AnalysisStat {
	out := stat
	out.RequestID = strings.TrimSpace(out.RequestID)
	out.Target = strings.TrimSpace(out.Target)
	out.Outcome = strings.TrimSpace(out.Outcome)
	out.Message = strings.TrimSpace(out.Message)
	out.Date = strings.TrimSpace(out.Date)

	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now()
	}
	if out.Date == "" {
		out.Date = out.CreatedAt.Format("2006-01-02")
	}
	if out.Outcome == "" {
		out.Outcome = "unknown"
	}
	if out.Attempts < 0 {
		out.Attempts = 0
	}
	if out.DurationMs < 0 {
		out.DurationMs = 0
	}
	return out
}
