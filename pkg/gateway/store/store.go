// Package store archives finalized interview reports in Postgres.
package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/nextstep-labs/interviewd/pkg/gateway/scoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrReportNotFound means no archived report exists for the session.
var ErrReportNotFound = errors.New("report not found")

// ReportRecord is one archived report row.
type ReportRecord struct {
	SessionID       string
	TargetRole      string
	CandidateName   string
	FinalScore      int
	ContentScore    *float64
	BehavioralScore float64
	BehavioralOnly  bool
	TurnCount       int
	Report          scoring.Report
	CreatedAt       time.Time
}

// Store wraps the Postgres connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	s.logger.Info("database migrations applied")
	return nil
}

// ArchiveReport inserts a finalized report. Re-archiving the same session
// overwrites the previous row.
func (s *Store) ArchiveReport(ctx context.Context, sessionID, role, candidate string, report scoring.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	query := `
		INSERT INTO interview_reports (
			session_id, target_role, candidate_name,
			final_score, content_score, behavioral_score,
			behavioral_only, turn_count, report
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			final_score = EXCLUDED.final_score,
			content_score = EXCLUDED.content_score,
			behavioral_score = EXCLUDED.behavioral_score,
			behavioral_only = EXCLUDED.behavioral_only,
			turn_count = EXCLUDED.turn_count,
			report = EXCLUDED.report
	`
	_, err = s.pool.Exec(ctx, query,
		sessionID, role, candidate,
		report.FinalScore, report.ContentScore, report.BehavioralScore,
		report.BehavioralOnly, report.TurnCount, payload)
	if err != nil {
		return fmt.Errorf("insert report %s: %w", sessionID, err)
	}
	return nil
}

// GetReport fetches one archived report by session id.
func (s *Store) GetReport(ctx context.Context, sessionID string) (ReportRecord, error) {
	query := `
		SELECT session_id, target_role, candidate_name,
		       final_score, content_score, behavioral_score,
		       behavioral_only, turn_count, report, created_at
		FROM interview_reports
		WHERE session_id = $1
	`
	var (
		record  ReportRecord
		payload []byte
	)
	err := s.pool.QueryRow(ctx, query, sessionID).Scan(
		&record.SessionID, &record.TargetRole, &record.CandidateName,
		&record.FinalScore, &record.ContentScore, &record.BehavioralScore,
		&record.BehavioralOnly, &record.TurnCount, &payload, &record.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ReportRecord{}, ErrReportNotFound
	}
	if err != nil {
		return ReportRecord{}, fmt.Errorf("select report %s: %w", sessionID, err)
	}
	if err := json.Unmarshal(payload, &record.Report); err != nil {
		return ReportRecord{}, fmt.Errorf("unmarshal report %s: %w", sessionID, err)
	}
	return record, nil
}

// ListReports returns the most recent archived reports, newest first.
func (s *Store) ListReports(ctx context.Context, limit int) ([]ReportRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `
		SELECT session_id, target_role, candidate_name,
		       final_score, content_score, behavioral_score,
		       behavioral_only, turn_count, report, created_at
		FROM interview_reports
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var records []ReportRecord
	for rows.Next() {
		var (
			record  ReportRecord
			payload []byte
		)
		err := rows.Scan(
			&record.SessionID, &record.TargetRole, &record.CandidateName,
			&record.FinalScore, &record.ContentScore, &record.BehavioralScore,
			&record.BehavioralOnly, &record.TurnCount, &payload, &record.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		if err := json.Unmarshal(payload, &record.Report); err != nil {
			return nil, fmt.Errorf("unmarshal report %s: %w", record.SessionID, err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
