// Package store is the decision ledger: one row per resolved approval gate.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/mlops/mlops/internal/models"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	RecordDecision(ctx context.Context, d models.Decision) (models.Decision, error)
	ListDecisions(ctx context.Context, filter ListDecisionsFilter) ([]models.Decision, error)
	GetDecisionByExecution(ctx context.Context, executionID string) (models.Decision, error)
	Ping(ctx context.Context) error
}

type ListDecisionsFilter struct {
	PipelineName string
	Status       models.ApprovalStatus
	Limit        int
	Offset       int
}

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// EnsureSchema creates the decision table when it does not exist yet.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS gate_decisions (
  id uuid PRIMARY KEY,
  pipeline_name text NOT NULL,
  model_name text NOT NULL,
  execution_id text NOT NULL UNIQUE,
  job_name text NOT NULL,
  job_status text NOT NULL,
  status text NOT NULL,
  summary text NOT NULL,
  rmse double precision,
  threshold double precision NOT NULL,
  decided_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gate_decisions_decided_at ON gate_decisions (decided_at DESC);
`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure gate_decisions: %w", err)
	}
	return nil
}

const decisionColumns = `id, pipeline_name, model_name, execution_id, job_name, job_status, status, summary, rmse, threshold, decided_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(row rowScanner) (models.Decision, error) {
	var (
		d         models.Decision
		jobStatus string
		status    string
		rmse      sql.NullFloat64
	)
	if err := row.Scan(
		&d.ID,
		&d.PipelineName,
		&d.ModelName,
		&d.ExecutionID,
		&d.JobName,
		&jobStatus,
		&status,
		&d.Summary,
		&rmse,
		&d.Threshold,
		&d.DecidedAt,
	); err != nil {
		return models.Decision{}, err
	}
	d.JobStatus = models.ProcessingStatus(jobStatus)
	d.Status = models.ApprovalStatus(status)
	if rmse.Valid {
		v := rmse.Float64
		d.RMSE = &v
	}
	d.DecidedAt = d.DecidedAt.UTC()
	return d, nil
}

// RecordDecision stores d. A second decision for the same execution replaces
// the first.
func (s *PGStore) RecordDecision(ctx context.Context, d models.Decision) (models.Decision, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	var rmse sql.NullFloat64
	if d.RMSE != nil {
		rmse = sql.NullFloat64{Float64: *d.RMSE, Valid: true}
	}
	query := `
		INSERT INTO gate_decisions (` + decisionColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (execution_id) DO UPDATE
		  SET job_status = EXCLUDED.job_status,
		      status = EXCLUDED.status,
		      summary = EXCLUDED.summary,
		      rmse = EXCLUDED.rmse,
		      threshold = EXCLUDED.threshold,
		      decided_at = EXCLUDED.decided_at
		RETURNING ` + decisionColumns
	row := s.db.QueryRowContext(ctx, query,
		d.ID, d.PipelineName, d.ModelName, d.ExecutionID, d.JobName,
		string(d.JobStatus), string(d.Status), d.Summary, rmse, d.Threshold, d.DecidedAt,
	)
	out, err := scanDecision(row)
	if err != nil {
		return models.Decision{}, fmt.Errorf("insert gate decision: %w", err)
	}
	return out, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func (s *PGStore) ListDecisions(ctx context.Context, filter ListDecisionsFilter) ([]models.Decision, error) {
	query := `
		SELECT ` + decisionColumns + `
		FROM gate_decisions
		WHERE 1=1
	`
	args := []interface{}{}
	argPos := 1
	if filter.PipelineName != "" {
		query += fmt.Sprintf(" AND pipeline_name = $%d", argPos)
		args = append(args, filter.PipelineName)
		argPos++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, string(filter.Status))
		argPos++
	}
	query += " ORDER BY decided_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argPos)
	args = append(args, normalizeLimit(filter.Limit))
	argPos++
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list gate decisions: %w", err)
	}
	defer rows.Close()

	var decisions []models.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan gate decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return decisions, nil
}

func (s *PGStore) GetDecisionByExecution(ctx context.Context, executionID string) (models.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM gate_decisions WHERE execution_id = $1`
	d, err := scanDecision(s.db.QueryRowContext(ctx, query, executionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Decision{}, ErrNotFound
		}
		return models.Decision{}, fmt.Errorf("get gate decision: %w", err)
	}
	return d, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
