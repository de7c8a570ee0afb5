package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/stock-data-pipeline/internal/models"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id      UUID PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	as_of       DATE NOT NULL,
	status      TEXT NOT NULL,
	failures    INTEGER NOT NULL,
	summary     JSONB NOT NULL
)`

// RunRepo keeps one row per finished pipeline run.
type RunRepo struct {
	pool *pgxpool.Pool
}

func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

func (r *RunRepo) EnsureTable(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createRunsTable); err != nil {
		return fmt.Errorf("create pipeline_runs: %w", err)
	}
	return nil
}

// Record stores sum. Recording the same run twice keeps the later summary.
func (r *RunRepo) Record(ctx context.Context, sum *models.RunSummary) error {
	if err := r.EnsureTable(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", sum.RunID, err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (run_id, started_at, finished_at, as_of, status, failures, summary)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (run_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			status = EXCLUDED.status,
			failures = EXCLUDED.failures,
			summary = EXCLUDED.summary`,
		sum.RunID.String(), sum.StartedAt, sum.FinishedAt, sum.AsOf, sum.Status, len(sum.Failures), body,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", sum.RunID, err)
	}
	return nil
}

// Latest returns the most recently started run, or nil when none is recorded.
func (r *RunRepo) Latest(ctx context.Context) (*models.RunSummary, error) {
	var body []byte
	err := r.pool.QueryRow(ctx,
		`SELECT summary FROM pipeline_runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&body)
	if err != nil {
		if noRows(err) || isUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest run: %w", err)
	}
	var sum models.RunSummary
	if err := json.Unmarshal(body, &sum); err != nil {
		return nil, fmt.Errorf("decode run summary: %w", err)
	}
	return &sum, nil
}
