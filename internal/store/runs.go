package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// InsertRun persists an optimization run record.
func (s *Store) InsertRun(ctx context.Context, r OptimizationRun) error {
	var started, finished any
	if r.StartedAt.Valid {
		started = r.StartedAt.Time.UTC()
	}
	if r.FinishedAt.Valid {
		finished = r.FinishedAt.Time.UTC()
	}
	var objective any
	if r.ObjectiveValue.Valid {
		objective = r.ObjectiveValue.Float64
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO optimization_run
			(run_id, scenario_name, solver_name, solver_status, objective_value,
			 solve_time_seconds, time_limit_seconds, gap_tolerance, result_json,
			 validation_status, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.ScenarioName, r.SolverName, r.SolverStatus, objective,
		r.SolveTimeSeconds, r.TimeLimitSeconds, r.GapTolerance, r.ResultJSON,
		r.ValidationStatus, started, finished)
	if err != nil {
		return fmt.Errorf("failed to insert optimization run: %w", err)
	}
	return nil
}

// GetRun returns one run record or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (*OptimizationRun, error) {
	var r OptimizationRun
	err := s.db.GetContext(ctx, &r, "SELECT * FROM optimization_run WHERE run_id = ?", runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get optimization run: %w", err)
	}
	return &r, nil
}

// ListRunsByScenario returns run records for a scenario, newest first.
func (s *Store) ListRunsByScenario(ctx context.Context, scenario string) ([]OptimizationRun, error) {
	var out []OptimizationRun
	err := s.db.SelectContext(ctx, &out,
		"SELECT * FROM optimization_run WHERE scenario_name = ? ORDER BY started_at DESC", scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to list optimization runs: %w", err)
	}
	return out, nil
}
