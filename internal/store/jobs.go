package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrIllegalTransition is returned when a job status update violates the
// pending → running → {success, failed, cancelled} graph.
var ErrIllegalTransition = errors.New("illegal job status transition")

// InsertJob persists a new pending job.
func (s *Store) InsertJob(ctx context.Context, j Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, job_type, status, scenario_name, user_id, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		j.JobID, j.JobType, JobPending, j.ScenarioName, j.UserID, j.Payload)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob returns the full job record or ErrJobNotFound.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var j Job
	err := s.db.GetContext(ctx, &j, "SELECT * FROM jobs WHERE job_id = ?", jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &j, nil
}

// ListJobs returns recent jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []Job
	err := s.db.SelectContext(ctx, &out,
		"SELECT * FROM jobs ORDER BY submitted_at DESC, job_id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return out, nil
}

// transition performs a guarded status update. The WHERE clause encodes the
// permitted source states so concurrent movers serialize on the row: the
// loser of a race affects zero rows and gets ErrIllegalTransition.
func (s *Store) transition(ctx context.Context, jobID, to string, from []string, set string, args ...any) error {
	query := "UPDATE jobs SET status = ?" + set + " WHERE job_id = ? AND status IN (?"
	for i := 1; i < len(from); i++ {
		query += ", ?"
	}
	query += ")"

	full := append([]any{to}, args...)
	full = append(full, jobID)
	for _, f := range from {
		full = append(full, f)
	}
	res, err := s.db.ExecContext(ctx, query, full...)
	if err != nil {
		return fmt.Errorf("failed job transition to %s: %w", to, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return ErrIllegalTransition
	}
	return nil
}

// MarkJobRunning moves pending → running and stamps started_at.
func (s *Store) MarkJobRunning(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, JobRunning, []string{JobPending},
		", started_at = ?", time.Now().UTC())
}

// MarkJobSuccess moves running → success with result pointers.
func (s *Store) MarkJobSuccess(ctx context.Context, jobID, resultRef, resultSummary string) error {
	return s.transition(ctx, jobID, JobSuccess, []string{JobRunning},
		", finished_at = ?, result_ref = ?, result_summary = ?, progress_percent = 100",
		time.Now().UTC(), resultRef, resultSummary)
}

// MarkJobFailed moves running → failed with an error payload.
func (s *Store) MarkJobFailed(ctx context.Context, jobID, errorPayload string) error {
	return s.transition(ctx, jobID, JobFailed, []string{JobRunning},
		", finished_at = ?, error_payload = ?", time.Now().UTC(), errorPayload)
}

// MarkJobCancelled moves pending or running → cancelled.
func (s *Store) MarkJobCancelled(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, JobCancelled, []string{JobPending, JobRunning},
		", finished_at = ?", time.Now().UTC())
}

// UpdateJobProgress is a best-effort progress write; it only applies while
// the job is running and losing an update is acceptable.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID string, percent float64, message string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET progress_percent = ?, progress_message = ? WHERE job_id = ? AND status = ?`,
		percent, message, jobID, JobRunning)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// FailStaleRunningJobs marks all running jobs failed. Called once at
// startup: a job found running at boot was orphaned by a crash.
func (s *Store) FailStaleRunningJobs(ctx context.Context, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, finished_at = ?, error_payload = ? WHERE status = ?`,
		JobFailed, time.Now().UTC(), reason, JobRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
