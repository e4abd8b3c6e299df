package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"clinkerplan/internal/logging"
)

// InsertBatch creates the ValidationBatch record inside tx, alongside its
// staging rows.
func InsertBatch(tx *sqlx.Tx, b ValidationBatch) error {
	_, err := tx.Exec(`
		INSERT INTO validation_batch
			(batch_id, source_descriptor, target_table, total_rows, status, warnings)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.BatchID, b.SourceDescriptor, b.TargetTable, b.TotalRows, BatchPending, b.Warnings)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

// GetBatch returns a batch snapshot or ErrBatchNotFound.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*ValidationBatch, error) {
	var b ValidationBatch
	err := s.db.GetContext(ctx, &b, "SELECT * FROM validation_batch WHERE batch_id = ?", batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &b, nil
}

// ListRecentBatches returns the most recent batches, newest first.
func (s *Store) ListRecentBatches(ctx context.Context, limit int) ([]ValidationBatch, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []ValidationBatch
	err := s.db.SelectContext(ctx, &out,
		"SELECT * FROM validation_batch ORDER BY created_at DESC, batch_id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	return out, nil
}

// UpdateBatchValidation writes the validation outcome inside tx: counters,
// status (validated or failed), summary, and the validated_at timestamp.
func UpdateBatchValidation(tx *sqlx.Tx, batchID string, valid, invalid int, status, summary string) error {
	res, err := tx.Exec(`
		UPDATE validation_batch
		SET valid_rows = ?, invalid_rows = ?, status = ?, error_summary = ?, validated_at = ?
		WHERE batch_id = ?`,
		valid, invalid, status, summary, time.Now().UTC(), batchID)
	if err != nil {
		return fmt.Errorf("failed to update batch validation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// MarkBatchPromoted transitions a batch to promoted inside tx.
func MarkBatchPromoted(tx *sqlx.Tx, batchID string) error {
	res, err := tx.Exec(`
		UPDATE validation_batch SET status = ?, promoted_at = ? WHERE batch_id = ? AND status = ?`,
		BatchPromoted, time.Now().UTC(), batchID, BatchValidated)
	if err != nil {
		return fmt.Errorf("failed to mark batch promoted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// PurgeExpiredBatches applies the retention policy: staging rows of batches
// older than the cutoff are deleted and the batch is marked expired.
// Promoted and failed batches both expire; the batch record itself is kept.
func (s *Store) PurgeExpiredBatches(ctx context.Context, olderThan time.Time) (int, error) {
	log := logging.Get(logging.CategoryStore)
	var expired []ValidationBatch
	err := s.db.SelectContext(ctx, &expired, `
		SELECT * FROM validation_batch WHERE created_at < ? AND status != ?`,
		olderThan.UTC(), BatchExpired)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired batches: %w", err)
	}
	count := 0
	for _, b := range expired {
		err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
			if err := DeleteStagingRows(tx, b.TargetTable, b.BatchID); err != nil {
				return err
			}
			if _, err := tx.Exec(
				"UPDATE validation_batch SET status = ? WHERE batch_id = ?", BatchExpired, b.BatchID); err != nil {
				return fmt.Errorf("failed to expire batch: %w", err)
			}
			return nil
		})
		if err != nil {
			log.Warnw("batch expiry failed", "batch_id", b.BatchID, "error", err)
			continue
		}
		count++
	}
	if count > 0 {
		log.Infow("expired batches purged", "count", count)
	}
	return count, nil
}
