// Package promote moves a validated batch's rows from staging into the
// canonical tables. Promotion is all-or-nothing and repeat-safe at the
// canonical level: valid rows are upserted by natural key, so promoting
// updated reference data overwrites prior values without duplicating.
package promote

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"clinkerplan/internal/logging"
	"clinkerplan/internal/store"
)

// Promoter applies validated batches.
type Promoter struct {
	store *store.Store
}

func New(s *store.Store) *Promoter {
	return &Promoter{store: s}
}

// Result summarizes one promotion.
type Result struct {
	BatchID      string
	TargetTable  string
	RowsPromoted int
}

// Promote upserts every valid staging row of a validated batch into its
// canonical table and marks the batch promoted, all in one transaction.
// Batches with any invalid rows are rejected; re-validate after fixing the
// source instead. A failure mid-promotion leaves the batch validated and
// the canonical table untouched.
func (p *Promoter) Promote(ctx context.Context, batchID string) (*Result, error) {
	log := logging.Get(logging.CategoryPromote)

	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != store.BatchValidated {
		return nil, fmt.Errorf("%w: batch %s is %s, only validated batches can be promoted",
			store.ErrIllegalState, batchID, batch.Status)
	}
	if batch.InvalidRows > 0 {
		return nil, fmt.Errorf("%w: batch %s has %d invalid rows",
			store.ErrIllegalState, batchID, batch.InvalidRows)
	}

	rows, err := p.store.GetStagingRows(ctx, batch.TargetTable, batchID)
	if err != nil {
		return nil, err
	}

	res := &Result{BatchID: batchID, TargetTable: batch.TargetTable}
	err = p.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, row := range rows {
			if row.Status != store.VerdictValid {
				continue
			}
			if err := store.UpsertRow(tx, batch.TargetTable, row.Values); err != nil {
				return fmt.Errorf("row %d: %w", row.RowNumber, err)
			}
			res.RowsPromoted++
		}
		return store.MarkBatchPromoted(tx, batchID)
	})
	if err != nil {
		res.RowsPromoted = 0
		return nil, fmt.Errorf("promotion of batch %s failed: %w", batchID, err)
	}

	log.Infow("batch promoted",
		"batch_id", batchID, "target", batch.TargetTable, "rows", res.RowsPromoted)
	return res, nil
}
