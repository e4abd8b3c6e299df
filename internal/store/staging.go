package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// StagingRow is one staged row read back for validation or promotion.
// Values holds the payload columns keyed by canonical column name; nil
// values are columns the source did not supply.
type StagingRow struct {
	RowNumber int
	Status    string
	Errors    string
	Values    map[string]any
}

// InsertStagingRows writes rows into the staging twin of table inside tx.
// Row numbering is 1-based in source order.
func InsertStagingRows(tx *sqlx.Tx, table, batchID string, rows []map[string]any) error {
	spec, ok := Spec(table)
	if !ok {
		return fmt.Errorf("unknown canonical table %q", table)
	}
	cols := append([]string{"batch_id", "source_row_number"}, spec.Columns...)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		spec.Staging, strings.Join(cols, ", "), placeholders)

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare staging insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		args := make([]any, 0, len(cols))
		args = append(args, batchID, i+1)
		for _, c := range spec.Columns {
			args = append(args, row[c])
		}
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("failed to stage row %d: %w", i+1, err)
		}
	}
	return nil
}

// GetStagingRows reads back all staged rows for a batch in source order.
func (s *Store) GetStagingRows(ctx context.Context, table, batchID string) ([]StagingRow, error) {
	spec, ok := Spec(table)
	if !ok {
		return nil, fmt.Errorf("unknown canonical table %q", table)
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE batch_id = ? ORDER BY source_row_number", spec.Staging)
	rows, err := s.db.QueryxContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to read staging rows: %w", err)
	}
	defer rows.Close()

	var out []StagingRow
	for rows.Next() {
		raw := map[string]any{}
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("failed to scan staging row: %w", err)
		}
		sr := StagingRow{Values: map[string]any{}}
		for k, v := range raw {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			switch k {
			case "batch_id":
			case "source_row_number":
				sr.RowNumber = int(asInt64(v))
			case "validation_status":
				sr.Status, _ = v.(string)
			case "errors":
				sr.Errors, _ = v.(string)
			default:
				sr.Values[k] = v
			}
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

// Verdict is a per-row validation outcome written back to staging.
type Verdict struct {
	RowNumber int
	Status    string // valid | invalid
	Errors    string // JSON issue list
}

// WriteVerdicts overwrites per-row verdicts for a batch. Re-validation is
// idempotent because every row is rewritten.
func WriteVerdicts(tx *sqlx.Tx, table, batchID string, verdicts []Verdict) error {
	spec, ok := Spec(table)
	if !ok {
		return fmt.Errorf("unknown canonical table %q", table)
	}
	query := fmt.Sprintf(
		"UPDATE %s SET validation_status = ?, errors = ? WHERE batch_id = ? AND source_row_number = ?",
		spec.Staging)
	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare verdict update: %w", err)
	}
	defer stmt.Close()
	for _, v := range verdicts {
		if _, err := stmt.Exec(v.Status, v.Errors, batchID, v.RowNumber); err != nil {
			return fmt.Errorf("failed to write verdict for row %d: %w", v.RowNumber, err)
		}
	}
	return nil
}

// DeleteStagingRows removes all staged rows of a batch inside tx. Used by
// the retention sweep and after successful promotion when retention is zero.
func DeleteStagingRows(tx *sqlx.Tx, table, batchID string) error {
	spec, ok := Spec(table)
	if !ok {
		return fmt.Errorf("unknown canonical table %q", table)
	}
	if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE batch_id = ?", spec.Staging), batchID); err != nil {
		return fmt.Errorf("failed to delete staging rows: %w", err)
	}
	return nil
}
