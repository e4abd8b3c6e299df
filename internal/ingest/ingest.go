// Package ingest implements the staged ingestion pipeline: it accepts a
// typed row stream, normalizes column names, infers the target table, and
// writes the rows into staging under a freshly minted batch id. Staging is
// the only path into the canonical tables; there is no direct write path.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"clinkerplan/internal/logging"
	"clinkerplan/internal/store"
)

// Row is one source row with raw values keyed by column name. Values may be
// strings, numbers, bools, or nil; typing is the validator's concern.
type Row map[string]any

// Result reports a completed ingestion.
type Result struct {
	BatchID    string
	Target     string
	RowsStaged int
	Warnings   []string
}

// Boundary errors surfaced to the caller.
var (
	ErrUnknownTarget = errors.New("target table cannot be inferred")
	ErrEmptySource   = errors.New("source contains no rows")
)

// Ingestor owns batch creation and staging writes.
type Ingestor struct {
	store *store.Store
}

// New returns an Ingestor backed by the given store.
func New(s *store.Store) *Ingestor {
	return &Ingestor{store: s}
}

// Ingest stages a row stream. targetTable may be empty, in which case the
// target is inferred from the source descriptor and cross-checked against
// the columns actually present. The batch record and all staging rows are
// written in one transaction; on any failure nothing remains.
func (ing *Ingestor) Ingest(ctx context.Context, rows []Row, targetTable, sourceDescriptor string) (*Result, error) {
	log := logging.Get(logging.CategoryIngest)
	if len(rows) == 0 {
		return nil, ErrEmptySource
	}

	normalized := make([]Row, len(rows))
	for i, r := range rows {
		normalized[i] = normalizeRow(r)
	}

	target, err := resolveTarget(targetTable, sourceDescriptor, normalized[0])
	if err != nil {
		return nil, err
	}
	spec, _ := store.Spec(target)

	// Partition known and unknown columns; unknown columns become batch
	// warnings rather than errors.
	staged := make([]map[string]any, len(normalized))
	unknown := map[string]bool{}
	for i, r := range normalized {
		values := map[string]any{}
		for k, v := range r {
			if lo.Contains(spec.Columns, k) {
				values[k] = v
			} else {
				unknown[k] = true
			}
		}
		staged[i] = values
	}
	warnings := lo.Map(lo.Keys(unknown), func(col string, _ int) string {
		return fmt.Sprintf("unknown column %q ignored", col)
	})

	batchID := uuid.NewString()
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode warnings: %w", err)
	}

	err = ing.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := store.InsertBatch(tx, store.ValidationBatch{
			BatchID:          batchID,
			SourceDescriptor: sourceDescriptor,
			TargetTable:      target,
			TotalRows:        len(staged),
			Warnings:         string(warningsJSON),
		}); err != nil {
			return err
		}
		return store.InsertStagingRows(tx, target, batchID, staged)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stage batch: %w", err)
	}

	log.Infow("batch staged",
		"batch_id", batchID, "target", target, "rows", len(staged),
		"source", sourceDescriptor, "unknown_columns", len(unknown))
	return &Result{
		BatchID:    batchID,
		Target:     target,
		RowsStaged: len(staged),
		Warnings:   warnings,
	}, nil
}

// Status returns a batch snapshot.
func (ing *Ingestor) Status(ctx context.Context, batchID string) (*store.ValidationBatch, error) {
	return ing.store.GetBatch(ctx, batchID)
}

// ListRecent returns the newest batches first.
func (ing *Ingestor) ListRecent(ctx context.Context, limit int) ([]store.ValidationBatch, error) {
	return ing.store.ListRecentBatches(ctx, limit)
}

// normalizeRow rewrites all keys with NormalizeColumn and applies legacy
// column aliases. When both an alias and its canonical name appear, the
// canonical name wins.
func normalizeRow(r Row) Row {
	out := Row{}
	aliased := map[string]any{}
	for k, v := range r {
		name := NormalizeColumn(k)
		if canonical, ok := columnAliases[name]; ok {
			aliased[canonical] = v
			continue
		}
		out[name] = v
	}
	for canonical, v := range aliased {
		if _, exists := out[canonical]; !exists {
			out[canonical] = v
		}
	}
	return out
}

// NormalizeColumn trims, lowercases, and substitutes whitespace runs with a
// single underscore.
func NormalizeColumn(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(name), "_")
}

// columnAliases maps legacy column spellings onto the canonical schema.
// The source systems never agreed on one convention; the canonical side is
// normative and everything else is translated here.
var columnAliases = map[string]string{
	"capacity_tonnes":  "max_capacity_tonnes",
	"capacity":         "max_capacity_tonnes",
	"demand":           "demand_tonnes",
	"demand_qty":       "demand_tonnes",
	"quantity_tonnes":  "demand_tonnes",
	"origin":           "origin_plant_id",
	"origin_id":        "origin_plant_id",
	"destination":      "destination_node_id",
	"destination_id":   "destination_node_id",
	"mode":             "transport_mode",
	"lat":              "latitude",
	"lon":              "longitude",
	"lng":              "longitude",
	"type":             "plant_type",
	"inventory":        "inventory_tonnes",
	"opening_stock":    "inventory_tonnes",
	"vehicle_capacity": "vehicle_capacity_tonnes",
	"sbq":              "sbq_tonnes",
	"min_batch_qty":    "sbq_tonnes",
	"safety_stock":     "safety_stock_tonnes",
	"max_inventory":    "max_inventory_tonnes",
	"customer":         "customer_node_id",
	"customer_id":      "customer_node_id",
	"holding_cost":     "holding_cost_per_tonne",
	"variable_cost":    "variable_cost_per_tonne",
	"fixed_cost":       "fixed_cost_per_period",
}
