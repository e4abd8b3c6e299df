// Package validate implements the five-stage validation sweep over a staged
// batch: schema, business rules, referential integrity, unit consistency,
// and a missing-data scan. The validator collects issues and never raises
// for data problems; only state and storage failures surface as errors.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"clinkerplan/internal/logging"
	"clinkerplan/internal/store"
)

// Validator executes the validation pipeline for one batch at a time.
type Validator struct {
	store *store.Store
}

// New returns a Validator backed by the given store.
func New(s *store.Store) *Validator {
	return &Validator{store: s}
}

// rowState carries one staged row through the stages.
type rowState struct {
	batchID string
	row     store.StagingRow
	// parsed holds typed values after the schema stage: string, float64,
	// or bool keyed by canonical column.
	parsed map[string]any
	issues []Issue
}

func (r *rowState) add(severity, stage, field, code, message string, raw any) {
	rawStr := ""
	if raw != nil {
		rawStr = fmt.Sprintf("%v", raw)
	}
	r.issues = append(r.issues, Issue{
		BatchID:   r.batchID,
		RowNumber: r.row.RowNumber,
		Stage:     stage,
		Field:     field,
		Code:      code,
		Message:   message,
		RawValue:  rawStr,
		Severity:  severity,
	})
}

func (r *rowState) addError(stage, field, code, message string, raw any) {
	r.add(SeverityError, stage, field, code, message, raw)
}

func (r *rowState) addWarning(stage, field, code, message string, raw any) {
	r.add(SeverityWarning, stage, field, code, message, raw)
}

func (r *rowState) hasErrors() bool {
	for _, is := range r.issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}

// num returns a parsed numeric column value.
func (r *rowState) num(col string) (float64, bool) {
	v, ok := r.parsed[col].(float64)
	return v, ok
}

// str returns a parsed string column value.
func (r *rowState) str(col string) (string, bool) {
	v, ok := r.parsed[col].(string)
	return v, ok
}

// tableContext holds per-batch reference data shared by all rows.
type tableContext struct {
	spec store.TableSpec
	// plantIDs is nil when the canonical plants table is empty, which
	// skips referential checks to permit bootstrapping.
	plantIDs map[string]bool
	// capacityPeriods is nil when no canonical capacity rows exist.
	capacityPeriods map[string]bool
}

// Validate runs the full sweep for a batch, writes per-row verdicts and the
// batch outcome, and returns the report. Re-validation is idempotent: all
// verdicts and counters are overwritten.
func (v *Validator) Validate(ctx context.Context, batchID string) (*Report, error) {
	log := logging.Get(logging.CategoryValidate)

	batch, err := v.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	switch batch.Status {
	case store.BatchPromoted, store.BatchExpired:
		return nil, fmt.Errorf("%w: batch %s is %s", store.ErrIllegalState, batchID, batch.Status)
	}

	rows, err := v.store.GetStagingRows(ctx, batch.TargetTable, batchID)
	if err != nil {
		return nil, err
	}

	tctx, err := v.buildContext(ctx, batch.TargetTable)
	if err != nil {
		return nil, err
	}

	report := &Report{
		BatchID:     batchID,
		TargetTable: batch.TargetTable,
		TotalRows:   len(rows),
		RowVerdicts: map[int]string{},
	}
	verdicts := make([]store.Verdict, 0, len(rows))

	for _, row := range rows {
		rs := &rowState{batchID: batchID, row: row, parsed: map[string]any{}}

		// A stage may record errors without stopping later stages; every
		// stage sees the same row.
		runSchemaStage(tctx, rs)
		runBusinessStage(tctx, rs)
		runReferentialStage(tctx, rs)
		runUnitsStage(tctx, rs)
		runMissingDataStage(tctx, rs)

		verdict := store.VerdictValid
		if rs.hasErrors() {
			verdict = store.VerdictInvalid
			report.InvalidRows++
		} else {
			report.ValidRows++
		}
		report.RowVerdicts[row.RowNumber] = verdict

		for _, is := range rs.issues {
			if is.Severity == SeverityError {
				report.Errors = append(report.Errors, is)
			} else {
				report.Warnings = append(report.Warnings, is)
			}
		}

		errJSON, err := json.Marshal(rs.issues)
		if err != nil {
			return nil, fmt.Errorf("failed to encode issues: %w", err)
		}
		verdicts = append(verdicts, store.Verdict{
			RowNumber: row.RowNumber,
			Status:    verdict,
			Errors:    string(errJSON),
		})
	}

	// The planner consumes one holding cost per plant (the first period's
	// value), so per-period holding costs that disagree within a batch get
	// flagged on the first row of each offending plant.
	if batch.TargetTable == store.TableCapacity {
		report.Warnings = append(report.Warnings, holdingCostDrift(batchID, rows)...)
	}

	report.IsValid = report.InvalidRows == 0 && len(report.Errors) == 0
	all := append(append([]Issue{}, report.Errors...), report.Warnings...)
	report.ErrorCSV, err = buildErrorCSV(all)
	if err != nil {
		return nil, err
	}

	status := store.BatchFailed
	if report.IsValid {
		status = store.BatchValidated
	}
	err = v.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := store.WriteVerdicts(tx, batch.TargetTable, batchID, verdicts); err != nil {
			return err
		}
		return store.UpdateBatchValidation(tx, batchID,
			report.ValidRows, report.InvalidRows, status, summarize(report.Errors))
	})
	if err != nil {
		return nil, err
	}

	log.Infow("batch validated",
		"batch_id", batchID, "target", batch.TargetTable, "status", status,
		"valid", report.ValidRows, "invalid", report.InvalidRows,
		"errors", len(report.Errors), "warnings", len(report.Warnings))
	return report, nil
}

// buildContext preloads canonical reference sets for the stages. Empty
// reference tables yield nil sets, which the stages treat as "skip".
func (v *Validator) buildContext(ctx context.Context, target string) (*tableContext, error) {
	spec, _ := store.Spec(target)
	tctx := &tableContext{spec: spec}

	plants, err := v.store.ListPlants(ctx)
	if err != nil {
		return nil, err
	}
	if len(plants) > 0 {
		tctx.plantIDs = map[string]bool{}
		for _, p := range plants {
			tctx.plantIDs[p.PlantID] = true
		}
	}

	if target == store.TableDemand {
		caps, err := v.store.ListCapacities(ctx)
		if err != nil {
			return nil, err
		}
		if len(caps) > 0 {
			tctx.capacityPeriods = map[string]bool{}
			for _, c := range caps {
				tctx.capacityPeriods[c.Period] = true
			}
		}
	}
	return tctx, nil
}

// holdingCostDrift warns when a plant's holding cost varies across periods
// within one capacity batch.
func holdingCostDrift(batchID string, rows []store.StagingRow) []Issue {
	type seen struct {
		value float64
		row   int
	}
	first := map[string]seen{}
	var issues []Issue
	warned := map[string]bool{}
	for _, r := range rows {
		plant, _ := r.Values["plant_id"].(string)
		hc, ok := toFloat(r.Values["holding_cost_per_tonne"])
		if plant == "" || !ok {
			continue
		}
		prev, have := first[plant]
		if !have {
			first[plant] = seen{value: hc, row: r.RowNumber}
			continue
		}
		if hc != prev.value && !warned[plant] {
			warned[plant] = true
			issues = append(issues, Issue{
				BatchID:   batchID,
				RowNumber: r.RowNumber,
				Stage:     StageMissing,
				Field:     "holding_cost_per_tonne",
				Code:      "holding_cost_drift",
				Message:   "holding cost varies across periods; the planner uses the first period's value",
				RawValue:  "",
				Severity:  SeverityWarning,
			})
		}
	}
	return issues
}

// summarize compresses the error list into the batch error_summary column.
func summarize(errs []Issue) string {
	if len(errs) == 0 {
		return ""
	}
	const maxShown = 5
	parts := make([]string, 0, maxShown+1)
	for i, e := range errs {
		if i == maxShown {
			parts = append(parts, fmt.Sprintf("... and %d more", len(errs)-maxShown))
			break
		}
		parts = append(parts, fmt.Sprintf("row %d [%s/%s]: %s", e.RowNumber, e.Stage, e.Code, e.Message))
	}
	return strings.Join(parts, "; ")
}
