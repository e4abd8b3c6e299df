package validate

import (
	"context"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinkerplan/internal/ingest"
	"clinkerplan/internal/store"
)

func setup(t *testing.T) (*Validator, *ingest.Ingestor, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s), ingest.New(s), s
}

func stage(t *testing.T, ing *ingest.Ingestor, target string, rows []ingest.Row) string {
	t.Helper()
	res, err := ing.Ingest(context.Background(), rows, target, "test.csv")
	require.NoError(t, err)
	return res.BatchID
}

func TestValidateDemandNegative(t *testing.T) {
	v, ing, s := setup(t)
	ctx := context.Background()

	batchID := stage(t, ing, store.TableDemand, []ingest.Row{
		{"customer_node_id": "C1", "period": "2026-01", "demand_tonnes": 100},
		{"customer_node_id": "C2", "period": "2026-01", "demand_tonnes": -10},
		{"customer_node_id": "C3", "period": "2026-01", "demand_tonnes": 50},
	})

	report, err := v.Validate(ctx, batchID)
	require.NoError(t, err)
	assert.False(t, report.IsValid)
	assert.Equal(t, 2, report.ValidRows)
	assert.Equal(t, 1, report.InvalidRows)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, StageBusiness, report.Errors[0].Stage)
	assert.Equal(t, "negative_demand", report.Errors[0].Code)
	assert.Equal(t, 2, report.Errors[0].RowNumber)

	b, err := s.GetBatch(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, store.BatchFailed, b.Status)
	assert.Equal(t, 1, b.InvalidRows)
	assert.Contains(t, b.ErrorSummary, "negative_demand")
}

func TestValidateCompleteness(t *testing.T) {
	v, ing, s := setup(t)
	ctx := context.Background()

	batchID := stage(t, ing, store.TableDemand, []ingest.Row{
		{"customer_node_id": "C1", "period": "p1", "demand_tonnes": 1},
		{"customer_node_id": "", "period": "p1", "demand_tonnes": "not-a-number"},
	})
	report, err := v.Validate(ctx, batchID)
	require.NoError(t, err)

	rows, err := s.GetStagingRows(ctx, store.TableDemand, batchID)
	require.NoError(t, err)
	stages := []string{StageSchema, StageBusiness, StageReferential, StageUnits, StageMissing}
	for _, r := range rows {
		assert.Contains(t, []string{store.VerdictValid, store.VerdictInvalid}, r.Status)
		if r.Status == store.VerdictInvalid {
			assert.NotEqual(t, "[]", r.Errors)
		}
	}
	for _, is := range append(report.Errors, report.Warnings...) {
		assert.Contains(t, stages, is.Stage)
	}
}

func TestValidateIdempotent(t *testing.T) {
	v, ing, _ := setup(t)
	ctx := context.Background()

	batchID := stage(t, ing, store.TableDemand, []ingest.Row{
		{"customer_node_id": "C1", "period": "p1", "demand_tonnes": -1},
		{"customer_node_id": "C2", "period": "p1", "demand_tonnes": 5},
	})

	first, err := v.Validate(ctx, batchID)
	require.NoError(t, err)
	second, err := v.Validate(ctx, batchID)
	require.NoError(t, err)

	assert.Equal(t, first.IsValid, second.IsValid)
	assert.Equal(t, first.ValidRows, second.ValidRows)
	assert.Equal(t, first.InvalidRows, second.InvalidRows)
	assert.Equal(t, first.Errors, second.Errors)
	assert.Equal(t, first.Warnings, second.Warnings)
	assert.Equal(t, first.RowVerdicts, second.RowVerdicts)
	assert.Equal(t, first.ErrorCSV, second.ErrorCSV)
}

func TestValidateSchemaStage(t *testing.T) {
	v, ing, _ := setup(t)
	ctx := context.Background()

	batchID := stage(t, ing, store.TablePlants, []ingest.Row{
		{"plant_id": "P1", "plant_type": "clinker"},
		{"plant_id": "P2", "plant_type": "warehouse"}, // bad enum
		{"plant_type": "terminal"},                    // missing id
	})
	report, err := v.Validate(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ValidRows)
	assert.Equal(t, 2, report.InvalidRows)

	codes := lo.Map(report.Errors, func(is Issue, _ int) string { return is.Code })
	assert.Contains(t, codes, "invalid_enum")
	assert.Contains(t, codes, "missing_required")
}

func TestValidateRouteRules(t *testing.T) {
	v, ing, _ := setup(t)
	ctx := context.Background()

	batchID := stage(t, ing, store.TableRoutes, []ingest.Row{
		// self loop
		{"origin_plant_id": "P1", "destination_node_id": "P1", "transport_mode": "road", "vehicle_capacity_tonnes": 100},
		// SBQ above vehicle capacity
		{"origin_plant_id": "P1", "destination_node_id": "C1", "transport_mode": "road", "vehicle_capacity_tonnes": 100, "sbq_tonnes": 150},
		// active without vehicle capacity
		{"origin_plant_id": "P1", "destination_node_id": "C2", "transport_mode": "road", "active": true},
		// inactive: no capacity needed
		{"origin_plant_id": "P1", "destination_node_id": "C3", "transport_mode": "road", "active": false},
		// fine, but no transport cost -> warning
		{"origin_plant_id": "P1", "destination_node_id": "C4", "transport_mode": "road", "vehicle_capacity_tonnes": 100, "cost_per_tonne": 5},
	})
	report, err := v.Validate(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, 3, report.InvalidRows)
	assert.Equal(t, 2, report.ValidRows)

	codes := lo.Map(report.Errors, func(is Issue, _ int) string { return is.Code })
	assert.Contains(t, codes, "self_loop")
	assert.Contains(t, codes, "sbq_exceeds_capacity")
	assert.Contains(t, codes, "nonpositive_vehicle_capacity")

	warnCodes := lo.Map(report.Warnings, func(is Issue, _ int) string { return is.Code })
	assert.Contains(t, warnCodes, "no_transport_cost")
}

func TestValidateReferentialBootstrap(t *testing.T) {
	v, ing, s := setup(t)
	ctx := context.Background()

	// Plants table empty: referential stage skipped entirely.
	batchID := stage(t, ing, store.TableCapacity, []ingest.Row{
		{"plant_id": "P9", "period": "p1", "max_capacity_tonnes": 100, "variable_cost_per_tonne": 120},
	})
	report, err := v.Validate(ctx, batchID)
	require.NoError(t, err)
	assert.True(t, report.IsValid)

	// With a canonical plant present, unknown references are errors.
	require.NoError(t, s.UpsertPlant(ctx, store.Plant{PlantID: "P1", PlantType: "clinker"}))
	batchID = stage(t, ing, store.TableCapacity, []ingest.Row{
		{"plant_id": "P1", "period": "p1", "max_capacity_tonnes": 100, "variable_cost_per_tonne": 120},
		{"plant_id": "P9", "period": "p1", "max_capacity_tonnes": 100, "variable_cost_per_tonne": 120},
	})
	report, err = v.Validate(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.InvalidRows)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, StageReferential, report.Errors[0].Stage)
	assert.Equal(t, "unknown_reference", report.Errors[0].Code)
}

func TestValidateWarningsDoNotInvalidate(t *testing.T) {
	v, ing, _ := setup(t)
	ctx := context.Background()

	batchID := stage(t, ing, store.TableCapacity, []ingest.Row{
		// Cheap production cost: warning only.
		{"plant_id": "P1", "period": "p1", "max_capacity_tonnes": 100, "variable_cost_per_tonne": 5},
	})
	report, err := v.Validate(ctx, batchID)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Empty(t, report.Errors)
	require.NotEmpty(t, report.Warnings)
	assert.Equal(t, "suspiciously_low_cost", report.Warnings[0].Code)
}

func TestValidateHoldingCostDrift(t *testing.T) {
	v, ing, _ := setup(t)
	ctx := context.Background()

	batchID := stage(t, ing, store.TableCapacity, []ingest.Row{
		{"plant_id": "P1", "period": "p1", "max_capacity_tonnes": 10, "variable_cost_per_tonne": 120, "holding_cost_per_tonne": 1},
		{"plant_id": "P1", "period": "p2", "max_capacity_tonnes": 10, "variable_cost_per_tonne": 120, "holding_cost_per_tonne": 2},
	})
	report, err := v.Validate(ctx, batchID)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	codes := lo.Map(report.Warnings, func(is Issue, _ int) string { return is.Code })
	assert.Contains(t, codes, "holding_cost_drift")
}

func TestValidateDemandBands(t *testing.T) {
	v, ing, _ := setup(t)
	ctx := context.Background()

	batchID := stage(t, ing, store.TableDemand, []ingest.Row{
		{"customer_node_id": "C1", "period": "p1", "demand_tonnes": 100, "demand_low": 150, "confidence": 1.5},
	})
	report, err := v.Validate(ctx, batchID)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	codes := lo.Map(report.Warnings, func(is Issue, _ int) string { return is.Code })
	assert.Contains(t, codes, "band_inverted")
	assert.Contains(t, codes, "confidence_out_of_range")
}

func TestValidateErrorCSV(t *testing.T) {
	v, ing, _ := setup(t)
	ctx := context.Background()

	batchID := stage(t, ing, store.TableDemand, []ingest.Row{
		{"customer_node_id": "C1", "period": "p1", "demand_tonnes": -2},
	})
	report, err := v.Validate(ctx, batchID)
	require.NoError(t, err)
	assert.Contains(t, report.ErrorCSV, "batch_id,row,stage,field,code,severity,message,raw_value")
	assert.Contains(t, report.ErrorCSV, "negative_demand")
}

func TestValidateUnknownBatch(t *testing.T) {
	v, _, _ := setup(t)
	_, err := v.Validate(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrBatchNotFound)
}
