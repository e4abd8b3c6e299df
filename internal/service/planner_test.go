package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinkerplan/internal/config"
	"clinkerplan/internal/ingest"
	"clinkerplan/internal/routing"
	"clinkerplan/internal/scenario"
	"clinkerplan/internal/store"
)

func testPlanner(t *testing.T) *Planner {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := config.Default()
	cfg.Solver.Default = "builtin"
	cfg.Solver.TimeLimitSeconds = 30
	cfg.Jobs.WorkerPoolSize = 1

	p, err := New(s, cfg)
	require.NoError(t, err)
	return p
}

// loadTable pushes rows through the full staged pipeline: ingest, validate,
// promote.
func loadTable(t *testing.T, p *Planner, target string, rows []ingest.Row) {
	t.Helper()
	ctx := context.Background()

	res, err := p.Ingest(ctx, rows, target, target+".csv")
	require.NoError(t, err)

	report, err := p.Validate(ctx, res.BatchID)
	require.NoError(t, err)
	require.True(t, report.IsValid, "batch for %s failed validation: %+v", target, report.Errors)

	_, err = p.Promote(ctx, res.BatchID)
	require.NoError(t, err)
}

func loadPlanningFixture(t *testing.T, p *Planner) {
	t.Helper()
	loadTable(t, p, "plants", []ingest.Row{
		{"plant_id": "P1", "name": "Kiln One", "plant_type": "clinker"},
		{"plant_id": "C1", "name": "Metro Depot", "plant_type": "customer"},
	})
	loadTable(t, p, "production_capacity_cost", []ingest.Row{
		{"plant_id": "P1", "period": "2026-01", "max_capacity_tonnes": 200.0, "variable_cost_per_tonne": 10.0},
	})
	loadTable(t, p, "transport_routes", []ingest.Row{
		{"origin_plant_id": "P1", "destination_node_id": "C1", "transport_mode": "road",
			"cost_per_tonne": 5.0, "vehicle_capacity_tonnes": 1000.0},
	})
	loadTable(t, p, "demand_forecast", []ingest.Row{
		{"customer_node_id": "C1", "period": "2026-01", "demand_tonnes": 100.0},
	})
}

func TestSubmitOptimizationRequiresDemand(t *testing.T) {
	p := testPlanner(t)
	_, err := p.SubmitOptimization(context.Background(), OptimizationRequest{})
	assert.ErrorIs(t, err, ErrValidationIncomplete)
}

func TestPipelineEndToEnd(t *testing.T) {
	p := testPlanner(t)
	ctx := context.Background()
	loadPlanningFixture(t, p)

	require.NoError(t, p.Queue().Start(ctx))
	defer p.Queue().Stop()

	jobID, err := p.SubmitOptimization(ctx, OptimizationRequest{
		Scenarios: []scenario.Config{{Name: "base", Type: scenario.TypeBase}},
		UserID:    "tester",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := p.JobStatus(ctx, jobID)
		return err == nil && job.Status == store.JobSuccess
	}, 10*time.Second, 10*time.Millisecond)

	run, err := p.JobResults(ctx, jobID)
	require.NoError(t, err)
	require.True(t, run.ObjectiveValue.Valid)
	assert.InDelta(t, 1500.0, run.ObjectiveValue.Float64, 1e-6)

	periods, agg, err := p.KPIs(ctx, "base")
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.InDelta(t, 1500.0, agg.TotalCost, 1e-6)
	assert.InDelta(t, 1.0, agg.AvgServiceLevel, 1e-9)
}

func TestJobResultsNotReady(t *testing.T) {
	p := testPlanner(t)
	ctx := context.Background()
	loadTable(t, p, "demand_forecast", []ingest.Row{
		{"customer_node_id": "C1", "period": "2026-01", "demand_tonnes": 100.0},
	})

	// Queue not started: the job stays pending.
	jobID, err := p.SubmitOptimization(ctx, OptimizationRequest{})
	require.NoError(t, err)

	_, err = p.JobResults(ctx, jobID)
	assert.ErrorIs(t, err, store.ErrIllegalState)

	require.NoError(t, p.CancelJob(ctx, jobID))
	job, err := p.JobStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCancelled, job.Status)
}

func TestResolveRouteWithoutCoordinates(t *testing.T) {
	p := testPlanner(t)
	loadTable(t, p, "plants", []ingest.Row{
		{"plant_id": "P1", "plant_type": "clinker"},
	})

	_, err := p.ResolveRoute(context.Background(), "P1", "GHOST", "")
	assert.ErrorIs(t, err, routing.ErrCoordinateMissing)
}

func TestBatchStatusAndList(t *testing.T) {
	p := testPlanner(t)
	ctx := context.Background()

	res, err := p.Ingest(ctx, []ingest.Row{
		{"plant_id": "P1", "plant_type": "clinker"},
	}, "plants", "plants.csv")
	require.NoError(t, err)

	b, err := p.BatchStatus(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, store.BatchPending, b.Status)

	batches, err := p.ListBatches(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, batches, 1)

	_, err = p.BatchStatus(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrBatchNotFound)
}
