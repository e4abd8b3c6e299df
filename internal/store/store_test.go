package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRunsMigrations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, table := range CanonicalTables() {
		n, err := s.TableCount(ctx, table)
		require.NoError(t, err, table)
		assert.Zero(t, n)
	}
	_, err := s.TableCount(ctx, "no_such_table")
	assert.Error(t, err)
}

func TestCanonicalRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPlant(ctx, Plant{
		PlantID: "P1", Name: "Alpha", PlantType: "clinker",
		Latitude:  sql.NullFloat64{Float64: 48.1, Valid: true},
		Longitude: sql.NullFloat64{Float64: 11.5, Valid: true},
		Region:    "south", Country: "DE",
	}))
	require.NoError(t, s.UpsertPlant(ctx, Plant{PlantID: "C1", PlantType: "customer"}))

	// Upsert overwrites non-key attributes.
	require.NoError(t, s.UpsertPlant(ctx, Plant{PlantID: "P1", Name: "Alpha Works", PlantType: "clinker"}))

	plants, err := s.ListPlants(ctx)
	require.NoError(t, err)
	require.Len(t, plants, 2)
	assert.Equal(t, "Alpha Works", plants[1].Name)

	p, err := s.GetPlant(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "clinker", p.PlantType)

	_, err = s.GetPlant(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpsertRoute(ctx, TransportRoute{
		OriginPlantID: "P1", DestinationNodeID: "C1", TransportMode: "road",
		CostPerTonne:          sql.NullFloat64{Float64: 5, Valid: true},
		VehicleCapacityTonnes: 1000, Active: true,
	}))
	require.NoError(t, s.UpsertRoute(ctx, TransportRoute{
		OriginPlantID: "P1", DestinationNodeID: "C1", TransportMode: "rail",
		VehicleCapacityTonnes: 2000, Active: false,
	}))

	routes, err := s.ListActiveRoutes(ctx)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "road", routes[0].TransportMode)

	// Re-promoting a plant must not break the route FK.
	require.NoError(t, s.UpsertPlant(ctx, Plant{PlantID: "P1", Name: "Alpha III", PlantType: "clinker"}))
}

func TestRouteFKEnforced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpsertRoute(ctx, TransportRoute{
		OriginPlantID: "ghost", DestinationNodeID: "C1", TransportMode: "road",
		VehicleCapacityTonnes: 100, Active: true,
	})
	assert.Error(t, err)
}

func TestStagingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows := []map[string]any{
		{"customer_node_id": "C1", "period": "2026-01", "demand_tonnes": 100.0},
		{"customer_node_id": "C2", "period": "2026-01", "demand_tonnes": -5.0},
	}
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := InsertBatch(tx, ValidationBatch{
			BatchID: "b1", TargetTable: TableDemand, TotalRows: 2, Warnings: "[]",
		}); err != nil {
			return err
		}
		return InsertStagingRows(tx, TableDemand, "b1", rows)
	})
	require.NoError(t, err)

	staged, err := s.GetStagingRows(ctx, TableDemand, "b1")
	require.NoError(t, err)
	require.Len(t, staged, 2)
	assert.Equal(t, 1, staged[0].RowNumber)
	assert.Equal(t, VerdictPending, staged[0].Status)
	assert.Equal(t, "C1", staged[0].Values["customer_node_id"])
	assert.InDelta(t, -5.0, staged[1].Values["demand_tonnes"], 1e-9)

	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return WriteVerdicts(tx, TableDemand, "b1", []Verdict{
			{RowNumber: 1, Status: VerdictValid, Errors: "[]"},
			{RowNumber: 2, Status: VerdictInvalid, Errors: `[{"code":"negative_demand"}]`},
		})
	})
	require.NoError(t, err)

	staged, err = s.GetStagingRows(ctx, TableDemand, "b1")
	require.NoError(t, err)
	assert.Equal(t, VerdictValid, staged[0].Status)
	assert.Equal(t, VerdictInvalid, staged[1].Status)
	assert.Contains(t, staged[1].Errors, "negative_demand")
}

func TestBatchLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return InsertBatch(tx, ValidationBatch{
			BatchID: "b1", SourceDescriptor: "demand.csv", TargetTable: TableDemand,
			TotalRows: 3, Warnings: "[]",
		})
	})
	require.NoError(t, err)

	b, err := s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, BatchPending, b.Status)
	assert.Equal(t, 3, b.TotalRows)

	_, err = s.GetBatch(ctx, "nope")
	assert.ErrorIs(t, err, ErrBatchNotFound)

	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return UpdateBatchValidation(tx, "b1", 3, 0, BatchValidated, "")
	})
	require.NoError(t, err)

	b, err = s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, BatchValidated, b.Status)
	assert.True(t, b.ValidatedAt.Valid)

	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return MarkBatchPromoted(tx, "b1")
	})
	require.NoError(t, err)

	b, _ = s.GetBatch(ctx, "b1")
	assert.Equal(t, BatchPromoted, b.Status)
	assert.True(t, b.PromotedAt.Valid)

	// promoting twice affects no rows
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return MarkBatchPromoted(tx, "b1")
	})
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestListRecentBatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
			return InsertBatch(tx, ValidationBatch{BatchID: id, TargetTable: TableDemand, Warnings: "[]"})
		})
		require.NoError(t, err)
	}
	batches, err := s.ListRecentBatches(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "c", batches[0].BatchID)
}

func TestPurgeExpiredBatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := InsertBatch(tx, ValidationBatch{BatchID: "old", TargetTable: TableDemand, TotalRows: 1, Warnings: "[]"}); err != nil {
			return err
		}
		return InsertStagingRows(tx, TableDemand, "old", []map[string]any{
			{"customer_node_id": "C1", "period": "p", "demand_tonnes": 1.0},
		})
	})
	require.NoError(t, err)

	n, err := s.PurgeExpiredBatches(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err := s.GetBatch(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, BatchExpired, b.Status)

	rows, err := s.GetStagingRows(ctx, TableDemand, "old")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestJobTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertJob(ctx, Job{JobID: "j1", JobType: "optimization", ScenarioName: "base"}))

	j, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, JobPending, j.Status)
	assert.False(t, j.StartedAt.Valid)

	// pending → success is illegal
	assert.ErrorIs(t, s.MarkJobSuccess(ctx, "j1", "", ""), ErrIllegalTransition)

	require.NoError(t, s.MarkJobRunning(ctx, "j1"))
	// running → running is illegal
	assert.ErrorIs(t, s.MarkJobRunning(ctx, "j1"), ErrIllegalTransition)

	require.NoError(t, s.UpdateJobProgress(ctx, "j1", 40, "solving"))
	j, _ = s.GetJob(ctx, "j1")
	assert.InDelta(t, 40, j.ProgressPercent, 1e-9)
	assert.Equal(t, "solving", j.ProgressMessage)

	require.NoError(t, s.MarkJobSuccess(ctx, "j1", "run-1", "ok"))
	j, _ = s.GetJob(ctx, "j1")
	assert.Equal(t, JobSuccess, j.Status)
	assert.Equal(t, "run-1", j.ResultRef)
	assert.InDelta(t, 100, j.ProgressPercent, 1e-9)

	// terminal jobs cannot be cancelled
	assert.ErrorIs(t, s.MarkJobCancelled(ctx, "j1"), ErrIllegalTransition)
	// unknown job
	assert.ErrorIs(t, s.MarkJobRunning(ctx, "ghost"), ErrJobNotFound)
}

func TestJobTimestampsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertJob(ctx, Job{JobID: "j1", JobType: "optimization"}))
	require.NoError(t, s.MarkJobRunning(ctx, "j1"))
	require.NoError(t, s.MarkJobFailed(ctx, "j1", "boom"))

	j, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.True(t, j.StartedAt.Valid)
	require.True(t, j.FinishedAt.Valid)
	assert.False(t, j.StartedAt.Time.Before(j.SubmittedAt.Add(-time.Second)))
	assert.False(t, j.FinishedAt.Time.Before(j.StartedAt.Time))
}

func TestFailStaleRunningJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertJob(ctx, Job{JobID: "stale", JobType: "optimization"}))
	require.NoError(t, s.MarkJobRunning(ctx, "stale"))
	require.NoError(t, s.InsertJob(ctx, Job{JobID: "fresh", JobType: "optimization"}))

	n, err := s.FailStaleRunningJobs(ctx, "restart")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	j, _ := s.GetJob(ctx, "stale")
	assert.Equal(t, JobFailed, j.Status)
	assert.Equal(t, "restart", j.ErrorPayload)

	j, _ = s.GetJob(ctx, "fresh")
	assert.Equal(t, JobPending, j.Status)
}

func TestRouteCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetCachedRoute(ctx, "P1", "C1", "driving")
	assert.ErrorIs(t, err, ErrNotFound)

	entry := RouteCacheEntry{
		OriginID: "P1", DestinationID: "C1", Mode: "driving",
		DistanceKM: 120.5, DurationMinutes: 95, Provider: "osrm",
	}
	require.NoError(t, s.PutCachedRoute(ctx, entry))
	require.NoError(t, s.PutCachedRoute(ctx, entry)) // idempotent upsert

	n, err := s.CountCachedRoutes(ctx, "P1", "C1", "driving")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetCachedRoute(ctx, "P1", "C1", "driving")
	require.NoError(t, err)
	assert.InDelta(t, 120.5, got.DistanceKM, 1e-9)
	assert.Equal(t, "osrm", got.Provider)

	// expired entries behave as absent
	expired := entry
	expired.DestinationID = "C2"
	expired.ExpiresAt = sql.NullTime{Time: time.Now().Add(-time.Hour), Valid: true}
	require.NoError(t, s.PutCachedRoute(ctx, expired))
	_, err = s.GetCachedRoute(ctx, "P1", "C2", "driving")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKPIReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	periods := []KPIPerPeriod{
		{ScenarioName: "base", Period: "2026-01", TotalCost: 1500, ServiceLevel: 1},
		{ScenarioName: "base", Period: "2026-02", TotalCost: 1800, ServiceLevel: 0.9},
	}
	agg := KPIAggregated{ScenarioName: "base", RunID: "r1", TotalCost: 3300, AvgServiceLevel: 0.95, Periods: 2}
	require.NoError(t, s.ReplaceKPIs(ctx, "base", periods, agg))

	// Re-materializing the same scenario overwrites.
	agg.TotalCost = 3000
	require.NoError(t, s.ReplaceKPIs(ctx, "base", periods[:1], agg))

	got, err := s.GetKPIPerPeriod(ctx, "base")
	require.NoError(t, err)
	require.Len(t, got, 1)

	a, err := s.GetKPIAggregated(ctx, "base")
	require.NoError(t, err)
	assert.InDelta(t, 3000, a.TotalCost, 1e-9)

	_, err = s.GetKPIAggregated(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.InsertRun(ctx, OptimizationRun{
		RunID: "r1", ScenarioName: "base", SolverName: "builtin", SolverStatus: "optimal",
		ObjectiveValue:   sql.NullFloat64{Float64: 1500, Valid: true},
		SolveTimeSeconds: 0.2, TimeLimitSeconds: 600, GapTolerance: 0.01,
		StartedAt:  sql.NullTime{Time: now, Valid: true},
		FinishedAt: sql.NullTime{Time: now, Valid: true},
	}))

	r, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "optimal", r.SolverStatus)
	require.True(t, r.ObjectiveValue.Valid)
	assert.InDelta(t, 1500, r.ObjectiveValue.Float64, 1e-9)

	runs, err := s.ListRunsByScenario(ctx, "base")
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
