package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinkerplan/internal/store"
)

func newIngestor(t *testing.T) (*Ingestor, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func TestNormalizeColumn(t *testing.T) {
	assert.Equal(t, "demand_tonnes", NormalizeColumn("  Demand Tonnes "))
	assert.Equal(t, "plant_id", NormalizeColumn("Plant  ID"))
	assert.Equal(t, "max_capacity_tonnes", NormalizeColumn("max_capacity_tonnes"))
}

func TestIngestDemandExplicitTarget(t *testing.T) {
	ing, s := newIngestor(t)
	ctx := context.Background()

	rows := []Row{
		{"Customer Node ID": "C1", "Period": "2026-01", "Demand Tonnes": 100},
		{"Customer Node ID": "C2", "Period": "2026-01", "Demand Tonnes": 50},
	}
	res, err := ing.Ingest(ctx, rows, store.TableDemand, "upload.bin")
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsStaged)
	assert.Equal(t, store.TableDemand, res.Target)

	b, err := s.GetBatch(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, store.BatchPending, b.Status)
	assert.Equal(t, 2, b.TotalRows)

	staged, err := s.GetStagingRows(ctx, store.TableDemand, res.BatchID)
	require.NoError(t, err)
	require.Len(t, staged, 2)
	assert.Equal(t, "C1", staged[0].Values["customer_node_id"])
}

func TestIngestInfersFromFilename(t *testing.T) {
	ing, _ := newIngestor(t)
	ctx := context.Background()

	res, err := ing.Ingest(ctx, []Row{
		{"plant_id": "P1", "period": "2026-01", "capacity_tonnes": 200, "variable_cost_per_tonne": 10},
	}, "", "plant_capacity_2026.csv")
	require.NoError(t, err)
	assert.Equal(t, store.TableCapacity, res.Target)
}

func TestIngestInfersFromColumns(t *testing.T) {
	ing, _ := newIngestor(t)
	ctx := context.Background()

	// No filename hint; required columns uniquely identify demand.
	res, err := ing.Ingest(ctx, []Row{
		{"customer_node_id": "C1", "period": "p1", "demand_tonnes": 10},
	}, "", "export.dat")
	require.NoError(t, err)
	assert.Equal(t, store.TableDemand, res.Target)
}

func TestIngestAliasTranslation(t *testing.T) {
	ing, s := newIngestor(t)
	ctx := context.Background()

	res, err := ing.Ingest(ctx, []Row{
		{"origin": "P1", "destination": "C1", "mode": "road", "sbq": 20, "vehicle_capacity": 1000},
	}, store.TableRoutes, "lanes.csv")
	require.NoError(t, err)

	staged, err := s.GetStagingRows(ctx, store.TableRoutes, res.BatchID)
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, "P1", staged[0].Values["origin_plant_id"])
	assert.InDelta(t, 20, staged[0].Values["sbq_tonnes"].(float64), 1e-9)
}

func TestIngestUnknownColumnsWarn(t *testing.T) {
	ing, s := newIngestor(t)
	ctx := context.Background()

	res, err := ing.Ingest(ctx, []Row{
		{"customer_node_id": "C1", "period": "p1", "demand_tonnes": 10, "color": "blue"},
	}, store.TableDemand, "demand.csv")
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "color")

	b, err := s.GetBatch(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Contains(t, b.Warnings, "color")
}

func TestIngestErrors(t *testing.T) {
	ing, _ := newIngestor(t)
	ctx := context.Background()

	_, err := ing.Ingest(ctx, nil, "", "demand.csv")
	assert.ErrorIs(t, err, ErrEmptySource)

	_, err = ing.Ingest(ctx, []Row{{"mystery": 1}}, "", "data.bin")
	assert.ErrorIs(t, err, ErrUnknownTarget)

	_, err = ing.Ingest(ctx, []Row{{"a": 1}}, "not_a_table", "x.csv")
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestIngestAtomicity(t *testing.T) {
	ing, s := newIngestor(t)
	ctx := context.Background()

	// A failing ingest (unknown target) leaves no batch behind.
	_, err := ing.Ingest(ctx, []Row{{"mystery": 1}}, "", "data.bin")
	require.Error(t, err)

	batches, err := s.ListRecentBatches(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestListRecentAndStatus(t *testing.T) {
	ing, _ := newIngestor(t)
	ctx := context.Background()

	res, err := ing.Ingest(ctx, []Row{
		{"customer_node_id": "C1", "period": "p1", "demand_tonnes": 10},
	}, store.TableDemand, "demand.csv")
	require.NoError(t, err)

	b, err := ing.Status(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, "demand.csv", b.SourceDescriptor)

	_, err = ing.Status(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrBatchNotFound)

	recent, err := ing.ListRecent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
}
