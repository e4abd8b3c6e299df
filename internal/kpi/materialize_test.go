package kpi

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinkerplan/internal/planning"
	"clinkerplan/internal/store"
)

func nf(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

// handBuiltInput mirrors a two-period solve: one plant, one customer,
// demand 100 then 80, production 110 then 80, inventory carried 10, one
// stockout in t2.
func handBuiltInput() Input {
	ds := &planning.Dataset{
		Capacities: []store.ProductionCapacityCost{
			{PlantID: "P1", Period: "t1", MaxCapacityTonnes: 200, VariableCostPerTonne: 10, HoldingCostPerTonne: 2},
			{PlantID: "P1", Period: "t2", MaxCapacityTonnes: 200, VariableCostPerTonne: 10, HoldingCostPerTonne: 2},
		},
		Routes: []store.TransportRoute{{
			OriginPlantID: "P1", DestinationNodeID: "C1", TransportMode: "road",
			CostPerTonne: nf(5), FixedCostPerTrip: 50, VehicleCapacityTonnes: 100, SBQTonnes: 20, Active: true,
		}},
		Periods: []string{"t1", "t2"},
	}
	return Input{
		ScenarioName: "base",
		RunID:        "run-1",
		Dataset:      ds,
		Demand: []store.DemandForecast{
			{CustomerNodeID: "C1", Period: "t1", DemandTonnes: 100},
			{CustomerNodeID: "C1", Period: "t2", DemandTonnes: 80},
		},
		Plan: &planning.PlanResult{
			Production: []planning.ProductionLine{
				{Plant: "P1", Period: "t1", Tonnes: 110},
				{Plant: "P1", Period: "t2", Tonnes: 80},
			},
			Shipments: []planning.ShipmentLine{
				{Origin: "P1", Destination: "C1", Mode: "road", Period: "t1", Tonnes: 100},
				{Origin: "P1", Destination: "C1", Mode: "road", Period: "t2", Tonnes: 70},
			},
			Trips: []planning.TripLine{
				{Origin: "P1", Destination: "C1", Mode: "road", Period: "t1", Trips: 1},
				{Origin: "P1", Destination: "C1", Mode: "road", Period: "t2", Trips: 1},
			},
			Inventory: []planning.InventoryLine{
				{Plant: "P1", Period: "t1", Tonnes: 10},
				{Plant: "P1", Period: "t2", Tonnes: 20},
			},
		},
	}
}

func TestComputePerPeriod(t *testing.T) {
	periods, _ := Compute(handBuiltInput())
	require.Len(t, periods, 2)

	t1 := periods[0]
	assert.Equal(t, "t1", t1.Period)
	assert.InDelta(t, 110.0, t1.ProductionTonnes, 1e-9)
	assert.InDelta(t, 1100.0, t1.ProductionCost, 1e-9)
	assert.InDelta(t, 500.0, t1.TransportCost, 1e-9)
	assert.InDelta(t, 50.0, t1.FixedTripCost, 1e-9)
	assert.InDelta(t, 20.0, t1.HoldingCost, 1e-9)
	assert.InDelta(t, 1100+500+50+20, t1.TotalCost, 1e-9)
	assert.InDelta(t, 110.0/200.0, t1.ProductionUtilization, 1e-9)
	// 100 shipped over 1 trip x 100t vehicle.
	assert.InDelta(t, 1.0, t1.TransportUtilization, 1e-9)
	assert.InDelta(t, 1.0, t1.SBQComplianceRate, 1e-9)
	assert.InDelta(t, 1.0, t1.ServiceLevel, 1e-9)
	assert.InDelta(t, 1.0, t1.FulfillmentRate, 1e-9)
	assert.Zero(t, t1.StockoutEvents)
	assert.InDelta(t, 10.0, t1.AvgInventoryTonnes, 1e-9)
	assert.InDelta(t, 10.0, t1.InventoryTurns, 1e-9)

	t2 := periods[1]
	// 70 fulfilled of 80 demanded.
	assert.InDelta(t, 10.0, t2.UnmetDemandTonnes, 1e-9)
	assert.InDelta(t, 70.0/80.0, t2.ServiceLevel, 1e-9)
	assert.InDelta(t, 70.0/80.0, t2.FulfillmentRate, 1e-9)
	assert.Equal(t, 1, t2.StockoutEvents)
}

func TestComputeAggregate(t *testing.T) {
	periods, agg := Compute(handBuiltInput())

	assert.Equal(t, "base", agg.ScenarioName)
	assert.Equal(t, "run-1", agg.RunID)
	assert.Equal(t, 2, agg.Periods)
	assert.InDelta(t, 190.0, agg.ProductionTonnes, 1e-9)
	assert.InDelta(t, 170.0, agg.ShipmentTonnes, 1e-9)
	assert.InDelta(t, 180.0, agg.DemandTonnes, 1e-9)
	assert.InDelta(t, 10.0, agg.UnmetDemandTonnes, 1e-9)
	assert.Equal(t, 1, agg.StockoutEvents)
	assert.InDelta(t, (1.0+70.0/80.0)/2, agg.AvgServiceLevel, 1e-9)

	sum := 0.0
	for _, p := range periods {
		sum += p.TotalCost
	}
	assert.InDelta(t, sum, agg.TotalCost, 1e-9)
}

func TestComputeServiceLevelClampedWhenNoDemand(t *testing.T) {
	in := handBuiltInput()
	in.Demand = nil
	periods, agg := Compute(in)
	for _, p := range periods {
		assert.InDelta(t, 1.0, p.ServiceLevel, 1e-9)
		assert.InDelta(t, 1.0, p.FulfillmentRate, 1e-9)
		assert.Zero(t, p.StockoutEvents)
	}
	assert.InDelta(t, 1.0, agg.AvgServiceLevel, 1e-9)
}

func TestComputeSBQViolationLowersCompliance(t *testing.T) {
	in := handBuiltInput()
	// Second shipment drops under the 20t SBQ.
	in.Plan.Shipments[1].Tonnes = 15
	periods, _ := Compute(in)
	assert.InDelta(t, 1.0, periods[0].SBQComplianceRate, 1e-9)
	assert.InDelta(t, 0.0, periods[1].SBQComplianceRate, 1e-9)
}

func TestComputePenaltyCost(t *testing.T) {
	in := handBuiltInput()
	in.PenaltyPerTonne = 1000
	in.Plan.Unmet = []planning.UnmetLine{{Customer: "C1", Period: "t2", Tonnes: 10}}
	periods, agg := Compute(in)
	assert.InDelta(t, 10000.0, periods[1].PenaltyCost, 1e-9)
	assert.InDelta(t, 10000.0, agg.PenaltyCost, 1e-9)
}

func TestMaterializePersistsAndOverwrites(t *testing.T) {
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	m := New(s)
	require.NoError(t, m.Materialize(ctx, handBuiltInput()))

	rows, err := s.GetKPIPerPeriod(ctx, "base")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// Re-materializing replaces rather than duplicates.
	in := handBuiltInput()
	in.RunID = "run-2"
	require.NoError(t, m.Materialize(ctx, in))

	rows, err = s.GetKPIPerPeriod(ctx, "base")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	agg, err := s.GetKPIAggregated(ctx, "base")
	require.NoError(t, err)
	assert.Equal(t, "run-2", agg.RunID)
}
