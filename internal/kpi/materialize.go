// Package kpi turns a plan result into the pre-aggregated dashboard rows:
// one per (scenario, period) and one per-scenario rollup.
package kpi

import (
	"context"
	"math"

	"clinkerplan/internal/logging"
	"clinkerplan/internal/planning"
	"clinkerplan/internal/store"
)

const stockoutEps = 1e-6

// Materializer computes and persists KPI rows.
type Materializer struct {
	store *store.Store
}

func New(s *store.Store) *Materializer {
	return &Materializer{store: s}
}

// Input bundles everything one materialization needs. Demand is the frame
// the scenario actually planned against (perturbed, not the base frame).
type Input struct {
	ScenarioName    string
	RunID           string
	Dataset         *planning.Dataset
	Demand          []store.DemandForecast
	Plan            *planning.PlanResult
	PenaltyPerTonne float64
}

// Materialize computes the KPI rows and replaces any prior rows for the
// scenario in one transaction.
func (m *Materializer) Materialize(ctx context.Context, in Input) error {
	periods, agg := Compute(in)
	if err := m.store.ReplaceKPIs(ctx, in.ScenarioName, periods, agg); err != nil {
		return err
	}
	logging.Get(logging.CategoryKPI).Infow("kpis materialized",
		"scenario", in.ScenarioName, "run_id", in.RunID, "periods", len(periods),
		"total_cost", agg.TotalCost, "avg_service_level", agg.AvgServiceLevel)
	return nil
}

// Compute derives the KPI rows without persisting them.
func Compute(in Input) ([]store.KPIPerPeriod, store.KPIAggregated) {
	ds, plan := in.Dataset, in.Plan

	prodCost := map[[2]string]float64{}
	capByPeriod := map[string]float64{}
	holding := map[string]float64{}
	holdingPeriod := map[string]string{}
	for _, c := range ds.Capacities {
		prodCost[[2]string{c.PlantID, c.Period}] = c.VariableCostPerTonne
		capByPeriod[c.Period] += c.MaxCapacityTonnes
		if p, seen := holdingPeriod[c.PlantID]; !seen || c.Period < p {
			holdingPeriod[c.PlantID] = c.Period
			holding[c.PlantID] = c.HoldingCostPerTonne
		}
	}

	type routeKey struct{ origin, dest, mode string }
	routeCost := map[routeKey]float64{}
	routeFixed := map[routeKey]float64{}
	routeSBQ := map[routeKey]float64{}
	meanVehicleCap, activeRoutes := 0.0, 0
	for _, r := range ds.Routes {
		if r.VehicleCapacityTonnes <= 0 {
			continue
		}
		k := routeKey{r.OriginPlantID, r.DestinationNodeID, r.TransportMode}
		routeCost[k] = planning.RouteCostPerTonne(r)
		routeFixed[k] = r.FixedCostPerTrip
		routeSBQ[k] = r.SBQTonnes
		meanVehicleCap += r.VehicleCapacityTonnes
		activeRoutes++
	}
	if activeRoutes > 0 {
		meanVehicleCap /= float64(activeRoutes)
	}

	rows := map[string]*store.KPIPerPeriod{}
	order := []string{}
	period := func(p string) *store.KPIPerPeriod {
		if row, ok := rows[p]; ok {
			return row
		}
		row := &store.KPIPerPeriod{ScenarioName: in.ScenarioName, Period: p}
		rows[p] = row
		order = append(order, p)
		return row
	}
	for _, p := range ds.Periods {
		period(p)
	}

	for _, line := range plan.Production {
		row := period(line.Period)
		row.ProductionTonnes += line.Tonnes
		row.ProductionCost += prodCost[[2]string{line.Plant, line.Period}] * line.Tonnes
	}

	sbqUsed := map[string]int{}
	sbqCompliant := map[string]int{}
	for _, line := range plan.Shipments {
		row := period(line.Period)
		k := routeKey{line.Origin, line.Destination, line.Mode}
		row.ShipmentTonnes += line.Tonnes
		row.TransportCost += routeCost[k] * line.Tonnes
		sbqUsed[line.Period]++
		if line.Tonnes >= routeSBQ[k]-stockoutEps {
			sbqCompliant[line.Period]++
		}
	}
	for _, line := range plan.Trips {
		row := period(line.Period)
		row.TotalTrips += float64(line.Trips)
		row.FixedTripCost += routeFixed[routeKey{line.Origin, line.Destination, line.Mode}] * float64(line.Trips)
	}

	invCount := map[string]int{}
	for _, line := range plan.Inventory {
		row := period(line.Period)
		row.AvgInventoryTonnes += line.Tonnes
		row.HoldingCost += holding[line.Plant] * line.Tonnes
		invCount[line.Period]++
	}

	fulfilled := map[[2]string]float64{}
	for _, line := range plan.Shipments {
		fulfilled[[2]string{line.Destination, line.Period}] += line.Tonnes
	}
	serviceNum := map[string]float64{}
	for _, d := range in.Demand {
		row := period(d.Period)
		got := fulfilled[[2]string{d.CustomerNodeID, d.Period}]
		row.DemandTonnes += d.DemandTonnes
		short := d.DemandTonnes - got
		if short > stockoutEps {
			row.UnmetDemandTonnes += short
			row.StockoutEvents++
		}
		serviceNum[d.Period] += math.Min(got, d.DemandTonnes)
	}

	for _, line := range plan.Unmet {
		period(line.Period).PenaltyCost += in.PenaltyPerTonne * line.Tonnes
	}

	agg := store.KPIAggregated{ScenarioName: in.ScenarioName, RunID: in.RunID}
	out := make([]store.KPIPerPeriod, 0, len(order))
	for _, p := range order {
		row := rows[p]
		if n := invCount[p]; n > 0 {
			row.AvgInventoryTonnes /= float64(n)
		}
		if total := capByPeriod[p]; total > 0 {
			row.ProductionUtilization = row.ProductionTonnes / total
		}
		if denom := row.TotalTrips * meanVehicleCap; denom > 0 {
			row.TransportUtilization = row.ShipmentTonnes / denom
		}
		row.SBQComplianceRate = 1
		if used := sbqUsed[p]; used > 0 {
			row.SBQComplianceRate = float64(sbqCompliant[p]) / float64(used)
		}
		if row.AvgInventoryTonnes > 0 {
			row.InventoryTurns = row.ShipmentTonnes / row.AvgInventoryTonnes
		}
		row.ServiceLevel = 1
		row.FulfillmentRate = 1
		if row.DemandTonnes > 0 {
			row.ServiceLevel = math.Min(serviceNum[p]/row.DemandTonnes, 1)
			row.FulfillmentRate = (row.DemandTonnes - row.UnmetDemandTonnes) / row.DemandTonnes
		}
		row.TotalCost = row.ProductionCost + row.TransportCost + row.FixedTripCost +
			row.HoldingCost + row.PenaltyCost

		agg.TotalCost += row.TotalCost
		agg.ProductionCost += row.ProductionCost
		agg.TransportCost += row.TransportCost
		agg.FixedTripCost += row.FixedTripCost
		agg.HoldingCost += row.HoldingCost
		agg.PenaltyCost += row.PenaltyCost
		agg.ProductionTonnes += row.ProductionTonnes
		agg.ShipmentTonnes += row.ShipmentTonnes
		agg.TotalTrips += row.TotalTrips
		agg.DemandTonnes += row.DemandTonnes
		agg.UnmetDemandTonnes += row.UnmetDemandTonnes
		agg.AvgServiceLevel += row.ServiceLevel
		agg.StockoutEvents += row.StockoutEvents

		out = append(out, *row)
	}
	agg.Periods = len(out)
	if agg.Periods > 0 {
		agg.AvgServiceLevel /= float64(agg.Periods)
	}
	return out, agg
}
