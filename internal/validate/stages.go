package validate

import (
	"clinkerplan/internal/store"
)

// Warning floors for suspiciously low costs. Values below these are almost
// always unit mistakes (e.g. cost per kg keyed in as cost per tonne).
const (
	minPlausibleProductionCost = 100.0 // currency units per tonne
	minPlausibleTonneKmCost    = 0.01  // currency units per tonne-km
)

// runBusinessStage applies the domain rules for the batch's target table.
func runBusinessStage(tctx *tableContext, rs *rowState) {
	switch tctx.spec.Name {
	case store.TableDemand:
		if d, ok := rs.num("demand_tonnes"); ok && d < 0 {
			rs.addError(StageBusiness, "demand_tonnes", "negative_demand",
				"demand tonnage must be non-negative", d)
		}
	case store.TableCapacity:
		if c, ok := rs.num("max_capacity_tonnes"); ok {
			if c < 0 {
				rs.addError(StageBusiness, "max_capacity_tonnes", "negative_capacity",
					"production capacity must be non-negative", c)
			} else if c == 0 {
				rs.addWarning(StageBusiness, "max_capacity_tonnes", "zero_capacity",
					"zero capacity forces zero production for this plant-period", c)
			}
		}
		checkNonNegative(rs, "variable_cost_per_tonne", "fixed_cost_per_period",
			"min_run_level_tonnes", "holding_cost_per_tonne")
		if v, ok := rs.num("variable_cost_per_tonne"); ok && v >= 0 && v < minPlausibleProductionCost {
			rs.addWarning(StageBusiness, "variable_cost_per_tonne", "suspiciously_low_cost",
				"production cost is below the plausible floor; check units", v)
		}
	case store.TableRoutes:
		origin, _ := rs.str("origin_plant_id")
		dest, _ := rs.str("destination_node_id")
		if origin != "" && origin == dest {
			rs.addError(StageBusiness, "destination_node_id", "self_loop",
				"route origin and destination must differ", dest)
		}
		checkNonNegative(rs, "cost_per_tonne", "cost_per_tonne_km", "fixed_cost_per_trip", "sbq_tonnes")

		active := true
		if b, ok := rs.parsed["active"].(bool); ok {
			active = b
		}
		vcap, hasVcap := rs.num("vehicle_capacity_tonnes")
		if active && (!hasVcap || vcap <= 0) {
			rs.addError(StageBusiness, "vehicle_capacity_tonnes", "nonpositive_vehicle_capacity",
				"active routes need vehicle capacity > 0", rs.row.Values["vehicle_capacity_tonnes"])
		}
		if sbq, ok := rs.num("sbq_tonnes"); ok && hasVcap && sbq > vcap {
			rs.addError(StageBusiness, "sbq_tonnes", "sbq_exceeds_capacity",
				"minimum batch quantity exceeds vehicle capacity", sbq)
		}
		if ctk, ok := rs.num("cost_per_tonne_km"); ok && ctk >= 0 && ctk < minPlausibleTonneKmCost {
			rs.addWarning(StageBusiness, "cost_per_tonne_km", "suspiciously_low_cost",
				"transport cost is below the plausible floor; check units", ctk)
		}
	case store.TableInventory:
		if inv, ok := rs.num("inventory_tonnes"); ok && inv < 0 {
			rs.addError(StageBusiness, "inventory_tonnes", "negative_inventory",
				"opening inventory must be non-negative", inv)
		}
	case store.TablePolicy:
		checkNonNegative(rs, "policy_value", "safety_stock_tonnes")
		ss, okSS := rs.num("safety_stock_tonnes")
		maxInv, okMax := rs.num("max_inventory_tonnes")
		if okSS && okMax && ss > maxInv {
			rs.addError(StageBusiness, "safety_stock_tonnes", "safety_stock_exceeds_max",
				"safety stock must not exceed maximum inventory", ss)
		}
	}
}

func checkNonNegative(rs *rowState, cols ...string) {
	for _, col := range cols {
		if v, ok := rs.num(col); ok && v < 0 {
			rs.addError(StageBusiness, col, "negative_cost",
				"value must be non-negative", v)
		}
	}
}

// runReferentialStage checks foreign identifiers against canonical plants.
// When the plants table is empty the whole stage is skipped so reference
// data can be bootstrapped in any order. Sibling staging rows never satisfy
// a reference.
func runReferentialStage(tctx *tableContext, rs *rowState) {
	if tctx.plantIDs == nil {
		return
	}
	check := func(col string) {
		id, ok := rs.str(col)
		if !ok || id == "" {
			return
		}
		if !tctx.plantIDs[id] {
			rs.addError(StageReferential, col, "unknown_reference",
				"identifier does not resolve to a canonical plant", id)
		}
	}
	switch tctx.spec.Name {
	case store.TableCapacity:
		check("plant_id")
	case store.TableRoutes:
		check("origin_plant_id")
		check("destination_node_id")
	case store.TableInventory:
		check("node_id")
	case store.TablePolicy:
		check("node_id")
	}
}

// runUnitsStage verifies unit plausibility. Monetary values arrive in raw
// base currency units and tonnage in metric tonnes, so there is nothing to
// rescale; the stage flags values that contradict their unit.
func runUnitsStage(tctx *tableContext, rs *rowState) {
	switch tctx.spec.Name {
	case store.TableRoutes:
		if d, ok := rs.num("distance_km"); ok && d < 0 {
			rs.addError(StageUnits, "distance_km", "negative_distance",
				"distance must be non-negative", d)
		}
		_, hasPerTonne := rs.num("cost_per_tonne")
		_, hasPerTonneKm := rs.num("cost_per_tonne_km")
		_, hasDistance := rs.num("distance_km")
		if !hasPerTonne && hasPerTonneKm && !hasDistance {
			rs.addWarning(StageUnits, "cost_per_tonne_km", "cost_not_expandable",
				"per-tonne-km cost cannot be expanded without a distance", nil)
		}
	case store.TableDemand:
		if c, ok := rs.num("confidence"); ok && (c < 0 || c > 1) {
			rs.addWarning(StageUnits, "confidence", "confidence_out_of_range",
				"confidence should be within [0, 1]", c)
		}
		d, hasDemand := rs.num("demand_tonnes")
		if low, ok := rs.num("demand_low"); ok && hasDemand && low > d {
			rs.addWarning(StageUnits, "demand_low", "band_inverted",
				"low band exceeds the point forecast", low)
		}
		if high, ok := rs.num("demand_high"); ok && hasDemand && high < d {
			rs.addWarning(StageUnits, "demand_high", "band_inverted",
				"high band is below the point forecast", high)
		}
	}
}

// runMissingDataStage reports gaps that would degrade or prevent planning.
func runMissingDataStage(tctx *tableContext, rs *rowState) {
	switch tctx.spec.Name {
	case store.TableRoutes:
		_, hasPerTonne := rs.num("cost_per_tonne")
		_, hasPerTonneKm := rs.num("cost_per_tonne_km")
		if !hasPerTonne && !hasPerTonneKm {
			rs.addWarning(StageMissing, "cost_per_tonne", "no_transport_cost",
				"route has neither per-tonne nor per-tonne-km cost; the planner treats it as free", nil)
		}
	case store.TableDemand:
		if tctx.capacityPeriods == nil {
			return
		}
		if period, ok := rs.str("period"); ok && !tctx.capacityPeriods[period] {
			rs.addWarning(StageMissing, "period", "period_without_capacity",
				"no production capacity is defined for this demand period", period)
		}
	case store.TablePlants:
		_, hasLat := rs.num("latitude")
		_, hasLon := rs.num("longitude")
		if hasLat != hasLon {
			rs.addWarning(StageMissing, "latitude", "partial_coordinates",
				"only one of latitude/longitude supplied; routing will fail for this node", nil)
		}
	}
}
