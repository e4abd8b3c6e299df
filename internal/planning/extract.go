package planning

import (
	"fmt"
	"math"
)

// positiveEps filters numerically-zero shipments out of the result.
const positiveEps = 1e-6

// ProductionLine is one plant-period production quantity.
type ProductionLine struct {
	Plant  string  `json:"plant"`
	Period string  `json:"period"`
	Tonnes float64 `json:"tonnes"`
}

// ShipmentLine is one positive route-period shipment.
type ShipmentLine struct {
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	Mode        string  `json:"mode"`
	Period      string  `json:"period"`
	Tonnes      float64 `json:"tonnes"`
}

// TripLine is one route-period trip count.
type TripLine struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Mode        string `json:"mode"`
	Period      string `json:"period"`
	Trips       int    `json:"trips"`
}

// InventoryLine is one plant-period ending inventory.
type InventoryLine struct {
	Plant  string  `json:"plant"`
	Period string  `json:"period"`
	Tonnes float64 `json:"tonnes"`
}

// UnmetLine is one positive soft-demand shortfall.
type UnmetLine struct {
	Customer string  `json:"customer"`
	Period   string  `json:"period"`
	Tonnes   float64 `json:"tonnes"`
}

// CostBreakdown recomputes each objective component from the solution.
type CostBreakdown struct {
	Total      float64 `json:"total"`
	Production float64 `json:"production"`
	Transport  float64 `json:"transport"`
	FixedTrip  float64 `json:"fixed_trip"`
	Holding    float64 `json:"holding"`
	Penalty    float64 `json:"penalty"`
}

// PlanResult is the typed view of one solved model.
type PlanResult struct {
	Production []ProductionLine `json:"production"`
	Shipments  []ShipmentLine   `json:"shipments"`
	Trips      []TripLine       `json:"trips"`
	Inventory  []InventoryLine  `json:"inventory"`
	Unmet      []UnmetLine      `json:"unmet,omitempty"`
	Objective  float64          `json:"objective"`
	Breakdown  CostBreakdown    `json:"cost_breakdown"`
}

// Extract converts a solution vector into the typed result and verifies the
// recomputed cost breakdown against the objective within 1e-6 relative
// tolerance. Extraction is pure.
func Extract(m *Model, values []float64) (*PlanResult, error) {
	objective, err := m.Objective(values)
	if err != nil {
		return nil, err
	}
	res := &PlanResult{Objective: objective}

	for _, i := range m.plants {
		for _, t := range m.periods {
			prod := values[m.prodIdx[key2{i, t}]]
			inv := values[m.invIdx[key2{i, t}]]
			res.Production = append(res.Production, ProductionLine{Plant: i, Period: t, Tonnes: prod})
			res.Inventory = append(res.Inventory, InventoryLine{Plant: i, Period: t, Tonnes: inv})
			res.Breakdown.Production += m.prodCost[key2{i, t}] * prod
			res.Breakdown.Holding += m.holdingCost[i] * inv
		}
	}

	for _, r := range m.routes {
		for _, t := range m.periods {
			k := key4{r.Origin, r.Destination, r.Mode, t}
			ship := values[m.shipIdx[k]]
			trips := values[m.tripsIdx[k]]
			rounded := int(math.Round(trips))

			if ship > positiveEps {
				res.Shipments = append(res.Shipments, ShipmentLine{
					Origin: r.Origin, Destination: r.Destination, Mode: r.Mode,
					Period: t, Tonnes: ship,
				})
			}
			if rounded > 0 {
				res.Trips = append(res.Trips, TripLine{
					Origin: r.Origin, Destination: r.Destination, Mode: r.Mode,
					Period: t, Trips: rounded,
				})
			}
			res.Breakdown.Transport += r.CostPerT * ship
			res.Breakdown.FixedTrip += r.FixedPerTrip * trips
		}
	}

	for k, j := range m.slackIdx {
		unmet := values[j]
		res.Breakdown.Penalty += m.penalty * unmet
		if unmet > positiveEps {
			res.Unmet = append(res.Unmet, UnmetLine{Customer: k.a, Period: k.b, Tonnes: unmet})
		}
	}

	res.Breakdown.Total = res.Breakdown.Production + res.Breakdown.Transport +
		res.Breakdown.FixedTrip + res.Breakdown.Holding + res.Breakdown.Penalty

	if !withinRelative(res.Breakdown.Total, objective, 1e-6) {
		return nil, fmt.Errorf("cost breakdown %.9f disagrees with objective %.9f",
			res.Breakdown.Total, objective)
	}
	return res, nil
}

func withinRelative(a, b, tol float64) bool {
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale < 1 {
		scale = 1
	}
	return diff <= tol*scale
}
