package planning

import (
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"

	"clinkerplan/internal/logging"
	"clinkerplan/internal/store"
)

// BuildOptions tunes model construction.
type BuildOptions struct {
	// SoftDemand adds per-(customer, period) slack variables so unmet
	// demand costs PenaltyPerTonne instead of making the model infeasible.
	SoftDemand      bool
	PenaltyPerTonne float64
}

// DefaultPenaltyPerTonne applies when soft demand is enabled without an
// explicit penalty.
const DefaultPenaltyPerTonne = 1e6

// BuildModel constructs the MILP from a dataset. The function is pure; the
// dataset is not mutated.
func BuildModel(ds *Dataset, opts BuildOptions) (*Model, error) {
	if len(ds.Periods) == 0 {
		return nil, fmt.Errorf("cannot build a model without periods")
	}
	if opts.SoftDemand && opts.PenaltyPerTonne <= 0 {
		opts.PenaltyPerTonne = DefaultPenaltyPerTonne
	}
	log := logging.Get(logging.CategoryModel)

	m := newModel()
	m.periods = append([]string{}, ds.Periods...)
	m.plants = producingPlants(ds)
	m.penalty = opts.PenaltyPerTonne

	customers := lo.Uniq(lo.Map(ds.Demand, func(d store.DemandForecast, _ int) string {
		return d.CustomerNodeID
	}))
	sort.Strings(customers)
	customerSet := lo.SliceToMap(customers, func(c string) (string, bool) { return c, true })
	plantSet := lo.SliceToMap(m.plants, func(p string) (string, bool) { return p, true })

	// Parameters.
	capacity := map[key2]float64{}
	for _, c := range ds.Capacities {
		capacity[key2{c.PlantID, c.Period}] = c.MaxCapacityTonnes
		m.prodCost[key2{c.PlantID, c.Period}] = c.VariableCostPerTonne
		// Holding cost is plant-level: the first period's value wins.
		if _, seen := m.holdingCost[c.PlantID]; !seen {
			m.holdingCost[c.PlantID] = c.HoldingCostPerTonne
		}
	}
	inv0 := openingInventory(ds)
	safetyStock := map[string]float64{}
	maxInventory := map[string]float64{}
	for _, p := range ds.Policies {
		safetyStock[p.NodeID] = p.SafetyStockTonnes
		if p.MaxInventoryTonnes.Valid {
			maxInventory[p.NodeID] = p.MaxInventoryTonnes.Float64
		}
	}

	// Routes with nonpositive vehicle capacity, unknown origins, or
	// destinations without demand are excluded before construction.
	for _, r := range ds.Routes {
		if r.VehicleCapacityTonnes <= 0 || !plantSet[r.OriginPlantID] || !customerSet[r.DestinationNodeID] {
			continue
		}
		m.routes = append(m.routes, routeParam{
			Origin:       r.OriginPlantID,
			Destination:  r.DestinationNodeID,
			Mode:         r.TransportMode,
			CostPerT:     RouteCostPerTonne(r),
			FixedPerTrip: r.FixedCostPerTrip,
			VehicleCap:   r.VehicleCapacityTonnes,
			SBQ:          r.SBQTonnes,
		})
	}

	m.BigM = math.Max(ds.TotalDemand(), 1)

	// Variables.
	for _, i := range m.plants {
		for _, t := range m.periods {
			m.prodIdx[key2{i, t}] = m.addVar(Variable{
				Name: fmt.Sprintf("prod(%s,%s)", i, t), Upper: Inf,
				Cost: m.prodCost[key2{i, t}],
			})
			m.invIdx[key2{i, t}] = m.addVar(Variable{
				Name: fmt.Sprintf("inv(%s,%s)", i, t), Upper: Inf,
				Cost: m.holdingCost[i],
			})
		}
	}
	for _, r := range m.routes {
		for _, t := range m.periods {
			k := key4{r.Origin, r.Destination, r.Mode, t}
			m.shipIdx[k] = m.addVar(Variable{
				Name: fmt.Sprintf("ship(%s,%s,%s,%s)", r.Origin, r.Destination, r.Mode, t),
				Upper: Inf, Cost: r.CostPerT,
			})
			m.tripsIdx[k] = m.addVar(Variable{
				Name: fmt.Sprintf("trips(%s,%s,%s,%s)", r.Origin, r.Destination, r.Mode, t),
				Type: Integer, Upper: Inf, Cost: r.FixedPerTrip,
			})
			m.useIdx[k] = m.addVar(Variable{
				Name: fmt.Sprintf("use(%s,%s,%s,%s)", r.Origin, r.Destination, r.Mode, t),
				Type: Binary, Upper: 1,
			})
		}
	}
	if opts.SoftDemand {
		for _, d := range ds.Demand {
			k := key2{d.CustomerNodeID, d.Period}
			if _, dup := m.slackIdx[k]; dup {
				continue
			}
			m.slackIdx[k] = m.addVar(Variable{
				Name: fmt.Sprintf("unmet(%s,%s)", d.CustomerNodeID, d.Period),
				Upper: Inf, Cost: opts.PenaltyPerTonne,
			})
		}
	}

	// Production capacity: prod <= cap (zero or missing capacity binds
	// production to zero).
	for _, i := range m.plants {
		for _, t := range m.periods {
			m.addCon(Constraint{
				Name:   fmt.Sprintf("cap(%s,%s)", i, t),
				Coeffs: map[int]float64{m.prodIdx[key2{i, t}]: 1},
				Sense:  LE,
				RHS:    capacity[key2{i, t}],
			})
		}
	}

	// Inventory balance: inv_prev + prod = sum(ship) + inv.
	for _, i := range m.plants {
		for ti, t := range m.periods {
			coeffs := map[int]float64{
				m.prodIdx[key2{i, t}]: 1,
				m.invIdx[key2{i, t}]:  -1,
			}
			rhs := 0.0
			if ti == 0 {
				rhs = -inv0[i]
			} else {
				coeffs[m.invIdx[key2{i, m.periods[ti-1]}]] = 1
			}
			for _, r := range m.routes {
				if r.Origin != i {
					continue
				}
				coeffs[m.shipIdx[key4{r.Origin, r.Destination, r.Mode, t}]] = -1
			}
			m.addCon(Constraint{
				Name:   fmt.Sprintf("balance(%s,%s)", i, t),
				Coeffs: coeffs,
				Sense:  EQ,
				RHS:    rhs,
			})
		}
	}

	// Safety stock floor and maximum inventory ceiling.
	for _, i := range m.plants {
		ss := safetyStock[i]
		maxInv, hasMax := maxInventory[i]
		for _, t := range m.periods {
			if ss > 0 {
				m.addCon(Constraint{
					Name:   fmt.Sprintf("safety(%s,%s)", i, t),
					Coeffs: map[int]float64{m.invIdx[key2{i, t}]: 1},
					Sense:  GE,
					RHS:    ss,
				})
			}
			if hasMax {
				m.addCon(Constraint{
					Name:   fmt.Sprintf("maxinv(%s,%s)", i, t),
					Coeffs: map[int]float64{m.invIdx[key2{i, t}]: 1},
					Sense:  LE,
					RHS:    maxInv,
				})
			}
		}
	}

	// Demand satisfaction: equality per demand row; soft demand adds the
	// slack column.
	for _, d := range ds.Demand {
		coeffs := map[int]float64{}
		for _, r := range m.routes {
			if r.Destination != d.CustomerNodeID {
				continue
			}
			coeffs[m.shipIdx[key4{r.Origin, r.Destination, r.Mode, d.Period}]] = 1
		}
		if si, ok := m.slackIdx[key2{d.CustomerNodeID, d.Period}]; ok {
			coeffs[si] = 1
		}
		m.addCon(Constraint{
			Name:   fmt.Sprintf("demand(%s,%s)", d.CustomerNodeID, d.Period),
			Coeffs: coeffs,
			Sense:  EQ,
			RHS:    d.DemandTonnes,
		})
	}

	// Trip capacity, SBQ activation, and the big-M activation linkage.
	for _, r := range m.routes {
		for _, t := range m.periods {
			k := key4{r.Origin, r.Destination, r.Mode, t}
			m.addCon(Constraint{
				Name:   fmt.Sprintf("tripcap(%s,%s,%s,%s)", r.Origin, r.Destination, r.Mode, t),
				Coeffs: map[int]float64{m.shipIdx[k]: 1, m.tripsIdx[k]: -r.VehicleCap},
				Sense:  LE,
				RHS:    0,
			})
			if r.SBQ > 0 {
				m.addCon(Constraint{
					Name:   fmt.Sprintf("sbq(%s,%s,%s,%s)", r.Origin, r.Destination, r.Mode, t),
					Coeffs: map[int]float64{m.shipIdx[k]: 1, m.useIdx[k]: -r.SBQ},
					Sense:  GE,
					RHS:    0,
				})
			}
			m.addCon(Constraint{
				Name:   fmt.Sprintf("activate(%s,%s,%s,%s)", r.Origin, r.Destination, r.Mode, t),
				Coeffs: map[int]float64{m.shipIdx[k]: 1, m.useIdx[k]: -m.BigM},
				Sense:  LE,
				RHS:    0,
			})
		}
	}

	log.Debugw("model built",
		"plants", len(m.plants), "routes", len(m.routes), "periods", len(m.periods),
		"variables", len(m.Vars), "constraints", len(m.Cons), "big_m", m.BigM,
		"soft_demand", opts.SoftDemand)
	return m, nil
}

// producingPlants returns the ordered plant set: canonical plants that are
// not customer nodes, falling back to capacity plant ids when the plants
// table is empty.
func producingPlants(ds *Dataset) []string {
	ids := lo.FilterMap(ds.Plants, func(p store.Plant, _ int) (string, bool) {
		return p.PlantID, p.PlantType != store.PlantTypeCustomer
	})
	if len(ids) == 0 {
		ids = lo.Uniq(lo.Map(ds.Capacities, func(c store.ProductionCapacityCost, _ int) string {
			return c.PlantID
		}))
	}
	sort.Strings(ids)
	return lo.Uniq(ids)
}

// openingInventory picks each node's earliest-period inventory row.
func openingInventory(ds *Dataset) map[string]float64 {
	earliest := map[string]string{}
	out := map[string]float64{}
	for _, row := range ds.Inventory {
		if p, seen := earliest[row.NodeID]; !seen || row.Period < p {
			earliest[row.NodeID] = row.Period
			out[row.NodeID] = row.InventoryTonnes
		}
	}
	return out
}

// RouteCostPerTonne collapses the route cost columns to one per-tonne
// figure: cost_per_tonne when present, else per-tonne-km scaled by distance,
// else zero. The KPI materializer reuses it to split transport cost by
// period.
func RouteCostPerTonne(r store.TransportRoute) float64 {
	if r.CostPerTonne.Valid {
		return r.CostPerTonne.Float64
	}
	if r.CostPerTonneKM.Valid && r.DistanceKM.Valid {
		return r.CostPerTonneKM.Float64 * r.DistanceKM.Float64
	}
	return 0
}
