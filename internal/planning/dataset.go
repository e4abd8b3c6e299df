package planning

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"clinkerplan/internal/store"
)

// Dataset is the cleaned planning input: canonical rows plus the derived
// period horizon.
type Dataset struct {
	Plants     []store.Plant
	Capacities []store.ProductionCapacityCost
	Routes     []store.TransportRoute
	Demand     []store.DemandForecast
	Inventory  []store.InitialInventory
	Policies   []store.SafetyStockPolicy
	// Periods is the ordered horizon: the sorted union of periods
	// appearing in demand, or in capacity when there is no demand.
	Periods []string
}

// Loader pulls a Dataset from the canonical store.
type Loader struct {
	store *store.Store
}

func NewLoader(s *store.Store) *Loader {
	return &Loader{store: s}
}

// Load reads every canonical planning table and derives the horizon.
func (l *Loader) Load(ctx context.Context) (*Dataset, error) {
	ds := &Dataset{}
	var err error
	if ds.Plants, err = l.store.ListPlants(ctx); err != nil {
		return nil, err
	}
	if ds.Capacities, err = l.store.ListCapacities(ctx); err != nil {
		return nil, err
	}
	if ds.Routes, err = l.store.ListActiveRoutes(ctx); err != nil {
		return nil, err
	}
	if ds.Demand, err = l.store.ListDemand(ctx); err != nil {
		return nil, err
	}
	if ds.Inventory, err = l.store.ListInventory(ctx); err != nil {
		return nil, err
	}
	if ds.Policies, err = l.store.ListPolicies(ctx); err != nil {
		return nil, err
	}
	ds.Periods = derivePeriods(ds)
	if len(ds.Demand) == 0 {
		return nil, fmt.Errorf("planning dataset has no demand")
	}
	return ds, nil
}

func derivePeriods(ds *Dataset) []string {
	periods := lo.Map(ds.Demand, func(d store.DemandForecast, _ int) string { return d.Period })
	if len(periods) == 0 {
		periods = lo.Map(ds.Capacities, func(c store.ProductionCapacityCost, _ int) string { return c.Period })
	}
	periods = lo.Uniq(periods)
	sort.Strings(periods)
	return periods
}

// WithDemand returns a shallow copy of the dataset carrying a replacement
// demand frame and a re-derived horizon. Scenario perturbation uses this to
// leave the base dataset untouched.
func (ds *Dataset) WithDemand(demand []store.DemandForecast) *Dataset {
	out := *ds
	out.Demand = demand
	out.Periods = derivePeriods(&out)
	return &out
}

// TotalDemand sums demand tonnage across the frame.
func (ds *Dataset) TotalDemand() float64 {
	return lo.SumBy(ds.Demand, func(d store.DemandForecast) float64 { return d.DemandTonnes })
}
