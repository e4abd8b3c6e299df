// Package planning builds the production/shipment MILP from cleaned
// canonical data and extracts typed results from a solution vector. The
// builder is pure: it reads the dataset and produces a model without I/O.
package planning

import (
	"fmt"
	"math"
)

// VarType classifies a decision variable.
type VarType int

const (
	Continuous VarType = iota
	Integer
	Binary
)

// Sense of a linear constraint.
type Sense int

const (
	LE Sense = iota
	GE
	EQ
)

// Variable is one column of the model. Upper of +Inf means unbounded.
type Variable struct {
	Name  string
	Type  VarType
	Lower float64
	Upper float64
	// Cost is the objective coefficient; the objective is always minimize.
	Cost float64
}

// Constraint is one sparse row: sum(Coeffs[j] * x[j]) Sense RHS.
type Constraint struct {
	Name   string
	Coeffs map[int]float64
	Sense  Sense
	RHS    float64
}

type key2 struct{ a, b string }
type key4 struct{ a, b, c, d string }

// routeParam carries the per-route parameters the extractor needs to
// recompute the cost breakdown.
type routeParam struct {
	Origin      string
	Destination string
	Mode        string
	CostPerT    float64
	FixedPerTrip float64
	VehicleCap  float64
	SBQ         float64
}

// Model is the built MILP plus the index maps and parameters that tie
// variables back to the planning domain.
type Model struct {
	Vars []Variable
	Cons []Constraint
	// BigM links activation binaries to shipments; at least the sum of
	// all demand.
	BigM float64

	periods []string
	plants  []string
	routes  []routeParam

	prodIdx  map[key2]int
	invIdx   map[key2]int
	shipIdx  map[key4]int
	tripsIdx map[key4]int
	useIdx   map[key4]int
	slackIdx map[key2]int

	prodCost    map[key2]float64
	holdingCost map[string]float64
	penalty     float64
}

func newModel() *Model {
	return &Model{
		prodIdx:     map[key2]int{},
		invIdx:      map[key2]int{},
		shipIdx:     map[key4]int{},
		tripsIdx:    map[key4]int{},
		useIdx:      map[key4]int{},
		slackIdx:    map[key2]int{},
		prodCost:    map[key2]float64{},
		holdingCost: map[string]float64{},
	}
}

func (m *Model) addVar(v Variable) int {
	m.Vars = append(m.Vars, v)
	return len(m.Vars) - 1
}

func (m *Model) addCon(c Constraint) {
	m.Cons = append(m.Cons, c)
}

// NumVars returns the column count.
func (m *Model) NumVars() int { return len(m.Vars) }

// NumCons returns the row count.
func (m *Model) NumCons() int { return len(m.Cons) }

// Periods returns the ordered planning horizon.
func (m *Model) Periods() []string { return m.periods }

// Plants returns the ordered plant set.
func (m *Model) Plants() []string { return m.plants }

// ProductionVar returns the column of prod[plant, period].
func (m *Model) ProductionVar(plant, period string) (int, bool) {
	i, ok := m.prodIdx[key2{plant, period}]
	return i, ok
}

// InventoryVar returns the column of inv[plant, period].
func (m *Model) InventoryVar(plant, period string) (int, bool) {
	i, ok := m.invIdx[key2{plant, period}]
	return i, ok
}

// ShipmentVar returns the column of ship[origin, destination, mode, period].
func (m *Model) ShipmentVar(origin, destination, mode, period string) (int, bool) {
	i, ok := m.shipIdx[key4{origin, destination, mode, period}]
	return i, ok
}

// TripsVar returns the column of trips[origin, destination, mode, period].
func (m *Model) TripsVar(origin, destination, mode, period string) (int, bool) {
	i, ok := m.tripsIdx[key4{origin, destination, mode, period}]
	return i, ok
}

// Objective evaluates the objective at the given solution vector.
func (m *Model) Objective(values []float64) (float64, error) {
	if len(values) != len(m.Vars) {
		return 0, fmt.Errorf("solution has %d values, model has %d variables", len(values), len(m.Vars))
	}
	total := 0.0
	for j, v := range m.Vars {
		total += v.Cost * values[j]
	}
	return total, nil
}

// Inf is the unbounded upper limit for variables.
var Inf = math.Inf(1)
