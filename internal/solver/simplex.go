package solver

import (
	"fmt"
	"math"

	"clinkerplan/internal/planning"
)

// The builtin solver rests on a dense two-phase primal simplex. Planning
// models are small and sparse enough that a dense tableau with Bland's rule
// is fast and cycle-free.

const (
	pivotEps      = 1e-9
	feasibilityEps = 1e-7
)

// lpOutcome is the relaxation result for one branch-and-bound node.
type lpOutcome struct {
	feasible  bool
	unbounded bool
	objective float64
	values    []float64
}

// solveLP minimizes the model objective over its linear constraints plus
// the extra rows (finite variable upper bounds and branching cuts). All
// variables are nonnegative.
func solveLP(m *planning.Model, extra []planning.Constraint) (*lpOutcome, error) {
	n := m.NumVars()

	type row struct {
		coeffs []float64
		sense  planning.Sense
		rhs    float64
	}
	var rows []row
	addRow := func(c planning.Constraint) {
		r := row{coeffs: make([]float64, n), sense: c.Sense, rhs: c.RHS}
		for j, v := range c.Coeffs {
			r.coeffs[j] = v
		}
		if r.rhs < 0 {
			for j := range r.coeffs {
				r.coeffs[j] = -r.coeffs[j]
			}
			r.rhs = -r.rhs
			switch r.sense {
			case planning.LE:
				r.sense = planning.GE
			case planning.GE:
				r.sense = planning.LE
			}
		}
		rows = append(rows, r)
	}
	for _, c := range m.Cons {
		addRow(c)
	}
	// Finite upper bounds become explicit rows; branching cuts arrive the
	// same way.
	for j, v := range m.Vars {
		if !math.IsInf(v.Upper, 1) {
			addRow(planning.Constraint{Coeffs: map[int]float64{j: 1}, Sense: planning.LE, RHS: v.Upper})
		}
	}
	for _, c := range extra {
		addRow(c)
	}

	mRows := len(rows)
	nSlack, nArt := 0, 0
	for _, r := range rows {
		switch r.sense {
		case planning.LE:
			nSlack++
		case planning.GE:
			nSlack++
			nArt++
		case planning.EQ:
			nArt++
		}
	}
	total := n + nSlack + nArt

	// Tableau: mRows x (total + 1); last column is the rhs.
	t := make([][]float64, mRows)
	basis := make([]int, mRows)
	artificial := make([]bool, total)
	slackAt, artAt := n, n+nSlack
	for i, r := range rows {
		t[i] = make([]float64, total+1)
		copy(t[i], r.coeffs)
		t[i][total] = r.rhs
		switch r.sense {
		case planning.LE:
			t[i][slackAt] = 1
			basis[i] = slackAt
			slackAt++
		case planning.GE:
			t[i][slackAt] = -1
			slackAt++
			t[i][artAt] = 1
			artificial[artAt] = true
			basis[i] = artAt
			artAt++
		case planning.EQ:
			t[i][artAt] = 1
			artificial[artAt] = true
			basis[i] = artAt
			artAt++
		}
	}

	pivot := func(pr, pc int) {
		pv := t[pr][pc]
		for j := range t[pr] {
			t[pr][j] /= pv
		}
		for i := range t {
			if i == pr {
				continue
			}
			f := t[i][pc]
			if f == 0 {
				continue
			}
			for j := range t[i] {
				t[i][j] -= f * t[pr][j]
			}
		}
		basis[pr] = pc
	}

	// iterate runs the simplex loop for the given cost vector with Bland's
	// rule, excluding blocked columns. Returns false on unboundedness.
	iterate := func(cost []float64, blocked []bool) bool {
		for {
			reduced := make([]float64, total)
			copy(reduced, cost)
			for i, b := range basis {
				cb := cost[b]
				if cb == 0 {
					continue
				}
				for j := 0; j < total; j++ {
					reduced[j] -= cb * t[i][j]
				}
			}
			entering := -1
			for j := 0; j < total; j++ {
				if blocked != nil && blocked[j] {
					continue
				}
				if reduced[j] < -pivotEps {
					entering = j
					break
				}
			}
			if entering == -1 {
				return true
			}
			leaving, best := -1, math.Inf(1)
			for i := 0; i < mRows; i++ {
				if t[i][entering] > pivotEps {
					ratio := t[i][total] / t[i][entering]
					if ratio < best-pivotEps || (math.Abs(ratio-best) <= pivotEps && (leaving == -1 || basis[i] < basis[leaving])) {
						best = ratio
						leaving = i
					}
				}
			}
			if leaving == -1 {
				return false
			}
			pivot(leaving, entering)
		}
	}

	// Phase 1: drive the artificials to zero.
	if nArt > 0 {
		phase1 := make([]float64, total)
		for j := range phase1 {
			if artificial[j] {
				phase1[j] = 1
			}
		}
		if !iterate(phase1, nil) {
			return nil, fmt.Errorf("phase-1 relaxation unbounded")
		}
		infeas := 0.0
		for i, b := range basis {
			if artificial[b] {
				infeas += t[i][total]
			}
		}
		if infeas > feasibilityEps {
			return &lpOutcome{feasible: false}, nil
		}
		// Pivot lingering zero-level artificials out; rows with no other
		// nonzero column are redundant and harmless to keep.
		for i, b := range basis {
			if !artificial[b] {
				continue
			}
			for j := 0; j < n+nSlack; j++ {
				if math.Abs(t[i][j]) > pivotEps {
					pivot(i, j)
					break
				}
			}
		}
	}

	// Phase 2: the real objective, artificials locked out.
	cost := make([]float64, total)
	for j := 0; j < n; j++ {
		cost[j] = m.Vars[j].Cost
	}
	if !iterate(cost, artificial) {
		return &lpOutcome{feasible: true, unbounded: true}, nil
	}

	values := make([]float64, n)
	for i, b := range basis {
		if b < n {
			values[b] = t[i][total]
		}
	}
	objective := 0.0
	for j := 0; j < n; j++ {
		if values[j] < 0 && values[j] > -feasibilityEps {
			values[j] = 0
		}
		objective += m.Vars[j].Cost * values[j]
	}
	return &lpOutcome{feasible: true, objective: objective, values: values}, nil
}
