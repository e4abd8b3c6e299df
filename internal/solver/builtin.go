package solver

import (
	"context"
	"fmt"
	"math"
	"time"

	"clinkerplan/internal/logging"
	"clinkerplan/internal/planning"
)

const (
	integralityEps  = 1e-6
	defaultMaxNodes = 100000
)

// Builtin is the pure-Go MILP solver: LP relaxations via two-phase simplex,
// integrality via depth-first branch and bound. It exists so planning works
// on hosts with no external solver installed, and it is what the test suite
// exercises.
type Builtin struct {
	// MaxNodes caps the branch-and-bound tree (0 = default).
	MaxNodes int
}

func (b *Builtin) Name() string { return "builtin" }

func (b *Builtin) Available() bool { return true }

type bbNode struct {
	cuts  []planning.Constraint
	bound float64
}

func (b *Builtin) Solve(ctx context.Context, m *planning.Model, opts Options) (*Result, error) {
	log := logging.Get(logging.CategorySolver)
	start := time.Now()

	deadline := time.Time{}
	if opts.TimeLimit > 0 {
		deadline = start.Add(opts.TimeLimit)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	maxNodes := b.MaxNodes
	if maxNodes <= 0 {
		maxNodes = defaultMaxNodes
	}

	intVars := make([]int, 0, m.NumVars())
	for j, v := range m.Vars {
		if v.Type == planning.Integer || v.Type == planning.Binary {
			intVars = append(intVars, j)
		}
	}

	root, err := solveLP(m, nil)
	if err != nil {
		return nil, err
	}
	if !root.feasible {
		return nil, fmt.Errorf("%w: linear relaxation has no solution", ErrInfeasible)
	}
	if root.unbounded {
		return nil, fmt.Errorf("relaxation is unbounded")
	}

	var (
		incumbent    []float64
		incumbentObj = math.Inf(1)
		explored     = 0
		termination  = TerminationOptimal
	)
	stack := []bbNode{{bound: root.objective}}

	openBound := func() float64 {
		lowest := math.Inf(1)
		for _, nd := range stack {
			lowest = math.Min(lowest, nd.bound)
		}
		return lowest
	}
	gapTo := func(bound float64) float64 {
		if math.IsInf(bound, 1) || math.IsInf(incumbentObj, 1) {
			return math.Inf(1)
		}
		return (incumbentObj - bound) / math.Max(1, math.Abs(incumbentObj))
	}

search:
	for len(stack) > 0 {
		if !deadline.IsZero() && time.Now().After(deadline) {
			termination = TerminationTimeLimit
			break
		}
		if err := ctx.Err(); err != nil {
			termination = TerminationTimeLimit
			break
		}
		if explored >= maxNodes {
			termination = TerminationMaxIterations
			break
		}
		if incumbent != nil && gapTo(openBound()) <= opts.MIPGap {
			// Every open node is within the accepted gap of the incumbent.
			break
		}

		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		explored++

		if incumbent != nil && nd.bound >= incumbentObj-integralityEps {
			continue
		}

		out, err := solveLP(m, nd.cuts)
		if err != nil {
			return nil, err
		}
		if !out.feasible || out.unbounded {
			continue
		}
		if incumbent != nil && out.objective >= incumbentObj-integralityEps {
			continue
		}

		branchVar, frac := -1, 0.0
		for _, j := range intVars {
			v := out.values[j]
			f := math.Abs(v - math.Round(v))
			if f > integralityEps && f > frac {
				branchVar, frac = j, f
			}
		}
		if branchVar == -1 {
			incumbent = out.values
			incumbentObj = out.objective
			continue search
		}

		v := out.values[branchVar]
		up := append(append([]planning.Constraint{}, nd.cuts...), planning.Constraint{
			Coeffs: map[int]float64{branchVar: 1}, Sense: planning.GE, RHS: math.Ceil(v),
		})
		down := append(append([]planning.Constraint{}, nd.cuts...), planning.Constraint{
			Coeffs: map[int]float64{branchVar: 1}, Sense: planning.LE, RHS: math.Floor(v),
		})
		// Down branch on top: production plans usually round down first.
		stack = append(stack, bbNode{cuts: up, bound: out.objective}, bbNode{cuts: down, bound: out.objective})
	}

	runtime := time.Since(start).Seconds()
	if incumbent == nil {
		if termination == TerminationOptimal {
			return nil, fmt.Errorf("%w: no integer-feasible solution exists", ErrInfeasible)
		}
		return nil, fmt.Errorf("stopped (%s) after %d nodes without an incumbent", termination, explored)
	}

	status := StatusOptimal
	gap := 0.0
	if termination != TerminationOptimal {
		status = StatusFeasible
		if g := gapTo(openBound()); !math.IsInf(g, 1) {
			gap = math.Max(g, 0)
		}
	}
	log.Debugw("branch and bound finished",
		"nodes", explored, "objective", incumbentObj, "termination", termination,
		"runtime_seconds", runtime)
	return &Result{
		Status:         status,
		Solver:         b.Name(),
		Objective:      incumbentObj,
		RuntimeSeconds: runtime,
		Gap:            gap,
		Termination:    termination,
		Values:         incumbent,
	}, nil
}
