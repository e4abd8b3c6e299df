// Package solver drives MILP solution through a fallback chain of solver
// capabilities: external CPLEX, HiGHS, and CBC binaries when installed,
// and a pure-Go branch-and-bound fallback that is always available.
package solver

import (
	"context"
	"errors"
	"time"

	"clinkerplan/internal/planning"
)

// Sentinel errors.
var (
	// ErrSolverUnavailable means the capability chain was exhausted
	// without an acceptable termination.
	ErrSolverUnavailable = errors.New("no solver available")
	// ErrInfeasible means an available solver proved the model has no
	// feasible solution. Infeasibility is a property of the model, so the
	// driver does not try further solvers.
	ErrInfeasible = errors.New("model is infeasible")
)

// Termination conditions. The first four are acceptable; anything else
// causes fallthrough to the next capability.
const (
	TerminationOptimal       = "optimal"
	TerminationFeasible      = "feasible"
	TerminationTimeLimit     = "timeLimit"
	TerminationMaxIterations = "maxIterations"
	TerminationInfeasible    = "infeasible"
	TerminationError         = "error"
)

// Solution statuses.
const (
	StatusOptimal  = "optimal"
	StatusFeasible = "feasible"
)

// Options bound one solve attempt.
type Options struct {
	TimeLimit time.Duration
	// MIPGap is the acceptable relative optimality gap.
	MIPGap float64
}

// Result is a normalized solver answer.
type Result struct {
	Status         string
	Solver         string
	Objective      float64
	RuntimeSeconds float64
	Gap            float64
	Termination    string
	// Values holds one value per model variable.
	Values []float64
}

// Capability is one solver in the chain.
type Capability interface {
	Name() string
	// Available reports whether the underlying binary or implementation
	// is reachable on this host.
	Available() bool
	Solve(ctx context.Context, m *planning.Model, opts Options) (*Result, error)
}

// acceptable reports whether a termination condition yields a usable
// solution.
func acceptable(termination string) bool {
	switch termination {
	case TerminationOptimal, TerminationFeasible, TerminationTimeLimit, TerminationMaxIterations:
		return true
	}
	return false
}
