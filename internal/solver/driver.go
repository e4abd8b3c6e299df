package solver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinkerplan/internal/config"
	"clinkerplan/internal/logging"
	"clinkerplan/internal/planning"
)

// Driver tries a chain of capabilities in order until one produces an
// acceptable termination.
type Driver struct {
	chain []Capability
	opts  Options

	onFallback func(solver string)
}

// Observe installs a callback fired each time a chain member is skipped
// or falls through.
func (d *Driver) Observe(onFallback func(solver string)) {
	d.onFallback = onFallback
}

func (d *Driver) fellThrough(solver string) {
	if d.onFallback != nil {
		d.onFallback(solver)
	}
}

// NewDriver builds the chain from configuration. "auto" tries every known
// solver from most to least capable; an explicit name yields a
// single-element chain.
func NewDriver(cfg config.SolverConfig) (*Driver, error) {
	opts := Options{
		TimeLimit: time.Duration(cfg.TimeLimitSeconds) * time.Second,
		MIPGap:    cfg.MIPGap,
	}
	byName := map[string]Capability{
		"cplex":   NewCPLEX(),
		"highs":   NewHiGHS(),
		"cbc":     NewCBC(),
		"builtin": &Builtin{},
	}
	if cfg.Default == "" || cfg.Default == "auto" {
		return &Driver{
			chain: []Capability{byName["cplex"], byName["highs"], byName["cbc"], byName["builtin"]},
			opts:  opts,
		}, nil
	}
	c, ok := byName[cfg.Default]
	if !ok {
		return nil, fmt.Errorf("unknown solver %q", cfg.Default)
	}
	return &Driver{chain: []Capability{c}, opts: opts}, nil
}

// NewDriverWithChain accepts an explicit chain. Tests use this to exercise
// fallback behavior with stub capabilities.
func NewDriverWithChain(opts Options, chain ...Capability) *Driver {
	return &Driver{chain: chain, opts: opts}
}

// Solve runs the chain. Unavailable solvers and unacceptable terminations
// fall through; a proof of infeasibility does not, because a second solver
// cannot make an infeasible model feasible.
func (d *Driver) Solve(ctx context.Context, m *planning.Model) (*Result, error) {
	log := logging.Get(logging.CategorySolver)

	var lastErr error
	for _, c := range d.chain {
		if !c.Available() {
			log.Debugw("solver unavailable, falling through", "solver", c.Name())
			d.fellThrough(c.Name())
			continue
		}
		res, err := c.Solve(ctx, m, d.opts)
		if err != nil {
			if errors.Is(err, ErrInfeasible) {
				return nil, err
			}
			log.Warnw("solver failed, falling through", "solver", c.Name(), "error", err)
			d.fellThrough(c.Name())
			lastErr = err
			continue
		}
		if !acceptable(res.Termination) {
			log.Warnw("solver termination not acceptable, falling through",
				"solver", c.Name(), "termination", res.Termination)
			d.fellThrough(c.Name())
			lastErr = fmt.Errorf("%s terminated with %q", c.Name(), res.Termination)
			continue
		}
		return res, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: chain exhausted: %v", ErrSolverUnavailable, lastErr)
	}
	return nil, ErrSolverUnavailable
}
