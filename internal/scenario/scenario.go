// Package scenario perturbs the demand frame and runs the plan pipeline
// once per scenario. Failures stay inside the scenario result; one broken
// scenario never takes down its siblings.
package scenario

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/samber/lo"

	"clinkerplan/internal/logging"
	"clinkerplan/internal/planning"
	"clinkerplan/internal/solver"
	"clinkerplan/internal/store"
)

// Scenario types.
const (
	TypeBase       = "base"
	TypeHigh       = "high"
	TypeLow        = "low"
	TypeStochastic = "stochastic"
)

// Default scaling factors for high/low scenarios.
const (
	DefaultHighFactor = 1.1
	DefaultLowFactor  = 0.9
)

// Per-scenario statuses.
const (
	StatusCompleted       = "completed"
	StatusInvalidScenario = "invalid_scenario"
	StatusFailed          = "failed"
)

// Config describes one scenario.
type Config struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
	// ScalingFactor applies to high/low (0 = type default).
	ScalingFactor float64 `json:"scaling_factor,omitempty" yaml:"scaling_factor"`
	// Distribution is normal or triangular for stochastic scenarios.
	Distribution string  `json:"distribution,omitempty" yaml:"distribution"`
	Std          float64 `json:"std,omitempty" yaml:"std"`
	Low          float64 `json:"low,omitempty" yaml:"low"`
	Mode         float64 `json:"mode,omitempty" yaml:"mode"`
	High         float64 `json:"high,omitempty" yaml:"high"`
	Seed         int64   `json:"seed,omitempty" yaml:"seed"`
}

// Result is one scenario outcome. Plan and Solve are nil unless Status is
// completed.
type Result struct {
	Name   string
	Type   string
	Status string
	Error  string
	Plan   *planning.PlanResult
	Solve  *solver.Result
	// Demand is the perturbed frame the scenario planned against; the KPI
	// materializer compares fulfillment against it.
	Demand []store.DemandForecast
}

// Runner executes scenarios sequentially on one worker.
type Runner struct {
	driver *solver.Driver
	opts   planning.BuildOptions
}

func NewRunner(d *solver.Driver, opts planning.BuildOptions) *Runner {
	return &Runner{driver: d, opts: opts}
}

// Base returns the default single-scenario list.
func Base() []Config {
	return []Config{{Name: "base", Type: TypeBase}}
}

// Run plans every scenario against the dataset. The base dataset is never
// mutated. Errors are captured per scenario.
func (r *Runner) Run(ctx context.Context, ds *planning.Dataset, configs []Config) []Result {
	log := logging.Get(logging.CategoryScenario)
	results := make([]Result, 0, len(configs))

	for _, cfg := range configs {
		res := Result{Name: cfg.Name, Type: cfg.Type}

		demand, err := PerturbDemand(ds.Demand, cfg)
		if err != nil {
			res.Status = StatusInvalidScenario
			res.Error = err.Error()
			log.Warnw("invalid scenario", "scenario", cfg.Name, "error", err)
			results = append(results, res)
			continue
		}
		res.Demand = demand

		scenarioDS := ds.WithDemand(demand)
		plan, solve, err := r.planOnce(ctx, scenarioDS)
		if err != nil {
			res.Status = StatusFailed
			res.Error = err.Error()
			log.Warnw("scenario failed", "scenario", cfg.Name, "error", err)
			results = append(results, res)
			continue
		}
		res.Status = StatusCompleted
		res.Plan = plan
		res.Solve = solve
		log.Infow("scenario completed",
			"scenario", cfg.Name, "objective", plan.Objective, "solver", solve.Solver)
		results = append(results, res)
	}
	return results
}

func (r *Runner) planOnce(ctx context.Context, ds *planning.Dataset) (*planning.PlanResult, *solver.Result, error) {
	m, err := planning.BuildModel(ds, r.opts)
	if err != nil {
		return nil, nil, err
	}
	solve, err := r.driver.Solve(ctx, m)
	if err != nil {
		return nil, nil, err
	}
	plan, err := planning.Extract(m, solve.Values)
	if err != nil {
		return nil, nil, err
	}
	return plan, solve, nil
}

// PerturbDemand returns a scenario-adjusted copy of the demand frame.
// Stochastic draws are seeded, so a scenario is reproducible from its
// config. Perturbed demand never goes negative.
func PerturbDemand(demand []store.DemandForecast, cfg Config) ([]store.DemandForecast, error) {
	switch cfg.Type {
	case TypeBase:
		return append([]store.DemandForecast{}, demand...), nil
	case TypeHigh, TypeLow:
		factor := cfg.ScalingFactor
		if factor == 0 {
			factor = DefaultHighFactor
			if cfg.Type == TypeLow {
				factor = DefaultLowFactor
			}
		}
		if factor <= 0 {
			return nil, fmt.Errorf("scaling factor must be positive, got %g", factor)
		}
		return scale(demand, func(store.DemandForecast) float64 { return factor }), nil
	case TypeStochastic:
		sample, err := sampler(cfg)
		if err != nil {
			return nil, err
		}
		return scale(demand, func(store.DemandForecast) float64 { return sample() }), nil
	default:
		return nil, fmt.Errorf("unknown scenario type %q", cfg.Type)
	}
}

func scale(demand []store.DemandForecast, factor func(store.DemandForecast) float64) []store.DemandForecast {
	return lo.Map(demand, func(d store.DemandForecast, _ int) store.DemandForecast {
		d.DemandTonnes = math.Max(0, d.DemandTonnes*factor(d))
		return d
	})
}

func sampler(cfg Config) (func() float64, error) {
	rng := rand.New(rand.NewSource(cfg.Seed))
	switch cfg.Distribution {
	case "normal":
		if cfg.Std <= 0 {
			return nil, fmt.Errorf("normal distribution needs std > 0")
		}
		return func() float64 { return 1 + cfg.Std*rng.NormFloat64() }, nil
	case "triangular":
		low, mode, high := cfg.Low, cfg.Mode, cfg.High
		if !(low <= mode && mode <= high && low < high) {
			return nil, fmt.Errorf("triangular distribution needs low <= mode <= high and low < high")
		}
		return func() float64 {
			u := rng.Float64()
			c := (mode - low) / (high - low)
			if u < c {
				return low + math.Sqrt(u*(high-low)*(mode-low))
			}
			return high - math.Sqrt((1-u)*(high-low)*(high-mode))
		}, nil
	default:
		return nil, fmt.Errorf("unknown distribution %q", cfg.Distribution)
	}
}
