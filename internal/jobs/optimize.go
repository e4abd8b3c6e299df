package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clinkerplan/internal/config"
	"clinkerplan/internal/kpi"
	"clinkerplan/internal/logging"
	"clinkerplan/internal/planning"
	"clinkerplan/internal/scenario"
	"clinkerplan/internal/solver"
	"clinkerplan/internal/store"
)

// JobTypeOptimization is the job type for plan optimization runs.
const JobTypeOptimization = "optimization"

// OptimizePayload is the JSON payload of an optimization job. An empty
// scenario list plans the base scenario only.
type OptimizePayload struct {
	Scenarios []scenario.Config `json:"scenarios,omitempty"`
}

// Optimizer is the optimization job handler: it loads the canonical
// dataset, plans every requested scenario, persists a run record per
// scenario, and materializes KPIs for the completed ones.
type Optimizer struct {
	store   *store.Store
	driver  *solver.Driver
	runner  *scenario.Runner
	kpis    *kpi.Materializer
	opts    solver.Options
	build   planning.BuildOptions
	penalty float64

	onSolve func(solver string, seconds float64)
}

// Driver exposes the solver chain so callers can attach observers.
func (o *Optimizer) Driver() *solver.Driver {
	return o.driver
}

// Observe installs a per-completed-scenario solve callback.
func (o *Optimizer) Observe(onSolve func(solver string, seconds float64)) {
	o.onSolve = onSolve
}

// NewOptimizer wires the optimization handler from config. It fails only
// when the configured solver name is unknown.
func NewOptimizer(s *store.Store, cfg config.SolverConfig) (*Optimizer, error) {
	driver, err := solver.NewDriver(cfg)
	if err != nil {
		return nil, err
	}
	build := planning.BuildOptions{SoftDemand: cfg.SoftDemand, PenaltyPerTonne: cfg.PenaltyPerTonne}
	penalty := 0.0
	if cfg.SoftDemand {
		penalty = cfg.PenaltyPerTonne
		if penalty <= 0 {
			penalty = planning.DefaultPenaltyPerTonne
		}
	}
	return &Optimizer{
		store:  s,
		driver: driver,
		runner: scenario.NewRunner(driver, build),
		kpis:   kpi.New(s),
		opts: solver.Options{
			TimeLimit: time.Duration(cfg.TimeLimitSeconds) * time.Second,
			MIPGap:    cfg.MIPGap,
		},
		build:   build,
		penalty: penalty,
	}, nil
}

// Handle runs one optimization job. The cancel flag is checked between
// stages; a solve in flight always completes.
func (o *Optimizer) Handle(ctx context.Context, job *store.Job, progress Progress, cancelled func() bool) (string, string, error) {
	log := logging.Get(logging.CategoryJobs)

	var payload OptimizePayload
	if job.Payload != "" {
		if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
			return "", "", fmt.Errorf("invalid optimization payload: %w", err)
		}
	}
	configs := payload.Scenarios
	if len(configs) == 0 {
		configs = scenario.Base()
	}

	progress(5, "loading planning dataset")
	loader := planning.NewLoader(o.store)
	ds, err := loader.Load(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to load planning dataset: %w", err)
	}
	if cancelled() {
		return "", "", ErrCancelled
	}

	progress(15, fmt.Sprintf("planning %d scenarios", len(configs)))
	started := time.Now()
	results := o.runner.Run(ctx, ds, configs)
	if cancelled() {
		return "", "", ErrCancelled
	}

	progress(85, "persisting run records")
	firstRef, completed := "", 0
	for _, res := range results {
		runID, err := o.persistRun(ctx, started, res)
		if err != nil {
			return "", "", err
		}
		if res.Status != scenario.StatusCompleted {
			continue
		}
		completed++
		if firstRef == "" {
			firstRef = runID
		}
		if o.onSolve != nil {
			o.onSolve(res.Solve.Solver, res.Solve.RuntimeSeconds)
		}
		err = o.kpis.Materialize(ctx, kpi.Input{
			ScenarioName:    res.Name,
			RunID:           runID,
			Dataset:         ds,
			Demand:          res.Demand,
			Plan:            res.Plan,
			PenaltyPerTonne: o.penalty,
		})
		if err != nil {
			return "", "", fmt.Errorf("failed to materialize kpis for %s: %w", res.Name, err)
		}
	}

	summary := fmt.Sprintf("%d/%d scenarios completed", completed, len(results))
	log.Infow("optimization job finished", "job_id", job.JobID, "summary", summary)
	if completed == 0 {
		return "", "", fmt.Errorf("no scenario completed: %s", firstError(results))
	}
	progress(100, summary)
	return firstRef, summary, nil
}

// persistRun writes one optimization_run row. Failed scenarios are
// recorded too, with the error captured in the result payload.
func (o *Optimizer) persistRun(ctx context.Context, started time.Time, res scenario.Result) (string, error) {
	runID := uuid.NewString()
	run := store.OptimizationRun{
		RunID:            runID,
		ScenarioName:     res.Name,
		TimeLimitSeconds: o.opts.TimeLimit.Seconds(),
		GapTolerance:     o.opts.MIPGap,
		ValidationStatus: "validated",
		StartedAt:        sql.NullTime{Time: started, Valid: true},
		FinishedAt:       sql.NullTime{Time: time.Now(), Valid: true},
	}
	if res.Status == scenario.StatusCompleted {
		blob, err := json.Marshal(res.Plan)
		if err != nil {
			return "", fmt.Errorf("failed to encode plan for %s: %w", res.Name, err)
		}
		run.SolverName = res.Solve.Solver
		run.SolverStatus = res.Solve.Status
		run.ObjectiveValue = sql.NullFloat64{Float64: res.Plan.Objective, Valid: true}
		run.SolveTimeSeconds = res.Solve.RuntimeSeconds
		run.ResultJSON = string(blob)
	} else {
		run.SolverStatus = res.Status
		blob, _ := json.Marshal(map[string]string{"error": res.Error})
		run.ResultJSON = string(blob)
	}
	if err := o.store.InsertRun(ctx, run); err != nil {
		return "", err
	}
	return runID, nil
}

func firstError(results []scenario.Result) string {
	for _, res := range results {
		if res.Error != "" {
			return res.Error
		}
	}
	return "no scenarios supplied"
}

// ResultForJob resolves a successful job's result reference to the stored
// run record. Callers distinguish not-ready from failed via the job status.
func ResultForJob(ctx context.Context, s *store.Store, job *store.Job) (*store.OptimizationRun, error) {
	switch job.Status {
	case store.JobSuccess:
	case store.JobFailed:
		return nil, fmt.Errorf("job %s failed: %s", job.JobID, job.ErrorPayload)
	default:
		return nil, fmt.Errorf("%w: job %s is %s, results not ready", store.ErrIllegalState, job.JobID, job.Status)
	}
	if job.ResultRef == "" {
		return nil, errors.New("job has no result reference")
	}
	return s.GetRun(ctx, job.ResultRef)
}
