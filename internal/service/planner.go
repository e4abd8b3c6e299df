// Package service is the semantic API surface: one facade over ingestion,
// validation, promotion, routing, and the optimization job queue. Transport
// layers (CLI, HTTP) call only this package.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"clinkerplan/internal/config"
	"clinkerplan/internal/ingest"
	"clinkerplan/internal/jobs"
	"clinkerplan/internal/logging"
	"clinkerplan/internal/metrics"
	"clinkerplan/internal/promote"
	"clinkerplan/internal/routing"
	"clinkerplan/internal/scenario"
	"clinkerplan/internal/store"
	"clinkerplan/internal/validate"
)

// ErrValidationIncomplete is returned by SubmitOptimization when the
// canonical planning tables hold no promoted demand yet.
var ErrValidationIncomplete = errors.New("canonical data incomplete: promote a validated demand batch first")

// Planner is the service facade.
type Planner struct {
	store     *store.Store
	ingestor  *ingest.Ingestor
	validator *validate.Validator
	promoter  *promote.Promoter
	resolver  *routing.Resolver
	queue     *jobs.Queue
	optimizer *jobs.Optimizer
	metrics   *metrics.Set
}

// New wires every subsystem against one store. The queue is constructed but
// not started; Serve (or the caller) starts it.
func New(s *store.Store, cfg *config.Config) (*Planner, error) {
	m := metrics.New()

	optimizer, err := jobs.NewOptimizer(s, cfg.Solver)
	if err != nil {
		return nil, err
	}
	optimizer.Observe(func(solver string, seconds float64) {
		m.SolveDuration.WithLabelValues(solver).Observe(seconds)
	})
	optimizer.Driver().Observe(func(solver string) {
		m.SolverFallbacks.WithLabelValues(solver).Inc()
	})

	queue := jobs.New(s, cfg.Jobs)
	queue.Register(jobs.JobTypeOptimization, optimizer.Handle)
	queue.Observe(func(jobType, status string) {
		m.JobsFinished.WithLabelValues(status).Inc()
	})

	resolver := routing.NewResolver(s, cfg.Routing)
	resolver.Observe(m.RouteCacheHits.Inc, m.RouteCacheMiss.Inc)

	return &Planner{
		store:     s,
		ingestor:  ingest.New(s),
		validator: validate.New(s),
		promoter:  promote.New(s),
		resolver:  resolver,
		queue:     queue,
		optimizer: optimizer,
		metrics:   m,
	}, nil
}

// Queue exposes the job queue for lifecycle control.
func (p *Planner) Queue() *jobs.Queue { return p.queue }

// Metrics exposes the instrument set for the serve handler.
func (p *Planner) Metrics() *metrics.Set { return p.metrics }

// Ingest stages one batch.
func (p *Planner) Ingest(ctx context.Context, rows []ingest.Row, targetTable, sourceDescriptor string) (*ingest.Result, error) {
	res, err := p.ingestor.Ingest(ctx, rows, targetTable, sourceDescriptor)
	if err != nil {
		return nil, err
	}
	p.metrics.BatchesIngested.WithLabelValues(res.Target).Inc()
	return res, nil
}

// Validate sweeps one batch and returns the full report.
func (p *Planner) Validate(ctx context.Context, batchID string) (*validate.Report, error) {
	report, err := p.validator.Validate(ctx, batchID)
	if err != nil {
		return nil, err
	}
	p.metrics.RowsValidated.WithLabelValues("valid").Add(float64(report.ValidRows))
	p.metrics.RowsValidated.WithLabelValues("invalid").Add(float64(report.InvalidRows))
	return report, nil
}

// Promote moves a validated batch into its canonical table.
func (p *Planner) Promote(ctx context.Context, batchID string) (*promote.Result, error) {
	return p.promoter.Promote(ctx, batchID)
}

// BatchStatus returns the batch snapshot.
func (p *Planner) BatchStatus(ctx context.Context, batchID string) (*store.ValidationBatch, error) {
	return p.store.GetBatch(ctx, batchID)
}

// ListBatches returns recent batches, newest first.
func (p *Planner) ListBatches(ctx context.Context, limit int) ([]store.ValidationBatch, error) {
	return p.store.ListRecentBatches(ctx, limit)
}

// OptimizationRequest describes one submit_optimization call. An empty
// scenario list plans the base scenario.
type OptimizationRequest struct {
	Scenarios []scenario.Config `json:"scenarios,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
}

// SubmitOptimization enqueues an optimization job after checking that
// promoted demand exists to plan against.
func (p *Planner) SubmitOptimization(ctx context.Context, req OptimizationRequest) (string, error) {
	demand, err := p.store.ListDemand(ctx)
	if err != nil {
		return "", err
	}
	if len(demand) == 0 {
		return "", ErrValidationIncomplete
	}

	payload, err := encodePayload(req.Scenarios)
	if err != nil {
		return "", err
	}
	name := "base"
	if len(req.Scenarios) > 0 {
		name = req.Scenarios[0].Name
	}
	jobID, err := p.queue.Submit(ctx, jobs.JobTypeOptimization, payload, name, req.UserID)
	if err != nil {
		return "", err
	}
	p.metrics.JobsSubmitted.Inc()
	logging.Get(logging.CategoryAPI).Infow("optimization submitted",
		"job_id", jobID, "scenarios", len(req.Scenarios), "user_id", req.UserID)
	return jobID, nil
}

// JobStatus returns the full job record.
func (p *Planner) JobStatus(ctx context.Context, jobID string) (*store.Job, error) {
	return p.store.GetJob(ctx, jobID)
}

// JobResults resolves a finished job to its stored run record. Not-ready
// and failed jobs surface as errors per the job status.
func (p *Planner) JobResults(ctx context.Context, jobID string) (*store.OptimizationRun, error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return jobs.ResultForJob(ctx, p.store, job)
}

// CancelJob requests cancellation of a pending or running job.
func (p *Planner) CancelJob(ctx context.Context, jobID string) error {
	return p.queue.Cancel(ctx, jobID)
}

// ResolveRoute answers a distance/duration lookup through the cache and
// provider chain.
func (p *Planner) ResolveRoute(ctx context.Context, originID, destinationID, mode string) (*store.RouteCacheEntry, error) {
	if mode == "" {
		mode = "driving"
	}
	return p.resolver.Resolve(ctx, originID, destinationID, mode)
}

// KPIs returns the materialized rows for a scenario.
func (p *Planner) KPIs(ctx context.Context, scenarioName string) ([]store.KPIPerPeriod, *store.KPIAggregated, error) {
	periods, err := p.store.GetKPIPerPeriod(ctx, scenarioName)
	if err != nil {
		return nil, nil, err
	}
	agg, err := p.store.GetKPIAggregated(ctx, scenarioName)
	if err != nil {
		return nil, nil, err
	}
	return periods, agg, nil
}

func encodePayload(configs []scenario.Config) (string, error) {
	if len(configs) == 0 {
		return "", nil
	}
	blob, err := json.Marshal(jobs.OptimizePayload{Scenarios: configs})
	if err != nil {
		return "", fmt.Errorf("failed to encode scenarios: %w", err)
	}
	return string(blob), nil
}
