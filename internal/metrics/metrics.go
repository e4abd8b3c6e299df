// Package metrics exposes the process Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set bundles every instrument the service records.
type Set struct {
	registry *prometheus.Registry

	JobsFinished    *prometheus.CounterVec
	JobsSubmitted   prometheus.Counter
	SolveDuration   *prometheus.HistogramVec
	SolverFallbacks *prometheus.CounterVec
	RouteCacheHits  prometheus.Counter
	RouteCacheMiss  prometheus.Counter
	BatchesIngested *prometheus.CounterVec
	RowsValidated   *prometheus.CounterVec
}

// New builds a fresh registry with go runtime and process collectors.
func New() *Set {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Set{
		registry: reg,
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinkerplan", Subsystem: "jobs",
			Name: "finished_total", Help: "Jobs reaching a terminal status.",
		}, []string{"status"}),
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "clinkerplan", Subsystem: "jobs",
			Name: "submitted_total", Help: "Jobs accepted by the queue.",
		}),
		SolveDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinkerplan", Subsystem: "solver",
			Name: "solve_duration_seconds", Help: "Wall time per solver invocation.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"solver"}),
		SolverFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinkerplan", Subsystem: "solver",
			Name: "fallbacks_total", Help: "Chain steps skipped for unavailability or error.",
		}, []string{"solver"}),
		RouteCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "clinkerplan", Subsystem: "routing",
			Name: "cache_hits_total", Help: "Route lookups served from cache.",
		}),
		RouteCacheMiss: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "clinkerplan", Subsystem: "routing",
			Name: "cache_misses_total", Help: "Route lookups that hit a provider.",
		}),
		BatchesIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinkerplan", Subsystem: "ingest",
			Name: "batches_total", Help: "Staging batches created per target table.",
		}, []string{"table"}),
		RowsValidated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinkerplan", Subsystem: "validate",
			Name: "rows_total", Help: "Staged rows by validation outcome.",
		}, []string{"outcome"}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
