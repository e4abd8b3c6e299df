package service

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"clinkerplan/internal/config"
	"clinkerplan/internal/logging"
)

// retentionSweepInterval is how often expired batches are purged.
const retentionSweepInterval = time.Hour

// Serve runs the long-lived mode: job queue workers, the health/metrics
// endpoint, and the periodic staging retention sweep. It blocks until the
// context is cancelled, then drains the queue and shuts the listener down.
func (p *Planner) Serve(ctx context.Context, cfg *config.Config) error {
	log := logging.Get(logging.CategoryBoot)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := p.queue.Start(ctx); err != nil {
		return err
	}
	defer p.queue.Stop()

	sweepDone := make(chan struct{})
	go p.retentionSweep(ctx, cfg.Batch.RetentionDays, sweepDone)

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.Method(http.MethodGet, "/metrics", p.metrics.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnw("listener shutdown", "error", err)
		}
		<-sweepDone
		return nil
	case err := <-errCh:
		cancel()
		<-sweepDone
		return err
	}
}

// retentionSweep purges expired staging batches on a fixed interval. A
// retention of zero days disables the sweep.
func (p *Planner) retentionSweep(ctx context.Context, retentionDays int, done chan<- struct{}) {
	defer close(done)
	if retentionDays <= 0 {
		return
	}
	log := logging.Get(logging.CategoryStore)
	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -retentionDays)
			n, err := p.store.PurgeExpiredBatches(ctx, cutoff)
			if err != nil {
				log.Warnw("retention sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Infow("expired staging batches purged", "count", n, "cutoff", cutoff)
			}
		}
	}
}
