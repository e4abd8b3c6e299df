package routing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"clinkerplan/internal/config"
	"clinkerplan/internal/logging"
	"clinkerplan/internal/store"
)

// Resolver answers resolve-route requests: cache first, then the provider
// chain with retry and circuit breaking, then durable cache writeback.
type Resolver struct {
	store      *store.Store
	providers  []Provider
	breakers   map[string]*gobreaker.CircuitBreaker
	maxRetries int
	cacheTTL   time.Duration
	group      singleflight.Group

	onCacheHit  func()
	onCacheMiss func()
}

// Observe installs cache hit/miss callbacks. Either may be nil.
func (r *Resolver) Observe(onHit, onMiss func()) {
	r.onCacheHit = onHit
	r.onCacheMiss = onMiss
}

// NewResolver wires the provider chain from configuration. The secondary
// provider participates only when credentialed, and then takes precedence
// over the keyless primary.
func NewResolver(s *store.Store, cfg config.RoutingConfig) *Resolver {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var providers []Provider
	if cfg.SecondaryAPIKey != "" {
		providers = append(providers, NewORS(cfg.SecondaryBaseURL, cfg.SecondaryAPIKey, timeout))
	}
	providers = append(providers, NewOSRM(cfg.PrimaryBaseURL, timeout))

	return newResolver(s, providers, cfg)
}

// newResolver accepts an explicit provider chain. Tests inject stubs here.
func newResolver(s *store.Store, providers []Provider, cfg config.RoutingConfig) *Resolver {
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(providers))
	for _, p := range providers {
		breakers[p.Name()] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "routing-" + p.Name(),
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	return &Resolver{
		store:      s,
		providers:  providers,
		breakers:   breakers,
		maxRetries: cfg.MaxRetries,
		cacheTTL:   time.Duration(cfg.CacheTTLDays) * 24 * time.Hour,
	}
}

// Resolve returns the cached or freshly fetched route for the tuple.
// Concurrent calls for the same tuple are collapsed, so the cache ends up
// with exactly one row per key.
func (r *Resolver) Resolve(ctx context.Context, originID, destinationID, mode string) (*store.RouteCacheEntry, error) {
	if cached, err := r.store.GetCachedRoute(ctx, originID, destinationID, mode); err == nil {
		if r.onCacheHit != nil {
			r.onCacheHit()
		}
		return cached, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if r.onCacheMiss != nil {
		r.onCacheMiss()
	}

	key := originID + "\x00" + destinationID + "\x00" + mode
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.fetchAndCache(ctx, originID, destinationID, mode)
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.RouteCacheEntry), nil
}

func (r *Resolver) fetchAndCache(ctx context.Context, originID, destinationID, mode string) (*store.RouteCacheEntry, error) {
	log := logging.Get(logging.CategoryRouting)

	origin, err := r.coordinate(ctx, originID)
	if err != nil {
		return nil, err
	}
	destination, err := r.coordinate(ctx, destinationID)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, p := range r.providers {
		est, err := r.callProvider(ctx, p, origin, destination)
		if err != nil {
			lastErr = err
			log.Warnw("routing provider failed",
				"provider", p.Name(), "origin", originID, "destination", destinationID, "error", err)
			continue
		}

		entry := entryFromEstimate(originID, destinationID, mode, p.Name(), est)
		if r.cacheTTL > 0 {
			entry.ExpiresAt = sql.NullTime{Time: time.Now().UTC().Add(r.cacheTTL), Valid: true}
		}
		if err := r.store.PutCachedRoute(ctx, entry); err != nil {
			return nil, err
		}
		// Reread so the caller sees the stored row; a concurrent writer may
		// have landed first and its row wins.
		stored, err := r.store.GetCachedRoute(ctx, originID, destinationID, mode)
		if err != nil {
			return nil, err
		}
		log.Infow("route resolved",
			"origin", originID, "destination", destinationID, "mode", mode,
			"provider", stored.Provider, "distance_km", stored.DistanceKM)
		return stored, nil
	}

	return nil, fmt.Errorf("%w: %s -> %s (%s): %v",
		ErrRouteUnavailable, originID, destinationID, mode, lastErr)
}

// callProvider runs one provider behind its breaker, retrying transient
// failures with exponential backoff. Permanent failures and an open breaker
// fall through to the next provider.
func (r *Resolver) callProvider(ctx context.Context, p Provider, origin, destination Coordinate) (*Estimate, error) {
	cb := r.breakers[p.Name()]
	attempts := uint(r.maxRetries)
	if attempts == 0 {
		attempts = 1
	}

	var est *Estimate
	err := retry.Do(
		func() error {
			v, err := cb.Execute(func() (any, error) {
				return p.Route(ctx, origin, destination)
			})
			if err != nil {
				return err
			}
			est = v.(*Estimate)
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return false
			}
			return IsTransient(err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return est, nil
}

// coordinate resolves a node's position from plants, falling back to the
// secondary coordinate table.
func (r *Resolver) coordinate(ctx context.Context, nodeID string) (Coordinate, error) {
	lat, lon, err := r.store.GetNodeCoordinate(ctx, nodeID)
	if errors.Is(err, store.ErrNotFound) {
		return Coordinate{}, fmt.Errorf("%w: node %s", ErrCoordinateMissing, nodeID)
	}
	if err != nil {
		return Coordinate{}, err
	}
	return Coordinate{Lat: lat, Lon: lon}, nil
}
