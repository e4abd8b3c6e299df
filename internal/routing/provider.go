// Package routing resolves (origin, destination, mode) tuples to road
// distance and duration through external routing providers, with a durable
// cache in front and retry plus circuit breaking behind.
package routing

import (
	"context"
	"errors"

	"clinkerplan/internal/store"
)

// Sentinel errors surfaced by Resolve.
var (
	// ErrCoordinateMissing means origin or destination has no usable
	// latitude/longitude in plants or node_coordinates.
	ErrCoordinateMissing = errors.New("coordinate missing")
	// ErrRouteUnavailable means every configured provider failed and no
	// cache entry exists.
	ErrRouteUnavailable = errors.New("route unavailable")
)

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Estimate is one provider answer.
type Estimate struct {
	DistanceKM      float64
	DurationMinutes float64
}

// Provider turns a coordinate pair into a distance/duration estimate.
// Implementations classify their failures with Transient so the resolver
// can decide between retrying and falling through.
type Provider interface {
	Name() string
	Route(ctx context.Context, origin, destination Coordinate) (*Estimate, error)
}

// transientError marks failures worth retrying on the same provider:
// network errors, 5xx responses, timeouts.
type transientError struct {
	err error
}

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked retryable.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// entryFromEstimate prepares a cache row for writeback.
func entryFromEstimate(originID, destinationID, mode, provider string, est *Estimate) store.RouteCacheEntry {
	return store.RouteCacheEntry{
		OriginID:        originID,
		DestinationID:   destinationID,
		Mode:            mode,
		DistanceKM:      est.DistanceKM,
		DurationMinutes: est.DurationMinutes,
		Provider:        provider,
	}
}
