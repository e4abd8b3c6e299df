package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetCachedRoute returns a non-expired cache entry or ErrNotFound. Expired
// entries are treated as absent but left in place; the next writeback
// replaces them.
func (s *Store) GetCachedRoute(ctx context.Context, originID, destinationID, mode string) (*RouteCacheEntry, error) {
	var e RouteCacheEntry
	err := s.db.GetContext(ctx, &e, `
		SELECT * FROM route_cache WHERE origin_id = ? AND destination_id = ? AND mode = ?`,
		originID, destinationID, mode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read route cache: %w", err)
	}
	if e.ExpiresAt.Valid && e.ExpiresAt.Time.Before(time.Now().UTC()) {
		return nil, ErrNotFound
	}
	return &e, nil
}

// PutCachedRoute upserts a cache entry under the (origin, destination, mode)
// uniqueness constraint. Concurrent writers race benignly: the conflict
// clause keeps exactly one row and the stored values of whichever writer
// lands second are identical for a stable road network.
func (s *Store) PutCachedRoute(ctx context.Context, e RouteCacheEntry) error {
	var expires any
	if e.ExpiresAt.Valid {
		expires = e.ExpiresAt.Time.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO route_cache (origin_id, destination_id, mode, distance_km, duration_minutes, provider, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(origin_id, destination_id, mode) DO UPDATE SET
			distance_km = excluded.distance_km,
			duration_minutes = excluded.duration_minutes,
			provider = excluded.provider,
			expires_at = excluded.expires_at`,
		e.OriginID, e.DestinationID, e.Mode, e.DistanceKM, e.DurationMinutes, e.Provider, expires)
	if err != nil {
		return fmt.Errorf("failed to write route cache: %w", err)
	}
	return nil
}

// CountCachedRoutes returns the number of cache rows for a key. Exists for
// the idempotence tests.
func (s *Store) CountCachedRoutes(ctx context.Context, originID, destinationID, mode string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM route_cache WHERE origin_id = ? AND destination_id = ? AND mode = ?`,
		originID, destinationID, mode)
	if err != nil {
		return 0, fmt.Errorf("failed to count route cache rows: %w", err)
	}
	return n, nil
}
