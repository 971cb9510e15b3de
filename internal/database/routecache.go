package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hiveroute/hiveroute/internal/routing"
)

// ErrRouteNotFound is returned when a deferred-route label is unknown or its
// cache entry has expired.
var ErrRouteNotFound = errors.New("deferred route not found")

// RouteCache persists the deferred fork results of routing computations so
// the downstream engine's stage-two lookup can resolve them by label.
type RouteCache struct {
	db Querier
}

// NewRouteCache creates a route cache over the given pool.
func NewRouteCache(db Querier) *RouteCache {
	return &RouteCache{db: db}
}

// Store upserts all given deferred results with the given time to live.
// Labels are unique per session id, so collisions only occur when the same
// computation is persisted twice; the newer entry wins.
func (c *RouteCache) Store(ctx context.Context, entries map[string]*routing.IntermediateRoutingResult, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl)
	for label, result := range entries {
		payload, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encoding deferred route %s: %w", label, err)
		}
		_, err = c.db.Exec(ctx,
			`INSERT INTO routing_cache (label, result, expires_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (label) DO UPDATE
			 SET result = EXCLUDED.result, expires_at = EXCLUDED.expires_at`,
			label, payload, expiresAt)
		if err != nil {
			return fmt.Errorf("storing deferred route %s: %w", label, err)
		}
	}
	return nil
}

// Get returns the deferred result cached under label, or an error wrapping
// ErrRouteNotFound if the label is unknown or expired.
func (c *RouteCache) Get(ctx context.Context, label string) (*routing.IntermediateRoutingResult, error) {
	var payload []byte
	err := c.db.QueryRow(ctx,
		`SELECT result FROM routing_cache WHERE label = $1 AND expires_at > now()`,
		label).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, label)
		}
		return nil, fmt.Errorf("loading deferred route %s: %w", label, err)
	}
	var result routing.IntermediateRoutingResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decoding deferred route %s: %w", label, err)
	}
	return &result, nil
}

// Count returns the number of unexpired cache entries.
func (c *RouteCache) Count(ctx context.Context) (int64, error) {
	var count int64
	err := c.db.QueryRow(ctx,
		`SELECT count(*) FROM routing_cache WHERE expires_at > now()`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting deferred routes: %w", err)
	}
	return count, nil
}

// DeleteExpired removes all expired cache entries and returns the number of
// rows deleted.
func (c *RouteCache) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := c.db.Exec(ctx, `DELETE FROM routing_cache WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("deleting expired deferred routes: %w", err)
	}
	return tag.RowsAffected(), nil
}
