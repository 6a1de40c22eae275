// Package cache implements the two-tier cache and the distributed lease lock
// that serialize progression work. The local tier is an in-process TTL map;
// the remote tier is shared across instances. Remote failures are degraded,
// counted and logged, never surfaced to callers: the durable store stays
// authoritative.
package cache

import (
	"context"
	"time"
)

// Default TTLs for derived values. Invalidation on mutation is the primary
// consistency mechanism; TTLs only bound staleness across missed
// invalidations.
const (
	DependencyCheckTTL = 15 * time.Minute
	ProgressTTL        = 30 * time.Minute
	TreeTTL            = 15 * time.Minute
	LockLeaseTTL       = 5 * time.Minute
)

// Remote is the shared cache tier contract. Implementations must treat a
// missing key as (nil, false, nil), not an error.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) error
}

// Locker is a lease-based distributed lock. Acquire returns ok=false while
// another holder owns the key; Release succeeds only for the token returned
// by the matching Acquire, so a delayed caller cannot release a lock it no
// longer holds. The lease TTL bounds damage from a crashed holder; callers
// must not assume the lock survives past its TTL.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) (bool, error)
}
