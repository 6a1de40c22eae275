package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Tiered composes the local and remote tiers. Reads check local first, then
// remote (repopulating local on hit). Writes go to both tiers.
//
// Every remote error is absorbed: the failure counter increments, the error
// is logged at warn, and the caller sees a miss (reads) or a local-only
// write. Core operations stay correct against the durable store when the
// remote tier is down.
type Tiered struct {
	local  *Local
	remote Remote
	logger *slog.Logger

	remoteFailures atomic.Uint64
}

func NewTiered(local *Local, remote Remote, logger *slog.Logger) *Tiered {
	if local == nil {
		local = NewLocal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tiered{local: local, remote: remote, logger: logger}
}

func (t *Tiered) Get(ctx context.Context, key string, localTTL time.Duration) ([]byte, bool) {
	if value, ok := t.local.Get(key); ok {
		return value, true
	}
	if t.remote == nil {
		return nil, false
	}
	value, ok, err := t.remote.Get(ctx, key)
	if err != nil {
		t.degrade("get", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	t.local.Set(key, value, localTTL)
	return value, true
}

func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	t.local.Set(key, value, ttl)
	if t.remote == nil {
		return
	}
	if err := t.remote.Set(ctx, key, value, ttl); err != nil {
		t.degrade("set", key, err)
	}
}

// Invalidate removes keys from both tiers. Deletion, not overwrite: a
// concurrent reader must recompute from the durable store rather than see a
// stale value.
func (t *Tiered) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	t.local.Delete(keys...)
	if t.remote == nil {
		return
	}
	if err := t.remote.Delete(ctx, keys...); err != nil {
		t.degrade("delete", keys[0], err)
	}
}

func (t *Tiered) InvalidatePattern(ctx context.Context, pattern string) {
	t.local.DeletePattern(pattern)
	if t.remote == nil {
		return
	}
	if err := t.remote.DeletePattern(ctx, pattern); err != nil {
		t.degrade("delete_pattern", pattern, err)
	}
}

// RemoteFailures reports how many remote operations have been degraded since
// startup.
func (t *Tiered) RemoteFailures() uint64 {
	return t.remoteFailures.Load()
}

func (t *Tiered) degrade(op, key string, err error) {
	t.remoteFailures.Add(1)
	t.logger.Warn("remote cache degraded", "op", op, "key", key, "error", err)
}
