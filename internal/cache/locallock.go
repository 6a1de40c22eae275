package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalLocker implements Locker in process memory. It serializes work within
// a single instance only; multi-instance deployments need the Redis locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localLease
	now  func() time.Time
}

type localLease struct {
	token     string
	expiresAt time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held: make(map[string]localLease),
		now:  time.Now,
	}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lease, ok := l.held[key]; ok && l.now().Before(lease.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = localLease{token: token, expiresAt: l.now().Add(ttl)}
	return token, true, nil
}

func (l *LocalLocker) Release(ctx context.Context, key, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lease, ok := l.held[key]
	if !ok || lease.token != token {
		return false, nil
	}
	delete(l.held, key)
	return true, nil
}
