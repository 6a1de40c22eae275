package cache

import (
	"path"
	"strings"
	"sync"
	"time"
)

// Local is the in-process cache tier. Entries expire lazily on read; Sweep
// may be called periodically to reclaim memory for write-heavy workloads.
type Local struct {
	mu      sync.RWMutex
	entries map[string]localEntry
	now     func() time.Time
}

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewLocal() *Local {
	return &Local{
		entries: make(map[string]localEntry),
		now:     time.Now,
	}
}

func (l *Local) Get(key string) ([]byte, bool) {
	l.mu.RLock()
	entry, ok := l.entries[key]
	l.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if l.now().After(entry.expiresAt) {
		l.mu.Lock()
		delete(l.entries, key)
		l.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

func (l *Local) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	l.mu.Lock()
	l.entries[key] = localEntry{value: value, expiresAt: l.now().Add(ttl)}
	l.mu.Unlock()
}

func (l *Local) Delete(keys ...string) {
	l.mu.Lock()
	for _, key := range keys {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}

// DeletePattern removes every entry whose key matches the glob pattern.
func (l *Local) DeletePattern(pattern string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Fast path: prefix patterns avoid per-key glob matching.
	if strings.HasSuffix(pattern, "*") && strings.Count(pattern, "*") == 1 {
		prefix := strings.TrimSuffix(pattern, "*")
		for key := range l.entries {
			if strings.HasPrefix(key, prefix) {
				delete(l.entries, key)
			}
		}
		return
	}
	for key := range l.entries {
		if ok, err := path.Match(pattern, key); err == nil && ok {
			delete(l.entries, key)
		}
	}
}

// Sweep drops expired entries and returns how many were removed.
func (l *Local) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, entry := range l.entries {
		if now.After(entry.expiresAt) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

func (l *Local) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
