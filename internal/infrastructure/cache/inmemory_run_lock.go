package cache

import (
	"context"
	"sync"
	"time"

	"github.com/facolos/etl/internal/domain/pipeline"
)

// lockEntry represents a held run lock with expiration
type lockEntry struct {
	expiresAt time.Time
}

// InMemoryRunLock implements RunLock using an in-memory map
// This is suitable for single-instance deployments and testing
type InMemoryRunLock struct {
	mu      sync.Mutex
	entries map[string]lockEntry
	now     func() time.Time
}

// NewInMemoryRunLock creates a new in-memory run lock
func NewInMemoryRunLock() *InMemoryRunLock {
	return &InMemoryRunLock{
		entries: make(map[string]lockEntry),
		now:     time.Now,
	}
}

// TryAcquire takes the lock for key unless it is held and not expired.
// A ttl of zero holds the lock until Release.
func (l *InMemoryRunLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, exists := l.entries[key]; exists {
		if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
			return false, nil
		}
		// Expired, will be overwritten
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	l.entries[key] = lockEntry{expiresAt: expiresAt}
	return true, nil
}

// Release frees the lock for key. Releasing a free key is a no-op.
func (l *InMemoryRunLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

// Held returns the number of held locks (for testing/monitoring)
func (l *InMemoryRunLock) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for _, e := range l.entries {
		if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// Ensure InMemoryRunLock implements RunLock
var _ pipeline.RunLock = (*InMemoryRunLock)(nil)
