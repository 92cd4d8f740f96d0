// Package locksvc provides expiring keys used to run scheduled work once across replicas.
package locksvc

import (
	"context"
	"sync"
	"time"
)

// Locker claims keys for a limited time.
type Locker interface {
	// TryLock claims `key` for `ttl`. It reports false if the key is already claimed.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release frees `key` before its expiry.
	Release(ctx context.Context, key string) error
}

type memoryLocker struct {
	mu      sync.Mutex
	keys    map[string]time.Time // key -> expiry
	nowFunc func() time.Time
}

var _ Locker = (*memoryLocker)(nil)

// NewMemoryLocker returns a process-local Locker; `now` may be nil.
func NewMemoryLocker(now func() time.Time) Locker {
	if now == nil {
		now = time.Now
	}
	return &memoryLocker{keys: make(map[string]time.Time), nowFunc: now}
}

func (l *memoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	for k, exp := range l.keys {
		if !now.Before(exp) {
			delete(l.keys, k)
		}
	}
	if _, ok := l.keys[key]; ok {
		return false, nil
	}
	l.keys[key] = now.Add(ttl)
	return true, nil
}

func (l *memoryLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.keys, key)
	l.mu.Unlock()
	return nil
}
