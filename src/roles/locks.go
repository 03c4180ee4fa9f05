package roles

import (
	"context"
	"sync"
	"time"
)

// LockManager hands out one exclusive lock per user id. Locks are created on
// first use and never removed.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLockManager returns an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]chan struct{})}
}

func (m *LockManager) lockFor(userID string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[userID]
	if !ok {
		lock = make(chan struct{}, 1)
		m.locks[userID] = lock
	}
	return lock
}

// Acquire blocks until the user's lock is held or ctx is done. The returned
// function releases the lock and must be called exactly once.
func (m *LockManager) Acquire(ctx context.Context, userID string) (func(), error) {
	lock := m.lockFor(userID)
	select {
	case lock <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-lock }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports how many user locks exist.
func (m *LockManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// DistributedLocker guards a key across process replicas.
type DistributedLocker interface {
	// Lock returns a release function, or an error when the key could not be
	// obtained before ctx expired.
	Lock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
