package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryManager is a single-process Manager for tests. It honors the same
// contract as DBManager (TTL expiry, token-fenced release) without a
// database.
type MemoryManager struct {
	mu    sync.Mutex
	locks map[memoryKey]memoryLock
	now   func() time.Time
}

type memoryKey struct {
	ownerID  string
	lockType string
}

type memoryLock struct {
	token     string
	expiresAt time.Time
}

// NewMemoryManager creates an in-memory lock manager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		locks: make(map[memoryKey]memoryLock),
		now:   time.Now,
	}
}

// SetClock overrides the time source. Tests use it to exercise TTL expiry.
func (m *MemoryManager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Acquire takes the lock unless an unexpired holder exists.
func (m *MemoryManager) Acquire(_ context.Context, ownerID, lockType string, ttl time.Duration) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{ownerID: ownerID, lockType: lockType}
	now := m.now()
	if existing, ok := m.locks[key]; ok && existing.expiresAt.After(now) {
		return nil, nil
	}

	token := uuid.New().String()
	expiresAt := now.Add(ttl)
	m.locks[key] = memoryLock{token: token, expiresAt: expiresAt}
	return &Handle{
		OwnerID:   ownerID,
		LockType:  lockType,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// Release removes the lock if the handle's token still owns it.
func (m *MemoryManager) Release(_ context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{ownerID: h.OwnerID, lockType: h.LockType}
	if existing, ok := m.locks[key]; ok && existing.token == h.Token {
		delete(m.locks, key)
	}
	return nil
}

// IsHeld reports whether an unexpired lock exists.
func (m *MemoryManager) IsHeld(_ context.Context, ownerID, lockType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[memoryKey{ownerID: ownerID, lockType: lockType}]
	return ok && existing.expiresAt.After(m.now()), nil
}

var _ Manager = (*MemoryManager)(nil)
var _ Manager = (*DBManager)(nil)
