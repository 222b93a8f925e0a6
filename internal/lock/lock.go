// Package lock provides distributed mutual exclusion backed by expiring
// lock rows in the database. Coordination must span processes sharing one
// backing store, so no in-memory mutex is trusted across that boundary.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Handle identifies a held lock. The token is a fencing value: release only
// removes the row while the token still matches, so a slow ex-holder cannot
// free a lock that was stolen after its TTL expired.
type Handle struct {
	OwnerID   string
	LockType  string
	Token     string
	ExpiresAt time.Time
}

// Manager is the mutual-exclusion primitive. Acquire returns a nil handle
// (and nil error) when another holder owns an unexpired lock; contention is
// an expected outcome, not an error.
type Manager interface {
	Acquire(ctx context.Context, ownerID, lockType string, ttl time.Duration) (*Handle, error)
	Release(ctx context.Context, h *Handle) error
	IsHeld(ctx context.Context, ownerID, lockType string) (bool, error)
}

// Store is the subset of the database store the manager needs.
type Store interface {
	TryAcquireLock(ctx context.Context, ownerID, lockType, token string, ttl time.Duration, metadata datatypes.JSON) (bool, error)
	ReleaseLock(ctx context.Context, ownerID, lockType, token string) error
	IsLockHeld(ctx context.Context, ownerID, lockType string) (bool, error)
}

// DBManager is the production Manager over lock rows.
type DBManager struct {
	store Store
}

// NewDBManager creates a Manager backed by the database store.
func NewDBManager(s Store) *DBManager {
	return &DBManager{store: s}
}

// Acquire attempts a conditional insert of the lock row.
func (m *DBManager) Acquire(ctx context.Context, ownerID, lockType string, ttl time.Duration) (*Handle, error) {
	token := uuid.New().String()
	ok, err := m.store.TryAcquireLock(ctx, ownerID, lockType, token, ttl, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Handle{
		OwnerID:   ownerID,
		LockType:  lockType,
		Token:     token,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// Release deletes the lock row keyed by the handle. Releasing a nil or
// already-released handle is a no-op.
func (m *DBManager) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	return m.store.ReleaseLock(ctx, h.OwnerID, h.LockType, h.Token)
}

// IsHeld reports whether an unexpired lock exists for the pair.
func (m *DBManager) IsHeld(ctx context.Context, ownerID, lockType string) (bool, error) {
	return m.store.IsLockHeld(ctx, ownerID, lockType)
}
