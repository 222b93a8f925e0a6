package model

import (
	"time"

	"gorm.io/datatypes"
)

// Lock type constants for the wizard_locks table.
const (
	// LockTypeMigration serializes anonymous-to-user progress migration.
	LockTypeMigration = "wizard_migration"

	// LockTypeAtomic serializes short generic atomic operations.
	LockTypeAtomic = "atomic_operation"
)

// WizardLock is a persisted, TTL-bound mutual-exclusion row. At most one
// unexpired row exists per (owner_id, lock_type); acquisition is a
// conditional insert, release a delete keyed by the same pair plus the
// fencing token. Expired rows are treated as abandoned and may be stolen.
type WizardLock struct {
	OwnerID   string         `gorm:"primaryKey;column:owner_id;type:text" json:"ownerId"`
	LockType  string         `gorm:"primaryKey;column:lock_type;type:text" json:"lockType"`
	Token     string         `gorm:"not null;type:text" json:"token"`
	ExpiresAt time.Time      `gorm:"column:expires_at;not null;index" json:"expiresAt"`
	Metadata  datatypes.JSON `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"createdAt"`
}

func (WizardLock) TableName() string { return "wizard_locks" }

// Expired reports whether the lock row is past its TTL at the given time.
func (l *WizardLock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}
