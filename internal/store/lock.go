package store

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adforge/adforge/internal/model"
)

// TryAcquireLock attempts to take the (ownerID, lockType) lock row.
// Returns true when this caller now holds the lock. Renewal by the current
// holder and steal of an expired row are one conditional UPDATE gated on
// RowsAffected, so two concurrent stealers cannot both win: the loser's
// re-evaluated condition sees a fresh token and a future expiry. A missing
// row falls through to a conditional insert.
func (s *Store) TryAcquireLock(ctx context.Context, ownerID, lockType, token string, ttl time.Duration, metadata datatypes.JSON) (bool, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	var acquired bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.WizardLock{}).
			Where("owner_id = ? AND lock_type = ? AND (token = ? OR expires_at <= ?)",
				ownerID, lockType, token, now).
			Updates(map[string]interface{}{
				"token":      token,
				"expires_at": expiresAt,
				"metadata":   metadata,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			acquired = true
			return nil
		}

		var count int64
		if err := tx.Model(&model.WizardLock{}).
			Where("owner_id = ? AND lock_type = ?", ownerID, lockType).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			// Another caller holds an unexpired lock
			return nil
		}

		lock := model.WizardLock{
			OwnerID:   ownerID,
			LockType:  lockType,
			Token:     token,
			ExpiresAt: expiresAt,
			Metadata:  metadata,
		}
		if err := tx.Create(&lock).Error; err != nil {
			// Another caller won the insert race
			return nil
		}
		acquired = true
		return nil
	})

	return acquired, err
}

// ReleaseLock deletes the lock row if the fencing token still matches.
// Deleting a missing or already-stolen row is not an error, which makes
// release idempotent and keeps a slow ex-holder from clobbering a lock that
// was legitimately stolen after expiry.
func (s *Store) ReleaseLock(ctx context.Context, ownerID, lockType, token string) error {
	return s.db.WithContext(ctx).
		Where("owner_id = ? AND lock_type = ? AND token = ?", ownerID, lockType, token).
		Delete(&model.WizardLock{}).Error
}

// IsLockHeld reports whether an unexpired lock row exists for the pair.
func (s *Store) IsLockHeld(ctx context.Context, ownerID, lockType string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.WizardLock{}).
		Where("owner_id = ? AND lock_type = ? AND expires_at > ?", ownerID, lockType, time.Now()).
		Count(&count).Error
	return count > 0, err
}

// CleanupExpiredLocks removes lock rows past their TTL. Returns the number
// of rows removed.
func (s *Store) CleanupExpiredLocks(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now()).
		Delete(&model.WizardLock{})
	return result.RowsAffected, result.Error
}
