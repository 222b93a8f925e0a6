package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/adforge/adforge/internal/model"
	"github.com/adforge/adforge/internal/wizard"
)

// MigrateWizardProgress is the atomic migrate procedure: it merges an
// anonymous record into a user's progress record and closes the anonymous
// record in a single transaction (the commit and cleanup phases of a
// migration). The caller owns lock acquisition, step calculation and the
// pre-mutation backup.
//
// Running it against an already-used anonymous record is a no-op that
// returns the user's current record, which is what makes retries and
// duplicate invocations safe.
func (s *Store) MigrateWizardProgress(ctx context.Context, userID, sessionID string, calculatedStep int) (*model.WizardProgress, error) {
	var out model.WizardProgress

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var anon model.AnonymousUsage
		err := tx.First(&anon, "session_id = ?", sessionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var user model.WizardProgress
		err = tx.First(&user, "user_id = ?", userID).Error
		userExists := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if anon.Used {
			// Already consumed by an earlier attempt
			if !userExists {
				return ErrNotFound
			}
			out = user
			return nil
		}

		anonData := anon.Data()
		if anonData.CurrentStep < calculatedStep {
			anonData.CurrentStep = calculatedStep
		}
		merged := wizard.Merge(user.Data(), anonData)

		now := time.Now()
		user.UserID = userID
		user.BusinessIdea = merged.BusinessIdea
		user.TargetAudience = merged.TargetAudience
		user.AudienceAnalysis = merged.AudienceAnalysis
		user.GeneratedAds = merged.GeneratedAds
		user.SelectedHooks = merged.SelectedHooks
		user.CurrentStep = merged.CurrentStep
		user.IsMigration = true
		user.MigrationToken = &sessionID
		user.LastSaveAttempt = &now
		if userExists {
			user.Version++
			if err := tx.Save(&user).Error; err != nil {
				return err
			}
		} else {
			user.Version = 1
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
		}

		anon.Used = true
		anon.Completed = true
		if merged.CurrentStep > anon.LastCompletedStep {
			anon.LastCompletedStep = merged.CurrentStep
		}
		if err := tx.Save(&anon).Error; err != nil {
			return err
		}

		out = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
