// Package store provides database operations using GORM.
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/adforge/adforge/internal/model"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
)

// Store wraps GORM DB for database operations.
type Store struct {
	db *gorm.DB
}

// New creates a new Store with the given GORM DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying GORM DB for advanced queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// --- Anonymous usage ---

// GetAnonymousUsage fetches the anonymous record for a session id.
func (s *Store) GetAnonymousUsage(ctx context.Context, sessionID string) (*model.AnonymousUsage, error) {
	var rec model.AnonymousUsage
	if err := s.db.WithContext(ctx).First(&rec, "session_id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// UpsertAnonymousProgress writes the wizard payload for an anonymous session,
// creating the record on first save. Anonymous writes are not version-gated:
// the session id is held by a single client, so the last write wins.
func (s *Store) UpsertAnonymousProgress(ctx context.Context, sessionID string, data model.WizardData, step int) (*model.AnonymousUsage, error) {
	now := time.Now()
	var rec model.AnonymousUsage

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&rec, "session_id = ?", sessionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec = model.AnonymousUsage{
				SessionID:         sessionID,
				LastCompletedStep: step,
				SaveCount:         1,
				LastSaveAttempt:   &now,
			}
			applyDataToAnonymous(&rec, data)
			return tx.Create(&rec).Error
		}
		if err != nil {
			return err
		}

		applyDataToAnonymous(&rec, data)
		if step > rec.LastCompletedStep {
			rec.LastCompletedStep = step
		}
		rec.SaveCount++
		rec.LastSaveAttempt = &now
		return tx.Save(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// applyDataToAnonymous copies present payload fields onto the record.
// Absent fields are left untouched so partial saves never erase data.
func applyDataToAnonymous(rec *model.AnonymousUsage, data model.WizardData) {
	if data.HasBusinessIdea() {
		rec.BusinessIdea = data.BusinessIdea
	}
	if data.HasTargetAudience() {
		rec.TargetAudience = data.TargetAudience
	}
	if data.HasAudienceAnalysis() {
		rec.AudienceAnalysis = data.AudienceAnalysis
	}
	if data.HasGeneratedAds() {
		rec.GeneratedAds = data.GeneratedAds
	}
	if data.HasSelectedHooks() {
		rec.SelectedHooks = data.SelectedHooks
	}
}

// MarkAnonymousUsed closes an anonymous record after its data has been
// migrated or its single trial generation consumed. Calling it on an
// already-used record is a safe no-op.
func (s *Store) MarkAnonymousUsed(ctx context.Context, sessionID string, lastStep int) error {
	updates := map[string]interface{}{
		"used":      true,
		"completed": true,
	}
	if lastStep > 0 {
		updates["last_completed_step"] = lastStep
	}
	// Updating zero rows (record absent or already closed with a higher
	// step) is not an error.
	return s.db.WithContext(ctx).Model(&model.AnonymousUsage{}).
		Where("session_id = ?", sessionID).
		Updates(updates).Error
}

// ClearAnonymousProgress resets an anonymous record to step 1 with no
// payload ("start over").
func (s *Store) ClearAnonymousProgress(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Model(&model.AnonymousUsage{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"business_idea":       nil,
			"target_audience":     nil,
			"audience_analysis":   nil,
			"generated_ads":       nil,
			"selected_hooks":      nil,
			"last_completed_step": model.StepIdea,
		}).Error
}

// --- Wizard progress ---

// GetWizardProgress fetches the progress record for a user.
func (s *Store) GetWizardProgress(ctx context.Context, userID string) (*model.WizardProgress, error) {
	var rec model.WizardProgress
	if err := s.db.WithContext(ctx).First(&rec, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// CreateWizardProgress inserts the first progress record for a user with
// version 1. Fails if a record already exists (primary key conflict), which
// callers treat as a concurrent-create conflict.
func (s *Store) CreateWizardProgress(ctx context.Context, rec *model.WizardProgress) error {
	if rec.Version == 0 {
		rec.Version = 1
	}
	if rec.CurrentStep == 0 {
		rec.CurrentStep = model.StepIdea
	}
	now := time.Now()
	rec.LastSaveAttempt = &now
	return s.db.WithContext(ctx).Create(rec).Error
}

// UpdateWizardProgressVersioned performs the version-gated conditional
// update: fields are applied only when the stored version still equals
// expectedVersion, and the stored version becomes expectedVersion+1.
// Returns false when zero rows were affected (a concurrent writer won).
func (s *Store) UpdateWizardProgressVersioned(ctx context.Context, userID string, fields map[string]interface{}, expectedVersion int) (bool, error) {
	now := time.Now()
	updates := map[string]interface{}{
		"version":           expectedVersion + 1,
		"updated_at":        now,
		"last_save_attempt": now,
	}
	for k, v := range fields {
		updates[k] = v
	}

	result := s.db.WithContext(ctx).Model(&model.WizardProgress{}).
		Where("user_id = ? AND version = ?", userID, expectedVersion).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ClearWizardProgress resets a user's record to step 1 with no payload.
// The version still advances so concurrent stale saves lose the gate.
func (s *Store) ClearWizardProgress(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Model(&model.WizardProgress{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"business_idea":     nil,
			"target_audience":   nil,
			"audience_analysis": nil,
			"generated_ads":     nil,
			"selected_hooks":    nil,
			"current_step":      model.StepIdea,
			"is_migration":      false,
			"migration_token":   nil,
			"version":           gorm.Expr("version + 1"),
		}).Error
}
