package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/adforge/adforge/internal/logger"
	"github.com/adforge/adforge/internal/model"
	"github.com/adforge/adforge/internal/store"
)

// progressStore is the subset of the database store the save engine needs.
type progressStore interface {
	GetWizardProgress(ctx context.Context, userID string) (*model.WizardProgress, error)
	CreateWizardProgress(ctx context.Context, rec *model.WizardProgress) error
	UpdateWizardProgressVersioned(ctx context.Context, userID string, fields map[string]interface{}, expectedVersion int) (bool, error)
}

// SaveEngine performs optimistic-concurrency writes to a user's wizard
// progress record. A write is gated on the submitted version matching the
// stored one; a losing writer re-reads the current version and retries with
// exponential backoff. No write is ever applied against a stale base.
type SaveEngine struct {
	store       progressStore
	log         *logger.Logger
	maxAttempts int
	backoffBase time.Duration
}

// NewSaveEngine creates a save engine.
func NewSaveEngine(s progressStore, log *logger.Logger, maxAttempts int, backoffBase time.Duration) *SaveEngine {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &SaveEngine{
		store:       s,
		log:         log,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
	}
}

// Save applies the partial payload to the user's record at expectedVersion
// and returns the new stored version. When no record exists yet the first
// save creates it with version 1. Conflicts are retried internally; after
// exhaustion the caller gets a SaveExhaustedError.
func (e *SaveEngine) Save(ctx context.Context, userID string, data model.WizardData, expectedVersion int) (int, error) {
	if err := data.Validate(); err != nil {
		// Malformed payloads never reach the store
		return 0, err
	}

	version := expectedVersion
	attempts := 0

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.backoffBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	operation := func() error {
		attempts++
		newVersion, err := e.attempt(ctx, userID, data, version)
		if err == nil {
			version = newVersion
			return nil
		}
		if errors.Is(err, ErrConflict) {
			// A concurrent writer won; rebuild against the fresh version
			current, readErr := e.store.GetWizardProgress(ctx, userID)
			if readErr != nil && !errors.Is(readErr, store.ErrNotFound) {
				return readErr
			}
			if current != nil {
				version = current.Version
			}
			e.log.Debug("save conflict, retrying", "user_id", userID, "attempt", attempts, "version", version)
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.maxAttempts-1)), ctx))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return 0, perm.Err
		}
		e.log.Error("save retries exhausted", "user_id", userID, "attempts", attempts, "error", err)
		return 0, &SaveExhaustedError{UserID: userID, Attempts: attempts, Err: err}
	}
	return version, nil
}

// attempt performs one insert-or-conditional-update pass.
func (e *SaveEngine) attempt(ctx context.Context, userID string, data model.WizardData, expectedVersion int) (int, error) {
	existing, err := e.store.GetWizardProgress(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		rec := &model.WizardProgress{
			UserID:           userID,
			BusinessIdea:     data.BusinessIdea,
			TargetAudience:   data.TargetAudience,
			AudienceAnalysis: data.AudienceAnalysis,
			GeneratedAds:     data.GeneratedAds,
			SelectedHooks:    data.SelectedHooks,
			CurrentStep:      data.CurrentStep,
			Version:          1,
		}
		if rec.CurrentStep == 0 {
			rec.CurrentStep = model.StepIdea
		}
		if createErr := e.store.CreateWizardProgress(ctx, rec); createErr != nil {
			// A concurrent first save won the insert race
			return 0, fmt.Errorf("%w: %v", ErrConflict, createErr)
		}
		return rec.Version, nil
	}
	if err != nil {
		return 0, err
	}

	if expectedVersion != existing.Version {
		return 0, ErrConflict
	}

	fields := buildUpdateFields(data)
	ok, err := e.store.UpdateWizardProgressVersioned(ctx, userID, fields, expectedVersion)
	if err != nil {
		return 0, err
	}
	if !ok {
		// Zero rows affected: the gate rejected a stale version
		return 0, ErrConflict
	}
	return expectedVersion + 1, nil
}

// buildUpdateFields maps present payload fields to columns. Absent fields
// are omitted so partial saves never erase stored data.
func buildUpdateFields(data model.WizardData) map[string]interface{} {
	fields := make(map[string]interface{})
	if data.HasBusinessIdea() {
		fields["business_idea"] = data.BusinessIdea
	}
	if data.HasTargetAudience() {
		fields["target_audience"] = data.TargetAudience
	}
	if data.HasAudienceAnalysis() {
		fields["audience_analysis"] = data.AudienceAnalysis
	}
	if data.HasGeneratedAds() {
		fields["generated_ads"] = data.GeneratedAds
	}
	if data.HasSelectedHooks() {
		fields["selected_hooks"] = data.SelectedHooks
	}
	if data.CurrentStep > 0 {
		fields["current_step"] = data.CurrentStep
	}
	return fields
}
