package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"

	"github.com/adforge/adforge/internal/events"
	"github.com/adforge/adforge/internal/generation"
	"github.com/adforge/adforge/internal/logger"
	"github.com/adforge/adforge/internal/model"
	"github.com/adforge/adforge/internal/store"
	"github.com/adforge/adforge/internal/wizard"
)

// ErrTrialUsed is returned when an anonymous session has already consumed
// its single free generation.
var ErrTrialUsed = errors.New("anonymous trial already used")

// generationStore is the subset of the database store the generation
// service needs.
type generationStore interface {
	GetAnonymousUsage(ctx context.Context, sessionID string) (*model.AnonymousUsage, error)
	UpsertAnonymousProgress(ctx context.Context, sessionID string, data model.WizardData, step int) (*model.AnonymousUsage, error)
	MarkAnonymousUsed(ctx context.Context, sessionID string, lastStep int) error
	GetWizardProgress(ctx context.Context, userID string) (*model.WizardProgress, error)
}

// GenerationService gates calls to the external ad generator and stores the
// returned variants on the caller's record. Anonymous sessions get exactly
// one generation; authenticated credit exhaustion is reported by the
// collaborator itself as generation.ErrNoCredits and passed through
// untouched so the handler can redirect to billing.
type GenerationService struct {
	store   generationStore
	engine  *SaveEngine
	client  generation.Client
	presets *generation.Presets
	broker  *events.Broker
	log     *logger.Logger
}

// NewGenerationService creates the service.
func NewGenerationService(s generationStore, engine *SaveEngine, client generation.Client, presets *generation.Presets, broker *events.Broker, log *logger.Logger) *GenerationService {
	return &GenerationService{
		store:   s,
		engine:  engine,
		client:  client,
		presets: presets,
		broker:  broker,
		log:     log,
	}
}

// Generate runs one gated generation for the identity and persists the
// variants. It requires at least the idea and audience steps to be done.
func (s *GenerationService) Generate(ctx context.Context, sc wizard.SessionContext, platform string) ([]json.RawMessage, error) {
	data, version, err := s.loadData(ctx, sc)
	if err != nil {
		return nil, err
	}
	if !data.HasBusinessIdea() || !data.HasTargetAudience() {
		return nil, fmt.Errorf("%w: generation before audience step", wizard.ErrInvalidTransition)
	}

	preset := s.presets.Lookup(platform)

	variants, err := s.client.Generate(ctx, generation.Request{
		BusinessIdea:     data.BusinessIdea,
		TargetAudience:   data.TargetAudience,
		AudienceAnalysis: data.AudienceAnalysis,
		Hooks:            data.SelectedHooks,
		Platform:         preset.Name,
	})
	if err != nil {
		// ErrNoCredits passes through as-is: it is a distinct,
		// redirect-worthy condition, not a generic failure
		return nil, err
	}
	// A preset without a positive cap places no limit
	if preset.MaxVariants > 0 && len(variants) > preset.MaxVariants {
		variants = variants[:preset.MaxVariants]
	}

	adsJSON, err := json.Marshal(variants)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal variants: %w", err)
	}

	update := model.WizardData{
		GeneratedAds: datatypes.JSON(adsJSON),
		CurrentStep:  model.StepGallery,
	}
	if sc.Authenticated() {
		if _, err := s.engine.Save(ctx, sc.UserID, update, version); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.store.UpsertAnonymousProgress(ctx, sc.SessionID, update, model.StepGallery); err != nil {
			return nil, err
		}
		// The free trial is spent once variants land
		if err := s.store.MarkAnonymousUsed(ctx, sc.SessionID, model.StepGallery); err != nil {
			s.log.Warn("failed to mark trial used", "session_id", sc.SessionID, "error", err)
		}
	}

	if s.broker != nil {
		if pubErr := s.broker.PublishGenerationComplete(ctx, sc.Subject(), len(variants), preset.Name); pubErr != nil {
			s.log.Warn("failed to publish generation event", "error", pubErr)
		}
	}
	return variants, nil
}

// loadData fetches the identity's current payload and, for authenticated
// identities, the record version the follow-up save must expect. Anonymous
// callers are rejected when their single trial is spent.
func (s *GenerationService) loadData(ctx context.Context, sc wizard.SessionContext) (model.WizardData, int, error) {
	if sc.Authenticated() {
		rec, err := s.store.GetWizardProgress(ctx, sc.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return model.WizardData{}, 0, nil
		}
		if err != nil {
			return model.WizardData{}, 0, err
		}
		return rec.Data(), rec.Version, nil
	}

	if sc.SessionID == "" {
		return model.WizardData{}, 0, &model.ValidationError{Field: "sessionId"}
	}
	rec, err := s.store.GetAnonymousUsage(ctx, sc.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return model.WizardData{}, 0, nil
	}
	if err != nil {
		return model.WizardData{}, 0, err
	}
	if rec.Used {
		return model.WizardData{}, 0, ErrTrialUsed
	}
	return rec.Data(), 0, nil
}
