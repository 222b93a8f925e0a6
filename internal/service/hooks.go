package service

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/adforge/adforge/internal/generation"
	"github.com/adforge/adforge/internal/logger"
	"github.com/adforge/adforge/internal/model"
	"github.com/adforge/adforge/internal/wizard"
)

// hookPlatform is the pseudo-platform the generator uses for ad hook
// candidates rather than full creatives.
const hookPlatform = "hooks"

// HookTrigger generates ad hook candidates when the analysis step
// completes. Candidates are stored as the initial selected hooks; the UI
// replaces them with the user's actual selection on the next save. Hook
// candidates do not consume the anonymous trial; only a full gallery
// generation does.
type HookTrigger struct {
	client generation.Client
	saver  wizard.Saver
	log    *logger.Logger
}

// NewHookTrigger creates the trigger.
func NewHookTrigger(client generation.Client, saver wizard.Saver, log *logger.Logger) *HookTrigger {
	return &HookTrigger{client: client, saver: saver, log: log}
}

// GenerateHooks asks the collaborator for hook candidates and persists them.
func (h *HookTrigger) GenerateHooks(ctx context.Context, sc wizard.SessionContext, data model.WizardData) error {
	variants, err := h.client.Generate(ctx, generation.Request{
		BusinessIdea:     data.BusinessIdea,
		TargetAudience:   data.TargetAudience,
		AudienceAnalysis: data.AudienceAnalysis,
		Platform:         hookPlatform,
	})
	if err != nil {
		return fmt.Errorf("hook generation failed: %w", err)
	}
	if len(variants) == 0 {
		return nil
	}

	hooksJSON, err := json.Marshal(variants)
	if err != nil {
		return fmt.Errorf("failed to marshal hooks: %w", err)
	}

	update := data
	update.SelectedHooks = datatypes.JSON(hooksJSON)
	if err := h.saver.ScheduleSave(ctx, sc, update); err != nil {
		return err
	}
	h.log.Debug("hook candidates stored", "subject", sc.Subject(), "count", len(variants))
	return nil
}

var _ wizard.HookGenerator = (*HookTrigger)(nil)
