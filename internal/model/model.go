// Package model defines the database models used throughout the application.
// These models work with both PostgreSQL and SQLite via GORM.
package model

import (
	"time"

	"gorm.io/datatypes"
)

// Wizard step constants. The wizard is a linear four step flow.
const (
	StepIdea     = 1
	StepAudience = 2
	StepAnalysis = 3
	StepGallery  = 4
)

// AnonymousUsage tracks the wizard progress and trial usage of a
// pre-authentication visitor, keyed by a client-generated session id.
// Rows are never deleted automatically; after migration they remain as
// closed historical artifacts (used = completed = true).
type AnonymousUsage struct {
	SessionID         string         `gorm:"primaryKey;column:session_id;type:text" json:"sessionId"`
	Used              bool           `gorm:"not null;default:false" json:"used"`
	Completed         bool           `gorm:"not null;default:false" json:"completed"`
	BusinessIdea      datatypes.JSON `gorm:"column:business_idea;type:text" json:"businessIdea,omitempty"`
	TargetAudience    datatypes.JSON `gorm:"column:target_audience;type:text" json:"targetAudience,omitempty"`
	AudienceAnalysis  datatypes.JSON `gorm:"column:audience_analysis;type:text" json:"audienceAnalysis,omitempty"`
	GeneratedAds      datatypes.JSON `gorm:"column:generated_ads;type:text" json:"generatedAds,omitempty"`
	SelectedHooks     datatypes.JSON `gorm:"column:selected_hooks;type:text" json:"selectedHooks,omitempty"`
	LastCompletedStep int            `gorm:"column:last_completed_step;not null;default:1" json:"lastCompletedStep"`
	SaveCount         int            `gorm:"column:save_count;not null;default:0" json:"saveCount"`
	LastSaveAttempt   *time.Time     `gorm:"column:last_save_attempt" json:"lastSaveAttempt,omitempty"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (AnonymousUsage) TableName() string { return "anonymous_usage" }

// Data returns the wizard payload carried by the anonymous record.
func (a *AnonymousUsage) Data() WizardData {
	return WizardData{
		BusinessIdea:     a.BusinessIdea,
		TargetAudience:   a.TargetAudience,
		AudienceAnalysis: a.AudienceAnalysis,
		GeneratedAds:     a.GeneratedAds,
		SelectedHooks:    a.SelectedHooks,
		CurrentStep:      a.LastCompletedStep,
	}
}

// WizardProgress is the authenticated per-user wizard record. At most one
// row exists per user; writes go through the version gate (a conditional
// update on the version column), never through unconditional saves.
type WizardProgress struct {
	UserID           string         `gorm:"primaryKey;column:user_id;type:text" json:"userId"`
	BusinessIdea     datatypes.JSON `gorm:"column:business_idea;type:text" json:"businessIdea,omitempty"`
	TargetAudience   datatypes.JSON `gorm:"column:target_audience;type:text" json:"targetAudience,omitempty"`
	AudienceAnalysis datatypes.JSON `gorm:"column:audience_analysis;type:text" json:"audienceAnalysis,omitempty"`
	GeneratedAds     datatypes.JSON `gorm:"column:generated_ads;type:text" json:"generatedAds,omitempty"`
	SelectedHooks    datatypes.JSON `gorm:"column:selected_hooks;type:text" json:"selectedHooks,omitempty"`
	CurrentStep      int            `gorm:"column:current_step;not null;default:1" json:"currentStep"`
	Version          int            `gorm:"not null;default:1" json:"version"`
	IsMigration      bool           `gorm:"column:is_migration;not null;default:false" json:"isMigration"`
	MigrationToken   *string        `gorm:"column:migration_token;type:text" json:"migrationToken,omitempty"`
	LastSaveAttempt  *time.Time     `gorm:"column:last_save_attempt" json:"lastSaveAttempt,omitempty"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (WizardProgress) TableName() string { return "wizard_progress" }

// Data returns the wizard payload carried by the user record.
func (p *WizardProgress) Data() WizardData {
	return WizardData{
		BusinessIdea:     p.BusinessIdea,
		TargetAudience:   p.TargetAudience,
		AudienceAnalysis: p.AudienceAnalysis,
		GeneratedAds:     p.GeneratedAds,
		SelectedHooks:    p.SelectedHooks,
		CurrentStep:      p.CurrentStep,
		Version:          p.Version,
	}
}

// AllModels returns all model types for migration.
func AllModels() []interface{} {
	return []interface{}{
		&AnonymousUsage{},
		&WizardProgress{},
		&WizardLock{},
		&WizardEvent{},
	}
}
