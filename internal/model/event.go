package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Event type constants
const (
	EventTypeProgressSaved      = "progress_saved"
	EventTypeProgressMigrated   = "progress_migrated"
	EventTypeProgressCleared    = "progress_cleared"
	EventTypeGenerationComplete = "generation_complete"
)

// WizardEvent represents a persisted event for a wizard identity.
// Events are used for SSE streaming to clients; the subject is the
// identity key ("user:<id>" or "anon:<session id>").
type WizardEvent struct {
	ID        string          `gorm:"primaryKey;type:text" json:"id"`
	Seq       int64           `gorm:"column:seq;autoIncrement;uniqueIndex" json:"seq"`
	Subject   string          `gorm:"not null;type:text;index:idx_subject_seq,priority:1" json:"subject"`
	Type      string          `gorm:"not null;type:text" json:"type"`
	Data      json.RawMessage `gorm:"type:text;not null" json:"data"`
	CreatedAt time.Time       `gorm:"autoCreateTime;index:idx_subject_seq,priority:2" json:"createdAt"`
}

func (WizardEvent) TableName() string { return "wizard_events" }

func (e *WizardEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}
