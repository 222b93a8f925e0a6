package model

import (
	"bytes"
	"encoding/json"

	"gorm.io/datatypes"
)

// WizardData is the payload shape exchanged between the anonymous and
// authenticated representations of wizard progress. The step payloads are
// opaque to the server: the UI owns their structure, the server only cares
// about presence.
type WizardData struct {
	BusinessIdea     datatypes.JSON `json:"businessIdea,omitempty"`
	TargetAudience   datatypes.JSON `json:"targetAudience,omitempty"`
	AudienceAnalysis datatypes.JSON `json:"audienceAnalysis,omitempty"`
	GeneratedAds     datatypes.JSON `json:"generatedAds,omitempty"`
	SelectedHooks    datatypes.JSON `json:"selectedHooks,omitempty"`
	CurrentStep      int            `json:"currentStep,omitempty"`
	Version          int            `json:"version,omitempty"`
}

// jsonPresent reports whether a JSON column holds an actual value.
// Empty blobs, JSON null, empty objects and empty arrays all count as absent.
func jsonPresent(v datatypes.JSON) bool {
	trimmed := bytes.TrimSpace(v)
	switch {
	case len(trimmed) == 0:
		return false
	case bytes.Equal(trimmed, []byte("null")):
		return false
	case bytes.Equal(trimmed, []byte("{}")):
		return false
	case bytes.Equal(trimmed, []byte("[]")):
		return false
	}
	return true
}

// HasBusinessIdea reports whether the business idea payload is present.
func (d WizardData) HasBusinessIdea() bool { return jsonPresent(d.BusinessIdea) }

// HasTargetAudience reports whether the target audience payload is present.
func (d WizardData) HasTargetAudience() bool { return jsonPresent(d.TargetAudience) }

// HasAudienceAnalysis reports whether the audience analysis payload is present.
func (d WizardData) HasAudienceAnalysis() bool { return jsonPresent(d.AudienceAnalysis) }

// HasGeneratedAds reports whether any generated ads are present.
func (d WizardData) HasGeneratedAds() bool { return jsonPresent(d.GeneratedAds) }

// HasSelectedHooks reports whether any selected hooks are present.
func (d WizardData) HasSelectedHooks() bool { return jsonPresent(d.SelectedHooks) }

// IsEmpty reports whether the payload carries no step data at all.
// A record whose payload is empty has nothing worth migrating.
func (d WizardData) IsEmpty() bool {
	return !d.HasBusinessIdea() &&
		!d.HasTargetAudience() &&
		!d.HasAudienceAnalysis() &&
		!d.HasGeneratedAds() &&
		!d.HasSelectedHooks()
}

// Validate checks that every present payload is well-formed JSON. Malformed
// payloads are rejected before any write is attempted.
func (d WizardData) Validate() error {
	fields := map[string]datatypes.JSON{
		"businessIdea":     d.BusinessIdea,
		"targetAudience":   d.TargetAudience,
		"audienceAnalysis": d.AudienceAnalysis,
		"generatedAds":     d.GeneratedAds,
		"selectedHooks":    d.SelectedHooks,
	}
	for name, v := range fields {
		if len(v) == 0 {
			continue
		}
		if !json.Valid(v) {
			return &ValidationError{Field: name}
		}
	}
	if d.CurrentStep < 0 || d.CurrentStep > StepGallery {
		return &ValidationError{Field: "currentStep"}
	}
	return nil
}

// ValidationError reports a malformed wizard payload field.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return "invalid wizard data field: " + e.Field
}
