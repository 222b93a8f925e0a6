// Package wizard holds the in-memory representation of the four step ad
// wizard flow: step derivation, navigation rules and the merge policy used
// when anonymous progress is folded into a user record.
package wizard

import (
	"github.com/adforge/adforge/internal/model"
)

// DerivedStep computes the highest wizard step justified by the data that is
// actually present, independent of any stored step value. The rule is
// monotonic: adding a field never lowers the result. It is applied
// identically to anonymous and authenticated records, and it is the same
// function the migration path uses to decide the merged step.
func DerivedStep(d model.WizardData) int {
	step := model.StepIdea
	if d.HasBusinessIdea() {
		step = model.StepAudience
	}
	if d.HasBusinessIdea() && d.HasTargetAudience() {
		step = model.StepAnalysis
	}
	if d.HasBusinessIdea() && d.HasTargetAudience() &&
		(d.HasAudienceAnalysis() || d.HasSelectedHooks()) {
		step = model.StepGallery
	}
	return step
}

// ResumeStep returns the step a client should resume at for a loaded record:
// the stored step when it is ahead of what the data justifies (the user
// navigated back), never less than the derived step.
func ResumeStep(d model.WizardData) int {
	derived := DerivedStep(d)
	if d.CurrentStep > derived {
		return d.CurrentStep
	}
	return derived
}

// Merge folds anonymous progress into an authenticated record. Per field the
// authenticated non-null value wins and anonymous data only fills gaps, so
// migrating never overwrites more advanced authenticated progress. The
// merged step is the maximum justified by either source.
func Merge(user, anon model.WizardData) model.WizardData {
	merged := user

	if !merged.HasBusinessIdea() && anon.HasBusinessIdea() {
		merged.BusinessIdea = anon.BusinessIdea
	}
	if !merged.HasTargetAudience() && anon.HasTargetAudience() {
		merged.TargetAudience = anon.TargetAudience
	}
	if !merged.HasAudienceAnalysis() && anon.HasAudienceAnalysis() {
		merged.AudienceAnalysis = anon.AudienceAnalysis
	}
	if !merged.HasGeneratedAds() && anon.HasGeneratedAds() {
		merged.GeneratedAds = anon.GeneratedAds
	}
	if !merged.HasSelectedHooks() && anon.HasSelectedHooks() {
		merged.SelectedHooks = anon.SelectedHooks
	}

	step := DerivedStep(merged)
	if user.CurrentStep > step {
		step = user.CurrentStep
	}
	if anon.CurrentStep > step {
		step = anon.CurrentStep
	}
	merged.CurrentStep = step

	return merged
}
