package wizard

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"

	"github.com/adforge/adforge/internal/model"
)

// Navigation gate results for CanNavigateToStep.
type Gate int

const (
	// GateAllowed means the step is reachable with the data on hand.
	GateAllowed Gate = iota
	// GateBlocked means required earlier-step data is missing.
	GateBlocked
	// GateRegistrationRequired means the gallery is reachable but the
	// caller must authenticate first.
	GateRegistrationRequired
)

// ErrInvalidTransition is returned when a forward transition is attempted
// from the wrong step or without its required data.
var ErrInvalidTransition = errors.New("invalid wizard transition")

// SaveError wraps a persistence failure that did not block the in-memory
// transition. Callers surface it as a dismissible, recoverable notice; the
// live wizard state is intact.
type SaveError struct {
	Err error
}

func (e *SaveError) Error() string { return "wizard save failed: " + e.Err.Error() }
func (e *SaveError) Unwrap() error { return e.Err }

// Saver persists wizard progress for an identity. Anonymous identities go
// through the direct session upsert, authenticated ones through the
// versioned save engine; the state machine doesn't care which.
type Saver interface {
	ScheduleSave(ctx context.Context, id SessionContext, data model.WizardData) error
	Clear(ctx context.Context, id SessionContext) error
}

// HookGenerator is invoked when analysis completes, to kick off ad hook
// generation against the external collaborator.
type HookGenerator interface {
	GenerateHooks(ctx context.Context, id SessionContext, data model.WizardData) error
}

// StateMachine drives a single client's pass through the wizard. It is an
// in-memory representation: persistence happens through the Saver on every
// forward transition, optimistically (a failed save surfaces a SaveError
// but the transition stands).
type StateMachine struct {
	id    SessionContext
	data  model.WizardData
	step  int
	saver Saver
	hooks HookGenerator
}

// New creates a state machine for the identity, starting at step 1.
func New(id SessionContext, saver Saver, hooks HookGenerator) *StateMachine {
	return &StateMachine{
		id:    id,
		step:  model.StepIdea,
		saver: saver,
		hooks: hooks,
	}
}

// Restore creates a state machine from persisted data, resuming at the
// higher of the stored and derived steps so a reload never loses progress.
func Restore(id SessionContext, data model.WizardData, saver Saver, hooks HookGenerator) *StateMachine {
	return &StateMachine{
		id:    id,
		data:  data,
		step:  ResumeStep(data),
		saver: saver,
		hooks: hooks,
	}
}

// Step returns the current step.
func (m *StateMachine) Step() int { return m.step }

// Data returns the current payload with the current step filled in.
func (m *StateMachine) Data() model.WizardData {
	d := m.data
	d.CurrentStep = m.step
	return d
}

// SubmitIdea records the business idea and advances to the audience step.
// Valid only from step 1 with a non-empty idea.
func (m *StateMachine) SubmitIdea(ctx context.Context, idea datatypes.JSON) error {
	if m.step != model.StepIdea {
		return fmt.Errorf("%w: submit idea from step %d", ErrInvalidTransition, m.step)
	}
	d := model.WizardData{BusinessIdea: idea}
	if !d.HasBusinessIdea() {
		return &model.ValidationError{Field: "businessIdea"}
	}
	m.data.BusinessIdea = idea
	m.step = model.StepAudience
	return m.persist(ctx)
}

// SelectAudience records the target audience and advances to analysis.
// Valid only from step 2 once the idea is set.
func (m *StateMachine) SelectAudience(ctx context.Context, audience datatypes.JSON) error {
	if m.step != model.StepAudience {
		return fmt.Errorf("%w: select audience from step %d", ErrInvalidTransition, m.step)
	}
	if !m.data.HasBusinessIdea() {
		return fmt.Errorf("%w: no business idea", ErrInvalidTransition)
	}
	d := model.WizardData{TargetAudience: audience}
	if !d.HasTargetAudience() {
		return &model.ValidationError{Field: "targetAudience"}
	}
	m.data.TargetAudience = audience
	m.step = model.StepAnalysis
	return m.persist(ctx)
}

// CompleteAnalysis records the audience analysis, triggers hook generation
// and advances to the gallery. Valid only from step 3 with idea and
// audience set.
func (m *StateMachine) CompleteAnalysis(ctx context.Context, analysis datatypes.JSON) error {
	if m.step != model.StepAnalysis {
		return fmt.Errorf("%w: complete analysis from step %d", ErrInvalidTransition, m.step)
	}
	if !m.data.HasBusinessIdea() || !m.data.HasTargetAudience() {
		return fmt.Errorf("%w: missing idea or audience", ErrInvalidTransition)
	}
	d := model.WizardData{AudienceAnalysis: analysis}
	if !d.HasAudienceAnalysis() {
		return &model.ValidationError{Field: "audienceAnalysis"}
	}
	m.data.AudienceAnalysis = analysis
	m.step = model.StepGallery

	if m.hooks != nil {
		if err := m.hooks.GenerateHooks(ctx, m.id, m.Data()); err != nil {
			// Hook generation is the collaborator's problem; the step
			// transition stands and the gallery shows a retry affordance.
			return m.persistThen(ctx, &SaveError{Err: err})
		}
	}
	return m.persist(ctx)
}

// Back decrements the step with a floor of 1. It never fails and does not
// touch the payload, so forward navigation stays possible.
func (m *StateMachine) Back() {
	if m.step > model.StepIdea {
		m.step--
	}
}

// StartOver clears all step data and issues a destructive clear against the
// backing record.
func (m *StateMachine) StartOver(ctx context.Context) error {
	m.data = model.WizardData{}
	m.step = model.StepIdea
	if m.saver == nil {
		return nil
	}
	if err := m.saver.Clear(ctx, m.id); err != nil {
		return &SaveError{Err: err}
	}
	return nil
}

// NavigationGate reports whether step n is reachable from the data on hand.
// Step 1 is always reachable; each later step requires the data of the steps
// before it; the gallery additionally requires an authenticated identity.
func (m *StateMachine) NavigationGate(n int) Gate {
	switch {
	case n <= model.StepIdea:
		return GateAllowed
	case n == model.StepAudience:
		if m.data.HasBusinessIdea() {
			return GateAllowed
		}
	case n == model.StepAnalysis:
		if m.data.HasBusinessIdea() && m.data.HasTargetAudience() {
			return GateAllowed
		}
	case n == model.StepGallery:
		if m.data.HasBusinessIdea() && m.data.HasTargetAudience() && m.data.HasAudienceAnalysis() {
			if !m.id.Authenticated() {
				return GateRegistrationRequired
			}
			return GateAllowed
		}
	}
	return GateBlocked
}

// CanNavigateToStep is the boolean form of NavigationGate.
func (m *StateMachine) CanNavigateToStep(n int) bool {
	return m.NavigationGate(n) == GateAllowed
}

// persist schedules a save of the current state. A failed save does not
// roll back the transition; it surfaces as a recoverable SaveError.
func (m *StateMachine) persist(ctx context.Context) error {
	return m.persistThen(ctx, nil)
}

func (m *StateMachine) persistThen(ctx context.Context, pending error) error {
	if m.saver != nil {
		if err := m.saver.ScheduleSave(ctx, m.id, m.Data()); err != nil {
			return &SaveError{Err: err}
		}
	}
	return pending
}
