package wizard

import (
	"context"
	"errors"
	"testing"

	"github.com/adforge/adforge/internal/model"
)

// mockSaver records scheduled saves and can be told to fail.
type mockSaver struct {
	saves   []model.WizardData
	clears  int
	saveErr error
}

func (m *mockSaver) ScheduleSave(_ context.Context, _ SessionContext, data model.WizardData) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves = append(m.saves, data)
	return nil
}

func (m *mockSaver) Clear(_ context.Context, _ SessionContext) error {
	m.clears++
	return nil
}

// mockHooks records hook generation calls and can be told to fail.
type mockHooks struct {
	calls int
	err   error
}

func (m *mockHooks) GenerateHooks(_ context.Context, _ SessionContext, _ model.WizardData) error {
	m.calls++
	return m.err
}

func authCtx() SessionContext { return SessionContext{UserID: "u1"} }
func anonCtx() SessionContext { return SessionContext{SessionID: "s1"} }

func TestHappyPathTransitions(t *testing.T) {
	saver := &mockSaver{}
	hooks := &mockHooks{}
	m := New(authCtx(), saver, hooks)
	ctx := context.Background()

	if m.Step() != model.StepIdea {
		t.Fatalf("initial step = %d, want 1", m.Step())
	}

	if err := m.SubmitIdea(ctx, ideaJSON); err != nil {
		t.Fatalf("SubmitIdea: %v", err)
	}
	if m.Step() != model.StepAudience {
		t.Fatalf("step after idea = %d, want 2", m.Step())
	}

	if err := m.SelectAudience(ctx, audienceJSON); err != nil {
		t.Fatalf("SelectAudience: %v", err)
	}
	if m.Step() != model.StepAnalysis {
		t.Fatalf("step after audience = %d, want 3", m.Step())
	}

	if err := m.CompleteAnalysis(ctx, analysisJSON); err != nil {
		t.Fatalf("CompleteAnalysis: %v", err)
	}
	if m.Step() != model.StepGallery {
		t.Fatalf("step after analysis = %d, want 4", m.Step())
	}
	if hooks.calls != 1 {
		t.Errorf("hook generation calls = %d, want 1", hooks.calls)
	}
	if len(saver.saves) != 3 {
		t.Errorf("scheduled saves = %d, want 3", len(saver.saves))
	}
	// Every persisted payload carries the post-transition step
	last := saver.saves[len(saver.saves)-1]
	if last.CurrentStep != model.StepGallery {
		t.Errorf("last save step = %d, want 4", last.CurrentStep)
	}
}

func TestOutOfOrderTransitions(t *testing.T) {
	ctx := context.Background()
	m := New(authCtx(), &mockSaver{}, nil)

	if err := m.SelectAudience(ctx, audienceJSON); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SelectAudience from step 1: %v, want ErrInvalidTransition", err)
	}
	if err := m.CompleteAnalysis(ctx, analysisJSON); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("CompleteAnalysis from step 1: %v, want ErrInvalidTransition", err)
	}
	if m.Step() != model.StepIdea {
		t.Errorf("failed transitions must not move the step, got %d", m.Step())
	}
}

func TestEmptyPayloadRejected(t *testing.T) {
	ctx := context.Background()
	m := New(authCtx(), &mockSaver{}, nil)

	var verr *model.ValidationError
	if err := m.SubmitIdea(ctx, nil); !errors.As(err, &verr) {
		t.Errorf("SubmitIdea(nil): %v, want ValidationError", err)
	}
	if err := m.SubmitIdea(ctx, []byte(`null`)); !errors.As(err, &verr) {
		t.Errorf("SubmitIdea(null): %v, want ValidationError", err)
	}
	if m.Step() != model.StepIdea {
		t.Errorf("step moved on rejected payload: %d", m.Step())
	}
}

func TestSaveFailureKeepsTransition(t *testing.T) {
	ctx := context.Background()
	saver := &mockSaver{saveErr: errors.New("db down")}
	m := New(authCtx(), saver, nil)

	err := m.SubmitIdea(ctx, ideaJSON)
	var saveErr *SaveError
	if !errors.As(err, &saveErr) {
		t.Fatalf("expected SaveError, got %v", err)
	}
	// The in-memory transition stands despite the failed save
	if m.Step() != model.StepAudience {
		t.Errorf("step = %d, want 2", m.Step())
	}
	if !m.Data().HasBusinessIdea() {
		t.Error("idea should be held in memory")
	}
}

func TestHookFailureKeepsTransition(t *testing.T) {
	ctx := context.Background()
	saver := &mockSaver{}
	hooks := &mockHooks{err: errors.New("generator down")}
	m := New(authCtx(), saver, hooks)

	if err := m.SubmitIdea(ctx, ideaJSON); err != nil {
		t.Fatal(err)
	}
	if err := m.SelectAudience(ctx, audienceJSON); err != nil {
		t.Fatal(err)
	}

	err := m.CompleteAnalysis(ctx, analysisJSON)
	var saveErr *SaveError
	if !errors.As(err, &saveErr) {
		t.Fatalf("expected SaveError, got %v", err)
	}
	if m.Step() != model.StepGallery {
		t.Errorf("step = %d, want 4", m.Step())
	}
	// The analysis itself still got persisted
	if len(saver.saves) != 3 {
		t.Errorf("scheduled saves = %d, want 3", len(saver.saves))
	}
}

func TestBack(t *testing.T) {
	ctx := context.Background()
	m := New(authCtx(), &mockSaver{}, nil)
	if err := m.SubmitIdea(ctx, ideaJSON); err != nil {
		t.Fatal(err)
	}

	m.Back()
	if m.Step() != model.StepIdea {
		t.Errorf("step after back = %d, want 1", m.Step())
	}
	// Floor of 1
	m.Back()
	if m.Step() != model.StepIdea {
		t.Errorf("step after double back = %d, want 1", m.Step())
	}
	// Data survives backward navigation
	if !m.Data().HasBusinessIdea() {
		t.Error("back must not discard data")
	}
}

func TestStartOver(t *testing.T) {
	ctx := context.Background()
	saver := &mockSaver{}
	m := New(authCtx(), saver, nil)
	if err := m.SubmitIdea(ctx, ideaJSON); err != nil {
		t.Fatal(err)
	}

	if err := m.StartOver(ctx); err != nil {
		t.Fatalf("StartOver: %v", err)
	}
	if m.Step() != model.StepIdea {
		t.Errorf("step = %d, want 1", m.Step())
	}
	if !m.Data().IsEmpty() {
		t.Error("start over must drop all data")
	}
	if saver.clears != 1 {
		t.Errorf("clears = %d, want 1", saver.clears)
	}
}

func TestRestoreResumesAhead(t *testing.T) {
	data := model.WizardData{
		BusinessIdea:   ideaJSON,
		TargetAudience: audienceJSON,
		CurrentStep:    1, // user had navigated back
	}
	m := Restore(authCtx(), data, &mockSaver{}, nil)
	if m.Step() != model.StepAnalysis {
		t.Errorf("restored step = %d, want 3", m.Step())
	}
}

func TestNavigationGate(t *testing.T) {
	data := model.WizardData{
		BusinessIdea:     ideaJSON,
		TargetAudience:   audienceJSON,
		AudienceAnalysis: analysisJSON,
	}

	anon := Restore(anonCtx(), data, &mockSaver{}, nil)
	if g := anon.NavigationGate(model.StepGallery); g != GateRegistrationRequired {
		t.Errorf("anonymous gallery gate = %v, want registration required", g)
	}
	if anon.CanNavigateToStep(model.StepGallery) {
		t.Error("anonymous caller must not pass the gallery gate")
	}

	auth := Restore(authCtx(), data, &mockSaver{}, nil)
	if !auth.CanNavigateToStep(model.StepGallery) {
		t.Error("authenticated caller with full data should reach the gallery")
	}

	sparse := New(authCtx(), &mockSaver{}, nil)
	if g := sparse.NavigationGate(model.StepAnalysis); g != GateBlocked {
		t.Errorf("gate without data = %v, want blocked", g)
	}
	if g := sparse.NavigationGate(model.StepIdea); g != GateAllowed {
		t.Errorf("step 1 gate = %v, want allowed", g)
	}
}
