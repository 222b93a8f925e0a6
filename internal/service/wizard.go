package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adforge/adforge/internal/events"
	"github.com/adforge/adforge/internal/lock"
	"github.com/adforge/adforge/internal/logger"
	"github.com/adforge/adforge/internal/model"
	"github.com/adforge/adforge/internal/store"
	"github.com/adforge/adforge/internal/wizard"
)

// wizardStore is the subset of the database store the wizard service needs.
type wizardStore interface {
	GetAnonymousUsage(ctx context.Context, sessionID string) (*model.AnonymousUsage, error)
	UpsertAnonymousProgress(ctx context.Context, sessionID string, data model.WizardData, step int) (*model.AnonymousUsage, error)
	ClearAnonymousProgress(ctx context.Context, sessionID string) error
	GetWizardProgress(ctx context.Context, userID string) (*model.WizardProgress, error)
	ClearWizardProgress(ctx context.Context, userID string) error
}

// WizardState is the resolved wizard state for an identity (for API
// responses).
type WizardState struct {
	Data         model.WizardData `json:"data"`
	Step         int              `json:"step"`
	Version      int              `json:"version,omitempty"`
	Registration bool             `json:"registrationRequired,omitempty"`
}

// WizardService routes wizard persistence for both identity kinds:
// anonymous saves go straight to the session-keyed upsert, authenticated
// saves through the versioned save engine. Rapid successive saves for one
// identity are coalesced with a debounce window so N edits produce one
// write carrying the latest state.
type WizardService struct {
	store    wizardStore
	engine   *SaveEngine
	broker   *events.Broker
	log      *logger.Logger
	debounce time.Duration
	locks    lock.Manager
	lockTTL  time.Duration

	mu      sync.Mutex
	pending map[string]*pendingSave
}

type pendingSave struct {
	timer *time.Timer
	id    wizard.SessionContext
	data  model.WizardData
}

// NewWizardService creates the service. A zero debounce makes every
// scheduled save synchronous, which tests rely on. A nil lock manager
// leaves the destructive clear unguarded.
func NewWizardService(s wizardStore, engine *SaveEngine, broker *events.Broker, log *logger.Logger, debounce time.Duration, locks lock.Manager, lockTTL time.Duration) *WizardService {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &WizardService{
		store:    s,
		engine:   engine,
		broker:   broker,
		log:      log,
		debounce: debounce,
		locks:    locks,
		lockTTL:  lockTTL,
		pending:  make(map[string]*pendingSave),
	}
}

// Load resolves the persisted wizard state for an identity. The resume step
// is the higher of the stored and derived steps, so a reload never loses
// progress. An identity with no record gets a fresh step-1 state.
func (s *WizardService) Load(ctx context.Context, sc wizard.SessionContext) (*WizardState, error) {
	var data model.WizardData

	if sc.Authenticated() {
		rec, err := s.store.GetWizardProgress(ctx, sc.UserID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if rec != nil {
			data = rec.Data()
		}
	} else if sc.SessionID != "" {
		rec, err := s.store.GetAnonymousUsage(ctx, sc.SessionID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if rec != nil {
			data = rec.Data()
		}
	}

	step := wizard.ResumeStep(data)
	state := &WizardState{
		Data:    data,
		Step:    step,
		Version: data.Version,
	}
	if step >= model.StepGallery && !sc.Authenticated() {
		state.Registration = true
	}
	return state, nil
}

// Restore builds a state machine for the identity from persisted state.
func (s *WizardService) Restore(ctx context.Context, sc wizard.SessionContext, hooks wizard.HookGenerator) (*wizard.StateMachine, error) {
	state, err := s.Load(ctx, sc)
	if err != nil {
		return nil, err
	}
	return wizard.Restore(sc, state.Data, s, hooks), nil
}

// ScheduleSave coalesces saves for one identity inside the debounce window;
// the write that eventually runs carries the last scheduled payload. With a
// zero window the save happens inline.
func (s *WizardService) ScheduleSave(ctx context.Context, sc wizard.SessionContext, data model.WizardData) error {
	if err := data.Validate(); err != nil {
		return err
	}
	if s.debounce <= 0 {
		_, err := s.SaveNow(ctx, sc, data, data.Version)
		return err
	}

	subject := sc.Subject()
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[subject]; ok {
		// Later schedules replace the payload; the timer keeps running
		p.data = data
		return nil
	}

	p := &pendingSave{id: sc, data: data}
	p.timer = time.AfterFunc(s.debounce, func() { s.flush(subject) })
	s.pending[subject] = p
	return nil
}

// flush performs the debounced save for a subject.
func (s *WizardService) flush(subject string) {
	s.mu.Lock()
	p, ok := s.pending[subject]
	if ok {
		delete(s.pending, subject)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.SaveNow(ctx, p.id, p.data, p.data.Version); err != nil {
		// The in-memory state is intact; the client learns about the
		// failure on its next explicit save or load.
		s.log.Error("debounced save failed", "subject", subject, "error", err)
	}
}

// Flush synchronously drains any pending debounced save for the identity.
func (s *WizardService) Flush(sc wizard.SessionContext) {
	subject := sc.Subject()
	s.mu.Lock()
	p, ok := s.pending[subject]
	if ok {
		p.timer.Stop()
	}
	s.mu.Unlock()
	if ok {
		s.flush(subject)
	}
}

// SaveNow persists immediately, bypassing the debounce window. For
// authenticated identities it returns the new record version.
func (s *WizardService) SaveNow(ctx context.Context, sc wizard.SessionContext, data model.WizardData, expectedVersion int) (int, error) {
	if sc.Authenticated() {
		version, err := s.engine.Save(ctx, sc.UserID, data, expectedVersion)
		if err != nil {
			return 0, err
		}
		s.publishSaved(ctx, sc, data.CurrentStep, version)
		return version, nil
	}

	if sc.SessionID == "" {
		return 0, &model.ValidationError{Field: "sessionId"}
	}
	if _, err := s.store.UpsertAnonymousProgress(ctx, sc.SessionID, data, data.CurrentStep); err != nil {
		return 0, err
	}
	s.publishSaved(ctx, sc, data.CurrentStep, 0)
	return 0, nil
}

// Clear destructively resets the identity's backing record ("start over").
// The reset is guarded by the atomic-operation lock for the identity, so
// two simultaneous resets (double-clicked button, duplicate tab) cannot
// interleave with each other or with a concurrent migration cleanup.
func (s *WizardService) Clear(ctx context.Context, sc wizard.SessionContext) error {
	if s.locks != nil {
		h, lockErr := s.locks.Acquire(ctx, sc.Subject(), model.LockTypeAtomic, s.lockTTL)
		if lockErr != nil {
			return lockErr
		}
		if h == nil {
			return ErrClearInProgress
		}
		defer func() {
			if relErr := s.locks.Release(ctx, h); relErr != nil {
				s.log.Warn("failed to release clear lock", "subject", sc.Subject(), "error", relErr)
			}
		}()
	}

	var err error
	if sc.Authenticated() {
		err = s.store.ClearWizardProgress(ctx, sc.UserID)
	} else if sc.SessionID != "" {
		err = s.store.ClearAnonymousProgress(ctx, sc.SessionID)
	}
	if err != nil {
		return err
	}
	if s.broker != nil {
		if pubErr := s.broker.Publish(ctx, sc.Subject(), events.EventTypeProgressCleared, struct{}{}); pubErr != nil {
			s.log.Warn("failed to publish cleared event", "error", pubErr)
		}
	}
	return nil
}

func (s *WizardService) publishSaved(ctx context.Context, sc wizard.SessionContext, step, version int) {
	if s.broker == nil {
		return
	}
	if err := s.broker.PublishProgressSaved(ctx, sc.Subject(), step, version); err != nil {
		s.log.Warn("failed to publish saved event", "error", err)
	}
}

var _ wizard.Saver = (*WizardService)(nil)
