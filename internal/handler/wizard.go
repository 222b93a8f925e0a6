package handler

import (
	"errors"
	"net/http"

	"gorm.io/datatypes"

	"github.com/adforge/adforge/internal/middleware"
	"github.com/adforge/adforge/internal/model"
	"github.com/adforge/adforge/internal/service"
	"github.com/adforge/adforge/internal/wizard"
)

// GetWizard resolves the caller's wizard state.
// GET /api/wizard
func (h *Handler) GetWizard(w http.ResponseWriter, r *http.Request) {
	sc := middleware.GetSessionContext(r.Context())
	if sc.UserID == "" && sc.SessionID == "" {
		h.Error(w, http.StatusBadRequest, "No identity: authenticate or send "+middleware.SessionHeader)
		return
	}

	state, err := h.wizardSvc.Load(r.Context(), sc)
	if err != nil {
		h.log.Error("failed to load wizard state", "error", err)
		h.Error(w, http.StatusInternalServerError, "Failed to load wizard state")
		return
	}
	h.JSON(w, http.StatusOK, state)
}

// stepRequest is the body for the three forward-transition endpoints.
type stepRequest struct {
	Payload datatypes.JSON `json:"payload"`
}

// SubmitIdea handles the step 1 -> 2 transition.
// POST /api/wizard/idea
func (h *Handler) SubmitIdea(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(m *wizard.StateMachine, payload datatypes.JSON) error {
		return m.SubmitIdea(r.Context(), payload)
	})
}

// SelectAudience handles the step 2 -> 3 transition.
// POST /api/wizard/audience
func (h *Handler) SelectAudience(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(m *wizard.StateMachine, payload datatypes.JSON) error {
		return m.SelectAudience(r.Context(), payload)
	})
}

// CompleteAnalysis handles the step 3 -> 4 transition and triggers hook
// generation.
// POST /api/wizard/analysis
func (h *Handler) CompleteAnalysis(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(m *wizard.StateMachine, payload datatypes.JSON) error {
		return m.CompleteAnalysis(r.Context(), payload)
	})
}

// transition restores the caller's state machine, applies one forward
// transition and reports the resulting step. A SaveError does not fail the
// request: the transition stood, persistence lagged.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, apply func(*wizard.StateMachine, datatypes.JSON) error) {
	sc := middleware.GetSessionContext(r.Context())
	if sc.UserID == "" && sc.SessionID == "" {
		h.Error(w, http.StatusBadRequest, "No identity: authenticate or send "+middleware.SessionHeader)
		return
	}

	var req stepRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	m, err := h.wizardSvc.Restore(r.Context(), sc, h.hooks)
	if err != nil {
		h.log.Error("failed to restore wizard", "error", err)
		h.Error(w, http.StatusInternalServerError, "Failed to load wizard state")
		return
	}

	err = apply(m, req.Payload)
	var saveErr *wizard.SaveError
	var validationErr *model.ValidationError
	switch {
	case err == nil:
		h.JSON(w, http.StatusOK, h.stateResponse(m, ""))
	case errors.As(err, &saveErr):
		// Optimistic transition: in-memory state advanced, the save needs
		// a manual retry
		h.log.Warn("transition persisted late", "subject", sc.Subject(), "error", err)
		h.JSON(w, http.StatusOK, h.stateResponse(m, "Progress could not be saved yet. Your work is kept in this session; retry saving."))
	case errors.As(err, &validationErr):
		h.Error(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, wizard.ErrInvalidTransition):
		h.Error(w, http.StatusConflict, err.Error())
	default:
		h.log.Error("transition failed", "error", err)
		h.Error(w, http.StatusInternalServerError, "Wizard transition failed")
	}
}

type stateResponse struct {
	Step         int              `json:"step"`
	Data         model.WizardData `json:"data"`
	Registration bool             `json:"registrationRequired,omitempty"`
	Warning      string           `json:"warning,omitempty"`
}

func (h *Handler) stateResponse(m *wizard.StateMachine, warning string) stateResponse {
	return stateResponse{
		Step:         m.Step(),
		Data:         m.Data(),
		Registration: m.NavigationGate(model.StepGallery) == wizard.GateRegistrationRequired,
		Warning:      warning,
	}
}

// Back handles backward navigation; it never fails.
// POST /api/wizard/back
func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	sc := middleware.GetSessionContext(r.Context())
	m, err := h.wizardSvc.Restore(r.Context(), sc, h.hooks)
	if err != nil {
		h.log.Error("failed to restore wizard", "error", err)
		h.Error(w, http.StatusInternalServerError, "Failed to load wizard state")
		return
	}
	m.Back()
	h.JSON(w, http.StatusOK, h.stateResponse(m, ""))
}

// StartOver clears all progress and returns to step 1.
// POST /api/wizard/start-over
func (h *Handler) StartOver(w http.ResponseWriter, r *http.Request) {
	sc := middleware.GetSessionContext(r.Context())
	m, err := h.wizardSvc.Restore(r.Context(), sc, h.hooks)
	if err != nil {
		h.log.Error("failed to restore wizard", "error", err)
		h.Error(w, http.StatusInternalServerError, "Failed to load wizard state")
		return
	}
	if err := m.StartOver(r.Context()); err != nil {
		if errors.Is(err, service.ErrClearInProgress) {
			h.Error(w, http.StatusConflict, "A reset is already in progress")
			return
		}
		h.log.Error("start over failed", "error", err)
		h.Error(w, http.StatusInternalServerError, "Failed to clear progress")
		return
	}
	h.JSON(w, http.StatusOK, h.stateResponse(m, ""))
}

// saveRequest is the body for explicit saves.
type saveRequest struct {
	Data            model.WizardData `json:"data"`
	ExpectedVersion int              `json:"expectedVersion"`
}

// Save performs an explicit, synchronous save with the caller's expected
// version. Conflicts are retried inside the engine; exhaustion surfaces as
// a retryable failure.
// POST /api/wizard/save
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	sc := middleware.GetSessionContext(r.Context())
	if sc.UserID == "" && sc.SessionID == "" {
		h.Error(w, http.StatusBadRequest, "No identity: authenticate or send "+middleware.SessionHeader)
		return
	}

	var req saveRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	version, err := h.wizardSvc.SaveNow(r.Context(), sc, req.Data, req.ExpectedVersion)
	if err != nil {
		var validationErr *model.ValidationError
		var exhausted *service.SaveExhaustedError
		switch {
		case errors.As(err, &validationErr):
			h.Error(w, http.StatusBadRequest, validationErr.Error())
		case errors.As(err, &exhausted):
			// The record moved too fast under us; the client should reload
			// and retry manually
			h.Error(w, http.StatusConflict, "Save conflicted repeatedly; reload and retry")
		default:
			h.log.Error("save failed", "error", err)
			h.Error(w, http.StatusInternalServerError, "Save failed")
		}
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{"version": version})
}
