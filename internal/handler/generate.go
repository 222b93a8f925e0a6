package handler

import (
	"errors"
	"net/http"

	"github.com/adforge/adforge/internal/generation"
	"github.com/adforge/adforge/internal/middleware"
	"github.com/adforge/adforge/internal/service"
	"github.com/adforge/adforge/internal/wizard"
)

// generateRequest is the body for ad generation.
type generateRequest struct {
	Platform string `json:"platform"`
}

// Generate runs one gated ad generation for the caller and returns the
// stored variants. Anonymous callers get a single free run; both the spent
// trial and exhausted credits answer with 402.
// POST /api/generate
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	sc := middleware.GetSessionContext(r.Context())
	if sc.UserID == "" && sc.SessionID == "" {
		h.Error(w, http.StatusBadRequest, "No identity: authenticate or send "+middleware.SessionHeader)
		return
	}

	var req generateRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	variants, err := h.generator.Generate(r.Context(), sc, req.Platform)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTrialUsed):
			h.Error(w, http.StatusPaymentRequired, "Free generation already used; create an account to continue")
		case errors.Is(err, generation.ErrNoCredits):
			h.Error(w, http.StatusPaymentRequired, "No generation credits remaining")
		case errors.Is(err, wizard.ErrInvalidTransition):
			h.Error(w, http.StatusConflict, err.Error())
		default:
			h.log.Error("generation failed", "error", err)
			h.Error(w, http.StatusInternalServerError, "Generation failed")
		}
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{"variants": variants})
}
