// Package handler contains the HTTP API.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/adforge/adforge/internal/config"
	"github.com/adforge/adforge/internal/events"
	"github.com/adforge/adforge/internal/logger"
	"github.com/adforge/adforge/internal/queue"
	"github.com/adforge/adforge/internal/service"
)

// Handler contains all HTTP handlers
type Handler struct {
	cfg         *config.Config
	log         *logger.Logger
	wizardSvc   *service.WizardService
	migration   *service.MigrationCoordinator
	generator   *service.GenerationService
	hooks       *service.HookTrigger
	eventBroker *events.Broker
	tasks       *queue.Queue
}

// New creates a new Handler.
func New(cfg *config.Config, log *logger.Logger, wizardSvc *service.WizardService, migration *service.MigrationCoordinator, generator *service.GenerationService, hooks *service.HookTrigger, eventBroker *events.Broker, tasks *queue.Queue) *Handler {
	return &Handler{
		cfg:         cfg,
		log:         log,
		wizardSvc:   wizardSvc,
		migration:   migration,
		generator:   generator,
		hooks:       hooks,
		eventBroker: eventBroker,
		tasks:       tasks,
	}
}

// JSON helper to write JSON responses
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error helper to write error responses
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// DecodeJSON helper to decode request body
func (h *Handler) DecodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// Health returns service liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
