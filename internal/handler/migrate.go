package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/adforge/adforge/internal/middleware"
	"github.com/adforge/adforge/internal/queue"
	"github.com/adforge/adforge/internal/service"
	"github.com/adforge/adforge/internal/wizard"
)

// migrateResponse reports the outcome of a migration trigger.
type migrateResponse struct {
	Migrated     bool   `json:"migrated"`
	ClearSession bool   `json:"clearSession"`
	Retrying     bool   `json:"retrying,omitempty"`
	Step         int    `json:"step,omitempty"`
	Version      int    `json:"version,omitempty"`
	State        string `json:"state"`
}

// Migrate merges anonymous session progress into the authenticated user's
// record. Requires auth; the session id comes from the request header. The
// call is idempotent: repeated triggers after success report clearSession
// without re-merging.
// POST /api/migrate
func (h *Handler) Migrate(w http.ResponseWriter, r *http.Request) {
	sc := middleware.GetSessionContext(r.Context())
	if !sc.Authenticated() {
		h.Error(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if sc.SessionID == "" {
		h.JSON(w, http.StatusOK, migrateResponse{State: string(service.MigrationNothingToDo)})
		return
	}

	result, err := h.migration.Migrate(r.Context(), sc)
	if err != nil {
		var migErr *service.MigrationError
		if errors.As(err, &migErr) {
			// Synchronous retries are spent; hand the pair to the
			// background queue, deduplicated by session id so duplicate
			// tabs don't stack attempts
			h.enqueueMigrationRetry(sc)
			h.JSON(w, http.StatusAccepted, migrateResponse{
				State:    string(service.MigrationContention),
				Retrying: true,
			})
			return
		}
		h.log.Error("migration failed", "error", err)
		h.Error(w, http.StatusInternalServerError, "Migration failed")
		return
	}

	resp := migrateResponse{
		Migrated:     result.Migrated,
		ClearSession: result.ClearSession,
		State:        string(result.State),
	}
	if result.Record != nil {
		resp.Step = result.Record.CurrentStep
		resp.Version = result.Record.Version
	}

	if result.State == service.MigrationContention {
		// Another tab or process holds the lock; it owns completion
		h.JSON(w, http.StatusAccepted, resp)
		return
	}
	h.JSON(w, http.StatusOK, resp)
}

// enqueueMigrationRetry schedules one background re-run of the migration,
// keyed by session id so concurrent triggers for the same session collapse
// into a single pending task.
func (h *Handler) enqueueMigrationRetry(sc wizard.SessionContext) {
	if h.tasks == nil {
		return
	}
	err := h.tasks.Enqueue(&queue.Task{
		Key: "migrate:" + sc.SessionID,
		Run: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			_, runErr := h.migration.Migrate(ctx, sc)
			return runErr
		},
		OnExhausted: func(err error) {
			h.log.Error("background migration gave up",
				"user_id", sc.UserID, "session_id", sc.SessionID, "error", err)
		},
	})
	if err != nil && !errors.Is(err, queue.ErrDuplicate) {
		h.log.Warn("failed to queue migration retry", "session_id", sc.SessionID, "error", err)
	}
}
