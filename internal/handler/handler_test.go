package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/adforge/adforge/internal/config"
	"github.com/adforge/adforge/internal/database"
	"github.com/adforge/adforge/internal/events"
	"github.com/adforge/adforge/internal/generation"
	"github.com/adforge/adforge/internal/lock"
	"github.com/adforge/adforge/internal/logger"
	"github.com/adforge/adforge/internal/middleware"
	"github.com/adforge/adforge/internal/model"
	"github.com/adforge/adforge/internal/service"
	"github.com/adforge/adforge/internal/store"
)

var testSecret = []byte("handler-test-secret")

// stubGenClient returns canned variants or a canned error.
type stubGenClient struct {
	variants int
	err      error
}

func (c *stubGenClient) Generate(context.Context, generation.Request) ([]json.RawMessage, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([]json.RawMessage, c.variants)
	for i := range out {
		out[i] = json.RawMessage(fmt.Sprintf(`{"headline":"ad %d"}`, i+1))
	}
	return out, nil
}

type testServer struct {
	Router *chi.Mux
	Store  *store.Store
	Gen    *stubGenClient
}

// newTestServer wires the full stack over a temp sqlite database, with a
// zero debounce so saves land synchronously.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		DatabaseDSN:    fmt.Sprintf("sqlite://%s/test.db", t.TempDir()),
		DatabaseDriver: "sqlite",
		JWTSecret:      testSecret,
		CORSOrigins:    []string{"*"},
	}

	db, err := database.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := store.New(db.DB)
	lg := logger.NewNop()
	locks := lock.NewDBManager(s)

	pollerCfg := events.DefaultPollerConfig()
	pollerCfg.PollInterval = 10 * time.Millisecond
	poller := events.NewPoller(s, pollerCfg, lg)
	if err := poller.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start poller: %v", err)
	}
	t.Cleanup(poller.Stop)
	broker := events.NewBroker(s, poller)

	genClient := &stubGenClient{variants: 2}
	presets, _ := generation.LoadPresets("nonexistent.yaml")

	engine := service.NewSaveEngine(s, lg, 3, time.Millisecond)
	wizardSvc := service.NewWizardService(s, engine, broker, lg, 0, locks, time.Minute)
	migration := service.NewMigrationCoordinator(s, locks, nil, broker, lg, time.Minute, 3, time.Millisecond)
	generator := service.NewGenerationService(s, engine, genClient, presets, broker, lg)
	hooks := service.NewHookTrigger(genClient, wizardSvc, lg)

	h := New(cfg, lg, wizardSvc, migration, generator, hooks, broker, nil)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Identity(cfg))
			r.Get("/events", h.Events)
			r.Route("/wizard", func(r chi.Router) {
				r.Get("/", h.GetWizard)
				r.Post("/idea", h.SubmitIdea)
				r.Post("/audience", h.SelectAudience)
				r.Post("/analysis", h.CompleteAnalysis)
				r.Post("/back", h.Back)
				r.Post("/start-over", h.StartOver)
				r.Post("/save", h.Save)
			})
			r.With(middleware.RequireAuth).Post("/migrate", h.Migrate)
			r.Post("/generate", h.Generate)
		})
	})

	return &testServer{Router: r, Store: s, Gen: genClient}
}

func bearerToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: userID,
	})
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + signed
}

// do runs a request with optional identity headers and decodes the JSON
// response into out (when non-nil).
func (ts *testServer) do(t *testing.T, method, path, auth, session string, body, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if session != "" {
		req.Header.Set(middleware.SessionHeader, session)
	}
	rec := httptest.NewRecorder()
	ts.Router.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("bad response body %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code
}

func stepBody(payload string) map[string]any {
	return map[string]any{"payload": json.RawMessage(payload)}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	var resp map[string]string
	if code := ts.do(t, "GET", "/api/health", "", "", nil, &resp); code != 200 {
		t.Fatalf("status = %d", code)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %q", resp["status"])
	}
}

func TestAnonymousWizardFlow(t *testing.T) {
	ts := newTestServer(t)
	session := "sess-flow"

	var state stateResponse
	code := ts.do(t, "POST", "/api/wizard/idea", "", session, stepBody(`{"text":"dog treats"}`), &state)
	if code != 200 {
		t.Fatalf("idea status = %d", code)
	}
	if state.Step != model.StepAudience {
		t.Errorf("step = %d, want 2", state.Step)
	}

	code = ts.do(t, "POST", "/api/wizard/audience", "", session, stepBody(`{"segment":"dog owners"}`), &state)
	if code != 200 {
		t.Fatalf("audience status = %d", code)
	}

	code = ts.do(t, "POST", "/api/wizard/analysis", "", session, stepBody(`{"insight":"spoils the dog"}`), &state)
	if code != 200 {
		t.Fatalf("analysis status = %d", code)
	}
	if state.Step != model.StepGallery {
		t.Errorf("step = %d, want 4", state.Step)
	}
	// Anonymous at the gallery: registration gate
	if !state.Registration {
		t.Error("registrationRequired should be set for anonymous callers")
	}

	// Progress survives a reload
	var loaded service.WizardState
	if code := ts.do(t, "GET", "/api/wizard/", "", session, nil, &loaded); code != 200 {
		t.Fatalf("load status = %d", code)
	}
	if loaded.Step != model.StepGallery {
		t.Errorf("loaded step = %d, want 4", loaded.Step)
	}
	if !loaded.Data.HasBusinessIdea() {
		t.Error("loaded state lost the idea")
	}
}

func TestOutOfOrderStepRejected(t *testing.T) {
	ts := newTestServer(t)

	var resp map[string]any
	code := ts.do(t, "POST", "/api/wizard/audience", "", "sess-x", stepBody(`{"segment":"anyone"}`), &resp)
	if code != http.StatusConflict {
		t.Errorf("status = %d, want 409", code)
	}
}

func TestNoIdentityRejected(t *testing.T) {
	ts := newTestServer(t)
	if code := ts.do(t, "GET", "/api/wizard/", "", "", nil, nil); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestExplicitSaveAndVersioning(t *testing.T) {
	ts := newTestServer(t)
	auth := bearerToken(t, "u-save")

	var resp struct {
		Version int `json:"version"`
	}
	body := map[string]any{
		"data": map[string]any{
			"businessIdea": map[string]any{"text": "plant box"},
			"currentStep":  2,
		},
		"expectedVersion": 0,
	}
	if code := ts.do(t, "POST", "/api/wizard/save", auth, "", body, &resp); code != 200 {
		t.Fatalf("save status = %d", code)
	}
	if resp.Version != 1 {
		t.Errorf("version = %d, want 1", resp.Version)
	}

	// A stale expected version still lands via the engine's re-read retry
	body["expectedVersion"] = 0
	body["data"] = map[string]any{
		"targetAudience": map[string]any{"segment": "urban gardeners"},
		"currentStep":    3,
	}
	if code := ts.do(t, "POST", "/api/wizard/save", auth, "", body, &resp); code != 200 {
		t.Fatalf("second save status = %d", code)
	}
	if resp.Version != 2 {
		t.Errorf("version = %d, want 2", resp.Version)
	}
}

func TestMigrateEndpoint(t *testing.T) {
	ts := newTestServer(t)
	session := "sess-mig"
	auth := bearerToken(t, "u-mig")

	// Build anonymous progress
	if code := ts.do(t, "POST", "/api/wizard/idea", "", session, stepBody(`{"text":"meal prep"}`), nil); code != 200 {
		t.Fatalf("idea status = %d", code)
	}

	// Unauthenticated trigger is rejected
	if code := ts.do(t, "POST", "/api/migrate", "", session, nil, nil); code != http.StatusUnauthorized {
		t.Errorf("anon migrate status = %d, want 401", code)
	}

	var resp migrateResponse
	if code := ts.do(t, "POST", "/api/migrate", auth, session, nil, &resp); code != 200 {
		t.Fatalf("migrate status = %d", code)
	}
	if !resp.Migrated || !resp.ClearSession {
		t.Errorf("resp = %+v, want migrated + clearSession", resp)
	}

	// Re-trigger (client that failed to clear its session) is a safe no-op
	if code := ts.do(t, "POST", "/api/migrate", auth, session, nil, &resp); code != 200 {
		t.Fatalf("repeat migrate status = %d", code)
	}
	if resp.Migrated {
		t.Error("repeat trigger must not re-merge")
	}
	if !resp.ClearSession {
		t.Error("repeat trigger must still tell the client to clear")
	}

	// The merged record is what the user now loads
	var state service.WizardState
	if code := ts.do(t, "GET", "/api/wizard/", auth, "", nil, &state); code != 200 {
		t.Fatalf("load status = %d", code)
	}
	if !state.Data.HasBusinessIdea() {
		t.Error("migrated data missing from user record")
	}
}

func TestGenerateEndpointTrialGate(t *testing.T) {
	ts := newTestServer(t)
	session := "sess-gen"

	for _, step := range []struct{ path, payload string }{
		{"/api/wizard/idea", `{"text":"sock club"}`},
		{"/api/wizard/audience", `{"segment":"gift shoppers"}`},
	} {
		if code := ts.do(t, "POST", step.path, "", session, stepBody(step.payload), nil); code != 200 {
			t.Fatalf("%s status = %d", step.path, code)
		}
	}

	var resp struct {
		Variants []json.RawMessage `json:"variants"`
	}
	if code := ts.do(t, "POST", "/api/generate", "", session, map[string]any{"platform": "meta_feed"}, &resp); code != 200 {
		t.Fatalf("generate status = %d", code)
	}
	if len(resp.Variants) != 2 {
		t.Errorf("variants = %d, want 2", len(resp.Variants))
	}

	// The free run is spent
	code := ts.do(t, "POST", "/api/generate", "", session, map[string]any{}, nil)
	if code != http.StatusPaymentRequired {
		t.Errorf("second generate status = %d, want 402", code)
	}
}

func TestGenerateNoCredits(t *testing.T) {
	ts := newTestServer(t)
	auth := bearerToken(t, "u-credits")

	body := map[string]any{
		"data": map[string]any{
			"businessIdea":   map[string]any{"text": "candle kits"},
			"targetAudience": map[string]any{"segment": "crafters"},
			"currentStep":    3,
		},
		"expectedVersion": 0,
	}
	if code := ts.do(t, "POST", "/api/wizard/save", auth, "", body, nil); code != 200 {
		t.Fatal("seed save failed")
	}

	ts.Gen.err = generation.ErrNoCredits
	code := ts.do(t, "POST", "/api/generate", auth, "", map[string]any{}, nil)
	if code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402", code)
	}
}

func TestStartOverEndpoint(t *testing.T) {
	ts := newTestServer(t)
	session := "sess-reset"

	if code := ts.do(t, "POST", "/api/wizard/idea", "", session, stepBody(`{"text":"tea blends"}`), nil); code != 200 {
		t.Fatal("idea failed")
	}

	var state stateResponse
	if code := ts.do(t, "POST", "/api/wizard/start-over", "", session, nil, &state); code != 200 {
		t.Fatalf("start over status = %d", code)
	}
	if state.Step != model.StepIdea || !state.Data.IsEmpty() {
		t.Errorf("state = %+v, want empty step 1", state)
	}

	var loaded service.WizardState
	if code := ts.do(t, "GET", "/api/wizard/", "", session, nil, &loaded); code != 200 {
		t.Fatal("load failed")
	}
	if !loaded.Data.IsEmpty() {
		t.Error("start over did not persist the reset")
	}
}
