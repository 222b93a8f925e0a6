package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/adforge/adforge/internal/config"
	"github.com/adforge/adforge/internal/wizard"
)

var testSecret = []byte("test-secret")

func testConfig() *config.Config {
	return &config.Config{JWTSecret: testSecret}
}

func signToken(t *testing.T, userID string, secret []byte, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: userID,
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// identityProbe captures the session context the middleware resolved.
func identityProbe(captured *wizard.SessionContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = GetSessionContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestIdentityBearerToken(t *testing.T) {
	var sc wizard.SessionContext
	h := Identity(testConfig())(identityProbe(&sc))

	req := httptest.NewRequest("GET", "/api/wizard", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "u1", testSecret, time.Now().Add(time.Hour)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if sc.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", sc.UserID)
	}
	if !sc.Authenticated() {
		t.Error("caller should be authenticated")
	}
}

func TestIdentitySessionHeader(t *testing.T) {
	var sc wizard.SessionContext
	h := Identity(testConfig())(identityProbe(&sc))

	req := httptest.NewRequest("GET", "/api/wizard", nil)
	req.Header.Set(SessionHeader, "sess-abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if sc.SessionID != "sess-abc" || sc.UserID != "" {
		t.Errorf("sc = %+v, want anonymous session", sc)
	}
}

func TestIdentityBothIdentities(t *testing.T) {
	var sc wizard.SessionContext
	h := Identity(testConfig())(identityProbe(&sc))

	req := httptest.NewRequest("POST", "/api/migrate", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "u1", testSecret, time.Now().Add(time.Hour)))
	req.Header.Set(SessionHeader, "sess-abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !sc.MigrationCandidate() {
		t.Errorf("sc = %+v, want migration candidate", sc)
	}
}

func TestIdentityRejectsBadTokens(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", signToken(t, "u1", []byte("other-secret"), time.Now().Add(time.Hour))},
		{"expired", signToken(t, "u1", testSecret, time.Now().Add(-time.Hour))},
		{"garbage", "not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sc wizard.SessionContext
			h := Identity(testConfig())(identityProbe(&sc))

			req := httptest.NewRequest("GET", "/api/wizard", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestIdentityRejectsEmptyUserIDClaim(t *testing.T) {
	var sc wizard.SessionContext
	h := Identity(testConfig())(identityProbe(&sc))

	req := httptest.NewRequest("GET", "/api/wizard", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "", testSecret, time.Now().Add(time.Hour)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestIdentityMalformedHeader(t *testing.T) {
	var sc wizard.SessionContext
	h := Identity(testConfig())(identityProbe(&sc))

	req := httptest.NewRequest("GET", "/api/wizard", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := Identity(testConfig())(RequireAuth(next))

	// Anonymous caller is rejected
	req := httptest.NewRequest("POST", "/api/migrate", nil)
	req.Header.Set(SessionHeader, "sess-abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rec.Code)
	}

	// Authenticated caller passes
	req = httptest.NewRequest("POST", "/api/migrate", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "u1", testSecret, time.Now().Add(time.Hour)))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rec.Code)
	}
}
