// Package middleware provides HTTP middleware for identity resolution.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/adforge/adforge/internal/config"
	"github.com/adforge/adforge/internal/wizard"
)

type contextKey string

const (
	// SessionContextKey holds the resolved wizard.SessionContext.
	SessionContextKey contextKey = "sessionContext"
)

// SessionHeader carries the client-generated anonymous session id. The
// client keeps it in local storage and clears it after a successful
// migration.
const SessionHeader = "X-Wizard-Session"

// Claims are the bearer-token claims minted by the external auth service.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
}

// ErrInvalidToken is returned for tokens that parse but fail validation.
var ErrInvalidToken = errors.New("invalid token")

// Identity resolves the caller's identity from the Authorization bearer
// token (when present) and the anonymous session header, and stores a
// wizard.SessionContext on the request context. An invalid token is
// rejected; a missing one just means the caller is anonymous.
func Identity(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := wizard.SessionContext{
				SessionID: r.Header.Get(SessionHeader),
			}

			if auth := r.Header.Get("Authorization"); auth != "" {
				tokenString, ok := strings.CutPrefix(auth, "Bearer ")
				if !ok {
					http.Error(w, `{"error":"Malformed authorization header"}`, http.StatusUnauthorized)
					return
				}
				userID, err := userIDFromToken(tokenString, cfg.JWTSecret)
				if err != nil {
					http.Error(w, `{"error":"Invalid or expired token"}`, http.StatusUnauthorized)
					return
				}
				sc.UserID = userID
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, sc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests without an authenticated user.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !GetSessionContext(r.Context()).Authenticated() {
			http.Error(w, `{"error":"Authentication required"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetSessionContext returns the identity resolved by Identity, or a zero
// value when the middleware did not run.
func GetSessionContext(ctx context.Context) wizard.SessionContext {
	sc, _ := ctx.Value(SessionContextKey).(wizard.SessionContext)
	return sc
}

func userIDFromToken(tokenString string, secret []byte) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}
