// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/gridsight/arbiter-api/internal/auth"
	"github.com/gridsight/arbiter-api/internal/models"
	"github.com/gridsight/arbiter-api/internal/services"
)

// AuthMiddleware verifies bearer tokens and resolves the local user record
// for each request.
type AuthMiddleware struct {
	verifier    *auth.Verifier
	userService *services.UserService
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(verifier *auth.Verifier, userService *services.UserService) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:    verifier,
		userService: userService,
	}
}

// Authenticate validates the bearer token, provisions the user record on
// first sight, and stores both the user and the raw token on the context.
// The raw token travels with report jobs so workers act with the caller's
// permissions.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeAuthError(w, "Authorization token is required")
			return
		}

		claims, err := m.verifier.Verify(token)
		if err != nil {
			writeAuthError(w, "Invalid or expired token")
			return
		}

		user, err := m.userService.Bootstrap(r.Context(), claims.Subject)
		if err != nil {
			writeAuthError(w, "Unable to resolve user")
			return
		}

		ctx := auth.ContextWithUser(r.Context(), user)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// writeAuthError writes a 401 in the standard error envelope.
func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]models.FieldErrors{
		"errors": {"detail": []string{message}},
	})
}
