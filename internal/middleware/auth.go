// Package middleware contains HTTP middleware for the quota service.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sappio-ai/sappio/internal/handler"
)

// APITokenMiddleware guards the internal API with a shared bearer token.
type APITokenMiddleware struct {
	token   []byte
	enabled bool
	logger  *slog.Logger
}

// NewAPITokenMiddleware creates a new token middleware.
// An empty token disables the check (development only; config rejects it
// in production).
func NewAPITokenMiddleware(token string, logger *slog.Logger) *APITokenMiddleware {
	return &APITokenMiddleware{
		token:   []byte(token),
		enabled: token != "",
		logger:  logger,
	}
}

// Require returns middleware that rejects requests without the API token.
func (m *APITokenMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), m.token) != 1 {
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "

	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}
