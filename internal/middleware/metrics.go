package middleware

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsAuthMiddleware guards the scrape endpoint with basic authentication.
type MetricsAuthMiddleware struct {
	username []byte
	password []byte
	enabled  bool
}

// NewMetricsAuthMiddleware creates a new metrics auth middleware.
// If both username and password are empty, authentication is disabled.
func NewMetricsAuthMiddleware(username, password string) *MetricsAuthMiddleware {
	return &MetricsAuthMiddleware{
		username: []byte(username),
		password: []byte(password),
		enabled:  username != "" || password != "",
	}
}

// Handler returns middleware that requires basic authentication.
func (m *MetricsAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok {
			m.unauthorized(w)
			return
		}

		// Both halves are always compared so timing does not reveal which failed.
		userMatch := subtle.ConstantTimeCompare([]byte(user), m.username)
		passMatch := subtle.ConstantTimeCompare([]byte(pass), m.password)
		if userMatch&passMatch != 1 {
			m.unauthorized(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RegisterRoutes mounts /metrics and the pprof endpoints behind the auth check.
func (m *MetricsAuthMiddleware) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /metrics", m.Handler(promhttp.Handler()))
	mux.Handle("GET /debug/pprof/", m.Handler(http.HandlerFunc(pprof.Index)))
	mux.Handle("GET /debug/pprof/profile", m.Handler(http.HandlerFunc(pprof.Profile)))
}

// unauthorized sends a 401 response with WWW-Authenticate header.
func (m *MetricsAuthMiddleware) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="metrics", charset="UTF-8"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
