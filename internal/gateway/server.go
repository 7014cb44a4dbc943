package gateway

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	if g.metrics != nil {
		r.Use(g.countRequests)
	}

	// Public — no auth required.
	r.Get("/healthz", g.handleHealthz())
	r.Get("/context", g.handleContext())
	r.Get("/ws", g.handleWS())

	// Status and metrics — behind auth when credentials are configured.
	r.Group(func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(authMiddleware(g.config.Auth))
		}
		r.Get("/status", g.handleStatus())
		if g.metrics != nil {
			r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
				g.metrics.Registry,
				promhttp.HandlerOpts{},
			))
		}
	})

	return r
}

// countRequests records request counts by method, path, and status. The
// websocket endpoint is skipped: a hijacked connection has no final status
// and would hold the counter open for its whole lifetime.
func (g *Gateway) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		g.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(sw.status)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
