package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation, skipping
// probes and scrapes.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
			}),
		))
	}
}

// WithHandler mounts an extra handler at path, e.g. the Prometheus scrape
// endpoint.
func WithHandler(path string, handler http.Handler) RouteOption {
	return func(r *mux.Router) {
		r.Handle(path, handler).Methods(http.MethodGet)
	}
}

// NewRouter wires the handler's endpoints.
func NewRouter(h *Handler, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/v1/check", h.Check).Methods(http.MethodPost)
	router.HandleFunc("/v1/reset", h.Reset).Methods(http.MethodPost)
	router.HandleFunc("/v1/stats", h.Stats).Methods(http.MethodGet)
	router.HandleFunc("/v1/limiters", h.Limiters).Methods(http.MethodGet)
	router.HandleFunc("/v1/limiters/{limiter}/remaining", h.Remaining).Methods(http.MethodGet)
	router.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)

	// Subrouters do not inherit these, so every route stays on the root router
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, http.StatusNotFound, "not_found", "Not found")
	})

	return router
}
