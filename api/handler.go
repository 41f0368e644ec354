package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/classhub/throttle/core"
	"github.com/classhub/throttle/pkg/throttle"
	"github.com/classhub/throttle/store"
)

// Handler exposes a Manager over JSON so that services in other processes
// can share its limiters.
type Handler struct {
	manager  *throttle.Manager
	policies map[string]core.Config
	logger   *slog.Logger
}

// NewHandler creates a handler serving the given named policies.
// Requests for limiters not in policies are rejected.
func NewHandler(manager *throttle.Manager, policies map[string]core.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{manager: manager, policies: policies, logger: logger}
}

// CheckRequest is the body of POST /v1/check and POST /v1/reset
type CheckRequest struct {
	Limiter string `json:"limiter"`
	Key     string `json:"key"`
}

// CheckResponse is the response of POST /v1/check
type CheckResponse struct {
	Allowed           bool  `json:"allowed"`
	Remaining         int   `json:"remaining"`
	Limit             int   `json:"limit"`
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`
}

// RemainingResponse is the response of GET /v1/limiters/{limiter}/remaining
type RemainingResponse struct {
	Limiter   string `json:"limiter"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
}

// LimiterInfo describes one configured policy
type LimiterInfo struct {
	Name              string  `json:"name"`
	MaxTokens         int     `json:"max_tokens"`
	RefillRate        float64 `json:"refill_rate"`
	RetryAfterSeconds int64   `json:"retry_after_seconds"`
}

// HealthResponse is the response of GET /healthz
type HealthResponse struct {
	Status   string                  `json:"status"`
	Backends map[string]store.Status `json:"backends"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Check handles POST /v1/check. Denied checks answer 429.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	req, policy, ok := h.decode(w, r)
	if !ok {
		return
	}

	result, err := h.manager.CheckLimit(r.Context(), req.Limiter, req.Key, policy)
	if err != nil {
		h.managerError(w, err)
		return
	}

	status := http.StatusOK
	if !result.Allowed {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, CheckResponse{
		Allowed:           result.Allowed,
		Remaining:         result.Remaining,
		Limit:             result.Limit,
		RetryAfterSeconds: int64(result.RetryAfter.Seconds()),
	})
}

// Reset handles POST /v1/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	req, policy, ok := h.decode(w, r)
	if !ok {
		return
	}

	if err := h.manager.Reset(r.Context(), req.Limiter, req.Key, policy); err != nil {
		h.managerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Remaining handles GET /v1/limiters/{limiter}/remaining?key=...
func (h *Handler) Remaining(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["limiter"]
	policy, ok := h.policies[name]
	if !ok {
		sendError(w, http.StatusNotFound, "unknown_limiter", "No limiter named "+name)
		return
	}

	remaining, err := h.manager.Remaining(r.Context(), name, r.URL.Query().Get("key"), policy)
	if err != nil {
		h.managerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RemainingResponse{Limiter: name, Remaining: remaining, Limit: policy.MaxTokens})
}

// Limiters handles GET /v1/limiters.
func (h *Handler) Limiters(w http.ResponseWriter, r *http.Request) {
	infos := make([]LimiterInfo, 0, len(h.policies))
	for name, policy := range h.policies {
		infos = append(infos, LimiterInfo{
			Name:              name,
			MaxTokens:         policy.MaxTokens,
			RefillRate:        policy.RefillRate,
			RetryAfterSeconds: int64(policy.RetryAfter().Seconds()),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	writeJSON(w, http.StatusOK, infos)
}

// Stats handles GET /v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Stats(r.Context()))
}

// Health handles GET /healthz. An unhealthy backend reports "degraded" with
// status 200, since checks keep succeeding by failing open.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	statuses := h.manager.Status(r.Context())

	resp := HealthResponse{Status: "ok", Backends: statuses}
	for _, s := range statuses {
		if !s.Healthy {
			resp.Status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (CheckRequest, core.Config, bool) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return req, core.Config{}, false
	}
	if req.Key == "" {
		sendError(w, http.StatusBadRequest, "missing_key", "key is required")
		return req, core.Config{}, false
	}

	policy, ok := h.policies[req.Limiter]
	if !ok {
		sendError(w, http.StatusNotFound, "unknown_limiter", "No limiter named "+req.Limiter)
		return req, core.Config{}, false
	}
	return req, policy, true
}

func (h *Handler) managerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, throttle.ErrInvalidKey):
		sendError(w, http.StatusBadRequest, "missing_key", "key is required")
	default:
		h.logger.Error("rate limit request failed", "error", err)
		sendError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func sendError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
