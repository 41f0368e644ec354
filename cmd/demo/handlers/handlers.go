// Package handlers implements the demo education endpoints guarded by the
// throttle middleware.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/classhub/throttle/core"
	"github.com/classhub/throttle/pkg/throttle"
	"github.com/classhub/throttle/validate"
)

// Response is a generic JSON response structure
type Response struct {
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Class is a joinable class with its enrollment PIN
type Class struct {
	Name string
	PIN  string
}

// Config wires the demo handlers.
type Config struct {
	Manager *throttle.Manager

	// JoinPolicy and JoinKey must match the class-join middleware so that a
	// successful join resets the same bucket
	JoinPolicy core.Config
	JoinKey    throttle.KeyExtractor

	Classes  map[string]Class // by class code
	Students []string
	Logger   *slog.Logger
}

// Handlers serves the demo endpoints.
type Handlers struct {
	manager    *throttle.Manager
	joinPolicy core.Config
	joinKey    throttle.KeyExtractor
	students   []string
	logger     *slog.Logger

	mu      sync.RWMutex
	classes map[string]Class
}

// New creates the demo handlers.
func New(cfg Config) *Handlers {
	classes := make(map[string]Class, len(cfg.Classes))
	for code, class := range cfg.Classes {
		classes[code] = class
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	joinKey := cfg.JoinKey
	if joinKey == nil {
		joinKey = throttle.ExtractIPWithProxy()
	}
	return &Handlers{
		manager:    cfg.Manager,
		joinPolicy: cfg.JoinPolicy,
		joinKey:    joinKey,
		students:   cfg.Students,
		logger:     logger,
		classes:    classes,
	}
}

// Health is not rate limited.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, Response{Message: "classhub demo server is healthy"})
}

// RequestOTP handles POST /api/otp/request (5 per hour per email).
func (h *Handlers) RequestOTP(w http.ResponseWriter, r *http.Request) {
	email, err := validate.Email(r.FormValue("email"))
	if err != nil {
		resp := Response{Message: "Please enter a valid email address", Error: "invalid_email"}
		if suggestion := validate.SuggestEmailDomain(r.FormValue("email")); suggestion != "" {
			resp.Data = map[string]string{"did_you_mean": suggestion}
		}
		respond(w, http.StatusBadRequest, resp)
		return
	}

	h.logger.Info("OTP sent", "email", validate.MaskEmail(email))
	respond(w, http.StatusAccepted, Response{
		Message: "If the account exists, a one-time code has been sent",
		Data:    map[string]string{"sent_to": validate.MaskEmail(email)},
	})
}

// ResetPassword handles POST /api/password/reset (3 per hour per email).
func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	email, err := validate.Email(r.FormValue("email"))
	if err != nil {
		respond(w, http.StatusBadRequest, Response{Message: "Please enter a valid email address", Error: "invalid_email"})
		return
	}
	if err := validate.Password(r.FormValue("password")); err != nil {
		respond(w, http.StatusBadRequest, Response{Message: err.Error(), Error: "weak_password"})
		return
	}

	h.logger.Info("Password reset", "email", validate.MaskEmail(email))
	respond(w, http.StatusOK, Response{Message: "Password updated"})
}

// SearchStudents handles GET /api/students/search (30 per minute per user).
func (h *Handlers) SearchStudents(w http.ResponseWriter, r *http.Request) {
	query := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if len(query) < 2 {
		respond(w, http.StatusBadRequest, Response{Message: "Search needs at least 2 characters", Error: "query_too_short"})
		return
	}

	results := []string{}
	for _, student := range h.students {
		if strings.Contains(strings.ToLower(student), query) {
			results = append(results, student)
		}
	}
	respond(w, http.StatusOK, Response{
		Message: "Search results",
		Data:    map[string]any{"query": query, "results": results},
	})
}

// JoinClass handles POST /api/classes/join (10 per 15 minutes per caller).
// A successful join clears the caller's failed attempts.
func (h *Handlers) JoinClass(w http.ResponseWriter, r *http.Request) {
	code, err := validate.ClassCode(r.FormValue("code"))
	if err != nil {
		respond(w, http.StatusBadRequest, Response{Message: "Class codes are 6 letters or digits", Error: "invalid_class_code"})
		return
	}

	h.mu.RLock()
	class, ok := h.classes[code]
	h.mu.RUnlock()
	if !ok || !validate.PINEqual(r.FormValue("pin"), class.PIN) {
		respond(w, http.StatusForbidden, Response{Message: "Class code or PIN is incorrect", Error: "invalid_credentials"})
		return
	}

	if key, err := h.joinKey(r); err == nil {
		if err := h.manager.Reset(r.Context(), throttle.LimiterClassJoin, key, h.joinPolicy); err != nil {
			h.logger.Error("Failed to reset join attempts", "error", err)
		}
	}

	respond(w, http.StatusOK, Response{
		Message: "Joined class",
		Data:    map[string]string{"code": code, "class": class.Name},
	})
}

// UpdateAdminPIN handles POST /api/admin/pin (20 per hour per admin).
func (h *Handlers) UpdateAdminPIN(w http.ResponseWriter, r *http.Request) {
	code, err := validate.ClassCode(r.FormValue("code"))
	if err != nil {
		respond(w, http.StatusBadRequest, Response{Message: "Class codes are 6 letters or digits", Error: "invalid_class_code"})
		return
	}
	pin := r.FormValue("pin")
	if err := validate.PIN(pin); err != nil {
		respond(w, http.StatusBadRequest, Response{Message: "PINs are 4 to 8 digits", Error: "invalid_pin"})
		return
	}

	h.mu.Lock()
	class, ok := h.classes[code]
	if ok {
		class.PIN = pin
		h.classes[code] = class
	}
	h.mu.Unlock()
	if !ok {
		respond(w, http.StatusNotFound, Response{Message: "Class not found", Error: "not_found"})
		return
	}

	respond(w, http.StatusOK, Response{Message: "PIN updated", Data: map[string]string{"code": code}})
}

func respond(w http.ResponseWriter, status int, resp Response) {
	resp.Timestamp = time.Now().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
