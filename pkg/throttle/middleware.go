package throttle

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/classhub/throttle/core"
	"github.com/classhub/throttle/validate"
)

// errorResponse is the JSON body of rejected requests
type errorResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

// Middleware returns HTTP middleware that charges one token of the named
// limiter per request, keyed by extract.
//
// Standard Headers (RFC 6585 + draft-ietf-httpapi-ratelimit-headers):
//   - X-RateLimit-Limit: Maximum tokens of the limiter
//   - X-RateLimit-Remaining: Tokens left after this request
//   - X-RateLimit-Reset: Unix time when a token is available (when limited)
//   - Retry-After: Seconds to wait before retrying (when limited)
func Middleware(m *Manager, name string, config core.Config, extract KeyExtractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := extract(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, errorResponse{
					Error:   "invalid_request",
					Message: "Unable to identify the caller for rate limiting.",
				})
				return
			}

			result, err := m.CheckLimit(r.Context(), name, key, config)
			if err != nil {
				m.logger.Error("rate limiter misconfigured", "limiter", name, "error", err)
				writeError(w, http.StatusInternalServerError, errorResponse{
					Error:   "internal_error",
					Message: "Internal Server Error",
				})
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				seconds := int64(result.RetryAfter / time.Second)
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(result.RetryAfter).Unix(), 10))
				w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))

				m.logger.Info("rate limit exceeded",
					slog.String("limiter", name),
					slog.String("key", validate.MaskKey(key)),
					slog.Int64("retry_after", seconds),
				)

				writeError(w, http.StatusTooManyRequests, errorResponse{
					Error:             "rate_limit_exceeded",
					Message:           "Too many requests. Please try again later.",
					RetryAfterSeconds: seconds,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, body errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
