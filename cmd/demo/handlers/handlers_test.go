package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classhub/throttle/core"
	"github.com/classhub/throttle/pkg/throttle"
)

var joinPolicy = core.Config{MaxTokens: 2, RefillRate: 0.001}

func newHandlers(t *testing.T) (*Handlers, *throttle.Manager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager, err := throttle.NewManager(throttle.WithLogger(logger))
	require.NoError(t, err)

	h := New(Config{
		Manager:    manager,
		JoinPolicy: joinPolicy,
		JoinKey:    throttle.ExtractIP(),
		Classes:    map[string]Class{"MATH7A": {Name: "Grade 7 Mathematics", PIN: "4821"}},
		Students:   []string{"Ana Lima", "Dana Cohen", "Ben Okafor"},
		Logger:     logger,
	})
	return h, manager
}

func postForm(handler http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "10.0.0.1:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestRequestOTP(t *testing.T) {
	h, _ := newHandlers(t)

	rec := postForm(http.HandlerFunc(h.RequestOTP), "/api/otp/request", url.Values{"email": {"Ana@School.org"}})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, map[string]any{"sent_to": "a***@school.org"}, decode(t, rec).Data)

	rec = postForm(http.HandlerFunc(h.RequestOTP), "/api/otp/request", url.Values{"email": {"not-an-email"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_email", decode(t, rec).Error)
}

func TestRequestOTP_RateLimitedPerEmail(t *testing.T) {
	h, manager := newHandlers(t)
	policy := core.Config{MaxTokens: 2, RefillRate: 0.001}
	handler := throttle.Middleware(manager, throttle.LimiterOTPRequest, policy, throttle.ExtractEmailField("email"))(http.HandlerFunc(h.RequestOTP))

	for i := 0; i < 2; i++ {
		rec := postForm(handler, "/api/otp/request", url.Values{"email": {"ana@school.org"}})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	// Case and whitespace variants share the bucket
	rec := postForm(handler, "/api/otp/request", url.Values{"email": {" ANA@school.org "}})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = postForm(handler, "/api/otp/request", url.Values{"email": {"ben@school.org"}})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestResetPassword(t *testing.T) {
	h, _ := newHandlers(t)
	handler := http.HandlerFunc(h.ResetPassword)

	rec := postForm(handler, "/api/password/reset", url.Values{"email": {"ana@school.org"}, "password": {"Str0ngPass"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postForm(handler, "/api/password/reset", url.Values{"email": {"ana@school.org"}, "password": {"weak"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "weak_password", decode(t, rec).Error)

	rec = postForm(handler, "/api/password/reset", url.Values{"email": {"ana"}, "password": {"Str0ngPass"}})
	assert.Equal(t, "invalid_email", decode(t, rec).Error)
}

func TestSearchStudents(t *testing.T) {
	h, _ := newHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/students/search?q=AN", nil)
	rec := httptest.NewRecorder()
	h.SearchStudents(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	data := decode(t, rec).Data.(map[string]any)
	assert.ElementsMatch(t, []any{"Ana Lima", "Dana Cohen"}, data["results"])

	req = httptest.NewRequest(http.MethodGet, "/api/students/search?q=a", nil)
	rec = httptest.NewRecorder()
	h.SearchStudents(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJoinClass_SuccessResetsAttempts(t *testing.T) {
	h, manager := newHandlers(t)
	handler := throttle.Middleware(manager, throttle.LimiterClassJoin, joinPolicy, throttle.ExtractIP())(http.HandlerFunc(h.JoinClass))

	rec := postForm(handler, "/api/classes/join", url.Values{"code": {"math7a"}, "pin": {"0000"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = postForm(handler, "/api/classes/join", url.Values{"code": {"math7a"}, "pin": {"4821"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"code": "MATH7A", "class": "Grade 7 Mathematics"}, decode(t, rec).Data)

	// Both attempts were spent, but the successful join cleared them
	rec = postForm(handler, "/api/classes/join", url.Values{"code": {"MATH7A"}, "pin": {"0000"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = postForm(handler, "/api/classes/join", url.Values{"code": {"MATH7A"}, "pin": {"0000"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = postForm(handler, "/api/classes/join", url.Values{"code": {"MATH7A"}, "pin": {"4821"}})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestJoinClass_InvalidCode(t *testing.T) {
	h, _ := newHandlers(t)

	rec := postForm(http.HandlerFunc(h.JoinClass), "/api/classes/join", url.Values{"code": {"M7"}, "pin": {"4821"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postForm(http.HandlerFunc(h.JoinClass), "/api/classes/join", url.Values{"code": {"ZZZ999"}, "pin": {"4821"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateAdminPIN(t *testing.T) {
	h, _ := newHandlers(t)

	rec := postForm(http.HandlerFunc(h.UpdateAdminPIN), "/api/admin/pin", url.Values{"code": {"MATH7A"}, "pin": {"9999"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postForm(http.HandlerFunc(h.JoinClass), "/api/classes/join", url.Values{"code": {"MATH7A"}, "pin": {"9999"}})
	assert.Equal(t, http.StatusOK, rec.Code, "new PIN is in effect")

	rec = postForm(http.HandlerFunc(h.UpdateAdminPIN), "/api/admin/pin", url.Values{"code": {"MATH7A"}, "pin": {"12"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postForm(http.HandlerFunc(h.UpdateAdminPIN), "/api/admin/pin", url.Values{"code": {"BIO101"}, "pin": {"1234"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
