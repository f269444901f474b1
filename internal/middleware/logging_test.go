package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type accessLogEntry struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Size      int    `json:"size"`
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	ErrorCode string `json:"error_code"`
}

func captureLog(t *testing.T, buf *bytes.Buffer) accessLogEntry {
	t.Helper()
	var entry accessLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v, log: %s", err, buf.String())
	}
	return entry
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLogging_BasicFields(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ranked"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/recommendations/user-1", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := captureLog(t, buf)
	if entry.Method != "GET" {
		t.Errorf("expected method GET, got %s", entry.Method)
	}
	if entry.Path != "/recommendations/user-1" {
		t.Errorf("unexpected path %s", entry.Path)
	}
	if entry.Status != 200 {
		t.Errorf("expected status 200, got %d", entry.Status)
	}
	if entry.LatencyMS < 0 {
		t.Errorf("expected latency_ms >= 0, got %d", entry.LatencyMS)
	}
	if entry.Size != len("ranked") {
		t.Errorf("expected size %d, got %d", len("ranked"), entry.Size)
	}
	if entry.Level != "INFO" {
		t.Errorf("expected level INFO, got %s", entry.Level)
	}
}

func TestLogging_CarriesRequestID(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := RequestID(Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodPost, "/impressions", nil)
	req.Header.Set(RequestIDHeader, "req-456")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if entry := captureLog(t, buf); entry.RequestID != "req-456" {
		t.Errorf("expected request_id req-456, got %s", entry.RequestID)
	}
}

func TestLogging_CarriesUserID(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*r = *r.WithContext(SetUserID(r.Context(), "user-123"))
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/user-123/profile", nil))

	if entry := captureLog(t, buf); entry.UserID != "user-123" {
		t.Errorf("expected user_id user-123, got %s", entry.UserID)
	}
}

func TestLogging_ClientErrorLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*r = *r.WithContext(SetErrorCode(r.Context(), "validation_error"))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad variant split"}`))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/experiments", nil))

	entry := captureLog(t, buf)
	if entry.Status != 400 {
		t.Errorf("expected status 400, got %d", entry.Status)
	}
	if entry.ErrorCode != "validation_error" {
		t.Errorf("expected error_code validation_error, got %s", entry.ErrorCode)
	}
	if entry.Level != "WARN" {
		t.Errorf("expected level WARN for 4xx, got %s", entry.Level)
	}
}

func TestLogging_ServerErrorLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*r = *r.WithContext(SetErrorCode(r.Context(), "internal_error"))
		w.WriteHeader(http.StatusInternalServerError)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/analytics/dashboard", nil))

	entry := captureLog(t, buf)
	if entry.Status != 500 {
		t.Errorf("expected status 500, got %d", entry.Status)
	}
	if entry.ErrorCode != "internal_error" {
		t.Errorf("expected error_code internal_error, got %s", entry.ErrorCode)
	}
	if entry.Level != "ERROR" {
		t.Errorf("expected level ERROR for 5xx, got %s", entry.Level)
	}
}

func TestLogging_ImplicitStatusIs200(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if entry := captureLog(t, buf); entry.Status != 200 {
		t.Errorf("expected default status 200, got %d", entry.Status)
	}
}

func TestLogging_UpdateResponseContext(t *testing.T) {
	// Handlers derive a fresh context when responding; the log must still
	// see codes set after the middleware captured r.Context().
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetErrorCode(r.Context(), "not_found")
		UpdateResponseContext(w, ctx)
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/impressions/imp-404", nil))

	if entry := captureLog(t, buf); entry.ErrorCode != "not_found" {
		t.Errorf("expected error_code not_found, got %q", entry.ErrorCode)
	}
}

func TestLogging_UpdateResponseContextThroughWrappers(t *testing.T) {
	buf := &bytes.Buffer{}
	m := NewMetrics()
	handler := Logging(newTestLogger(buf))(HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetErrorCode(r.Context(), "invalid_interaction")
		UpdateResponseContext(w, ctx)
		w.WriteHeader(http.StatusBadRequest)
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/impressions/imp-1/interactions", nil))

	if entry := captureLog(t, buf); entry.ErrorCode != "invalid_interaction" {
		t.Errorf("expected error_code to pass through wrapped writers, got %q", entry.ErrorCode)
	}
}

func TestLogging_NoErrorCodeFor2xx(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*r = *r.WithContext(SetErrorCode(r.Context(), "not_found"))
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/experiments", nil))

	if strings.Contains(buf.String(), "error_code") {
		t.Error("error_code must not be logged for 2xx responses")
	}
}

func TestLogging_AllFields(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := RequestID(Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetUserID(r.Context(), "user-9")
		ctx = SetErrorCode(ctx, "invalid_transition")
		*r = *r.WithContext(ctx)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"already completed"}`))
	})))

	req := httptest.NewRequest(http.MethodPut, "/experiments/exp-1/status", nil)
	req.Header.Set(RequestIDHeader, "req-789")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := captureLog(t, buf)
	if entry.Method != "PUT" || entry.Path != "/experiments/exp-1/status" {
		t.Errorf("unexpected method/path: %s %s", entry.Method, entry.Path)
	}
	if entry.Status != 409 {
		t.Errorf("expected status 409, got %d", entry.Status)
	}
	if entry.RequestID != "req-789" {
		t.Errorf("expected request_id req-789, got %s", entry.RequestID)
	}
	if entry.UserID != "user-9" {
		t.Errorf("expected user_id user-9, got %s", entry.UserID)
	}
	if entry.ErrorCode != "invalid_transition" {
		t.Errorf("expected error_code invalid_transition, got %s", entry.ErrorCode)
	}
}

func TestNewLogger_Environments(t *testing.T) {
	for _, env := range []string{"production", "development", ""} {
		if NewLogger(env) == nil {
			t.Errorf("NewLogger(%q) returned nil", env)
		}
	}
}

func TestUserIDContext(t *testing.T) {
	ctx := context.Background()
	if id := GetUserID(ctx); id != "" {
		t.Errorf("expected empty user id, got %q", id)
	}
	ctx = SetUserID(ctx, "user-42")
	if id := GetUserID(ctx); id != "user-42" {
		t.Errorf("expected user-42, got %q", id)
	}
}

func TestErrorCodeContext(t *testing.T) {
	ctx := context.Background()
	if code := GetErrorCode(ctx); code != "" {
		t.Errorf("expected empty error code, got %q", code)
	}
	ctx = SetErrorCode(ctx, "not_found")
	if code := GetErrorCode(ctx); code != "not_found" {
		t.Errorf("expected not_found, got %q", code)
	}
}

func TestResponseWriter_CapturesStatusAndSize(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponseWriter(w)

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusTeapot) // ignored, first write wins

	if rw.statusCode != http.StatusCreated || w.Code != http.StatusCreated {
		t.Errorf("expected 201 captured and forwarded, got %d / %d", rw.statusCode, w.Code)
	}

	data := []byte(`{"id":"imp-1"}`)
	n, err := rw.Write(data)
	if err != nil || n != len(data) {
		t.Fatalf("Write returned (%d, %v)", n, err)
	}
	if rw.size != len(data) {
		t.Errorf("expected size %d, got %d", len(data), rw.size)
	}
}
