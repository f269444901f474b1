package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID_GeneratesUUID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/recommendations/user-1", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen == "" {
		t.Fatal("expected a request id in context")
	}
	if _, err := uuid.Parse(seen); err != nil {
		t.Errorf("generated id %q is not a UUID: %v", seen, err)
	}
	if got := rr.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("response header %q does not match context id %q", got, seen)
	}
}

func TestRequestID_ReusesCallerID(t *testing.T) {
	const callerID = "gateway-7f3a"
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/recommendations/user-1", nil)
	req.Header.Set(RequestIDHeader, callerID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen != callerID {
		t.Errorf("expected context id %q, got %q", callerID, seen)
	}
	if got := rr.Header().Get(RequestIDHeader); got != callerID {
		t.Errorf("expected response header %q, got %q", callerID, got)
	}
}

func TestGetRequestID_AbsentFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	if id := GetRequestID(req.Context()); id != "" {
		t.Errorf("expected empty id, got %q", id)
	}
}
