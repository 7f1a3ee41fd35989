package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestRequestID_GeneratesWhenMissing tests that a UUID is generated and
// propagated when the client sends no request ID.
func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if seen == "" {
		t.Fatal("request ID missing from context")
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("response header = %q, want %q", rec.Header().Get(RequestIDHeader), seen)
	}
}

// TestRequestID_PreservesClientValue tests that an incoming ID is reused.
func TestRequestID_PreservesClientValue(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "client-id-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "client-id-1" {
		t.Errorf("request ID = %q, want client-id-1", seen)
	}
}

// TestGetRequestID_Empty tests the missing-value fallback.
func TestGetRequestID_Empty(t *testing.T) {
	if id := GetRequestID(httptest.NewRequest(http.MethodGet, "/", nil).Context()); id != "" {
		t.Errorf("GetRequestID() = %q, want empty", id)
	}
}
