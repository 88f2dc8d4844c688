package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testOrigin = "http://localhost:3000"

func TestCORSMiddleware_AllowedOrigin(t *testing.T) {
	called := false
	handler := NewCORSMiddleware(testOrigin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/analyses", nil)
	req.Header.Set("Origin", testOrigin)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("handler should be called")
	}
	h := w.Header()
	if h.Get("Access-Control-Allow-Origin") != testOrigin {
		t.Errorf("Allow-Origin = %q", h.Get("Access-Control-Allow-Origin"))
	}
	if h.Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("credentials should be allowed")
	}
	if !strings.Contains(h.Get("Access-Control-Allow-Headers"), "X-CSRF-Token") {
		t.Errorf("Allow-Headers = %q, want X-CSRF-Token", h.Get("Access-Control-Allow-Headers"))
	}
	if h.Get("Access-Control-Expose-Headers") != RequestIDHeader {
		t.Errorf("Expose-Headers = %q", h.Get("Access-Control-Expose-Headers"))
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	handler := NewCORSMiddleware(testOrigin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight should not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/analyses", nil)
	req.Header.Set("Origin", testOrigin)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}

func TestCORSMiddleware_OtherOriginGetsNoHeaders(t *testing.T) {
	for _, origin := range []string{"https://evil.example", ""} {
		handler := NewCORSMiddleware(testOrigin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/api/analyses", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("origin %q: Allow-Origin = %q, want empty", origin, got)
		}
		if w.Header().Get("Vary") != "Origin" {
			t.Errorf("origin %q: Vary should be Origin", origin)
		}
		if w.Code != http.StatusOK {
			t.Errorf("origin %q: status = %d", origin, w.Code)
		}
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	for _, hsts := range []bool{false, true} {
		handler := NewSecurityHeadersMiddleware(hsts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		h := w.Header()
		if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" {
			t.Errorf("missing basic security headers: %v", h)
		}
		if !strings.Contains(h.Get("Content-Security-Policy"), "default-src 'none'") {
			t.Errorf("CSP = %q", h.Get("Content-Security-Policy"))
		}
		if got := h.Get("Strict-Transport-Security") != ""; got != hsts {
			t.Errorf("hsts=%v but header present=%v", hsts, got)
		}
	}
}

func TestRecoveryMiddleware_Returns500(t *testing.T) {
	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/analyses", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if body := decodeErrorBody(t, w); body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q", body.Code)
	}
}
