package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1.0 / 60.0),
		GeneralBurst:    3,
		UploadRate:      rate.Limit(1.0 / 60.0),
		UploadBurst:     1,
		CleanupInterval: time.Hour,
	}
}

func doAs(handler http.Handler, userID int32) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/analyses", nil)
	if userID > 0 {
		req = req.WithContext(ContextWithUserID(req.Context(), userID))
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimiter_GeneralBurstThen429(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler)

	for i := 0; i < 3; i++ {
		if w := doAs(handler, 1); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}

	w := doAs(handler, 1)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", w.Header().Get("Retry-After"))
	}
	if body := decodeErrorBody(t, w); body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestRateLimiter_IsolatesUsers(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()
	handler := rl.UploadMiddleware()(okHandler)

	if w := doAs(handler, 1); w.Code != http.StatusOK {
		t.Fatalf("user 1 first request: %d", w.Code)
	}
	if w := doAs(handler, 1); w.Code != http.StatusTooManyRequests {
		t.Fatalf("user 1 second request: %d, want 429", w.Code)
	}
	if w := doAs(handler, 2); w.Code != http.StatusOK {
		t.Fatalf("user 2 should have its own budget, got %d", w.Code)
	}
	if rl.UploadLimiterCount() != 2 {
		t.Errorf("UploadLimiterCount = %d, want 2", rl.UploadLimiterCount())
	}
}

func TestRateLimiter_UploadIndependentFromGeneral(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()
	upload := rl.UploadMiddleware()(okHandler)
	general := rl.GeneralMiddleware()(okHandler)

	doAs(upload, 5)
	if w := doAs(upload, 5); w.Code != http.StatusTooManyRequests {
		t.Fatalf("upload limit should be exhausted, got %d", w.Code)
	}
	if w := doAs(general, 5); w.Code != http.StatusOK {
		t.Errorf("general limit should be untouched, got %d", w.Code)
	}
}

func TestRateLimiter_NoUserID_Returns401(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	if w := doAs(rl.GeneralMiddleware()(okHandler), 0); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if rl.GeneralLimiterCount() != 0 {
		t.Error("no limiter should be created for anonymous requests")
	}
}

func TestRateLimiter_CleanupEvictsIdle(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	doAs(rl.GeneralMiddleware()(okHandler), 1)
	doAs(rl.UploadMiddleware()(okHandler), 1)

	rl.cleanup(time.Now())
	if rl.GeneralLimiterCount() != 1 || rl.UploadLimiterCount() != 1 {
		t.Fatal("recently used entries should survive cleanup")
	}

	rl.cleanup(time.Now().Add(3 * time.Hour))
	if rl.GeneralLimiterCount() != 0 || rl.UploadLimiterCount() != 0 {
		t.Error("idle entries should be evicted")
	}
	rl.Stop()
}

func TestPerMinuteConfig(t *testing.T) {
	cfg := PerMinuteConfig(120, 20)
	if cfg.GeneralRate != rate.Limit(2) || cfg.GeneralBurst != 120 {
		t.Errorf("general = %v/%d", cfg.GeneralRate, cfg.GeneralBurst)
	}
	if cfg.UploadBurst != 20 || cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("upload burst = %d cleanup = %v", cfg.UploadBurst, cfg.CleanupInterval)
	}
	if DefaultRateLimiterConfig() != cfg {
		t.Error("default config should be 120/20 per minute")
	}
}
