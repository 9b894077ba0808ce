package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestRateLimiter(t *testing.T, cfg RateLimiterConfig, now *time.Time) *RateLimiter {
	t.Helper()
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	rl := NewRateLimiter(cfg)
	rl.now = func() time.Time { return *now }
	t.Cleanup(rl.Stop)
	return rl
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func loginRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/auth", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func userRequest(userID int64) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	return req.WithContext(ContextWithIdentity(req.Context(), testIdentity(userID)))
}

// バースト内は許可され、超過すると429とRetry-Afterが返ることを検証
func TestLoginMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	rl := newTestRateLimiter(t, RateLimiterConfig{LoginRate: PerMinute(20), LoginBurst: 3}, &now)
	handler := rl.LoginMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, loginRequest("203.0.113.7:51000"))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Result().StatusCode)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("203.0.113.7:51001"))
	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "3" {
		t.Errorf("Retry-After = %q, want 3", got)
	}
	if code := decodeErrorCode(t, resp); code != ErrCodeRateLimitExceeded {
		t.Errorf("code = %q, want %q", code, ErrCodeRateLimitExceeded)
	}

	// 別のIPは独立して数える
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("198.51.100.2:40000"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("other IP: status = %d, want 200", w.Result().StatusCode)
	}

	// トークンが補充されれば再び許可される
	now = now.Add(4 * time.Second)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("203.0.113.7:51002"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("after refill: status = %d, want 200", w.Result().StatusCode)
	}
}

// ユーザーごとに独立したレート制限が適用されることを検証
func TestGeneralMiddleware_IsolatesUsers(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: PerMinute(120), GeneralBurst: 2}, &now)
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, userRequest(1))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, w.Result().StatusCode)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, userRequest(1))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("user 1: status = %d, want 429", w.Result().StatusCode)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, userRequest(2))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("user 2: status = %d, want 200", w.Result().StatusCode)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", rl.GeneralLimiterCount())
	}
}

// 認証主体が無い場合は401を返すことを検証
func TestGeneralMiddleware_NoIdentity_Returns401(t *testing.T) {
	now := time.Now()
	rl := newTestRateLimiter(t, DefaultRateLimiterConfig(), &now)
	handler := rl.GeneralMiddleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Result().StatusCode)
	}
}

// 最終アクセスから一定時間経過したエントリが削除されることを検証
func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	cfg := DefaultRateLimiterConfig()
	cfg.CleanupInterval = time.Minute
	rl := newTestRateLimiter(t, cfg, &now)

	rl.LoginMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), loginRequest("203.0.113.7:1"))
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), userRequest(1))

	now = now.Add(90 * time.Second)
	rl.cleanup()
	if rl.LoginLimiterCount() != 1 || rl.GeneralLimiterCount() != 1 {
		t.Fatal("entries within TTL should be kept")
	}

	now = now.Add(time.Minute)
	rl.cleanup()
	if rl.LoginLimiterCount() != 0 || rl.GeneralLimiterCount() != 0 {
		t.Errorf("expected 0 entries after cleanup, got login=%d general=%d",
			rl.LoginLimiterCount(), rl.GeneralLimiterCount())
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"203.0.113.7:51000", "203.0.113.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"203.0.113.7", "203.0.113.7"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remoteAddr
		if got := ClientIP(req); got != tt.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	if cfg.LoginRate != PerMinute(20) || cfg.GeneralRate != PerMinute(120) {
		t.Errorf("unexpected rates: %+v", cfg)
	}
	if cfg.LoginBurst <= 0 || cfg.GeneralBurst <= 0 {
		t.Errorf("bursts must be positive: %+v", cfg)
	}
}
