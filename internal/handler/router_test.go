package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/groupware/internal/auth"
	"github.com/hitoshi/groupware/internal/metrics"
	"github.com/hitoshi/groupware/internal/middleware"
	"github.com/hitoshi/groupware/internal/model"
	"github.com/hitoshi/groupware/internal/session"
)

func newTestRouter(t *testing.T, basePath string, svc *mockService, limits middleware.RateLimiterConfig) http.Handler {
	t.Helper()
	if limits.LoginRate == 0 {
		limits = middleware.DefaultRateLimiterConfig()
	}
	limits.CleanupInterval = time.Hour
	rl := middleware.NewRateLimiter(limits)
	t.Cleanup(rl.Stop)

	reg := prometheus.NewRegistry()
	return NewRouter(&RouterDeps{
		Service:           svc,
		Redirects:         newTestRedirects(t, basePath),
		Loops:             session.NewLoopGuard(newMemorySessions(), 3),
		Metrics:           metrics.NewCollector(reg),
		Gatherer:          reg,
		RateLimiter:       rl,
		CORSAllowedOrigin: "http://localhost:3000",
		CSRF:              middleware.CSRFConfig{CookiePath: basePath},
		Cookie:            CookieConfig{Path: basePath},
	})
}

func authenticatedService() *mockService {
	return &mockService{
		authenticateFn: func(_ context.Context, sessionID string) (*model.Identity, error) {
			if sessionID != "sess-1" {
				return nil, model.ErrUnauthenticated
			}
			return testIdentity(model.RoleStandardUser), nil
		},
	}
}

// ベースパス配下の各ルートが期待どおりのステータスを返すことを検証
func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(t, "/gw", authenticatedService(), middleware.RateLimiterConfig{})

	tests := []struct {
		name       string
		method     string
		path       string
		session    string
		wantStatus int
	}{
		{"login page", http.MethodGet, "/gw/login", "", http.StatusOK},
		{"home without session", http.MethodGet, "/gw/home", "", http.StatusSeeOther},
		{"home with session", http.MethodGet, "/gw/home", "sess-1", http.StatusOK},
		{"admin as standard user", http.MethodGet, "/gw/admin/index", "sess-1", http.StatusSeeOther},
		{"session api without session", http.MethodGet, "/gw/api/session", "", http.StatusUnauthorized},
		{"session api with session", http.MethodGet, "/gw/api/session", "sess-1", http.StatusOK},
		{"csrf token", http.MethodGet, "/gw/api/csrf-token", "", http.StatusOK},
		{"outside base path", http.MethodGet, "/home", "sess-1", http.StatusNotFound},
		{"health check", http.MethodGet, "/healthz", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.session != "" {
				req = withSession(req, tt.session)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Result().StatusCode != tt.wantStatus {
				t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, w.Result().StatusCode, tt.wantStatus)
			}
		})
	}
}

// 状態変更APIがCSRFトークンを要求することを検証
func TestRouter_AuthorizeRequiresCSRF(t *testing.T) {
	router := newTestRouter(t, "/gw", authenticatedService(), middleware.RateLimiterConfig{})

	req := withSession(httptest.NewRequest(http.MethodPost, "/gw/api/authorize", strings.NewReader(`{"capability":"chat.post"}`)), "sess-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("without token: status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
	}

	req = withSession(httptest.NewRequest(http.MethodPost, "/gw/api/authorize", strings.NewReader(`{"capability":"chat.post"}`)), "sess-1")
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok"})
	req.Header.Set("X-CSRF-Token", "tok")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("with token: status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

// ログインAPIがIP単位でレート制限されることを検証
func TestRouter_LoginRateLimited(t *testing.T) {
	svc := &mockService{
		loginFn: func(context.Context, auth.LoginInput) (*auth.Result, error) {
			return nil, model.ErrInvalidCredentials
		},
	}
	router := newTestRouter(t, "/gw", svc, middleware.RateLimiterConfig{
		LoginRate:    middleware.PerMinute(1),
		LoginBurst:   2,
		GeneralRate:  middleware.PerMinute(60),
		GeneralBurst: 10,
	})

	want := []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}
	for i, status := range want {
		req := authRequestFor(`{"action":"login","email":"a@x","password":"b"}`)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Result().StatusCode != status {
			t.Errorf("request %d: status = %d, want %d", i+1, w.Result().StatusCode, status)
		}
	}
}

// ベースパスが"/"の場合にルート直下で動作することを検証
func TestRouter_RootBasePath(t *testing.T) {
	router := newTestRouter(t, "/", authenticatedService(), middleware.RateLimiterConfig{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/login", nil))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("GET /login status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, withSession(httptest.NewRequest(http.MethodGet, "/", nil), "sess-1"))
	if loc := w.Result().Header.Get("Location"); loc != "/home" {
		t.Errorf("GET / Location = %q, want /home", loc)
	}
}

// /metricsがHTTPリクエストの計測値を公開することを検証
func TestRouter_Metrics(t *testing.T) {
	router := newTestRouter(t, "/gw", authenticatedService(), middleware.RateLimiterConfig{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gw/login", nil))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Result().Body)
	if !strings.Contains(string(body), "groupware_http_requests_total") {
		t.Error("metrics output should include the request counter")
	}
}

// 全レスポンスにセキュリティヘッダーが付与されることを検証
func TestRouter_SecurityHeaders(t *testing.T) {
	router := newTestRouter(t, "/gw", authenticatedService(), middleware.RateLimiterConfig{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gw/login", nil))
	if got := w.Result().Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}
