package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// TestRouterIntegration_ProtectedRoute_WithMiddlewareChain は
// Session -> RateLimit -> CSRF のミドルウェアチェーンがchi.Routerで正しく動作することを検証する。
func TestRouterIntegration_ProtectedRoute_WithMiddlewareChain(t *testing.T) {
	now := time.Now()
	rl := newTestRateLimiter(t, DefaultRateLimiterConfig(), &now)
	csrfConfig := CSRFConfig{}

	r := chi.NewRouter()
	r.Get("/api/csrf-token", NewCSRFTokenHandler(csrfConfig).ServeHTTP)
	r.Group(func(r chi.Router) {
		r.Use(NewSessionMiddleware(validSessionAuthenticator("router-test-session", 77)))
		r.Use(rl.GeneralMiddleware())
		r.Use(NewCSRFMiddleware(csrfConfig))

		r.Get("/api/protected", func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]int64{"user_id": userID})
		})
		r.Post("/api/action", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	tests := []struct {
		name    string
		method  string
		path    string
		session string
		csrf    string
		want    int
	}{
		{name: "GET_protected_with_session", method: http.MethodGet, path: "/api/protected", session: "router-test-session", want: http.StatusOK},
		{name: "GET_protected_no_session", method: http.MethodGet, path: "/api/protected", want: http.StatusUnauthorized},
		{name: "POST_action_with_session_and_csrf", method: http.MethodPost, path: "/api/action", session: "router-test-session", csrf: "tok", want: http.StatusOK},
		{name: "POST_action_without_csrf", method: http.MethodPost, path: "/api/action", session: "router-test-session", want: http.StatusForbidden},
		{name: "POST_action_no_session", method: http.MethodPost, path: "/api/action", csrf: "tok", want: http.StatusUnauthorized},
		{name: "CSRF_token_endpoint_no_auth", method: http.MethodGet, path: "/api/csrf-token", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.session != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tt.session})
			}
			if tt.csrf != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.csrf})
				req.Header.Set(csrfHeaderName, tt.csrf)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Result().StatusCode != tt.want {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, tt.want)
			}
		})
	}
}
