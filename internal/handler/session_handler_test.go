package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/groupware/internal/middleware"
	"github.com/hitoshi/groupware/internal/model"
)

func requestWithIdentity(method, target, body string, identity *model.Identity) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if identity != nil {
		req = req.WithContext(middleware.ContextWithIdentity(req.Context(), identity))
	}
	return req
}

// 現在のセッション情報と実効ケーパビリティを返すことを検証
func TestSessionHandler_Current(t *testing.T) {
	identity := testIdentity(model.RoleGuest)
	identity.Membership.Overrides = model.CapabilityOverrides{model.CapChatPost: true}
	h := NewSessionHandler(&mockService{}, nil)

	w := httptest.NewRecorder()
	h.Current(w, requestWithIdentity(http.MethodGet, "/api/session", "", identity))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body currentSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.CurrentTenantID != 10 || body.TenantName != "Alpha" || body.User.Role != string(model.RoleGuest) {
		t.Errorf("unexpected body: %+v", body)
	}
	want := []string{"calendar.view", "chat.view", "chat.post", "tasks.view", "files.view"}
	if strings.Join(body.Capabilities, ",") != strings.Join(want, ",") {
		t.Errorf("capabilities = %v, want %v", body.Capabilities, want)
	}
}

// 認証主体が無い場合は401を返すことを検証
func TestSessionHandler_Current_NoIdentity(t *testing.T) {
	w := httptest.NewRecorder()
	NewSessionHandler(&mockService{}, nil).Current(w, requestWithIdentity(http.MethodGet, "/api/session", "", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	if code := decodeErrorCode(t, resp); code != model.ErrCodeUnauthenticated {
		t.Errorf("code = %q, want %q", code, model.ErrCodeUnauthenticated)
	}
}

func TestSessionHandler_Authorize(t *testing.T) {
	tests := []struct {
		name        string
		role        model.Role
		body        string
		wantStatus  int
		wantAllowed bool
		wantCode    string
	}{
		{"standard user can post chat", model.RoleStandardUser, `{"capability":"chat.post"}`, http.StatusOK, true, ""},
		{"standard user cannot open admin panel", model.RoleStandardUser, `{"capability":"admin.panel"}`, http.StatusOK, false, ""},
		{"unknown capability denied", model.RoleAdmin, `{"capability":"calendar.delete_everything"}`, http.StatusOK, false, ""},
		{"missing capability", model.RoleAdmin, `{}`, http.StatusBadRequest, false, model.ErrCodeMissingField},
		{"malformed json", model.RoleAdmin, `{`, http.StatusBadRequest, false, model.ErrCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewSessionHandler(&mockService{}, nil).Authorize(w,
				requestWithIdentity(http.MethodPost, "/api/authorize", tt.body, testIdentity(tt.role)))

			resp := w.Result()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantCode != "" {
				if code := decodeErrorCode(t, resp); code != tt.wantCode {
					t.Errorf("code = %q, want %q", code, tt.wantCode)
				}
				return
			}
			var body authorizeResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Allowed != tt.wantAllowed {
				t.Errorf("allowed = %v, want %v", body.Allowed, tt.wantAllowed)
			}
		})
	}
}
