// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/groupware/internal/auth"
	"github.com/hitoshi/groupware/internal/middleware"
	"github.com/hitoshi/groupware/internal/model"
	"github.com/hitoshi/groupware/internal/security"
)

// maxAuthBodyBytes は認証リクエストボディの上限。
const maxAuthBodyBytes = 64 << 10

// 認証エンドポイントのaction。
const (
	actionLogin        = "login"
	actionCheck        = "check"
	actionLogout       = "logout"
	actionSwitchTenant = "switch_tenant"
)

// AuthService は認証ハンドラーが必要とするサービスインターフェース。
// auth.Serviceが実装する。
type AuthService interface {
	Login(ctx context.Context, in auth.LoginInput) (*auth.Result, error)
	Check(ctx context.Context, sessionID string) (*auth.Result, error)
	SwitchTenant(ctx context.Context, sessionID string, tenantID int64) (*auth.Result, error)
	Logout(ctx context.Context, sessionID string) error
	IdleTimeout() time.Duration
}

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Path   string // ベースパス
	Domain string
	Secure bool // BASE_URLがhttpsの場合true
}

// AuthHandler はJSON認証エンドポイントのハンドラー。
type AuthHandler struct {
	service   AuthService
	cookie    CookieConfig
	sanitizer *security.TextSanitizer
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthService, cookie CookieConfig, sanitizer *security.TextSanitizer) *AuthHandler {
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	return &AuthHandler{
		service:   service,
		cookie:    cookie,
		sanitizer: sanitizer,
	}
}

// authRequest は認証エンドポイントのリクエストボディ。
type authRequest struct {
	Action   string `json:"action"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Next     string `json:"next"`
	TenantID *int64 `json:"tenant_id"`
}

type userResponse struct {
	ID      int64  `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	IsAdmin bool   `json:"is_admin"`
}

type tenantResponse struct {
	ID        int64  `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	IsDefault bool   `json:"is_default"`
}

// sessionResponse はlogin・checkの成功レスポンス。checkではredirectを省略する。
type sessionResponse struct {
	Success         bool             `json:"success"`
	User            userResponse     `json:"user"`
	Tenants         []tenantResponse `json:"tenants"`
	CurrentTenantID int64            `json:"current_tenant_id"`
	AutoSelected    bool             `json:"auto_selected"`
	NeedsSelection  bool             `json:"needs_selection"`
	Redirect        string           `json:"redirect,omitempty"`
	SessionID       string           `json:"session_id"`
}

type switchTenantResponse struct {
	Success         bool   `json:"success"`
	CurrentTenantID int64  `json:"current_tenant_id"`
	SessionID       string `json:"session_id"`
	Redirect        string `json:"redirect"`
}

// Handle はactionに応じて処理を振り分ける。
// POST <base>/api/auth
func (h *AuthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	body := http.MaxBytesReader(w, r.Body, maxAuthBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		reason := "invalid JSON"
		if errors.Is(err, io.EOF) {
			reason = "empty body"
		}
		middleware.WriteError(w, model.NewInvalidRequestError(reason))
		return
	}

	switch strings.TrimSpace(req.Action) {
	case actionLogin:
		h.login(w, r, req)
	case actionCheck:
		h.check(w, r)
	case actionLogout:
		h.logout(w, r)
	case actionSwitchTenant:
		h.switchTenant(w, r, req)
	case "":
		middleware.WriteError(w, model.NewMissingFieldsError("action"))
	default:
		middleware.WriteError(w, model.NewInvalidActionError(req.Action))
	}
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request, req authRequest) {
	next := req.Next
	if next == "" {
		next = r.URL.Query().Get("next")
	}

	res, err := h.service.Login(r.Context(), auth.LoginInput{
		Email:             req.Email,
		Password:          req.Password,
		Next:              next,
		PreviousSessionID: middleware.SessionIDFromRequest(r),
		Client: model.ClientMeta{
			IPAddress: middleware.ClientIP(r),
			UserAgent: r.UserAgent(),
		},
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	h.setSessionCookie(w, res.Identity.Session.ID)
	resp := h.sessionResponse(res)
	resp.Redirect = res.Destination
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) check(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Check(r.Context(), middleware.SessionIDFromRequest(r))
	if err != nil {
		h.clearOnSessionError(w, err)
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionResponse(res))
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	err := h.service.Logout(r.Context(), middleware.SessionIDFromRequest(r))
	h.clearSessionCookie(w)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AuthHandler) switchTenant(w http.ResponseWriter, r *http.Request, req authRequest) {
	if req.TenantID == nil {
		middleware.WriteError(w, model.NewMissingFieldsError("tenant_id"))
		return
	}

	res, err := h.service.SwitchTenant(r.Context(), middleware.SessionIDFromRequest(r), *req.TenantID)
	if err != nil {
		h.clearOnSessionError(w, err)
		middleware.WriteError(w, err)
		return
	}

	h.setSessionCookie(w, res.Identity.Session.ID)
	writeJSON(w, http.StatusOK, switchTenantResponse{
		Success:         true,
		CurrentTenantID: res.Identity.Membership.TenantID,
		SessionID:       res.Identity.Session.ID,
		Redirect:        res.Destination,
	})
}

func (h *AuthHandler) sessionResponse(res *auth.Result) sessionResponse {
	identity := res.Identity
	user := identity.User

	tenants := make([]tenantResponse, 0, len(res.Tenants))
	for _, m := range res.Tenants {
		membership := m
		scoped := model.Identity{User: user, Membership: &membership}
		tenants = append(tenants, tenantResponse{
			ID:        m.TenantID,
			Code:      m.Tenant.Code,
			Name:      h.sanitizer.Sanitize(m.Tenant.Name),
			Role:      string(scoped.EffectiveRole()),
			IsDefault: m.IsDefault,
		})
	}

	return sessionResponse{
		Success: true,
		User: userResponse{
			ID:      user.ID,
			Email:   user.Email,
			Name:    h.sanitizer.Sanitize(user.DisplayName),
			Role:    string(identity.EffectiveRole()),
			IsAdmin: identity.IsAdmin(),
		},
		Tenants:         tenants,
		CurrentTenantID: identity.Membership.TenantID,
		AutoSelected:    res.AutoSelected,
		NeedsSelection:  res.NeedsSelection,
		SessionID:       identity.Session.ID,
	}
}

// clearOnSessionError はセッションが無効になったエラーの場合にCookieを消去する。
func (h *AuthHandler) clearOnSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrUnauthenticated) || errors.Is(err, model.ErrSessionExpired) {
		h.clearSessionCookie(w)
	}
}

// setSessionCookie はセッションCookieを設定する（HTTP Only）。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     h.cookie.Path,
		Domain:   h.cookie.Domain,
		MaxAge:   int(h.service.IdleTimeout().Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     h.cookie.Path,
		Domain:   h.cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
