package handler

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/groupware/internal/authz"
	"github.com/hitoshi/groupware/internal/middleware"
	"github.com/hitoshi/groupware/internal/model"
	"github.com/hitoshi/groupware/internal/security"
	"github.com/hitoshi/groupware/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// PageAuthenticator はページ表示時のセッション検証と認可判定のインターフェース。
// auth.Serviceが実装する。
type PageAuthenticator interface {
	Authenticate(ctx context.Context, sessionID string) (*model.Identity, error)
	Authorize(identity *model.Identity, capability model.Capability) bool
}

// LoopRecorder はリダイレクトループの検出を記録する。metrics.Collectorが実装する。
type LoopRecorder interface {
	RedirectLoop(context string)
}

// PageDeps はPageHandlerの依存関係。
type PageDeps struct {
	Auth      PageAuthenticator
	Redirects *security.RedirectValidator
	Loops     *session.LoopGuard
	Recorder  LoopRecorder // nilの場合は記録しない
}

// PageHandler はログイン画面と保護されたページの入口を提供する。
// 出力はhtml/templateのエスケープに任せる。
type PageHandler struct {
	deps PageDeps
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(deps PageDeps) *PageHandler {
	return &PageHandler{deps: deps}
}

type loginPage struct {
	Endpoint string
	Next     string
	Notice   string
}

type memberPage struct {
	UserName     string
	TenantName   string
	IsAdmin      bool
	AdminPath    string
	HomePath     string
	Capabilities []string
}

type errorPage struct {
	Code      string
	Message   string
	Action    string
	Context   string
	UserName  string
	LoginPath string
}

// Login はログイン画面を表示する。
// 有効なセッションがある場合は検証済みの遷移先へリダイレクトする。
// GET <base>/login
func (h *PageHandler) Login(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get("next")

	identity, err := h.deps.Auth.Authenticate(r.Context(), middleware.SessionIDFromRequest(r))
	if err == nil {
		loop, err := h.deps.Loops.Observe(r.Context(), identity.Session, session.ContextLoginRedirect)
		if err != nil {
			h.renderError(w, http.StatusInternalServerError, model.ErrStoreUnavailable, "", identity)
			return
		}
		if loop {
			h.loopDetected(w, identity, session.ContextLoginRedirect)
			return
		}
		http.Redirect(w, r, h.deps.Redirects.Destination(identity.EffectiveRole(), next), http.StatusSeeOther)
		return
	}
	if isStoreError(err) {
		h.renderError(w, http.StatusInternalServerError, model.ErrStoreUnavailable, "", nil)
		return
	}

	page := loginPage{Endpoint: h.deps.Redirects.Path("api/auth")}
	if safe, ok := h.deps.Redirects.Validate(next); ok {
		page.Next = safe
	}
	if r.URL.Query().Get("reason") == model.ErrCodeSessionExpired || errors.Is(err, model.ErrSessionExpired) {
		page.Notice = model.ErrSessionExpired.Message
	}
	h.render(w, http.StatusOK, "login", page)
}

// Home はホーム画面を表示する。認証済みであれば権限によらず表示する。
// GET <base>/home
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	h.protected(w, r, session.ContextHomeAccess, "", "home")
}

// AdminIndex は管理画面を表示する。
// GET <base>/admin/index
func (h *PageHandler) AdminIndex(w http.ResponseWriter, r *http.Request) {
	h.protected(w, r, session.ContextAdminAccess, model.CapAdminPanel, "admin")
}

// Root はロール既定のページへリダイレクトする。
// GET <base>/
func (h *PageHandler) Root(w http.ResponseWriter, r *http.Request) {
	identity, err := h.deps.Auth.Authenticate(r.Context(), middleware.SessionIDFromRequest(r))
	if err != nil {
		http.Redirect(w, r, h.deps.Redirects.LoginPath(), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, h.deps.Redirects.DefaultFor(identity.EffectiveRole()), http.StatusSeeOther)
}

// protected は認証と認可を確認してページを表示する。capabilityが空の場合は認証のみ確認する。
// 権限が無い場合はロール既定のページへリダイレクトし、繰り返しを検出したら508を返す。
func (h *PageHandler) protected(w http.ResponseWriter, r *http.Request, loopKey string, capability model.Capability, name string) {
	ctx := r.Context()

	identity, err := h.deps.Auth.Authenticate(ctx, middleware.SessionIDFromRequest(r))
	if err != nil {
		if isStoreError(err) {
			h.renderError(w, http.StatusInternalServerError, model.ErrStoreUnavailable, "", nil)
			return
		}
		h.redirectToLogin(w, r, err)
		return
	}

	if capability != "" && !h.deps.Auth.Authorize(identity, capability) {
		loop, err := h.deps.Loops.Observe(ctx, identity.Session, loopKey)
		if err != nil {
			h.renderError(w, http.StatusInternalServerError, model.ErrStoreUnavailable, "", identity)
			return
		}
		if loop {
			h.loopDetected(w, identity, loopKey)
			return
		}
		slog.Info("page access denied",
			slog.Int64("user_id", identity.User.ID),
			slog.String("capability", string(capability)),
		)
		dest := h.deps.Redirects.DefaultFor(identity.EffectiveRole())
		if dest == r.URL.Path {
			// 既定ページ自体が拒否された場合はホームへ
			dest = h.deps.Redirects.Path("home")
		}
		http.Redirect(w, r, dest, http.StatusSeeOther)
		return
	}

	for _, key := range []string{loopKey, session.ContextLoginRedirect} {
		if err := h.deps.Loops.Reset(ctx, identity.Session, key); err != nil {
			slog.Warn("failed to reset redirect counter",
				slog.String("context", key),
				slog.String("error", err.Error()),
			)
		}
	}

	caps := authz.Sorted(authz.Effective(identity))
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	h.render(w, http.StatusOK, name, memberPage{
		UserName:     identity.User.DisplayName,
		TenantName:   identity.Membership.Tenant.Name,
		IsAdmin:      h.deps.Auth.Authorize(identity, model.CapAdminPanel),
		AdminPath:    h.deps.Redirects.Path("admin/index"),
		HomePath:     h.deps.Redirects.Path("home"),
		Capabilities: names,
	})
}

func (h *PageHandler) redirectToLogin(w http.ResponseWriter, r *http.Request, cause error) {
	q := url.Values{}
	q.Set("next", r.URL.RequestURI())
	if errors.Is(cause, model.ErrSessionExpired) {
		q.Set("reason", model.ErrCodeSessionExpired)
	}
	http.Redirect(w, r, h.deps.Redirects.LoginPath()+"?"+q.Encode(), http.StatusSeeOther)
}

func (h *PageHandler) loopDetected(w http.ResponseWriter, identity *model.Identity, loopKey string) {
	slog.Error("redirect loop detected",
		slog.Int64("user_id", identity.User.ID),
		slog.String("context", loopKey),
		slog.String("session", session.ShortID(identity.Session.ID)),
	)
	if h.deps.Recorder != nil {
		h.deps.Recorder.RedirectLoop(loopKey)
	}
	h.renderError(w, http.StatusLoopDetected, model.ErrRedirectLoopDetected, loopKey, identity)
}

func (h *PageHandler) renderError(w http.ResponseWriter, status int, apiErr *model.APIError, loopKey string, identity *model.Identity) {
	page := errorPage{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Action:    apiErr.Action,
		Context:   loopKey,
		LoginPath: h.deps.Redirects.LoginPath(),
	}
	if identity != nil && identity.User != nil {
		page.UserName = identity.User.DisplayName
	}
	h.render(w, status, "error", page)
}

// render はテンプレートをバッファに描画してから書き込む。
func (h *PageHandler) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("failed to render page",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func isStoreError(err error) bool {
	return errors.Is(err, model.ErrStoreUnavailable)
}
