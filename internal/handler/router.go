package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/groupware/internal/metrics"
	"github.com/hitoshi/groupware/internal/middleware"
	"github.com/hitoshi/groupware/internal/security"
	"github.com/hitoshi/groupware/internal/session"
)

// Service はルーター全体が必要とする認証サービスのインターフェース。
// auth.Serviceが実装する。
type Service interface {
	AuthService
	PageAuthenticator
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Service   Service
	Redirects *security.RedirectValidator
	Loops     *session.LoopGuard
	Sanitizer *security.TextSanitizer

	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           *metrics.Collector  // nilの場合は計測しない
	Gatherer          prometheus.Gatherer // nilの場合は/metricsを公開しない
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	Cookie            CookieConfig
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Logging → Metrics → SecurityHeaders → CORS
//
// ベースパス配下の保護API（/api/session, /api/authorize）には
// Session → RateLimit(General) → CSRF を追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	var recorder LoopRecorder
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}
	authHandler := NewAuthHandler(deps.Service, deps.Cookie, deps.Sanitizer)
	sessionHandler := NewSessionHandler(deps.Service, deps.Sanitizer)
	pageHandler := NewPageHandler(PageDeps{
		Auth:      deps.Service,
		Redirects: deps.Redirects,
		Loops:     deps.Loops,
		Recorder:  recorder,
	})

	app := chi.NewRouter()

	// --- 認証不要のルート ---
	app.Get("/", pageHandler.Root)
	app.Get("/login", pageHandler.Login)
	app.Get("/home", pageHandler.Home)
	app.Get("/admin/index", pageHandler.AdminIndex)
	app.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	// ログインAPIはIP単位のレート制限のみ適用する
	app.With(deps.RateLimiter.LoginMiddleware()).Post("/api/auth", authHandler.Handle)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	app.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Service))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/api/session", sessionHandler.Current)
		r.Post("/api/authorize", sessionHandler.Authorize)
	})

	base := strings.TrimSuffix(deps.Redirects.BasePath(), "/")
	if base == "" {
		base = "/"
	}
	r.Mount(base, app)
	return r
}
