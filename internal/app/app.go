package app

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/groupware/internal/auth"
	"github.com/hitoshi/groupware/internal/config"
	"github.com/hitoshi/groupware/internal/database"
	"github.com/hitoshi/groupware/internal/handler"
	"github.com/hitoshi/groupware/internal/logger"
	"github.com/hitoshi/groupware/internal/metrics"
	"github.com/hitoshi/groupware/internal/middleware"
	"github.com/hitoshi/groupware/internal/repository"
	"github.com/hitoshi/groupware/internal/security"
	"github.com/hitoshi/groupware/internal/session"
	"github.com/hitoshi/groupware/internal/tenant"
	"github.com/hitoshi/groupware/internal/worker/cleanup"
)

// stdin はhash-passwordサブコマンドの入力元。テストで差し替える。
var stdin io.Reader = os.Stdin

// compile-time interface checks
var (
	_ auth.Recorder        = (*metrics.Collector)(nil)
	_ cleanup.Recorder     = (*metrics.Collector)(nil)
	_ handler.LoopRecorder = (*metrics.Collector)(nil)
	_ handler.Service      = (*auth.Service)(nil)
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドとフラグを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)
	opts, err := ParseOptions(cmd, commandArgs(args))
	if err != nil {
		return err
	}

	// 軽量サブコマンドはフル初期化をスキップする
	switch cmd {
	case CommandHealthcheck:
		port := opts.Port
		if port == "" {
			port = os.Getenv("SERVER_PORT")
		}
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	case CommandHashPassword:
		return runHashPassword(w, stdin, opts.Cost)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	if opts.Port != "" {
		cfg.ServerPort = opts.Port
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("base_path", cfg.BasePath),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg, opts)
	case CommandMigrate:
		return runMigrate(cfg, opts)
	default:
		return runServe(cfg)
	}
}

// Components はHTTPサーバーを構成する部品。
type Components struct {
	Handler     http.Handler
	RateLimiter *middleware.RateLimiter
}

// Close はバックグラウンド処理を停止する。
func (c *Components) Close() {
	c.RateLimiter.Stop()
}

// NewComponents はDB接続から全依存関係をワイヤリングしてHTTPハンドラーを構築する。
// regにはアプリケーションのメトリクスを登録する。
func NewComponents(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (*Components, error) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	membershipRepo := repository.NewPostgresMembershipRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	attemptRepo := repository.NewPostgresLoginAttemptRepo(db)

	// 2. メトリクス
	collector := metrics.NewCollector(reg)

	// 3. セキュリティ
	redirects, err := security.NewRedirectValidator(cfg.BaseURL, cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create redirect validator: %w", err)
	}
	hasher, err := auth.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	// 4. ドメインサービス
	verifier := auth.NewVerifier(userRepo, hasher, auth.LockoutPolicy{
		Threshold: cfg.LockoutThreshold,
		Duration:  cfg.LockoutDuration,
	}, collector)
	sessions := session.NewManager(sessionRepo, cfg.SessionIdleTimeout)
	loops := session.NewLoopGuard(sessionRepo, cfg.RedirectLoopThreshold)

	authService := auth.NewService(auth.ServiceDeps{
		Verifier:    verifier,
		Resolver:    tenant.NewResolver(membershipRepo),
		Sessions:    sessions,
		Redirects:   redirects,
		Users:       userRepo,
		Memberships: membershipRepo,
		Attempts:    attemptRepo,
		Recorder:    collector,
	}, auth.ServiceConfig{StoreTimeout: cfg.StoreTimeout})

	// 5. ルーター
	limits := middleware.DefaultRateLimiterConfig()
	limits.LoginRate = middleware.PerMinute(cfg.RateLimitLogin)
	limits.LoginBurst = cfg.RateLimitLogin
	limits.GeneralRate = middleware.PerMinute(cfg.RateLimitGeneral)
	limits.GeneralBurst = cfg.RateLimitGeneral
	rateLimiter := middleware.NewRateLimiter(limits)

	router := handler.NewRouter(&handler.RouterDeps{
		Service:           authService,
		Redirects:         redirects,
		Loops:             loops,
		Sanitizer:         security.NewTextSanitizer(),
		Logger:            slog.Default(),
		Metrics:           collector,
		Gatherer:          reg,
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			CookiePath:   redirects.BasePath(),
		},
		Cookie: handler.CookieConfig{
			Path:   redirects.BasePath(),
			Domain: cfg.CookieDomain,
			Secure: cfg.CookieSecure,
		},
	})

	return &Components{Handler: router, RateLimiter: rateLimiter}, nil
}

// newRegistry はプロセスとGoランタイムのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := database.Connect(context.Background(), cfg.DatabaseURL, cfg.StoreTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	components, err := NewComponents(cfg, db, newRegistry())
	if err != nil {
		return err
	}
	defer components.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      components.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker は期限切れセッションと古いログイン試行記録のクリーンアップを実行する。
// --onceの場合は1回だけ実行して終了する。
func runWorker(cfg *config.Config, opts *Options) error {
	db, err := database.Connect(context.Background(), cfg.DatabaseURL, cfg.StoreTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	reg := newRegistry()
	job := cleanup.NewJob(db, slog.Default(), metrics.NewCollector(reg), cleanup.Config{
		IdleTimeout:   cfg.SessionIdleTimeout,
		RetentionDays: cfg.LoginAttemptRetentionDays,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if opts.Once {
		return job.Run(ctx)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	job.Start(ctx, opts.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// フラグに応じて適用、ロールバック、バージョン表示のいずれかを行う。
func runMigrate(cfg *config.Config, opts *Options) error {
	masked := maskDatabaseURL(cfg.DatabaseURL)

	if opts.ShowVersion {
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		slog.Info("current migration version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
		return nil
	}

	if opts.RollbackSteps > 0 {
		slog.Info("rolling back database migrations",
			slog.String("database_url", masked),
			slog.Int("steps", opts.RollbackSteps),
		)
		if err := database.RollbackMigrations(cfg.DatabaseURL, opts.RollbackSteps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("database rollback completed successfully")
		return nil
	}

	slog.Info("running database migrations", slog.String("database_url", masked))
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// runHashPassword は入力の1行目をパスワードとしてbcryptハッシュを出力する。
func runHashPassword(w io.Writer, r io.Reader, cost int) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("password is empty")
	}

	hasher, err := auth.NewBcryptHasher(cost)
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.Redacted()
}
