// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// auth.Recorderを満たし、認証サービスから呼ばれる。
type Collector struct {
	loginAttempts   *prometheus.CounterVec
	accountLocks    prometheus.Counter
	tenantSwitches  prometheus.Counter
	sessionExpiries prometheus.Counter
	redirectLoops   *prometheus.CounterVec
	cleanupDeleted  *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpLatency     prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groupware_login_attempts_total",
			Help: "結果別のログイン試行数",
		}, []string{"outcome"}),
		accountLocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupware_account_locks_total",
			Help: "ログイン失敗によりロックされたアカウントの数",
		}),
		tenantSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupware_tenant_switches_total",
			Help: "テナント切替の成功数",
		}),
		sessionExpiries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupware_session_expiries_total",
			Help: "アイドル期限切れで拒否されたセッション数",
		}),
		redirectLoops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groupware_redirect_loops_total",
			Help: "コンテキスト別のリダイレクトループ検出数",
		}, []string{"context"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groupware_cleanup_deleted_total",
			Help: "クリーンアップジョブで削除された行数",
		}, []string{"table"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groupware_http_requests_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "groupware_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.loginAttempts,
		c.accountLocks,
		c.tenantSwitches,
		c.sessionExpiries,
		c.redirectLoops,
		c.cleanupDeleted,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

// LoginAttempt はログイン試行の結果を記録する。outcomeは "success" またはエラーコード。
func (c *Collector) LoginAttempt(outcome string) {
	c.loginAttempts.WithLabelValues(outcome).Inc()
}

// AccountLocked はアカウントロックを記録する。
func (c *Collector) AccountLocked() {
	c.accountLocks.Inc()
}

// TenantSwitched はテナント切替を記録する。
func (c *Collector) TenantSwitched() {
	c.tenantSwitches.Inc()
}

// SessionExpired はセッションの期限切れを記録する。
func (c *Collector) SessionExpired() {
	c.sessionExpiries.Inc()
}

// RedirectLoop はリダイレクトループの検出を記録する。
func (c *Collector) RedirectLoop(context string) {
	c.redirectLoops.WithLabelValues(context).Inc()
}

// CleanupDeleted はクリーンアップで削除した行数を記録する。
func (c *Collector) CleanupDeleted(table string, count int64) {
	c.cleanupDeleted.WithLabelValues(table).Add(float64(count))
}

// RecordHTTPRequest はレスポンスのステータスコードと処理時間を記録する。
func (c *Collector) RecordHTTPRequest(statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

// statusWriter はステータスコードを記録するResponseWriter。
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware はリクエストごとにステータスと処理時間を記録するミドルウェアを返す。
func (c *Collector) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			c.RecordHTTPRequest(sw.status, time.Since(start))
		})
	}
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
