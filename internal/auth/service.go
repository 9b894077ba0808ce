// Package auth はパスワード認証、ログインフロー、セッション検証を提供する。
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/groupware/internal/authz"
	"github.com/hitoshi/groupware/internal/model"
	"github.com/hitoshi/groupware/internal/repository"
	"github.com/hitoshi/groupware/internal/security"
	"github.com/hitoshi/groupware/internal/session"
	"github.com/hitoshi/groupware/internal/tenant"
)

// DefaultStoreTimeout はストア操作1回あたりのタイムアウトのデフォルト値。
const DefaultStoreTimeout = 5 * time.Second

// Recorder は認証イベントを記録するインターフェース。
// metrics.Collectorが実装する。
type Recorder interface {
	LoginAttempt(outcome string)
	AccountLocked()
	TenantSwitched()
	SessionExpired()
}

type nopRecorder struct{}

func (nopRecorder) LoginAttempt(string) {}
func (nopRecorder) AccountLocked()      {}
func (nopRecorder) TenantSwitched()     {}
func (nopRecorder) SessionExpired()     {}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	StoreTimeout time.Duration // 0以下の場合はDefaultStoreTimeout
}

// ServiceDeps は認証サービスが利用するコンポーネント。
type ServiceDeps struct {
	Verifier    *Verifier
	Resolver    *tenant.Resolver
	Sessions    *session.Manager
	Redirects   *security.RedirectValidator
	Users       repository.UserRepository
	Memberships repository.MembershipRepository
	Attempts    repository.LoginAttemptRepository // nilの場合は監査記録を行わない
	Recorder    Recorder                          // nilの場合は何も記録しない
}

// LoginInput はログイン要求を表す。
type LoginInput struct {
	Email             string
	Password          string
	Next              string           // ログイン後の遷移先候補
	PreviousSessionID string           // クライアントが提示した既存のセッションID
	Client            model.ClientMeta // 監査とセッションに記録するクライアント情報
}

// Result はログイン・セッション確認・テナント切替の結果を表す。
type Result struct {
	Identity       *model.Identity
	Tenants        []model.Membership
	AutoSelected   bool
	NeedsSelection bool
	Destination    string
}

// Service は認証フロー全体を統括する。
type Service struct {
	deps         ServiceDeps
	storeTimeout time.Duration
	now          func() time.Time
}

// NewService はServiceを生成する。
func NewService(deps ServiceDeps, config ServiceConfig) *Service {
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	timeout := config.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &Service{
		deps:         deps,
		storeTimeout: timeout,
		now:          time.Now,
	}
}

// IdleTimeout はセッションのアイドル有効期間を返す。
func (s *Service) IdleTimeout() time.Duration {
	return s.deps.Sessions.IdleTimeout()
}

// Login は認証情報を検証し、現在テナントを決定してセッションを発行する。
// 失敗した場合、セッションは作成されない。
func (s *Service) Login(ctx context.Context, in LoginInput) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	user, err := s.deps.Verifier.Verify(ctx, in.Email, in.Password)
	if err != nil {
		s.loginFailed(ctx, in, nil, err)
		return nil, err
	}

	res, err := s.deps.Resolver.Resolve(ctx, user.ID, nil)
	if err != nil {
		s.loginFailed(ctx, in, &user.ID, err)
		return nil, err
	}

	sess, err := s.deps.Sessions.Create(ctx, in.PreviousSessionID, user.ID, res.Current.TenantID, in.Client)
	if err != nil {
		s.loginFailed(ctx, in, &user.ID, err)
		return nil, err
	}

	current := res.Current
	identity := &model.Identity{Session: sess, User: user, Membership: &current}
	destination := s.deps.Redirects.Destination(identity.EffectiveRole(), in.Next)

	s.deps.Recorder.LoginAttempt("success")
	s.audit(ctx, in, &user.ID, "")
	slog.Info("user logged in",
		slog.Int64("user_id", user.ID),
		slog.Int64("tenant_id", current.TenantID),
		slog.Bool("auto_selected", res.AutoSelected),
		slog.String("session", session.ShortID(sess.ID)),
	)

	return &Result{
		Identity:       identity,
		Tenants:        res.Tenants,
		AutoSelected:   res.AutoSelected,
		NeedsSelection: res.NeedsSelection,
		Destination:    destination,
	}, nil
}

// SwitchTenant は現在テナントを切り替え、セッションIDを再生成する。
// 失敗した場合、セッションは変更されない。
func (s *Service) SwitchTenant(ctx context.Context, sessionID string, tenantID int64) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	identity, err := s.identify(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	memberships, err := s.deps.Resolver.Tenants(ctx, identity.User.ID)
	if err != nil {
		return nil, err
	}
	res, err := tenant.Pick(memberships, &tenantID)
	if err != nil {
		slog.Warn("tenant switch rejected",
			slog.Int64("user_id", identity.User.ID),
			slog.Int64("tenant_id", tenantID),
			slog.String("reason", errorCode(err)),
		)
		return nil, err
	}

	sess, err := s.deps.Sessions.SwitchTenant(ctx, identity.Session, tenantID)
	if err != nil {
		return nil, err
	}

	current := res.Current
	identity.Session = sess
	identity.Membership = &current

	s.deps.Recorder.TenantSwitched()
	slog.Info("tenant switched",
		slog.Int64("user_id", identity.User.ID),
		slog.Int64("tenant_id", tenantID),
		slog.String("session", session.ShortID(sess.ID)),
	)

	return &Result{
		Identity:    identity,
		Tenants:     res.Tenants,
		Destination: s.deps.Redirects.DefaultFor(identity.EffectiveRole()),
	}, nil
}

// Check はセッションが有効かを確認し、現在のユーザーとテナントを返す。
// アクティビティ日時は更新しない。
func (s *Service) Check(ctx context.Context, sessionID string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	identity, err := s.identify(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	memberships, err := s.deps.Resolver.Tenants(ctx, identity.User.ID)
	if err != nil {
		return nil, err
	}
	active := make([]model.Membership, 0, len(memberships))
	for _, m := range memberships {
		if m.IsActive() {
			active = append(active, m)
		}
	}

	return &Result{Identity: identity, Tenants: active}, nil
}

// Authenticate はセッションを検証してアクティビティ日時を更新する。
// 保護されたエンドポイントのミドルウェアから呼ばれる。
func (s *Service) Authenticate(ctx context.Context, sessionID string) (*model.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	identity, err := s.identify(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess, err := s.deps.Sessions.Touch(ctx, identity.Session)
	if err != nil {
		if errors.Is(err, model.ErrSessionExpired) {
			s.deps.Recorder.SessionExpired()
		}
		return nil, err
	}
	identity.Session = sess
	return identity, nil
}

// Authorize は認証主体が指定ケーパビリティを持つかを判定する。
func (s *Service) Authorize(identity *model.Identity, capability model.Capability) bool {
	return authz.Authorize(identity, capability)
}

// Logout はセッションを破棄する。存在しないセッションでもエラーにしない。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.deps.Sessions.Destroy(ctx, sessionID); err != nil {
		return err
	}
	if sessionID != "" {
		slog.Info("user logged out", slog.String("session", session.ShortID(sessionID)))
	}
	return nil
}

// identify はセッションを読み込み、ユーザーと所属を検証して認証主体を組み立てる。
// アイドル期限切れのセッションは削除してSessionExpiredを返す。
// ユーザーや所属が無効になっている場合はセッションを破棄してUnauthenticatedを返す。
func (s *Service) identify(ctx context.Context, sessionID string) (*model.Identity, error) {
	sess, err := s.deps.Sessions.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, model.ErrSessionExpired) && sess != nil {
			s.deps.Recorder.SessionExpired()
			if derr := s.deps.Sessions.Destroy(ctx, sess.ID); derr != nil {
				return nil, derr
			}
			slog.Info("session expired",
				slog.Int64("user_id", sess.UserID),
				slog.String("session", session.ShortID(sess.ID)),
			)
		}
		return nil, err
	}

	user, err := s.deps.Users.FindByID(ctx, sess.UserID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if user == nil || user.Status != model.UserStatusActive {
		return nil, s.invalidate(ctx, sess, "user_unavailable")
	}

	membership, err := s.deps.Memberships.Find(ctx, sess.UserID, sess.TenantID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if membership == nil || !membership.IsActive() {
		return nil, s.invalidate(ctx, sess, "membership_unavailable")
	}

	return &model.Identity{Session: sess, User: user, Membership: membership}, nil
}

func (s *Service) invalidate(ctx context.Context, sess *model.Session, reason string) error {
	slog.Warn("session invalidated",
		slog.Int64("user_id", sess.UserID),
		slog.Int64("tenant_id", sess.TenantID),
		slog.String("reason", reason),
		slog.String("session", session.ShortID(sess.ID)),
	)
	if err := s.deps.Sessions.Destroy(ctx, sess.ID); err != nil {
		return err
	}
	return model.ErrUnauthenticated
}

func (s *Service) loginFailed(ctx context.Context, in LoginInput, userID *int64, err error) {
	code := errorCode(err)
	s.deps.Recorder.LoginAttempt(code)
	// 入力不備はストアに触れずに返す
	if code == model.ErrCodeMissingField || code == model.ErrCodeMissingFields {
		return
	}
	s.audit(ctx, in, userID, code)
}

// audit はログイン試行を記録する。記録の失敗はログに残すだけでログイン結果には影響しない。
func (s *Service) audit(ctx context.Context, in LoginInput, userID *int64, failure string) {
	if s.deps.Attempts == nil {
		return
	}
	attempt := &model.LoginAttempt{
		ID:            uuid.New().String(),
		Email:         strings.ToLower(strings.TrimSpace(in.Email)),
		UserID:        userID,
		IPAddress:     in.Client.IPAddress,
		UserAgent:     in.Client.UserAgent,
		Success:       failure == "",
		FailureReason: failure,
		AttemptedAt:   s.now(),
	}
	if err := s.deps.Attempts.Create(ctx, attempt); err != nil {
		slog.Warn("failed to record login attempt",
			slog.String("error", err.Error()),
		)
	}
}

// errorCode はエラーのコードを返す。APIErrorでない場合はserver_error。
func errorCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return model.ErrCodeStoreUnavailable
}
