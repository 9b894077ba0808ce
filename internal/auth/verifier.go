package auth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/groupware/internal/model"
	"github.com/hitoshi/groupware/internal/repository"
)

// LockoutPolicy はログイン失敗によるアカウントロックの設定。
type LockoutPolicy struct {
	Threshold int           // この回数に達した失敗でロックする
	Duration  time.Duration // ロック期間
}

// DefaultLockoutPolicy は5回失敗で15分ロックする。
var DefaultLockoutPolicy = LockoutPolicy{Threshold: 5, Duration: 15 * time.Minute}

// Verifier はメールアドレスとパスワードの組を検証する。
type Verifier struct {
	users    repository.UserRepository
	hasher   PasswordHasher
	policy   LockoutPolicy
	recorder Recorder
	now      func() time.Time
}

// NewVerifier はVerifierを生成する。
func NewVerifier(users repository.UserRepository, hasher PasswordHasher, policy LockoutPolicy, recorder Recorder) *Verifier {
	if policy.Threshold <= 0 {
		policy.Threshold = DefaultLockoutPolicy.Threshold
	}
	if policy.Duration <= 0 {
		policy.Duration = DefaultLockoutPolicy.Duration
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Verifier{
		users:    users,
		hasher:   hasher,
		policy:   policy,
		recorder: recorder,
		now:      time.Now,
	}
}

// Verify は認証情報を検証し、成功した場合はユーザーを返す。
// 存在しないメールアドレスと誤ったパスワードは同じエラーになる。
func (v *Verifier) Verify(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.TrimSpace(email)

	var missing []string
	if email == "" {
		missing = append(missing, "email")
	}
	if password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return nil, model.NewMissingFieldsError(missing...)
	}

	user, err := v.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if user == nil {
		v.hasher.CompareDummy(password)
		return nil, model.ErrInvalidCredentials
	}

	now := v.now()
	if user.IsLockedOut(now) {
		v.hasher.CompareDummy(password)
		return nil, model.ErrAccountLocked
	}

	if !v.hasher.Compare(user.PasswordHash, password) {
		count, lockedUntil, err := v.users.RegisterFailedLogin(ctx, user.ID, v.policy.Threshold, now, now.Add(v.policy.Duration))
		if err != nil {
			return nil, model.NewStoreUnavailableError(err)
		}
		if lockedUntil != nil && count >= v.policy.Threshold {
			v.recorder.AccountLocked()
			slog.Warn("account locked after repeated failures",
				slog.Int64("user_id", user.ID),
				slog.Int("failed_count", count),
				slog.Time("locked_until", *lockedUntil),
			)
		}
		return nil, model.ErrInvalidCredentials
	}

	switch user.Status {
	case model.UserStatusActive:
	case model.UserStatusLocked:
		return nil, model.ErrAccountLocked
	default:
		return nil, model.ErrAccountInactive
	}

	recorded, err := v.users.RecordSuccessfulLogin(ctx, user.ID, now)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if !recorded {
		// 読み取り後に並行する失敗でロックされた
		slog.Warn("login rejected by concurrent lockout", slog.Int64("user_id", user.ID))
		return nil, model.ErrAccountLocked
	}
	user.FailedLoginCount = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now

	return user, nil
}
