// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/groupware/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// RegisterFailedLogin はログイン失敗回数を原子的に1増やす。
	// now時点でロック期限が過ぎている場合は回数を1に戻してから判定する。
	// 増加後の回数がthreshold以上になった場合はlocked_untilをlockUntilに設定する。
	// 更新後の失敗回数とlocked_untilを返す。
	RegisterFailedLogin(ctx context.Context, userID int64, threshold int, now, lockUntil time.Time) (int, *time.Time, error)

	// RecordSuccessfulLogin は失敗回数を0に戻してロックを解除し、最終ログイン日時を更新する。
	// at時点でロックが有効な場合は更新せずfalseを返す。
	RecordSuccessfulLogin(ctx context.Context, userID int64, at time.Time) (bool, error)
}

// MembershipRepository はユーザーとテナントの所属関係の永続化インターフェース。
type MembershipRepository interface {
	// ListByUserID はユーザーの全所属をテナント名順で返す。テナントの状態は問わない。
	ListByUserID(ctx context.Context, userID int64) ([]model.Membership, error)

	// Find は指定ユーザー・テナントの所属を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, userID, tenantID int64) (*model.Membership, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	// アイドル期限の判定は呼び出し側で行う。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// Rotate はoldIDのセッションを削除し、nextを作成する。
	// 同一トランザクションで実行し、新旧IDが同時に有効になる期間を作らない。
	// oldIDが空の場合は作成のみ行う。
	Rotate(ctx context.Context, oldID string, next *model.Session) error

	// UpdateActivity は最終アクティビティ日時を更新する。
	UpdateActivity(ctx context.Context, id string, at time.Time) error

	// UpdateRedirectCounters はリダイレクトループカウンタを上書き保存する。
	UpdateRedirectCounters(ctx context.Context, id string, counters map[string]int) error

	// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
}

// LoginAttemptRepository はログイン試行の監査ログの永続化インターフェース。
type LoginAttemptRepository interface {
	// Create はログイン試行を記録する。
	Create(ctx context.Context, attempt *model.LoginAttempt) error
}
