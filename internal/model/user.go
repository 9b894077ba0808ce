// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーのロールを表す。
type Role string

const (
	// RoleAdmin は管理者ロール。全ケーパビリティを持つ。
	RoleAdmin Role = "admin"
	// RoleSpecialUser は特権ユーザーロール。
	RoleSpecialUser Role = "special_user"
	// RoleStandardUser は一般ユーザーロール。
	RoleStandardUser Role = "standard_user"
	// RoleGuest はゲストロール。
	RoleGuest Role = "guest"
)

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSpecialUser, RoleStandardUser, RoleGuest:
		return true
	default:
		return false
	}
}

// UserStatus はユーザーアカウントの状態を表す。
type UserStatus string

const (
	// UserStatusActive は有効なアカウント。
	UserStatusActive UserStatus = "active"
	// UserStatusInactive は無効化されたアカウント。
	UserStatusInactive UserStatus = "inactive"
	// UserStatusLocked は管理者によりロックされたアカウント。
	UserStatusLocked UserStatus = "locked"
)

// User はサービス利用ユーザーを表す。
// FailedLoginCount と LockedUntil がロックアウト状態を構成する。
type User struct {
	ID               int64
	Email            string
	PasswordHash     string
	DisplayName      string
	Role             Role
	Status           UserStatus
	FailedLoginCount int
	LockedUntil      *time.Time
	LastLoginAt      *time.Time
	IsSystemAdmin    bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsLockedOut は指定時刻においてロックアウト期間中かどうかを返す。
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// LoginAttempt はログイン試行の監査レコードを表す。
type LoginAttempt struct {
	ID            string
	Email         string
	UserID        *int64
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	AttemptedAt   time.Time
}
