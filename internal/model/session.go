package model

import "time"

// Session はユーザーのログインセッションを表す。
// TenantID は必ずバインドされたユーザーの Membership を参照する。
type Session struct {
	ID               string
	UserID           int64
	TenantID         int64
	CreatedAt        time.Time
	LastActivityAt   time.Time
	IPAddress        string
	UserAgent        string
	RedirectCounters map[string]int // sessions.data に保存されるリダイレクトループカウンタ
}

// IdleSince はセッションの最終アクティビティからの経過時間を返す。
func (s *Session) IdleSince(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}

// ClientMeta はセッション作成時に記録するクライアント情報。
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// Identity は検証済みセッションから解決した認証主体。
type Identity struct {
	Session    *Session
	User       *User
	Membership *Membership
}

// EffectiveRole は現在のテナントにおける実効ロールを返す。
// システム管理者は常に admin として扱う。
func (i *Identity) EffectiveRole() Role {
	if i == nil || i.User == nil {
		return ""
	}
	if i.User.IsSystemAdmin {
		return RoleAdmin
	}
	if i.Membership != nil && i.Membership.Role != "" {
		return i.Membership.Role
	}
	return i.User.Role
}

// IsAdmin は実効ロールが admin かどうかを返す。
func (i *Identity) IsAdmin() bool {
	return i.EffectiveRole() == RoleAdmin
}
