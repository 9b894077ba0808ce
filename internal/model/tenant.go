package model

import "time"

// TenantStatus はテナントの状態を表す。
type TenantStatus string

const (
	// TenantStatusActive は利用可能なテナント。
	TenantStatusActive TenantStatus = "active"
	// TenantStatusSuspended は一時停止中のテナント。
	TenantStatusSuspended TenantStatus = "suspended"
	// TenantStatusArchived はアーカイブ済みのテナント。
	TenantStatusArchived TenantStatus = "archived"
)

// Tenant は組織単位のスコープを表す。認証フローからは読み取り専用。
type Tenant struct {
	ID        int64
	Code      string
	Name      string
	Status    TenantStatus
	CreatedAt time.Time
}

// Membership はユーザーとテナントの所属関係（user_tenants）を表す。
// (UserID, TenantID) の組は一意で、IsDefault はユーザーごとに高々1件。
type Membership struct {
	UserID    int64
	TenantID  int64
	Role      Role // 空の場合はユーザー本来のロールを継承する
	IsDefault bool
	Overrides CapabilityOverrides
	Tenant    Tenant
}

// IsActive は所属先テナントが利用可能かどうかを返す。
func (m *Membership) IsActive() bool {
	return m.Tenant.Status == TenantStatusActive
}
