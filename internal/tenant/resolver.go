// Package tenant は認証済みユーザーの所属テナントの解決を提供する。
package tenant

import (
	"context"

	"github.com/hitoshi/groupware/internal/model"
	"github.com/hitoshi/groupware/internal/repository"
)

// Resolution はテナント解決の結果を表す。
type Resolution struct {
	Current        model.Membership   // 現在テナントとして選ばれた所属
	Tenants        []model.Membership // 利用可能な所属（テナント名順）
	AutoSelected   bool               // 明示的な指定なしに選択した場合true
	NeedsSelection bool               // 複数テナントがありデフォルト指定がない場合true
}

// Resolver はユーザーの所属テナントを列挙し、現在テナントを決定する。
type Resolver struct {
	memberships repository.MembershipRepository
}

// NewResolver はResolverを生成する。
func NewResolver(memberships repository.MembershipRepository) *Resolver {
	return &Resolver{memberships: memberships}
}

// Tenants はユーザーの全所属をテナント名順で返す。停止中のテナントも含む。
func (r *Resolver) Tenants(ctx context.Context, userID int64) ([]model.Membership, error) {
	memberships, err := r.memberships.ListByUserID(ctx, userID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	return memberships, nil
}

// Resolve は所属を取得して現在テナントを決定する。
func (r *Resolver) Resolve(ctx context.Context, userID int64, requestedTenantID *int64) (*Resolution, error) {
	memberships, err := r.Tenants(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Pick(memberships, requestedTenantID)
}

// Pick は所属一覧から現在テナントを選ぶ。
//
// requestedTenantIDが指定された場合、その所属が無ければTenantAccessDenied、
// 所属はあるがテナントが有効でなければTenantNotFoundを返す。
// 指定がない場合はデフォルト所属、無ければテナント名順の先頭を選ぶ。
// 有効なテナントが1つも無い場合はTenantNotFoundを返す。
func Pick(memberships []model.Membership, requestedTenantID *int64) (*Resolution, error) {
	active := make([]model.Membership, 0, len(memberships))
	for _, m := range memberships {
		if m.IsActive() {
			active = append(active, m)
		}
	}

	if requestedTenantID != nil {
		for _, m := range memberships {
			if m.TenantID != *requestedTenantID {
				continue
			}
			if !m.IsActive() {
				return nil, model.ErrTenantNotFound
			}
			return &Resolution{
				Current: m,
				Tenants: active,
			}, nil
		}
		return nil, model.ErrTenantAccessDenied
	}

	if len(active) == 0 {
		return nil, model.ErrTenantNotFound
	}

	res := &Resolution{
		Current:      active[0],
		Tenants:      active,
		AutoSelected: true,
	}
	if len(active) == 1 {
		return res, nil
	}

	for _, m := range active {
		if m.IsDefault {
			res.Current = m
			return res, nil
		}
	}
	res.NeedsSelection = true
	return res, nil
}
