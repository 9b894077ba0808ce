package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hitoshi/groupware/internal/model"
)

const membershipSelect = `SELECT ut.user_id, ut.tenant_id, COALESCE(ut.role, ''), ut.is_default, ut.permissions,
	t.id, t.code, t.name, t.status, t.created_at
	FROM user_tenants ut
	JOIN tenants t ON t.id = ut.tenant_id`

// PostgresMembershipRepo はPostgreSQLを使用したテナント所属リポジトリ。
type PostgresMembershipRepo struct {
	db *sql.DB
}

// NewPostgresMembershipRepo はPostgresMembershipRepoを生成する。
func NewPostgresMembershipRepo(db *sql.DB) *PostgresMembershipRepo {
	return &PostgresMembershipRepo{db: db}
}

// ListByUserID はユーザーの全所属をテナント名順（同名はID順）で返す。
func (r *PostgresMembershipRepo) ListByUserID(ctx context.Context, userID int64) ([]model.Membership, error) {
	rows, err := r.db.QueryContext(ctx,
		membershipSelect+` WHERE ut.user_id = $1 ORDER BY t.name ASC, t.id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}
	return memberships, nil
}

// Find は指定ユーザー・テナントの所属を取得する。見つからない場合はnilを返す。
func (r *PostgresMembershipRepo) Find(ctx context.Context, userID, tenantID int64) (*model.Membership, error) {
	row := r.db.QueryRowContext(ctx,
		membershipSelect+` WHERE ut.user_id = $1 AND ut.tenant_id = $2`,
		userID, tenantID,
	)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find membership: %w", err)
	}
	return m, nil
}

func scanMembership(row rowScanner) (*model.Membership, error) {
	var (
		m           model.Membership
		role        string
		status      string
		permissions []byte
	)
	err := row.Scan(
		&m.UserID, &m.TenantID, &role, &m.IsDefault, &permissions,
		&m.Tenant.ID, &m.Tenant.Code, &m.Tenant.Name, &status, &m.Tenant.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Role = model.Role(role)
	m.Tenant.Status = model.TenantStatus(status)
	m.Overrides = decodeOverrides(permissions, m.UserID, m.TenantID)
	return &m, nil
}

// decodeOverrides はpermissions列(JSONB)を上書き設定に変換する。
// 未定義のケーパビリティは無視する。壊れたJSONは上書きなしとして扱う。
func decodeOverrides(raw []byte, userID, tenantID int64) model.CapabilityOverrides {
	if len(raw) == 0 {
		return nil
	}
	var decoded map[string]bool
	if err := json.Unmarshal(raw, &decoded); err != nil {
		slog.Warn("invalid tenant permission overrides",
			slog.Int64("user_id", userID),
			slog.Int64("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if len(decoded) == 0 {
		return nil
	}
	overrides := make(model.CapabilityOverrides, len(decoded))
	for key, granted := range decoded {
		c := model.Capability(key)
		if !c.Known() {
			slog.Warn("unknown capability in tenant overrides",
				slog.Int64("user_id", userID),
				slog.Int64("tenant_id", tenantID),
				slog.String("capability", key),
			)
			continue
		}
		overrides[c] = granted
	}
	return overrides
}

// compile-time interface check
var _ MembershipRepository = (*PostgresMembershipRepo)(nil)
