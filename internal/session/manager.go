// Package session はログインセッションのライフサイクル管理を提供する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/groupware/internal/model"
	"github.com/hitoshi/groupware/internal/repository"
)

// DefaultIdleTimeout はセッションのアイドル有効期間のデフォルト値。
const DefaultIdleTimeout = 2 * time.Hour

// idBytes はセッションIDの乱数バイト長（256ビット）。
const idBytes = 32

// Manager はセッションの作成・更新・破棄を行う。
type Manager struct {
	sessions    repository.SessionRepository
	idleTimeout time.Duration
	now         func() time.Time
	newID       func() (string, error)
}

// NewManager はManagerを生成する。idleTimeoutが0以下の場合はDefaultIdleTimeoutを使用する。
func NewManager(sessions repository.SessionRepository, idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Manager{
		sessions:    sessions,
		idleTimeout: idleTimeout,
		now:         time.Now,
		newID:       generateID,
	}
}

// IdleTimeout はアイドル有効期間を返す。
func (m *Manager) IdleTimeout() time.Duration {
	return m.idleTimeout
}

// Create は新しいIDでセッションを作成する。
// previousIDが指定された場合、同じトランザクションで削除する。
func (m *Manager) Create(ctx context.Context, previousID string, userID, tenantID int64, meta model.ClientMeta) (*model.Session, error) {
	id, err := m.newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := m.now()
	session := &model.Session{
		ID:             id,
		UserID:         userID,
		TenantID:       tenantID,
		CreatedAt:      now,
		LastActivityAt: now,
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
	}

	if err := m.sessions.Rotate(ctx, previousID, session); err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	return session, nil
}

// Load はセッションを読み込む。状態は変更しない。
// 存在しない場合はUnauthenticated、アイドル期限切れの場合はSessionExpiredを返す。
func (m *Manager) Load(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, model.ErrUnauthenticated
	}
	session, err := m.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if session == nil {
		return nil, model.ErrUnauthenticated
	}
	if m.expired(session) {
		return session, model.ErrSessionExpired
	}
	return session, nil
}

// Touch は最終アクティビティ日時を更新する。
// アイドル期限を過ぎている場合はセッションを削除してSessionExpiredを返す。
func (m *Manager) Touch(ctx context.Context, session *model.Session) (*model.Session, error) {
	if m.expired(session) {
		if err := m.sessions.DeleteByID(ctx, session.ID); err != nil {
			return nil, model.NewStoreUnavailableError(err)
		}
		slog.Info("session expired",
			slog.Int64("user_id", session.UserID),
			slog.String("session", ShortID(session.ID)),
		)
		return nil, model.ErrSessionExpired
	}

	now := m.now()
	if err := m.sessions.UpdateActivity(ctx, session.ID, now); err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	session.LastActivityAt = now
	return session, nil
}

// Regenerate はセッションIDを新しいものに置き換える。バインドされた情報は引き継ぐ。
func (m *Manager) Regenerate(ctx context.Context, session *model.Session) (*model.Session, error) {
	return m.rotate(ctx, session, session.TenantID)
}

// SwitchTenant は現在テナントを変更し、同時にセッションIDを再生成する。
// 所属の検証は呼び出し側で行う。
func (m *Manager) SwitchTenant(ctx context.Context, session *model.Session, tenantID int64) (*model.Session, error) {
	return m.rotate(ctx, session, tenantID)
}

// Destroy はセッションを削除する。IDが空または存在しない場合もエラーにしない。
func (m *Manager) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := m.sessions.DeleteByID(ctx, id); err != nil {
		return model.NewStoreUnavailableError(err)
	}
	return nil
}

func (m *Manager) rotate(ctx context.Context, session *model.Session, tenantID int64) (*model.Session, error) {
	id, err := m.newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	next := *session
	next.ID = id
	next.TenantID = tenantID
	next.LastActivityAt = m.now()
	if session.RedirectCounters != nil {
		next.RedirectCounters = make(map[string]int, len(session.RedirectCounters))
		for k, v := range session.RedirectCounters {
			next.RedirectCounters[k] = v
		}
	}

	if err := m.sessions.Rotate(ctx, session.ID, &next); err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	return &next, nil
}

func (m *Manager) expired(session *model.Session) bool {
	return session.IdleSince(m.now()) > m.idleTimeout
}

// ShortID はログ出力用にセッションIDの先頭8文字を返す。
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// generateID は暗号論的に安全な乱数からセッションIDを生成する。
func generateID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
