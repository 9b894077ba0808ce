package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/groupware/internal/model"
)

// sessionData はsessions.data列(JSONB)の構造。
type sessionData struct {
	RedirectCounters map[string]int `json:"redirect_counters,omitempty"`
}

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// execer は*sql.DBと*sql.Txの共通インターフェース。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if err := insertSession(ctx, r.db, session); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var (
		session model.Session
		data    []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, tenant_id, data, ip_address, user_agent, created_at, last_activity_at
		 FROM sessions
		 WHERE id = $1`,
		id,
	).Scan(&session.ID, &session.UserID, &session.TenantID, &data,
		&session.IPAddress, &session.UserAgent, &session.CreatedAt, &session.LastActivityAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var decoded sessionData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil, fmt.Errorf("failed to decode session data: %w", err)
		}
	}
	session.RedirectCounters = decoded.RedirectCounters

	return &session, nil
}

// Rotate はoldIDのセッションを削除してnextを作成する。
// 同一トランザクションで実行するため、新旧IDが同時に有効になることはない。
func (r *PostgresSessionRepo) Rotate(ctx context.Context, oldID string, next *model.Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if oldID != "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, oldID); err != nil {
			return fmt.Errorf("failed to delete previous session: %w", err)
		}
	}

	if err := insertSession(ctx, tx, next); err != nil {
		return fmt.Errorf("failed to insert rotated session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateActivity は最終アクティビティ日時を更新する。
func (r *PostgresSessionRepo) UpdateActivity(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update session activity: %w", err)
	}
	return nil
}

// UpdateRedirectCounters はリダイレクトループカウンタを上書き保存する。
// 同一セッションへの並行書き込みは後勝ちとなる。
func (r *PostgresSessionRepo) UpdateRedirectCounters(ctx context.Context, id string, counters map[string]int) error {
	data, err := json.Marshal(sessionData{RedirectCounters: counters})
	if err != nil {
		return fmt.Errorf("failed to encode session data: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE sessions SET data = $2 WHERE id = $1`,
		id, data,
	)
	if err != nil {
		return fmt.Errorf("failed to update redirect counters: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func insertSession(ctx context.Context, db execer, session *model.Session) error {
	data, err := json.Marshal(sessionData{RedirectCounters: session.RedirectCounters})
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, tenant_id, data, ip_address, user_agent, created_at, last_activity_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		session.ID, session.UserID, session.TenantID, data,
		session.IPAddress, session.UserAgent, session.CreatedAt, session.LastActivityAt,
	)
	return err
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
