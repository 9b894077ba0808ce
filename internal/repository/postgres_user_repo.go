package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/groupware/internal/model"
)

const userColumns = `id, email, password_hash, display_name, role, status,
	failed_login_count, locked_until, last_login_at, is_system_admin, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
// lower(email)のユニークインデックスを利用する。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`,
		email,
	)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// RegisterFailedLogin はログイン失敗回数を原子的に加算する。
// 単一のUPDATE文で行ロックを取得するため、並行リクエストでも取りこぼしは発生しない。
// ロック期限を過ぎている場合は回数を1から数え直す。
func (r *PostgresUserRepo) RegisterFailedLogin(ctx context.Context, userID int64, threshold int, now, lockUntil time.Time) (int, *time.Time, error) {
	var (
		count       int
		lockedUntil sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET failed_login_count = CASE WHEN locked_until <= $3 THEN 1 ELSE failed_login_count + 1 END,
		     locked_until = CASE
		         WHEN (CASE WHEN locked_until <= $3 THEN 1 ELSE failed_login_count + 1 END) >= $2 THEN $4
		         WHEN locked_until <= $3 THEN NULL
		         ELSE locked_until
		     END,
		     updated_at = $3
		 WHERE id = $1
		 RETURNING failed_login_count, locked_until`,
		userID, threshold, now, lockUntil,
	).Scan(&count, &lockedUntil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to register failed login: %w", err)
	}
	return count, nullTimePtr(lockedUntil), nil
}

// RecordSuccessfulLogin は失敗回数とロックをリセットし、最終ログイン日時を更新する。
// 読み取り後に並行する失敗でロックされた行は更新しない。
func (r *PostgresUserRepo) RecordSuccessfulLogin(ctx context.Context, userID int64, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET failed_login_count = 0, locked_until = NULL, last_login_at = $2, updated_at = now()
		 WHERE id = $1 AND (locked_until IS NULL OR locked_until <= $2)`,
		userID, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record successful login: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		user        model.User
		role        string
		status      string
		lockedUntil sql.NullTime
		lastLoginAt sql.NullTime
	)
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.DisplayName, &role, &status,
		&user.FailedLoginCount, &lockedUntil, &lastLoginAt, &user.IsSystemAdmin,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Role = model.Role(role)
	user.Status = model.UserStatus(status)
	user.LockedUntil = nullTimePtr(lockedUntil)
	user.LastLoginAt = nullTimePtr(lastLoginAt)
	return &user, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
