package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/groupware/internal/model"
)

// PostgresLoginAttemptRepo はPostgreSQLを使用したログイン試行リポジトリ。
type PostgresLoginAttemptRepo struct {
	db *sql.DB
}

// NewPostgresLoginAttemptRepo はPostgresLoginAttemptRepoを生成する。
func NewPostgresLoginAttemptRepo(db *sql.DB) *PostgresLoginAttemptRepo {
	return &PostgresLoginAttemptRepo{db: db}
}

// Create はログイン試行を記録する。
func (r *PostgresLoginAttemptRepo) Create(ctx context.Context, attempt *model.LoginAttempt) error {
	var userID sql.NullInt64
	if attempt.UserID != nil {
		userID = sql.NullInt64{Int64: *attempt.UserID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_attempts (id, email, user_id, ip_address, user_agent, success, failure_reason, attempted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		attempt.ID, attempt.Email, userID, attempt.IPAddress, attempt.UserAgent,
		attempt.Success, attempt.FailureReason, attempt.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}
	return nil
}

// compile-time interface check
var _ LoginAttemptRepository = (*PostgresLoginAttemptRepo)(nil)
