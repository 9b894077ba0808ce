// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// アイドル期限を過ぎたセッションと、保持期間を超過したログイン試行記録を削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays はログイン試行記録の保持日数のデフォルト値。
const DefaultRetentionDays = 90

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Recorder は削除件数を記録するインターフェース。metrics.Collectorが実装する。
type Recorder interface {
	CleanupDeleted(table string, count int64)
}

// Config はクリーンアップジョブの設定。
type Config struct {
	IdleTimeout   time.Duration // セッションのアイドル有効期間
	RetentionDays int           // ログイン試行記録の保持日数（0以下の場合はDefaultRetentionDays）
}

// Job は期限切れセッションと古いログイン試行記録の削除ジョブ。
// 何度実行しても結果が変わらない。
type Job struct {
	db       Executor
	logger   *slog.Logger
	recorder Recorder
	config   Config
	now      func() time.Time
}

// NewJob は新しいJobを生成する。recorderはnilでもよい。
func NewJob(db Executor, logger *slog.Logger, recorder Recorder, config Config) *Job {
	if config.RetentionDays <= 0 {
		config.RetentionDays = DefaultRetentionDays
	}
	return &Job{
		db:       db,
		logger:   logger,
		recorder: recorder,
		config:   config,
		now:      time.Now,
	}
}

type target struct {
	table  string
	query  string
	cutoff time.Time
}

// Run は削除対象のテーブルを順に処理する。
// 1つのテーブルで失敗しても残りのテーブルは処理し、最初のエラーを返す。
func (j *Job) Run(ctx context.Context) error {
	now := j.now()
	targets := []target{
		{
			table:  "sessions",
			query:  `DELETE FROM sessions WHERE last_activity_at < $1`,
			cutoff: now.Add(-j.config.IdleTimeout),
		},
		{
			table:  "login_attempts",
			query:  `DELETE FROM login_attempts WHERE attempted_at < $1`,
			cutoff: now.AddDate(0, 0, -j.config.RetentionDays),
		},
	}

	var firstErr error
	for _, t := range targets {
		if err := j.purge(ctx, t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (j *Job) purge(ctx context.Context, t target) error {
	start := time.Now()

	result, err := j.db.ExecContext(ctx, t.query, t.cutoff)
	if err != nil {
		j.logger.Error("cleanup failed",
			slog.String("table", t.table),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to clean up %s: %w", t.table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get deleted count for %s: %w", t.table, err)
	}
	if j.recorder != nil {
		j.recorder.CleanupDeleted(t.table, deleted)
	}

	j.logger.Info("cleanup completed",
		slog.String("table", t.table),
		slog.Int64("deleted_count", deleted),
		slog.Time("cutoff", t.cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は指定間隔でRunを繰り返す。起動直後に1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("cleanup worker started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", j.config.RetentionDays),
	)

	j.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *Job) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup cycle failed", slog.String("error", err.Error()))
	}
}
