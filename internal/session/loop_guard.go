package session

import (
	"context"

	"github.com/hitoshi/groupware/internal/model"
	"github.com/hitoshi/groupware/internal/repository"
)

// リダイレクトループ検出のコンテキスト名。
const (
	ContextAdminAccess   = "admin_access"
	ContextHomeAccess    = "home_access"
	ContextLoginRedirect = "login_redirect"
)

// DefaultLoopThreshold はループと判定するまでに許容するリダイレクト回数。
const DefaultLoopThreshold = 3

// LoopGuard はセッション内のコンテキストごとのリダイレクト回数を数え、ループを検出する。
type LoopGuard struct {
	sessions  repository.SessionRepository
	threshold int
}

// NewLoopGuard はLoopGuardを生成する。thresholdが0以下の場合はDefaultLoopThresholdを使用する。
func NewLoopGuard(sessions repository.SessionRepository, threshold int) *LoopGuard {
	if threshold <= 0 {
		threshold = DefaultLoopThreshold
	}
	return &LoopGuard{sessions: sessions, threshold: threshold}
}

// Observe はコンテキストのカウンタを1増やして保存する。
// カウンタが閾値を超えた場合にtrueを返す。
func (g *LoopGuard) Observe(ctx context.Context, s *model.Session, key string) (bool, error) {
	counters := make(map[string]int, len(s.RedirectCounters)+1)
	for k, v := range s.RedirectCounters {
		counters[k] = v
	}
	counters[key]++

	if err := g.sessions.UpdateRedirectCounters(ctx, s.ID, counters); err != nil {
		return false, model.NewStoreUnavailableError(err)
	}
	s.RedirectCounters = counters

	return counters[key] > g.threshold, nil
}

// Reset はコンテキストのカウンタを消去する。カウンタが無い場合は書き込まない。
func (g *LoopGuard) Reset(ctx context.Context, s *model.Session, key string) error {
	if _, ok := s.RedirectCounters[key]; !ok {
		return nil
	}

	counters := make(map[string]int, len(s.RedirectCounters))
	for k, v := range s.RedirectCounters {
		if k != key {
			counters[k] = v
		}
	}

	if err := g.sessions.UpdateRedirectCounters(ctx, s.ID, counters); err != nil {
		return model.NewStoreUnavailableError(err)
	}
	s.RedirectCounters = counters
	return nil
}
