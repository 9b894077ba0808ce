package session

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/groupware/internal/model"
)

// 4回目のObserveでループと判定されることを検証
func TestLoopGuard_Observe_FourthCallIsLoop(t *testing.T) {
	repo := newMemorySessionRepo()
	s := &model.Session{ID: "s1"}
	repo.sessions["s1"] = *s
	g := NewLoopGuard(repo, 3)
	ctx := context.Background()

	want := []bool{false, false, false, true}
	for i, w := range want {
		loop, err := g.Observe(ctx, s, "ctx")
		if err != nil {
			t.Fatalf("Observe #%d: %v", i+1, err)
		}
		if loop != w {
			t.Errorf("Observe #%d = %v, want %v", i+1, loop, w)
		}
	}

	stored, _ := repo.FindByID(ctx, "s1")
	if stored.RedirectCounters["ctx"] != 4 {
		t.Errorf("persisted counter = %d, want 4", stored.RedirectCounters["ctx"])
	}
}

// Resetでカウンタが初期化されることを検証
func TestLoopGuard_Reset(t *testing.T) {
	repo := newMemorySessionRepo()
	s := &model.Session{ID: "s1"}
	repo.sessions["s1"] = *s
	g := NewLoopGuard(repo, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := g.Observe(ctx, s, "ctx"); err != nil {
			t.Fatalf("Observe: %v", err)
		}
	}
	if err := g.Reset(ctx, s, "ctx"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	loop, err := g.Observe(ctx, s, "ctx")
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if loop {
		t.Error("counter should restart after Reset")
	}
}

// コンテキストごとに独立して数えることを検証
func TestLoopGuard_ContextsAreIndependent(t *testing.T) {
	repo := newMemorySessionRepo()
	s := &model.Session{ID: "s1"}
	repo.sessions["s1"] = *s
	g := NewLoopGuard(repo, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := g.Observe(ctx, s, ContextAdminAccess); err != nil {
			t.Fatalf("Observe: %v", err)
		}
	}
	loop, err := g.Observe(ctx, s, ContextLoginRedirect)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if loop {
		t.Error("a different context must not inherit the counter")
	}
	if err := g.Reset(ctx, s, ContextLoginRedirect); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if s.RedirectCounters[ContextAdminAccess] != 3 {
		t.Errorf("admin_access counter = %d, want 3", s.RedirectCounters[ContextAdminAccess])
	}
}

// カウンタが無いコンテキストのResetは書き込まないことを検証
func TestLoopGuard_Reset_NoCounterNoWrite(t *testing.T) {
	repo := newMemorySessionRepo()
	repo.err = errors.New("should not be called")
	g := NewLoopGuard(repo, 3)

	if err := g.Reset(context.Background(), &model.Session{ID: "s1"}, "ctx"); err != nil {
		t.Errorf("Reset without counter should be a no-op, got %v", err)
	}
}

// 保存失敗時はカウンタを更新しないことを検証
func TestLoopGuard_Observe_StoreError(t *testing.T) {
	repo := newMemorySessionRepo()
	repo.err = errors.New("down")
	g := NewLoopGuard(repo, 3)
	s := &model.Session{ID: "s1"}

	_, err := g.Observe(context.Background(), s, "ctx")
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
	if s.RedirectCounters["ctx"] != 0 {
		t.Error("in-memory counter must not change when persisting fails")
	}
}
