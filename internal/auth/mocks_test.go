package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/groupware/internal/model"
	"github.com/hitoshi/groupware/internal/repository"
)

// --- モック定義 ---

// memoryUserRepo はロックアウト更新をSQLと同じ規則で再現するインメモリ実装。
type memoryUserRepo struct {
	mu     sync.Mutex
	users  map[int64]*model.User
	err    error
	lookup int
}

func newMemoryUserRepo(users ...*model.User) *memoryUserRepo {
	r := &memoryUserRepo{users: make(map[int64]*model.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memoryUserRepo) FindByID(_ context.Context, id int64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *memoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookup++
	if r.err != nil {
		return nil, r.err
	}
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memoryUserRepo) RegisterFailedLogin(_ context.Context, userID int64, threshold int, now, lockUntil time.Time) (int, *time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, nil, r.err
	}
	u := r.users[userID]
	expired := u.LockedUntil != nil && !u.LockedUntil.After(now)
	if expired {
		u.FailedLoginCount = 1
		u.LockedUntil = nil
	} else {
		u.FailedLoginCount++
	}
	if u.FailedLoginCount >= threshold {
		lu := lockUntil
		u.LockedUntil = &lu
	}
	return u.FailedLoginCount, u.LockedUntil, nil
}

func (r *memoryUserRepo) RecordSuccessfulLogin(_ context.Context, userID int64, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	u := r.users[userID]
	if u.LockedUntil != nil && u.LockedUntil.After(at) {
		return false, nil
	}
	u.FailedLoginCount = 0
	u.LockedUntil = nil
	u.LastLoginAt = &at
	return true, nil
}

// interleavedUserRepo は最初のFindByEmailがスナップショットを返した直後にafterFindを実行する。
// 読み取りと更新の間に並行リクエストが割り込む状況を再現する。
type interleavedUserRepo struct {
	*memoryUserRepo
	afterFind func()
}

func (r *interleavedUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := r.memoryUserRepo.FindByEmail(ctx, email)
	if hook := r.afterFind; hook != nil {
		r.afterFind = nil
		hook()
	}
	return u, err
}

type mockMembershipRepo struct {
	listByUserIDFn func(ctx context.Context, userID int64) ([]model.Membership, error)
	findFn         func(ctx context.Context, userID, tenantID int64) (*model.Membership, error)
}

func (m *mockMembershipRepo) ListByUserID(ctx context.Context, userID int64) ([]model.Membership, error) {
	if m.listByUserIDFn != nil {
		return m.listByUserIDFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockMembershipRepo) Find(ctx context.Context, userID, tenantID int64) (*model.Membership, error) {
	if m.findFn != nil {
		return m.findFn(ctx, userID, tenantID)
	}
	return nil, nil
}

// staticMemberships は固定の所属一覧からListByUserIDとFindを提供する。
func staticMemberships(memberships ...model.Membership) *mockMembershipRepo {
	return &mockMembershipRepo{
		listByUserIDFn: func(_ context.Context, userID int64) ([]model.Membership, error) {
			var out []model.Membership
			for _, m := range memberships {
				if m.UserID == userID {
					out = append(out, m)
				}
			}
			return out, nil
		},
		findFn: func(_ context.Context, userID, tenantID int64) (*model.Membership, error) {
			for _, m := range memberships {
				if m.UserID == userID && m.TenantID == tenantID {
					cp := m
					return &cp, nil
				}
			}
			return nil, nil
		},
	}
}

type memorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]model.Session
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{sessions: make(map[string]model.Session)}
}

func (r *memorySessionRepo) Create(_ context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = *s
	return nil
}

func (r *memorySessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *memorySessionRepo) Rotate(_ context.Context, oldID string, next *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, oldID)
	r.sessions[next.ID] = *next
	return nil
}

func (r *memorySessionRepo) UpdateActivity(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.LastActivityAt = at
		r.sessions[id] = s
	}
	return nil
}

func (r *memorySessionRepo) UpdateRedirectCounters(_ context.Context, id string, counters map[string]int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.RedirectCounters = counters
		r.sessions[id] = s
	}
	return nil
}

func (r *memorySessionRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *memorySessionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

type mockAttemptRepo struct {
	mu       sync.Mutex
	attempts []model.LoginAttempt
}

func (m *mockAttemptRepo) Create(_ context.Context, attempt *model.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *attempt)
	return nil
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	locked   int
	switched int
	expired  int
}

func (r *countingRecorder) LoginAttempt(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string]int)
	}
	r.outcomes[outcome]++
}
func (r *countingRecorder) AccountLocked()  { r.mu.Lock(); r.locked++; r.mu.Unlock() }
func (r *countingRecorder) TenantSwitched() { r.mu.Lock(); r.switched++; r.mu.Unlock() }
func (r *countingRecorder) SessionExpired() { r.mu.Lock(); r.expired++; r.mu.Unlock() }

// --- compile-time interface checks ---
var _ repository.UserRepository = (*memoryUserRepo)(nil)
var _ repository.UserRepository = (*interleavedUserRepo)(nil)
var _ repository.MembershipRepository = (*mockMembershipRepo)(nil)
var _ repository.SessionRepository = (*memorySessionRepo)(nil)
var _ repository.LoginAttemptRepository = (*mockAttemptRepo)(nil)
var _ Recorder = (*countingRecorder)(nil)

// --- テストデータ ---

func mustHash(t *testing.T, h PasswordHasher, password string) string {
	t.Helper()
	hash, err := h.Hash(password)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	return hash
}

func activeMembership(userID, tenantID int64, name string, isDefault bool) model.Membership {
	return model.Membership{
		UserID:    userID,
		TenantID:  tenantID,
		IsDefault: isDefault,
		Tenant:    model.Tenant{ID: tenantID, Code: name, Name: name, Status: model.TenantStatusActive},
	}
}
