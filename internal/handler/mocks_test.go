package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/groupware/internal/auth"
	"github.com/hitoshi/groupware/internal/authz"
	"github.com/hitoshi/groupware/internal/middleware"
	"github.com/hitoshi/groupware/internal/model"
	"github.com/hitoshi/groupware/internal/repository"
	"github.com/hitoshi/groupware/internal/security"
)

// --- モック定義 ---

type mockService struct {
	loginFn        func(ctx context.Context, in auth.LoginInput) (*auth.Result, error)
	checkFn        func(ctx context.Context, sessionID string) (*auth.Result, error)
	switchTenantFn func(ctx context.Context, sessionID string, tenantID int64) (*auth.Result, error)
	logoutFn       func(ctx context.Context, sessionID string) error
	authenticateFn func(ctx context.Context, sessionID string) (*model.Identity, error)
}

func (m *mockService) Login(ctx context.Context, in auth.LoginInput) (*auth.Result, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, in)
	}
	return nil, model.ErrInvalidCredentials
}

func (m *mockService) Check(ctx context.Context, sessionID string) (*auth.Result, error) {
	if m.checkFn != nil {
		return m.checkFn(ctx, sessionID)
	}
	return nil, model.ErrUnauthenticated
}

func (m *mockService) SwitchTenant(ctx context.Context, sessionID string, tenantID int64) (*auth.Result, error) {
	if m.switchTenantFn != nil {
		return m.switchTenantFn(ctx, sessionID, tenantID)
	}
	return nil, model.ErrUnauthenticated
}

func (m *mockService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockService) IdleTimeout() time.Duration {
	return 2 * time.Hour
}

func (m *mockService) Authenticate(ctx context.Context, sessionID string) (*model.Identity, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, sessionID)
	}
	return nil, model.ErrUnauthenticated
}

func (m *mockService) Authorize(identity *model.Identity, capability model.Capability) bool {
	return authz.Authorize(identity, capability)
}

var _ Service = (*mockService)(nil)

// memorySessions はリダイレクトカウンタを保持するテスト用SessionRepository。
type memorySessions struct {
	mu       sync.Mutex
	counters map[string]map[string]int
	err      error
}

func newMemorySessions() *memorySessions {
	return &memorySessions{counters: make(map[string]map[string]int)}
}

func (r *memorySessions) Create(context.Context, *model.Session) error { return r.err }

func (r *memorySessions) FindByID(context.Context, string) (*model.Session, error) {
	return nil, r.err
}

func (r *memorySessions) Rotate(context.Context, string, *model.Session) error { return r.err }

func (r *memorySessions) UpdateActivity(context.Context, string, time.Time) error { return r.err }

func (r *memorySessions) UpdateRedirectCounters(_ context.Context, id string, counters map[string]int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.counters[id] = counters
	return nil
}

func (r *memorySessions) DeleteByID(context.Context, string) error { return r.err }

func (r *memorySessions) countersFor(id string) map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.counters[id]))
	for k, v := range r.counters[id] {
		out[k] = v
	}
	return out
}

var _ repository.SessionRepository = (*memorySessions)(nil)

// --- テストデータ ---

func testTenant(id int64, name string) model.Membership {
	return model.Membership{
		UserID:   1,
		TenantID: id,
		Tenant:   model.Tenant{ID: id, Code: name, Name: name, Status: model.TenantStatusActive},
	}
}

func testIdentity(role model.Role) *model.Identity {
	m := testTenant(10, "Alpha")
	return &model.Identity{
		Session: &model.Session{ID: "sess-1", UserID: 1, TenantID: 10},
		User: &model.User{
			ID:          1,
			Email:       "user@example.com",
			DisplayName: "Taro",
			Role:        role,
			Status:      model.UserStatusActive,
		},
		Membership: &m,
	}
}

// identityFromSessions はmemorySessionsに保存されたカウンタを反映した認証主体を返す。
func identityFromSessions(repo *memorySessions, role model.Role) func(context.Context, string) (*model.Identity, error) {
	return func(_ context.Context, sessionID string) (*model.Identity, error) {
		if sessionID == "" {
			return nil, model.ErrUnauthenticated
		}
		identity := testIdentity(role)
		identity.Session.ID = sessionID
		identity.Session.RedirectCounters = repo.countersFor(sessionID)
		return identity, nil
	}
}

func newTestRedirects(t *testing.T, basePath string) *security.RedirectValidator {
	t.Helper()
	v, err := security.NewRedirectValidator("https://groupware.example.com", basePath)
	if err != nil {
		t.Fatalf("NewRedirectValidator: %v", err)
	}
	return v
}

func withSession(r *http.Request, id string) *http.Request {
	r.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: id})
	return r
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeErrorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var env middleware.ErrorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if env.Success {
		t.Error("success should be false")
	}
	return env.Error.Code
}
