// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/hitoshi/groupware/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに認証主体を格納するためのキー。
var identityContextKey = contextKey("identity")

// errNoIdentity はコンテキストに認証主体が無い場合のエラー。
var errNoIdentity = errors.New("identity not found in context")

// SessionAuthenticator はセッションIDから認証主体を解決するインターフェース。
// auth.Serviceが実装する。
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, sessionID string) (*model.Identity, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 認証主体をリクエストコンテキストに注入する。
// 未認証・期限切れのリクエストには401を、ストア障害には500を返す。
func NewSessionMiddleware(authenticator SessionAuthenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := SessionIDFromRequest(r)
			if sessionID == "" {
				WriteError(w, model.ErrUnauthenticated)
				return
			}

			identity, err := authenticator.Authenticate(r.Context(), sessionID)
			if err != nil {
				WriteError(w, err)
				return
			}

			var tenantID int64
			if identity.Membership != nil {
				tenantID = identity.Membership.TenantID
			}
			annotateRequestLog(r.Context(), identity.User.ID, tenantID)
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// SessionIDFromRequest はCookieからセッションIDを取り出す。無い場合は空文字。
func SessionIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// IdentityFromContext はリクエストコンテキストから認証主体を取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	if !ok || identity == nil || identity.User == nil {
		return nil, errNoIdentity
	}
	return identity, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (int64, error) {
	identity, err := IdentityFromContext(ctx)
	if err != nil {
		return 0, err
	}
	return identity.User.ID, nil
}

// ContextWithIdentity はコンテキストに認証主体を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
