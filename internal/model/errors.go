// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string   // エラーコード
	Message  string   // エラーメッセージ
	Category string   // カテゴリ: auth, validation, tenant, session, system
	Action   string   // ユーザー向け対処方法
	Fields   []string // 不足している入力フィールド（missing_field(s) のみ）

	cause error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is はエラーコードが一致する場合に true を返す。
// errors.Is(err, model.ErrInvalidCredentials) の形で判定できる。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.cause
}

// 定義済みエラーコード
const (
	ErrCodeMissingField         = "missing_field"
	ErrCodeMissingFields        = "missing_fields"
	ErrCodeInvalidRequest       = "invalid_request"
	ErrCodeInvalidAction        = "invalid_action"
	ErrCodeInvalidCredentials   = "invalid_credentials"
	ErrCodeAccountLocked        = "account_locked"
	ErrCodeAccountInactive      = "account_inactive"
	ErrCodeTenantNotFound       = "tenant_not_found"
	ErrCodeTenantAccessDenied   = "tenant_access_denied"
	ErrCodeSessionExpired       = "session_expired"
	ErrCodeUnauthenticated      = "unauthenticated"
	ErrCodeRedirectLoopDetected = "redirect_loop_detected"
	ErrCodeStoreUnavailable     = "server_error"
)

// 比較用のセンチネル。errors.Is はコードで一致判定する。
var (
	ErrMissingField = &APIError{
		Code:     ErrCodeMissingField,
		Message:  "必須項目が入力されていません。",
		Category: "validation",
		Action:   "未入力の項目を入力してください。",
	}
	ErrMissingFields = &APIError{
		Code:     ErrCodeMissingFields,
		Message:  "必須項目が入力されていません。",
		Category: "validation",
		Action:   "未入力の項目を入力してください。",
	}
	ErrInvalidCredentials = &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
	ErrAccountLocked = &APIError{
		Code:     ErrCodeAccountLocked,
		Message:  "ログイン試行回数が上限に達したため、アカウントが一時的にロックされています。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
	ErrAccountInactive = &APIError{
		Code:     ErrCodeAccountInactive,
		Message:  "このアカウントは無効化されています。",
		Category: "auth",
		Action:   "管理者に連絡してください。",
	}
	ErrTenantNotFound = &APIError{
		Code:     ErrCodeTenantNotFound,
		Message:  "利用可能なテナントが見つかりません。",
		Category: "tenant",
		Action:   "テナントの状態を管理者に確認してください。",
	}
	ErrTenantAccessDenied = &APIError{
		Code:     ErrCodeTenantAccessDenied,
		Message:  "指定されたテナントへのアクセス権がありません。",
		Category: "tenant",
		Action:   "所属しているテナントを選択してください。",
	}
	ErrSessionExpired = &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "一定時間操作がなかったため、セッションの有効期限が切れました。",
		Category: "session",
		Action:   "ログインし直してください。",
	}
	ErrUnauthenticated = &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインしていません。",
		Category: "session",
		Action:   "ログインしてください。",
	}
	ErrRedirectLoopDetected = &APIError{
		Code:     ErrCodeRedirectLoopDetected,
		Message:  "リダイレクトの繰り返しを検出したため、処理を中断しました。",
		Category: "session",
		Action:   "Cookieを削除してから再度ログインしてください。解決しない場合は管理者に連絡してください。",
	}
	ErrStoreUnavailable = &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
)

// NewMissingFieldsError は未入力フィールドのエラーを生成する。
// フィールドが1つの場合は missing_field、複数の場合は missing_fields になる。
func NewMissingFieldsError(fields ...string) *APIError {
	base := ErrMissingFields
	if len(fields) == 1 {
		base = ErrMissingField
	}
	return &APIError{
		Code:     base.Code,
		Message:  fmt.Sprintf("必須項目が入力されていません: %s", strings.Join(fields, ", ")),
		Category: base.Category,
		Action:   base.Action,
		Fields:   fields,
	}
}

// NewStoreUnavailableError は永続化層の障害を表すエラーを生成する。
// 原因はログ用に保持し、クライアントには一般的なメッセージのみ返す。
func NewStoreUnavailableError(cause error) *APIError {
	return &APIError{
		Code:     ErrStoreUnavailable.Code,
		Message:  ErrStoreUnavailable.Message,
		Category: ErrStoreUnavailable.Category,
		Action:   ErrStoreUnavailable.Action,
		cause:    cause,
	}
}

// NewInvalidRequestError はリクエストボディの形式不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストの形式が正しくありません: %s", reason),
		Category: "validation",
		Action:   "JSON形式のリクエストを送信してください。",
	}
}

// NewInvalidActionError は未対応のactionが指定された場合のエラーを生成する。
func NewInvalidActionError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAction,
		Message:  fmt.Sprintf("未対応のactionです: %s", action),
		Category: "validation",
		Action:   "actionには login、check、logout、switch_tenant のいずれかを指定してください。",
	}
}
