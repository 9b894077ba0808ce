package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/groupware/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Category string   `json:"category,omitempty"`
	Action   string   `json:"action,omitempty"`
	Fields   []string `json:"fields,omitempty"`
}

// ErrorEnvelope はエラー時のレスポンス全体。
type ErrorEnvelope struct {
	Success bool              `json:"success"`
	Error   ErrorResponseBody `json:"error"`
}

// statusByCode はエラーコードとHTTPステータスの対応表。
// account_locked は invalid_credentials と同じ401を返し、コードのみで区別する。
var statusByCode = map[string]int{
	model.ErrCodeMissingField:         http.StatusBadRequest,
	model.ErrCodeMissingFields:        http.StatusBadRequest,
	model.ErrCodeInvalidRequest:       http.StatusBadRequest,
	model.ErrCodeInvalidAction:        http.StatusBadRequest,
	model.ErrCodeInvalidCredentials:   http.StatusUnauthorized,
	model.ErrCodeAccountLocked:        http.StatusUnauthorized,
	model.ErrCodeAccountInactive:      http.StatusForbidden,
	model.ErrCodeTenantNotFound:       http.StatusNotFound,
	model.ErrCodeTenantAccessDenied:   http.StatusForbidden,
	model.ErrCodeSessionExpired:       http.StatusUnauthorized,
	model.ErrCodeUnauthenticated:      http.StatusUnauthorized,
	model.ErrCodeRedirectLoopDetected: http.StatusLoopDetected,
	model.ErrCodeStoreUnavailable:     http.StatusInternalServerError,
	ErrCodeRateLimitExceeded:          http.StatusTooManyRequests,
	ErrCodeCSRFTokenInvalid:           http.StatusForbidden,
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。
// 未定義のコードは500とする。
func StatusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorEnvelope{
		Success: false,
		Error: ErrorResponseBody{
			Code:     apiErr.Code,
			Message:  apiErr.Message,
			Category: apiErr.Category,
			Action:   apiErr.Action,
			Fields:   apiErr.Fields,
		},
	})
}

// WriteError はエラーをコードに応じたステータスで書き込む。
// APIErrorでないエラーや永続化層の障害は原因をログに残し、一般的なメッセージのみ返す。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("unexpected error", slog.String("error", err.Error()))
		WriteInternalServerError(w)
		return
	}
	if apiErr.Code == model.ErrCodeStoreUnavailable {
		slog.Error("store unavailable", slog.String("error", err.Error()))
		WriteInternalServerError(w)
		return
	}
	WriteErrorResponse(w, StatusForCode(apiErr.Code), apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.ErrStoreUnavailable)
}
