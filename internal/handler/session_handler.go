package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hitoshi/groupware/internal/authz"
	"github.com/hitoshi/groupware/internal/middleware"
	"github.com/hitoshi/groupware/internal/model"
	"github.com/hitoshi/groupware/internal/security"
)

// Authorizer は認可判定のインターフェース。auth.Serviceが実装する。
type Authorizer interface {
	Authorize(identity *model.Identity, capability model.Capability) bool
}

// SessionHandler はセッションミドルウェア配下の照会APIを提供する。
type SessionHandler struct {
	authorizer Authorizer
	sanitizer  *security.TextSanitizer
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(authorizer Authorizer, sanitizer *security.TextSanitizer) *SessionHandler {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	return &SessionHandler{authorizer: authorizer, sanitizer: sanitizer}
}

type currentSessionResponse struct {
	Success         bool         `json:"success"`
	User            userResponse `json:"user"`
	CurrentTenantID int64        `json:"current_tenant_id"`
	TenantName      string       `json:"tenant_name"`
	Capabilities    []string     `json:"capabilities"`
}

// Current は現在の認証主体と実効ケーパビリティを返す。
// GET <base>/api/session
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.ErrUnauthenticated)
		return
	}

	caps := authz.Sorted(authz.Effective(identity))
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}

	writeJSON(w, http.StatusOK, currentSessionResponse{
		Success: true,
		User: userResponse{
			ID:      identity.User.ID,
			Email:   identity.User.Email,
			Name:    h.sanitizer.Sanitize(identity.User.DisplayName),
			Role:    string(identity.EffectiveRole()),
			IsAdmin: identity.IsAdmin(),
		},
		CurrentTenantID: identity.Membership.TenantID,
		TenantName:      h.sanitizer.Sanitize(identity.Membership.Tenant.Name),
		Capabilities:    names,
	})
}

type authorizeRequest struct {
	Capability string `json:"capability"`
}

type authorizeResponse struct {
	Success    bool   `json:"success"`
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
}

// Authorize は指定ケーパビリティの可否を返す。未知のケーパビリティは不許可。
// POST <base>/api/authorize
func (h *SessionHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.ErrUnauthenticated)
		return
	}

	var req authorizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAuthBodyBytes)).Decode(&req); err != nil {
		middleware.WriteError(w, model.NewInvalidRequestError("invalid JSON"))
		return
	}
	capability := strings.TrimSpace(req.Capability)
	if capability == "" {
		middleware.WriteError(w, model.NewMissingFieldsError("capability"))
		return
	}

	writeJSON(w, http.StatusOK, authorizeResponse{
		Success:    true,
		Capability: capability,
		Allowed:    h.authorizer.Authorize(identity, model.Capability(capability)),
	})
}
