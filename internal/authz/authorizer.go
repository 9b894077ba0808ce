// Package authz はロールとケーパビリティに基づく認可判定を提供する。
package authz

import "github.com/hitoshi/groupware/internal/model"

// ロールごとの基本ケーパビリティ。上位ロールは下位ロールの集合を含む。
var (
	guestCaps = []model.Capability{
		model.CapCalendarView,
		model.CapChatView,
		model.CapTasksView,
		model.CapFilesView,
	}
	standardUserCaps = append(append([]model.Capability{}, guestCaps...),
		model.CapCalendarEdit,
		model.CapChatPost,
		model.CapTasksEdit,
		model.CapFilesUpload,
	)
	specialUserCaps = append(append([]model.Capability{}, standardUserCaps...),
		model.CapCalendarShared,
		model.CapTasksAssign,
		model.CapFilesShare,
		model.CapReportsView,
	)
)

var roleTable = map[model.Role]model.CapabilitySet{
	model.RoleGuest:        newSet(guestCaps),
	model.RoleStandardUser: newSet(standardUserCaps),
	model.RoleSpecialUser:  newSet(specialUserCaps),
	model.RoleAdmin:        newSet([]model.Capability{model.CapAll}),
}

func newSet(caps []model.Capability) model.CapabilitySet {
	s := make(model.CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Capabilities はロールの基本ケーパビリティ集合の複製を返す。
// 未定義のロールは空集合になる。
func Capabilities(role model.Role) model.CapabilitySet {
	base, ok := roleTable[role]
	if !ok {
		return model.CapabilitySet{}
	}
	out := make(model.CapabilitySet, len(base))
	for c := range base {
		out[c] = struct{}{}
	}
	return out
}

// Effective はテナント単位の上書きを適用した実効ケーパビリティ集合を返す。
// adminのワイルドカードは全ケーパビリティに展開してから上書きを適用する。
func Effective(identity *model.Identity) model.CapabilitySet {
	if identity == nil || identity.User == nil {
		return model.CapabilitySet{}
	}
	set := Capabilities(identity.EffectiveRole())
	if set.Has(model.CapAll) {
		set = newSet(model.KnownCapabilities)
	}
	if identity.Membership != nil {
		for c, granted := range identity.Membership.Overrides {
			if !c.Known() || c == model.CapAll {
				continue
			}
			if granted {
				set[c] = struct{}{}
			} else {
				delete(set, c)
			}
		}
	}
	return set
}

// Authorize は認証主体が指定ケーパビリティを持つかを判定する。
// 主体・ロール・ケーパビリティのいずれかが不明な場合は拒否する。
func Authorize(identity *model.Identity, capability model.Capability) bool {
	if identity == nil || identity.User == nil {
		return false
	}
	if capability == model.CapAll || !capability.Known() {
		return false
	}
	if !identity.EffectiveRole().Valid() {
		return false
	}
	return Effective(identity).Has(capability)
}

// Sorted は集合を定義順に並べたスライスで返す。
func Sorted(set model.CapabilitySet) []model.Capability {
	out := make([]model.Capability, 0, len(set))
	for _, c := range model.KnownCapabilities {
		if set.Has(c) {
			out = append(out, c)
		}
	}
	return out
}
