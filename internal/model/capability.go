package model

// Capability は認可判定に使うケーパビリティタグ。
type Capability string

// 定義済みケーパビリティ。ここに無いタグは常に拒否される。
const (
	CapAll Capability = "all"

	CapCalendarView   Capability = "calendar.view"
	CapCalendarEdit   Capability = "calendar.edit"
	CapCalendarShared Capability = "calendar.manage_shared"
	CapChatView       Capability = "chat.view"
	CapChatPost       Capability = "chat.post"
	CapTasksView      Capability = "tasks.view"
	CapTasksEdit      Capability = "tasks.edit"
	CapTasksAssign    Capability = "tasks.assign"
	CapFilesView      Capability = "files.view"
	CapFilesUpload    Capability = "files.upload"
	CapFilesShare     Capability = "files.share"
	CapReportsView    Capability = "reports.view"
	CapUsersManage    Capability = "users.manage"
	CapTenantsManage  Capability = "tenants.manage"
	CapAdminPanel     Capability = "admin.panel"
)

// KnownCapabilities は CapAll を除く全ケーパビリティ。
var KnownCapabilities = []Capability{
	CapCalendarView, CapCalendarEdit, CapCalendarShared,
	CapChatView, CapChatPost,
	CapTasksView, CapTasksEdit, CapTasksAssign,
	CapFilesView, CapFilesUpload, CapFilesShare,
	CapReportsView,
	CapUsersManage, CapTenantsManage, CapAdminPanel,
}

// Known はタグが定義済みかどうかを返す。
func (c Capability) Known() bool {
	if c == CapAll {
		return true
	}
	for _, k := range KnownCapabilities {
		if k == c {
			return true
		}
	}
	return false
}

// CapabilitySet はケーパビリティの集合。
type CapabilitySet map[Capability]struct{}

// Has は集合にケーパビリティが含まれるかを返す。
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// CapabilityOverrides はテナント単位の上書き設定。
// true は付与、false は剥奪を意味する。
type CapabilityOverrides map[Capability]bool
