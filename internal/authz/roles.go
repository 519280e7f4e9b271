package authz

import "printflow/internal/models"

const (
	RoleSales      = 10
	RoleProduction = 20
	RoleAudit      = 30
	RoleManagement = 40
	RoleAdmin      = 50
)

// Actor is the identity performing an action.
type Actor struct {
	UserID int64
	RoleID int
}

func IsAdmin(roleID int) bool {
	return roleID == RoleAdmin
}

func IsElevated(roleID int) bool {
	return roleID == RoleProduction || roleID == RoleManagement || roleID == RoleAdmin
}

func IsReadOnly(roleID int) bool {
	return roleID == RoleAudit
}

// CanAct reports whether the actor may view, snooze or complete the reminder.
func CanAct(r *models.Reminder, a Actor) bool {
	if r == nil {
		return false
	}
	if IsAdmin(a.RoleID) {
		return true
	}
	return r.CreatedBy == a.UserID || r.HasRecipient(a.UserID)
}

// CanManage reports whether the actor may cancel, pause or resume the reminder.
func CanManage(r *models.Reminder, a Actor) bool {
	if r == nil {
		return false
	}
	return IsAdmin(a.RoleID) || r.CreatedBy == a.UserID
}
