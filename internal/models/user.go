package models

// Role represents operator roles on the admin surface
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// Claims represents JWT claims carried by an operator token
type Claims struct {
	Subject string `json:"sub"`
	Role    Role   `json:"role"`
	Exp     int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	default:
		return false
	}
}

// HasPermission checks if a role has permission for a specific action
func (r Role) HasPermission(action string) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleOperator:
		return action == "run_sweep" || action == "view_history"
	case RoleViewer:
		return action == "view_history"
	default:
		return false
	}
}
