package auth

// Admin role constants.
const (
	RoleViewer     = "viewer"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// AllAdminRoles returns all valid admin roles. Every role may read reports and alerts.
func AllAdminRoles() []string {
	return []string{RoleViewer, RoleAdmin, RoleSuperAdmin}
}

// WriteRoles returns roles that may terminate sessions and run maintenance.
func WriteRoles() []string {
	return []string{RoleAdmin, RoleSuperAdmin}
}
