package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	// RoleVisitor is held by a website visitor's widget token; its subject is the widget id.
	RoleVisitor    = "visitor"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsKnownRole(role string) bool {
	switch role {
	case RoleVisitor, RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}
