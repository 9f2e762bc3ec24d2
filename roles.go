package access

// Permission is a named capability granted by a resolved role.
type Permission = string

const (
	// PermReadOwn / PermWriteOwn cover the principal's own tenant data
	PermReadOwn  Permission = "read_own"
	PermWriteOwn Permission = "write_own"
	// PermReadClientData / PermWriteClientData cover a client tenant's data
	// when acting as an accountant or subcontractor
	PermReadClientData  Permission = "read_client_data"
	PermWriteClientData Permission = "write_client_data"
	// PermManageUsers and PermSystemAdmin are platform-operator capabilities
	PermManageUsers Permission = "manage_users"
	PermSystemAdmin Permission = "system_admin"
)

// IsValidRoleType checks the role type against the known set.
func IsValidRoleType(r RoleType) bool {
	switch r {
	case RoleBusinessOwner, RoleAccountant, RoleSubcontractor, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRoleType safely parses a string into a RoleType.
func ParseRoleType(s string) (RoleType, bool) {
	r := RoleType(s)
	return r, IsValidRoleType(r)
}

// IsValidAccessLevel checks the access level against the known set.
func IsValidAccessLevel(l AccessLevel) bool {
	switch l {
	case AccessViewer, AccessContributor, AccessEditor, AccessAdmin:
		return true
	default:
		return false
	}
}

// ParseAccessLevel parses an access level, mapping the legacy accountant
// values ("read"/"write"/"full") onto the unified scale.
func ParseAccessLevel(s string) (AccessLevel, bool) {
	switch s {
	case "read":
		return AccessViewer, true
	case "write", "full":
		return AccessEditor, true
	}
	l := AccessLevel(s)
	return l, IsValidAccessLevel(l)
}

// CanWrite reports whether the access level permits mutating operations.
// Only viewer is read-only.
func CanWrite(l AccessLevel) bool {
	switch l {
	case AccessContributor, AccessEditor, AccessAdmin:
		return true
	default:
		return false
	}
}

// AccessLevelAtLeast checks the level against a minimum on the
// viewer < contributor < editor < admin ordering.
func AccessLevelAtLeast(l, min AccessLevel) bool {
	rank := map[AccessLevel]int{
		AccessViewer:      0,
		AccessContributor: 1,
		AccessEditor:      2,
		AccessAdmin:       3,
	}

	current, ok := rank[l]
	if !ok {
		return false
	}

	required, ok := rank[min]
	if !ok {
		return false
	}

	return current >= required
}

// PermissionsFor maps a resolved (role type, access level) pair onto the
// permission set attached to the authorization context.
func PermissionsFor(role RoleType, level AccessLevel) []Permission {
	switch role {
	case RoleBusinessOwner:
		return []Permission{PermReadOwn, PermWriteOwn}
	case RoleAccountant, RoleSubcontractor:
		if CanWrite(level) {
			return []Permission{PermReadClientData, PermWriteClientData}
		}
		return []Permission{PermReadClientData}
	case RoleAdmin:
		return []Permission{PermManageUsers, PermSystemAdmin, PermReadOwn, PermWriteOwn}
	default:
		return nil
	}
}

// AllRoleTypes returns the known role types.
func AllRoleTypes() []RoleType {
	return []RoleType{
		RoleBusinessOwner,
		RoleAccountant,
		RoleSubcontractor,
		RoleAdmin,
	}
}

// AllAccessLevels returns the access levels in ascending order.
func AllAccessLevels() []AccessLevel {
	return []AccessLevel{
		AccessViewer,
		AccessContributor,
		AccessEditor,
		AccessAdmin,
	}
}
