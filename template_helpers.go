package access

import (
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// TemplateAuthKey is the global-data key template helpers read the
// resolved authorization from.
var TemplateAuthKey = "current_authz"

// TemplateHelpers returns a map of helper functions and data for use with
// go-template's WithGlobalData option in server-rendered admin views.
//
// Usage:
//
//	renderer, err := template.NewRenderer(
//	    template.WithBaseDir("./templates"),
//	    template.WithGlobalData(access.TemplateHelpers()),
//	)
//
// In templates:
//
//	{% if current_authz %}
//	{% if current_authz|has_role:"business_owner" %}
//	{% if current_authz|can_edit %}
//	{% if current_authz|can_manage_team %}
func TemplateHelpers() map[string]any {
	return map[string]any{
		"is_authenticated": isAuthenticated,
		"has_role":         hasRole,
		"is_at_least":      isAtLeast,
		"can_read":         canRead,
		"can_edit":         canEdit,
		"can_manage_team":  canManageTeam,
		"can_access":       canAccess,

		// Role and access-level constants for easy template access
		"roles": map[string]string{
			"business_owner": string(RoleBusinessOwner),
			"accountant":     string(RoleAccountant),
			"subcontractor":  string(RoleSubcontractor),
			"admin":          string(RoleAdmin),
		},
		"access_levels": map[string]string{
			"viewer":      string(AccessViewer),
			"contributor": string(AccessContributor),
			"editor":      string(AccessEditor),
			"admin":       string(AccessAdmin),
		},
	}
}

// TemplateHelpersWithAuthorization returns template helpers with a resolved
// authorization injected as current_authz.
func TemplateHelpersWithAuthorization(authz *Authorization) map[string]any {
	helpers := TemplateHelpers()
	helpers[TemplateAuthKey] = authz
	return helpers
}

// TemplateHelpersWithRouter returns template helpers with the authorization
// extracted from router locals, where the access middleware stores it.
//
// Usage:
//
//	globalData := access.TemplateHelpersWithRouter(ctx, "access")
//	// merge with request-specific data and render
func TemplateHelpersWithRouter(ctx router.Context, contextKey string) map[string]any {
	helpers := TemplateHelpers()
	if authz, ok := RouterAuthorization(ctx, contextKey); ok {
		helpers[TemplateAuthKey] = authz
	}
	return helpers
}

func asAuthorization(value any) *Authorization {
	switch v := value.(type) {
	case *Authorization:
		return v
	case Authorization:
		return &v
	default:
		return nil
	}
}

// isAuthenticated checks whether a resolved authorization is present.
func isAuthenticated(value any) bool {
	if authz := asAuthorization(value); authz != nil {
		return authz.PrincipalID != uuid.Nil
	}
	if m, ok := value.(map[string]any); ok {
		// JSON-converted authorization objects
		return len(m) > 0
	}
	return false
}

// hasRole checks whether the resolved role matches the given role type.
func hasRole(value any, role string) bool {
	if authz := asAuthorization(value); authz != nil {
		return authz.RoleType == RoleType(role)
	}
	if m, ok := value.(map[string]any); ok {
		if roleStr, ok := m["role_type"].(string); ok {
			return roleStr == role
		}
	}
	return false
}

// isAtLeast checks whether the access level meets the given minimum.
func isAtLeast(value any, minLevel string) bool {
	min, ok := ParseAccessLevel(minLevel)
	if !ok {
		return false
	}
	if authz := asAuthorization(value); authz != nil {
		return AccessLevelAtLeast(authz.AccessLevel, min)
	}
	if m, ok := value.(map[string]any); ok {
		if levelStr, ok := m["access_level"].(string); ok {
			if level, ok := ParseAccessLevel(levelStr); ok {
				return AccessLevelAtLeast(level, min)
			}
		}
	}
	return false
}

func hasPermission(value any, p Permission) bool {
	if authz := asAuthorization(value); authz != nil {
		return authz.Can(p)
	}
	if m, ok := value.(map[string]any); ok {
		perms, ok := m["permissions"].([]any)
		if !ok {
			return false
		}
		for _, raw := range perms {
			if s, ok := raw.(string); ok && Permission(s) == p {
				return true
			}
		}
	}
	return false
}

// canRead checks whether the principal can read within the resolved scope.
func canRead(value any) bool {
	return hasPermission(value, PermReadOwn) || hasPermission(value, PermReadClientData)
}

// canEdit checks whether the principal can mutate within the resolved scope.
func canEdit(value any) bool {
	return hasPermission(value, PermWriteOwn) || hasPermission(value, PermWriteClientData)
}

// canManageTeam checks whether the principal can manage team membership.
// Business owners manage their own tenant; admins carry manage_users.
func canManageTeam(value any) bool {
	if hasRole(value, string(RoleBusinessOwner)) {
		return true
	}
	return hasPermission(value, PermManageUsers)
}

// canAccess is a convenience dispatcher over the permission helpers.
// Actions supported: "read", "edit", "manage_team".
func canAccess(value any, action string) bool {
	switch action {
	case "read":
		return canRead(value)
	case "edit":
		return canEdit(value)
	case "manage_team":
		return canManageTeam(value)
	default:
		return false
	}
}
