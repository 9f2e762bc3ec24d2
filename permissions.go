package access

import (
	"net/http"

	"github.com/google/uuid"
)

// IsMutatingMethod classifies HTTP methods for write gating. Non-mutating
// methods are never blocked by the evaluator.
func IsMutatingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// EnsureWriteAllowed gates mutating requests on the resolved access level.
// An accountant with a read-only grant and a subcontractor whose grant for
// the project in question is viewer are both rejected before business
// logic runs. The check is a pure predicate: safe to call repeatedly while
// composing middleware.
func EnsureWriteAllowed(authz *Authorization, method string, projectID uuid.UUID) error {
	if !IsMutatingMethod(method) {
		return nil
	}
	if authz == nil {
		return ErrTokenMalformed
	}

	switch authz.Kind {
	case PrincipalAccountant:
		if !authz.Can(PermWriteClientData) {
			return ErrPermissionDenied
		}
	case PrincipalSubcontractor:
		target := projectID
		if target == uuid.Nil {
			target = authz.TargetProjectID
		}
		grant, ok := authz.GrantFor(target)
		if !ok {
			return ErrProjectAccessDenied
		}
		if !CanWrite(grant.AccessLevel) {
			return ErrPermissionDenied
		}
	}

	return nil
}

// EnsureProjectScope verifies that any project named by the request falls
// inside a subcontractor's grant list. Enforced independently of write
// gating, for reads and writes alike; other principal kinds pass through.
func EnsureProjectScope(authz *Authorization, projectID uuid.UUID) error {
	if authz == nil {
		return ErrTokenMalformed
	}
	if authz.Kind != PrincipalSubcontractor || projectID == uuid.Nil {
		return nil
	}
	if _, ok := authz.GrantFor(projectID); !ok {
		return ErrProjectAccessDenied
	}
	return nil
}
