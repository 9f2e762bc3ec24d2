package access

import (
	"github.com/google/uuid"
)

// ProjectGrantRef is the per-project slice of a subcontractor's access
// retained in the authorization context for later scope checks within the
// same request.
type ProjectGrantRef struct {
	ProjectID   uuid.UUID   `json:"project_id"`
	OwnerID     uuid.UUID   `json:"owner_id"`
	AccessLevel AccessLevel `json:"access_level"`
}

// Authorization is the request-scoped result of role resolution: who is
// acting, in what capacity, with which permissions, against whose tenant.
// It is derived fresh per request and never persisted.
type Authorization struct {
	// PrincipalID is the acting user's id
	PrincipalID uuid.UUID
	// RoleID is set for role-switch sessions; zero for plain user sessions
	RoleID uuid.UUID
	Kind   PrincipalKind

	RoleType    RoleType
	AccessLevel AccessLevel
	Permissions []Permission

	// TargetOwnerID is the tenant whose data is being accessed. For an
	// accountant this is the client selected via X-User-ID, not the token
	// holder.
	TargetOwnerID uuid.UUID
	// TargetProjectID is the selected project for subcontractor sessions
	TargetProjectID uuid.UUID
	// ProjectGrants lists every active grant held by a subcontractor
	ProjectGrants []ProjectGrantRef

	Email string
}

// Can reports whether the permission set includes p.
func (a *Authorization) Can(p Permission) bool {
	if a == nil {
		return false
	}
	for _, held := range a.Permissions {
		if held == p {
			return true
		}
	}
	return false
}

// GrantFor returns the project grant covering projectID, if any.
func (a *Authorization) GrantFor(projectID uuid.UUID) (ProjectGrantRef, bool) {
	if a == nil {
		return ProjectGrantRef{}, false
	}
	for _, g := range a.ProjectGrants {
		if g.ProjectID == projectID {
			return g, true
		}
	}
	return ProjectGrantRef{}, false
}

// LegacyIdentity is the flat projection consumed by the CRUD controllers,
// which key every query off createdBy/userId rather than the full context.
type LegacyIdentity struct {
	UserID    string `json:"userId"`
	ID        string `json:"id"`
	CreatedBy string `json:"createdBy"`
}

// Legacy derives the projection: all three fields carry the target tenant
// so owner-scoped queries transparently act on the resolved tenant.
func (a *Authorization) Legacy() LegacyIdentity {
	if a == nil {
		return LegacyIdentity{}
	}
	target := a.TargetOwnerID.String()
	return LegacyIdentity{
		UserID:    target,
		ID:        target,
		CreatedBy: target,
	}
}
