package access

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// Header names for the optional request context accompanying a bearer
// token.
const (
	// HeaderClientID selects the client tenant for accountants.
	HeaderClientID = "X-User-ID"
	// HeaderProjectID selects the working project for subcontractors.
	HeaderProjectID = "X-Project-ID"
)

// Headers carries the optional request context accompanying a bearer token:
// X-User-ID selects the client tenant for accountants, X-Project-ID selects
// the project for subcontractors.
type Headers struct {
	ClientID  string
	ProjectID string
}

// ResolverStore is the slice of the identity store the resolver needs.
// RepositoryManager satisfies it; tests substitute mocks.
type ResolverStore interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetRoleByID(ctx context.Context, id uuid.UUID) (*RoleAssignment, error)
	ActiveRoleOfType(ctx context.Context, userID uuid.UUID, roleType RoleType) (*RoleAssignment, error)
	ActiveAccountantGrant(ctx context.Context, userID, ownerID uuid.UUID) (*RoleAssignment, error)
	ActiveProjectGrants(ctx context.Context, userID uuid.UUID) ([]*ProjectGrant, error)
	TouchRoleAccess(ctx context.Context, roleID uuid.UUID) error
}

// RoleResolver turns a bearer token plus context headers into the
// request-scoped Authorization. Resolution fails closed: no fallback
// identity is ever assumed.
type RoleResolver struct {
	store  ResolverStore
	tokens TokenValidator
	logger Logger
}

// NewRoleResolver wires a resolver over the given store and validator.
func NewRoleResolver(store ResolverStore, tokens TokenValidator) *RoleResolver {
	return &RoleResolver{
		store:  store,
		tokens: tokens,
		logger: defLogger{},
	}
}

// WithLogger overrides the resolver logger.
func (r *RoleResolver) WithLogger(logger Logger) *RoleResolver {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Resolve verifies the token, branches on its principal claim, loads the
// referenced identity and role records, and builds the Authorization.
func (r *RoleResolver) Resolve(ctx context.Context, rawToken string, hdr Headers) (*Authorization, error) {
	claims, err := r.tokens.Validate(rawToken)
	if err != nil {
		return nil, err
	}

	return r.ResolveClaims(ctx, claims, hdr)
}

// ResolveClaims builds the Authorization from already-validated claims.
func (r *RoleResolver) ResolveClaims(ctx context.Context, claims *AccessClaims, hdr Headers) (*Authorization, error) {
	if claims == nil {
		return nil, ErrTokenMalformed
	}

	// single-purpose tokens never open a session
	if claims.Setup || claims.Refresh {
		return nil, ErrTokenMalformed
	}

	kind, err := claims.Kind()
	if err != nil {
		return nil, err
	}

	switch kind {
	case PrincipalUser:
		return r.resolveUser(ctx, claims, hdr)
	case PrincipalAccountant:
		return r.resolveAccountant(ctx, claims, hdr)
	case PrincipalSubcontractor:
		return r.resolveSubcontractor(ctx, claims, hdr)
	case PrincipalAdmin:
		return r.resolveAdmin(ctx, claims)
	default:
		return nil, ErrTokenMalformed
	}
}

func (r *RoleResolver) resolveUser(ctx context.Context, claims *AccessClaims, hdr Headers) (*Authorization, error) {
	user, err := r.loadPrincipal(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}

	if !claims.IsRoleSwitch() {
		// plain session: the user acts on their own tenant
		return &Authorization{
			PrincipalID:   user.ID,
			Kind:          PrincipalUser,
			RoleType:      RoleBusinessOwner,
			AccessLevel:   AccessAdmin,
			Permissions:   []Permission{PermReadOwn, PermWriteOwn},
			TargetOwnerID: user.ID,
			Email:         user.Email,
		}, nil
	}

	roleID, err := uuid.Parse(claims.RoleID)
	if err != nil {
		return nil, ErrTokenMalformed
	}

	role, err := r.store.GetRoleByID(ctx, roleID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrRoleNotResolvable
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "role lookup failed")
	}

	// the role must belong to the token holder and still resolve
	if role.UserID != user.ID || !role.IsResolvable() {
		return nil, ErrRoleNotResolvable
	}

	authz, err := r.authorizationForRole(ctx, user, role, hdr)
	if err != nil {
		return nil, err
	}

	r.touch(ctx, role.ID)
	return authz, nil
}

func (r *RoleResolver) authorizationForRole(ctx context.Context, user *User, role *RoleAssignment, hdr Headers) (*Authorization, error) {
	base := &Authorization{
		PrincipalID: user.ID,
		RoleID:      role.ID,
		RoleType:    role.RoleType,
		AccessLevel: role.AccessLevel,
		Email:       user.Email,
	}

	switch role.RoleType {
	case RoleBusinessOwner:
		base.Kind = PrincipalUser
		base.Permissions = []Permission{PermReadOwn, PermWriteOwn}
		base.TargetOwnerID = user.ID
		return base, nil

	case RoleAccountant:
		base.Kind = PrincipalAccountant
		base.TargetOwnerID = role.TenantID()
		// a stale client selector must not widen scope past the role
		if hdr.ClientID != "" && hdr.ClientID != base.TargetOwnerID.String() {
			return nil, ErrAccessDenied
		}
		base.Permissions = PermissionsFor(RoleAccountant, role.AccessLevel)
		return base, nil

	case RoleSubcontractor:
		grants, err := r.grantsForRole(ctx, user.ID, role.ID)
		if err != nil {
			return nil, err
		}
		return r.scopeSubcontractor(base, grants, hdr)

	case RoleAdmin:
		base.Kind = PrincipalAdmin
		base.Permissions = PermissionsFor(RoleAdmin, role.AccessLevel)
		base.TargetOwnerID = user.ID
		return base, nil

	default:
		return nil, ErrRoleNotResolvable
	}
}

func (r *RoleResolver) resolveAccountant(ctx context.Context, claims *AccessClaims, hdr Headers) (*Authorization, error) {
	user, err := r.loadPrincipal(ctx, claims.AccountantID)
	if err != nil {
		return nil, err
	}

	// client-contract failure, deliberately distinct from a generic 401
	if hdr.ClientID == "" {
		return nil, ErrMissingClientHeader
	}

	ownerID, err := uuid.Parse(hdr.ClientID)
	if err != nil {
		return nil, ErrMissingClientHeader
	}

	grant, err := r.store.ActiveAccountantGrant(ctx, user.ID, ownerID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrAccessDenied
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "accountant grant lookup failed")
	}

	r.touch(ctx, grant.ID)

	// the accountant acts as their client for the rest of the request
	return &Authorization{
		PrincipalID:   user.ID,
		RoleID:        grant.ID,
		Kind:          PrincipalAccountant,
		RoleType:      RoleAccountant,
		AccessLevel:   grant.AccessLevel,
		Permissions:   PermissionsFor(RoleAccountant, grant.AccessLevel),
		TargetOwnerID: ownerID,
		Email:         user.Email,
	}, nil
}

func (r *RoleResolver) resolveSubcontractor(ctx context.Context, claims *AccessClaims, hdr Headers) (*Authorization, error) {
	user, err := r.loadPrincipal(ctx, claims.SubcontractorID)
	if err != nil {
		return nil, err
	}

	grants, err := r.store.ActiveProjectGrants(ctx, user.ID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "project grant lookup failed")
	}

	base := &Authorization{
		PrincipalID: user.ID,
		Kind:        PrincipalSubcontractor,
		RoleType:    RoleSubcontractor,
		Email:       user.Email,
	}
	return r.scopeSubcontractor(base, grants, hdr)
}

// scopeSubcontractor selects the target project among the active grants.
// With an X-Project-ID header the named grant must exist; without one a
// single grant is unambiguous and anything more is rejected rather than
// guessed.
func (r *RoleResolver) scopeSubcontractor(base *Authorization, grants []*ProjectGrant, hdr Headers) (*Authorization, error) {
	if len(grants) == 0 {
		return nil, ErrAccessDenied
	}

	base.Kind = PrincipalSubcontractor
	base.ProjectGrants = make([]ProjectGrantRef, 0, len(grants))
	for _, g := range grants {
		base.ProjectGrants = append(base.ProjectGrants, ProjectGrantRef{
			ProjectID:   g.ProjectID,
			OwnerID:     g.OwnerID,
			AccessLevel: g.AccessLevel,
		})
	}

	var selected *ProjectGrant
	if hdr.ProjectID != "" {
		projectID, err := uuid.Parse(hdr.ProjectID)
		if err != nil {
			return nil, ErrProjectAccessDenied
		}
		for _, g := range grants {
			if g.ProjectID == projectID {
				selected = g
				break
			}
		}
		if selected == nil {
			return nil, ErrProjectAccessDenied
		}
	} else if len(grants) == 1 {
		selected = grants[0]
	} else {
		return nil, ErrProjectSelectionRequired
	}

	base.AccessLevel = selected.AccessLevel
	base.Permissions = PermissionsFor(RoleSubcontractor, selected.AccessLevel)
	base.TargetOwnerID = selected.OwnerID
	base.TargetProjectID = selected.ProjectID
	return base, nil
}

func (r *RoleResolver) resolveAdmin(ctx context.Context, claims *AccessClaims) (*Authorization, error) {
	user, err := r.loadPrincipal(ctx, claims.AdminID)
	if err != nil {
		return nil, err
	}

	// admin tokens are not self-certifying: an active admin assignment must
	// exist, same as every other principal kind
	role, err := r.store.ActiveRoleOfType(ctx, user.ID, RoleAdmin)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrRoleNotResolvable
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "admin role lookup failed")
	}

	return &Authorization{
		PrincipalID:   user.ID,
		RoleID:        role.ID,
		Kind:          PrincipalAdmin,
		RoleType:      RoleAdmin,
		AccessLevel:   role.AccessLevel,
		Permissions:   PermissionsFor(RoleAdmin, role.AccessLevel),
		TargetOwnerID: user.ID,
		Email:         user.Email,
	}, nil
}

// loadPrincipal fetches the user behind an identifying claim. A missing or
// soft-deleted user reads the same as a bad token to the caller.
func (r *RoleResolver) loadPrincipal(ctx context.Context, rawID string) (*User, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, ErrTokenMalformed
	}

	user, err := r.store.GetUserByID(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrTokenMalformed
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "principal lookup failed")
	}
	if user.DeletedAt != nil {
		return nil, ErrTokenMalformed
	}
	return user, nil
}

// grantsForRole narrows a user's grants to one role assignment.
func (r *RoleResolver) grantsForRole(ctx context.Context, userID, roleID uuid.UUID) ([]*ProjectGrant, error) {
	grants, err := r.store.ActiveProjectGrants(ctx, userID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "project grant lookup failed")
	}

	scoped := grants[:0]
	for _, g := range grants {
		if g.RoleID == roleID {
			scoped = append(scoped, g)
		}
	}
	return scoped, nil
}

// touch records lastAccessed best-effort; a failed write never blocks
// resolution.
func (r *RoleResolver) touch(ctx context.Context, roleID uuid.UUID) {
	if err := r.store.TouchRoleAccess(ctx, roleID); err != nil {
		r.logger.Warn("failed to record role access", "role_id", roleID, "error", err)
	}
}
