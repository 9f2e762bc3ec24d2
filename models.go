package access

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RoleType is the capacity a user acts in within one tenant.
type RoleType = string

const (
	// RoleBusinessOwner owns the tenant and its documents
	RoleBusinessOwner RoleType = "business_owner"
	// RoleAccountant operates on a client business owner's data
	RoleAccountant RoleType = "accountant"
	// RoleSubcontractor has per-project access inside a tenant
	RoleSubcontractor RoleType = "subcontractor"
	// RoleAdmin is the platform operator role
	RoleAdmin RoleType = "admin"
)

// AccessLevel governs read vs. write capability inside a role.
type AccessLevel = string

const (
	AccessViewer      AccessLevel = "viewer"
	AccessContributor AccessLevel = "contributor"
	AccessEditor      AccessLevel = "editor"
	AccessAdmin       AccessLevel = "admin"
)

// RoleStatus is the lifecycle state of a role assignment.
type RoleStatus = string

const (
	RoleStatusInvited     RoleStatus = "invited"
	RoleStatusActive      RoleStatus = "active"
	RoleStatusDeactivated RoleStatus = "deactivated"
)

// User is the root identity: one person, at most one password credential.
// Users are soft-deleted, never physically removed.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID                  uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email               string     `bun:"email,notnull,unique" json:"email,omitempty"`
	FirstName           string     `bun:"first_name" json:"first_name,omitempty"`
	LastName            string     `bun:"last_name" json:"last_name,omitempty"`
	Phone               string     `bun:"phone_number" json:"phone_number,omitempty"`
	PasswordHash        string     `bun:"password_hash" json:"-"`
	SetupToken          *string    `bun:"setup_token,nullzero" json:"-"`
	SetupTokenExpiresAt *time.Time `bun:"setup_token_expires_at,nullzero" json:"-"`
	RefreshToken        string     `bun:"refresh_token" json:"-"`
	OAuthProvider       string     `bun:"oauth_provider" json:"oauth_provider,omitempty"`
	OAuthSubject        string     `bun:"oauth_subject" json:"oauth_subject,omitempty"`
	LoggedInAt          *time.Time `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	CreatedAt           *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt           *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt           *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// HasPassword reports whether the user completed credential setup.
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != ""
}

// FullName joins first and last name for notification templates.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// RoleProfile is an optional role-scoped override of the root profile:
// the name, address, and payment details a user presents when acting in
// this role, distinct from their own.
type RoleProfile struct {
	DisplayName string `json:"display_name,omitempty"`
	Address     string `json:"address,omitempty"`
	Phone       string `json:"phone,omitempty"`
	PaymentInfo string `json:"payment_info,omitempty"`
}

// RoleAssignment binds a user to a capacity within one business owner's
// tenant. The tuple (user, role type, business owner) is unique: a user
// never holds the same role twice for the same owner, though they may hold
// several different assignments at once.
type RoleAssignment struct {
	bun.BaseModel `bun:"table:role_assignments,alias:role"`

	ID              uuid.UUID    `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID          uuid.UUID    `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User            *User        `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	RoleType        RoleType     `bun:"role_type,notnull" json:"role_type,omitempty"`
	AccessLevel     AccessLevel  `bun:"access_level,notnull" json:"access_level,omitempty"`
	BusinessOwnerID *uuid.UUID   `bun:"business_owner_id,nullzero,type:uuid" json:"business_owner_id,omitempty"`
	Status          RoleStatus   `bun:"status,notnull" json:"status,omitempty"`
	InviteToken     *string      `bun:"invite_token,nullzero" json:"-"`
	InviteExpiresAt *time.Time   `bun:"invite_expires_at,nullzero" json:"-"`
	Profile         *RoleProfile `bun:"profile,type:jsonb" json:"profile,omitempty"`
	LastAccessedAt  *time.Time   `bun:"last_accessed_at,nullzero" json:"last_accessed_at,omitempty"`
	RemovedBy       *uuid.UUID   `bun:"removed_by,nullzero,type:uuid" json:"removed_by,omitempty"`
	CreatedAt       *time.Time   `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt       *time.Time   `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt       *time.Time   `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureStatus backfills the zero value so lifecycle checks never see "".
func (r *RoleAssignment) EnsureStatus() {
	if r.Status == "" {
		r.Status = RoleStatusInvited
	}
}

// IsResolvable reports whether the resolver may produce an authorization
// context from this assignment. Deactivated and soft-deleted roles stop
// resolving immediately, with no grace period.
func (r *RoleAssignment) IsResolvable() bool {
	return r != nil && r.DeletedAt == nil && r.Status == RoleStatusActive
}

// TenantID returns the owning tenant for scoped roles, falling back to the
// holder for business owners and admins, whose assignments carry no owner.
func (r *RoleAssignment) TenantID() uuid.UUID {
	if r.BusinessOwnerID != nil {
		return *r.BusinessOwnerID
	}
	return r.UserID
}

// ProjectGrant gives a subcontractor role access to a single project inside
// the owning tenant. Grants are children of the subcontractor's
// RoleAssignment and carry their own access level per project.
type ProjectGrant struct {
	bun.BaseModel `bun:"table:project_grants,alias:grant"`

	ID          uuid.UUID       `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	RoleID      uuid.UUID       `bun:"role_id,notnull,type:uuid" json:"role_id,omitempty"`
	Role        *RoleAssignment `bun:"rel:belongs-to,join:role_id=id" json:"role,omitempty"`
	ProjectID   uuid.UUID       `bun:"project_id,notnull,type:uuid" json:"project_id,omitempty"`
	OwnerID     uuid.UUID       `bun:"owner_id,notnull,type:uuid" json:"owner_id,omitempty"`
	AccessLevel AccessLevel     `bun:"access_level,notnull" json:"access_level,omitempty"`
	Status      RoleStatus      `bun:"status,notnull" json:"status,omitempty"`
	CreatedAt   *time.Time      `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt   *time.Time      `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt   *time.Time      `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// IsActive reports whether the grant currently allows project access.
func (g *ProjectGrant) IsActive() bool {
	return g != nil && g.DeletedAt == nil && g.Status == RoleStatusActive
}
