package access

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PrincipalKind identifies which claim shape a token carries. The minting
// helpers guarantee the identifying claims are mutually exclusive; the
// resolver rejects anything else.
type PrincipalKind = string

const (
	PrincipalUser          PrincipalKind = "user"
	PrincipalAccountant    PrincipalKind = "accountant"
	PrincipalSubcontractor PrincipalKind = "subcontractor"
	PrincipalAdmin         PrincipalKind = "admin"
)

// AccessClaims is the JWT payload for every token the core issues. Exactly
// one of the principal-identifying claims (UserID, AccountantID,
// SubcontractorID, AdminID) is set per token; the remaining fields carry
// auxiliary context for role-switch and setup tokens.
type AccessClaims struct {
	jwt.RegisteredClaims

	UserID          string `json:"userId,omitempty"`
	AccountantID    string `json:"accountantId,omitempty"`
	SubcontractorID string `json:"subcontractorId,omitempty"`
	AdminID         string `json:"adminId,omitempty"`

	RoleID          string `json:"roleId,omitempty"`
	RoleType        string `json:"roleType,omitempty"`
	BusinessOwnerID string `json:"businessOwnerId,omitempty"`
	Email           string `json:"email,omitempty"`

	// Setup marks single-purpose invitation/password-setup tokens; they are
	// never accepted as session tokens.
	Setup bool `json:"setup,omitempty"`
	// Refresh marks refresh tokens, which only the refresh endpoint accepts.
	Refresh bool `json:"refresh,omitempty"`
}

// Kind derives the principal kind from the claim shape. Tokens carrying
// zero or more than one identifying claim fail closed.
func (c *AccessClaims) Kind() (PrincipalKind, error) {
	var kind PrincipalKind
	count := 0

	if c.UserID != "" {
		kind = PrincipalUser
		count++
	}
	if c.AccountantID != "" {
		kind = PrincipalAccountant
		count++
	}
	if c.SubcontractorID != "" {
		kind = PrincipalSubcontractor
		count++
	}
	if c.AdminID != "" {
		kind = PrincipalAdmin
		count++
	}

	if count != 1 {
		return "", ErrTokenMalformed
	}
	return kind, nil
}

// PrincipalID returns whichever identifying claim is present.
func (c *AccessClaims) PrincipalID() string {
	switch {
	case c.UserID != "":
		return c.UserID
	case c.AccountantID != "":
		return c.AccountantID
	case c.SubcontractorID != "":
		return c.SubcontractorID
	case c.AdminID != "":
		return c.AdminID
	default:
		return ""
	}
}

// IsRoleSwitch reports whether the token binds the session to a specific
// role assignment.
func (c *AccessClaims) IsRoleSwitch() bool {
	return c.RoleID != ""
}

// Expires returns the expiration time, zero when absent.
func (c *AccessClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAtTime returns the issuance time, zero when absent.
func (c *AccessClaims) IssuedAtTime() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
