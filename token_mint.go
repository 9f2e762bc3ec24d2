package access

import (
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// MintSessionToken issues a regular user session token. Extended sessions
// ("remember this device") stretch the window to thirty days.
func (ts *TokenServiceImpl) MintSessionToken(user *User, extended bool) (string, error) {
	if user == nil {
		return "", goerrors.New("user is required", goerrors.CategoryBadInput)
	}

	ttl := SessionTokenTTL
	if extended {
		ttl = ExtendedSessionTTL
	}

	claims := &AccessClaims{
		UserID: user.ID.String(),
		Email:  user.Email,
	}
	return ts.sign(claims, user.ID.String(), ttl)
}

// MintRefreshToken issues the refresh companion to a session token.
func (ts *TokenServiceImpl) MintRefreshToken(user *User) (string, error) {
	if user == nil {
		return "", goerrors.New("user is required", goerrors.CategoryBadInput)
	}

	claims := &AccessClaims{
		UserID:  user.ID.String(),
		Refresh: true,
	}
	return ts.sign(claims, user.ID.String(), RefreshTokenTTL)
}

// MintRoleToken issues a role-switch token binding the session to one role
// assignment. Downstream resolution derives tenant scope from the role, not
// from the token holder.
func (ts *TokenServiceImpl) MintRoleToken(user *User, role *RoleAssignment, extended bool) (string, error) {
	if user == nil || role == nil {
		return "", goerrors.New("user and role are required", goerrors.CategoryBadInput)
	}

	ttl := SessionTokenTTL
	if extended {
		ttl = ExtendedSessionTTL
	}

	claims := &AccessClaims{
		UserID:   user.ID.String(),
		RoleID:   role.ID.String(),
		RoleType: role.RoleType,
		Email:    user.Email,
	}
	if role.BusinessOwnerID != nil {
		claims.BusinessOwnerID = role.BusinessOwnerID.String()
	}
	return ts.sign(claims, user.ID.String(), ttl)
}

// MintSetupToken issues a single-purpose invitation/password-setup token.
// The setup marker keeps it from ever passing as a session token; single
// use is enforced by the store, which nulls the persisted copy on redeem.
func (ts *TokenServiceImpl) MintSetupToken(user *User, roleType RoleType, ttl time.Duration) (string, error) {
	if user == nil {
		return "", goerrors.New("user is required", goerrors.CategoryBadInput)
	}
	if ttl <= 0 {
		ttl = SetupTokenTTL
	}

	claims := &AccessClaims{
		UserID:   user.ID.String(),
		Email:    user.Email,
		RoleType: roleType,
		Setup:    true,
	}
	return ts.sign(claims, user.ID.String(), ttl)
}

// MintLegacyAccountantToken issues the older single-role accountant session
// shape, still accepted by the resolver for clients that have not moved to
// unified login.
func (ts *TokenServiceImpl) MintLegacyAccountantToken(user *User) (string, error) {
	if user == nil {
		return "", goerrors.New("user is required", goerrors.CategoryBadInput)
	}

	claims := &AccessClaims{AccountantID: user.ID.String()}
	return ts.sign(claims, user.ID.String(), SessionTokenTTL)
}

// MintLegacySubcontractorToken issues the older single-role subcontractor
// session shape.
func (ts *TokenServiceImpl) MintLegacySubcontractorToken(user *User) (string, error) {
	if user == nil {
		return "", goerrors.New("user is required", goerrors.CategoryBadInput)
	}

	claims := &AccessClaims{SubcontractorID: user.ID.String()}
	return ts.sign(claims, user.ID.String(), SessionTokenTTL)
}

// MintAdminToken issues a platform-admin session token.
func (ts *TokenServiceImpl) MintAdminToken(user *User) (string, error) {
	if user == nil {
		return "", goerrors.New("user is required", goerrors.CategoryBadInput)
	}

	claims := &AccessClaims{
		AdminID: user.ID.String(),
		Email:   user.Email,
	}
	return ts.sign(claims, user.ID.String(), SessionTokenTTL)
}
