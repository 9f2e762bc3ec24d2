package access

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// RoleOption is one entry in the role picker shown after check-roles:
// everything a client needs to render the choice and start a login.
type RoleOption struct {
	RoleID          uuid.UUID    `json:"role_id"`
	RoleType        RoleType     `json:"role_type"`
	AccessLevel     AccessLevel  `json:"access_level"`
	Status          RoleStatus   `json:"status"`
	BusinessOwnerID *uuid.UUID   `json:"business_owner_id,omitempty"`
	Profile         *RoleProfile `json:"profile,omitempty"`
}

// RoleCheck is the check-roles response: whether the account exists and
// has a credential, plus the roles it could sign in as. Lookup is by
// email only, so this deliberately reveals nothing a login attempt
// would not.
type RoleCheck struct {
	Exists      bool         `json:"exists"`
	HasPassword bool         `json:"has_password"`
	Roles       []RoleOption `json:"roles"`
}

// LoginInput carries a unified login attempt. RoleID is optional: when
// set, the session binds to that role from the start instead of
// requiring a later switch.
type LoginInput struct {
	Email    string
	Password string
	RoleID   *uuid.UUID
	Extended bool
}

// AuthResult is the outcome of a successful login, switch, or refresh.
type AuthResult struct {
	Token        string          `json:"token"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	User         *User           `json:"user,omitempty"`
	Role         *RoleAssignment `json:"role,omitempty"`
}

// UnifiedAuthenticator implements the unified login flow: one password
// credential per user, N roles, one session bound to at most one role
// at a time.
type UnifiedAuthenticator struct {
	repos        RepositoryManager
	tokens       *TokenServiceImpl
	lifecycle    RoleLifecycle
	activitySink ActivitySink
	logger       Logger
	now          func() time.Time
}

func NewUnifiedAuthenticator(repos RepositoryManager, tokens *TokenServiceImpl) *UnifiedAuthenticator {
	return &UnifiedAuthenticator{
		repos:        repos,
		tokens:       tokens,
		lifecycle:    NewRoleLifecycle(repos.Roles()),
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
	}
}

func (a *UnifiedAuthenticator) WithLogger(logger Logger) *UnifiedAuthenticator {
	if logger != nil {
		a.logger = logger
	}
	return a
}

func (a *UnifiedAuthenticator) WithActivitySink(sink ActivitySink) *UnifiedAuthenticator {
	a.activitySink = normalizeActivitySink(sink)
	a.lifecycle = NewRoleLifecycle(a.repos.Roles(), WithLifecycleActivitySink(a.activitySink))
	return a
}

func (a *UnifiedAuthenticator) WithClock(clock func() time.Time) *UnifiedAuthenticator {
	if clock != nil {
		a.now = clock
	}
	return a
}

// TokenService exposes the signer so the HTTP layer can share it with
// middleware.
func (a *UnifiedAuthenticator) TokenService() *TokenServiceImpl {
	return a.tokens
}

// CheckRoles lists the roles an email address could sign in as. Unknown
// emails return an empty, non-error response so the endpoint cannot be
// used to probe for accounts beyond what login already reveals.
func (a *UnifiedAuthenticator) CheckRoles(ctx context.Context, email string) (*RoleCheck, error) {
	user, err := a.repos.Users().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return &RoleCheck{Roles: []RoleOption{}}, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "role check failed")
	}

	assignments, err := a.repos.Roles().ListForUser(ctx, user.ID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "role check failed")
	}

	check := &RoleCheck{
		Exists:      true,
		HasPassword: user.HasPassword(),
		Roles:       make([]RoleOption, 0, len(assignments)),
	}

	for _, role := range assignments {
		if role.Status == RoleStatusDeactivated {
			continue
		}
		check.Roles = append(check.Roles, RoleOption{
			RoleID:          role.ID,
			RoleType:        role.RoleType,
			AccessLevel:     role.AccessLevel,
			Status:          role.Status,
			BusinessOwnerID: role.BusinessOwnerID,
			Profile:         role.Profile,
		})
	}

	return check, nil
}

// Login verifies the single password credential and issues a session.
// With a RoleID the session is role-bound from the start; an invited
// role activates on first successful login, since proving the password
// is exactly what activation is waiting for.
func (a *UnifiedAuthenticator) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	user, err := a.verifyCredentials(ctx, input.Email, input.Password)
	if err != nil {
		a.emitEvent(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Actor:     ActorRef{Type: "unknown"},
			Metadata:  map[string]any{"email": input.Email, "error": err.Error()},
		})
		return nil, err
	}

	var role *RoleAssignment
	if input.RoleID != nil {
		if role, err = a.claimRole(ctx, user, *input.RoleID); err != nil {
			a.emitEvent(ctx, ActivityEvent{
				EventType: ActivityEventLoginFailure,
				Actor:     ActorRef{ID: user.ID.String(), Type: "user"},
				UserID:    user.ID.String(),
				RoleID:    input.RoleID.String(),
				Metadata:  map[string]any{"error": err.Error()},
			})
			return nil, err
		}
	}

	result, err := a.issueSession(ctx, user, role, input.Extended)
	if err != nil {
		return nil, err
	}

	if err := a.repos.Users().TrackSuccessfulLogin(ctx, user); err != nil {
		a.logger.Warn("failed to track login", "user_id", user.ID, "error", err)
	}

	event := ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorRef{ID: user.ID.String(), Type: "user"},
		UserID:    user.ID.String(),
	}
	if role != nil {
		event.RoleID = role.ID.String()
		event.Metadata = map[string]any{"role_type": role.RoleType}
	}
	a.emitEvent(ctx, event)

	return result, nil
}

// SwitchRole exchanges an authenticated session for one bound to a
// different role held by the same user. No password round trip: the
// existing session already proves the credential.
func (a *UnifiedAuthenticator) SwitchRole(ctx context.Context, claims *AccessClaims, roleID uuid.UUID) (*AuthResult, error) {
	if claims == nil {
		return nil, ErrTokenMalformed
	}

	kind, err := claims.Kind()
	if err != nil {
		return nil, err
	}
	if kind != PrincipalUser || claims.Setup || claims.Refresh {
		return nil, ErrAccessDenied
	}

	userID, err := uuid.Parse(claims.PrincipalID())
	if err != nil {
		return nil, ErrTokenMalformed
	}

	user, err := a.repos.Users().GetByID(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrTokenMalformed
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "role switch failed")
	}

	role, err := a.claimRole(ctx, user, roleID)
	if err != nil {
		return nil, err
	}

	token, err := a.tokens.MintRoleToken(user, role, false)
	if err != nil {
		return nil, err
	}

	a.emitEvent(ctx, ActivityEvent{
		EventType: ActivityEventRoleSwitch,
		Actor:     ActorRef{ID: user.ID.String(), Type: "user"},
		UserID:    user.ID.String(),
		RoleID:    role.ID.String(),
		Metadata:  map[string]any{"role_type": role.RoleType},
	})

	return &AuthResult{Token: token, User: user, Role: role}, nil
}

// Refresh rotates a refresh token into a new session. The presented
// token must both validate and match the copy stored on the user row,
// so revocation is a single column update.
func (a *UnifiedAuthenticator) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	claims, err := a.tokens.Validate(refreshToken)
	if err != nil {
		return nil, err
	}

	if !claims.Refresh {
		return nil, ErrTokenMalformed
	}

	userID, err := uuid.Parse(claims.PrincipalID())
	if err != nil {
		return nil, ErrTokenMalformed
	}

	user, err := a.repos.Users().GetByID(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrTokenMalformed
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "token refresh failed")
	}

	if user.RefreshToken == "" || user.RefreshToken != refreshToken {
		return nil, ErrInvalidCredentials
	}

	return a.issueSession(ctx, user, nil, false)
}

// Logout revokes the stored refresh token. Outstanding session tokens
// stay valid until expiry; they are short-lived on purpose.
func (a *UnifiedAuthenticator) Logout(ctx context.Context, userID uuid.UUID) error {
	return a.repos.Users().ClearRefreshToken(ctx, userID)
}

// LegacyLogin serves the pre-unification single-role endpoints: it
// requires an active assignment of the requested type and mints the
// old claim shape for it.
func (a *UnifiedAuthenticator) LegacyLogin(ctx context.Context, email, password string, roleType RoleType) (*AuthResult, error) {
	user, err := a.verifyCredentials(ctx, email, password)
	if err != nil {
		a.emitEvent(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Actor:     ActorRef{Type: "unknown"},
			Metadata:  map[string]any{"email": email, "role_type": roleType, "error": err.Error()},
		})
		return nil, err
	}

	role, err := a.repos.Roles().ActiveOfType(ctx, user.ID, roleType)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrRoleNotResolvable
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "legacy login failed")
	}

	var token string
	switch roleType {
	case RoleAccountant:
		token, err = a.tokens.MintLegacyAccountantToken(user)
	case RoleSubcontractor:
		token, err = a.tokens.MintLegacySubcontractorToken(user)
	case RoleAdmin:
		token, err = a.tokens.MintAdminToken(user)
	default:
		token, err = a.tokens.MintSessionToken(user, false)
	}
	if err != nil {
		return nil, err
	}

	if err := a.repos.Users().TrackSuccessfulLogin(ctx, user); err != nil {
		a.logger.Warn("failed to track login", "user_id", user.ID, "error", err)
	}

	a.emitEvent(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorRef{ID: user.ID.String(), Type: "user"},
		UserID:    user.ID.String(),
		RoleID:    role.ID.String(),
		Metadata:  map[string]any{"role_type": roleType, "legacy": true},
	})

	return &AuthResult{Token: token, User: user, Role: role}, nil
}

func (a *UnifiedAuthenticator) verifyCredentials(ctx context.Context, email, password string) (*User, error) {
	user, err := a.repos.Users().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			// Equalize the timing of unknown-email and wrong-password
			// paths so neither is distinguishable from outside.
			_ = ComparePasswordAndHash(password, RandomPasswordHash())
			return nil, ErrInvalidCredentials
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "credential check failed")
	}

	if !user.HasPassword() {
		return nil, ErrInvalidCredentials
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// claimRole loads a role for binding into a session, verifying
// ownership and activating an invited role on the way through.
func (a *UnifiedAuthenticator) claimRole(ctx context.Context, user *User, roleID uuid.UUID) (*RoleAssignment, error) {
	role, err := a.repos.Roles().GetByID(ctx, roleID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrRoleNotResolvable
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "role lookup failed")
	}

	if role.UserID != user.ID {
		return nil, ErrAccessDenied
	}

	role.EnsureStatus()

	switch role.Status {
	case RoleStatusActive:
		return role, nil
	case RoleStatusInvited:
		activated, err := a.lifecycle.Transition(ctx,
			ActorRef{ID: user.ID.String(), Type: "user"},
			role, RoleStatusActive,
			WithTransitionReason("activated on first login"),
		)
		if err != nil {
			return nil, err
		}
		if err := a.repos.Roles().ClearInviteToken(ctx, role.ID); err != nil {
			a.logger.Warn("failed to clear invite token", "role_id", role.ID, "error", err)
		}
		return activated, nil
	default:
		return nil, ErrRoleNotResolvable
	}
}

func (a *UnifiedAuthenticator) issueSession(ctx context.Context, user *User, role *RoleAssignment, extended bool) (*AuthResult, error) {
	var token string
	var err error

	if role != nil {
		token, err = a.tokens.MintRoleToken(user, role, extended)
	} else {
		token, err = a.tokens.MintSessionToken(user, extended)
	}
	if err != nil {
		return nil, err
	}

	refresh, err := a.tokens.MintRefreshToken(user)
	if err != nil {
		return nil, err
	}

	if err := a.repos.Users().StoreRefreshToken(ctx, user.ID, refresh); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist refresh token")
	}

	return &AuthResult{
		Token:        token,
		RefreshToken: refresh,
		User:         user,
		Role:         role,
	}, nil
}

func (a *UnifiedAuthenticator) emitEvent(ctx context.Context, event ActivityEvent) {
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.now()
	}
	if err := normalizeActivitySink(a.activitySink).Record(ctx, event); err != nil {
		a.logger.Warn("activity sink record error", "error", err)
	}
}
