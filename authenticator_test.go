package access_test

import (
	"context"
	"testing"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	access "github.com/potionhq/potion-access"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct horse battery staple"

func credentialedUser(t *testing.T) *access.User {
	t.Helper()
	hash, err := access.HashPassword(testPassword)
	require.NoError(t, err)
	return &access.User{
		ID:           uuid.New(),
		Email:        "owner@example.com",
		FirstName:    "Jordan",
		PasswordHash: hash,
	}
}

func newAuthenticator(repo *MockRepositoryManager, sink access.ActivitySink) *access.UnifiedAuthenticator {
	auther := access.NewUnifiedAuthenticator(repo, newTestTokenService()).WithLogger(noopLogger{})
	if sink != nil {
		auther = auther.WithActivitySink(sink)
	}
	return auther
}

func TestCheckRolesUnknownEmailRevealsNothing(t *testing.T) {
	repo := NewMockRepositoryManager()
	repo.UsersRepo.On("GetByEmail", mock.Anything, "ghost@example.com").
		Return(nil, repository.NewRecordNotFound())

	check, err := newAuthenticator(repo, nil).CheckRoles(context.Background(), "ghost@example.com")
	require.NoError(t, err)

	assert.False(t, check.Exists)
	assert.False(t, check.HasPassword)
	assert.Empty(t, check.Roles)
}

func TestCheckRolesSkipsDeactivated(t *testing.T) {
	repo := NewMockRepositoryManager()
	user := credentialedUser(t)
	ownerID := uuid.New()

	active := &access.RoleAssignment{
		ID: uuid.New(), UserID: user.ID, RoleType: access.RoleAccountant,
		AccessLevel: access.AccessEditor, BusinessOwnerID: &ownerID,
		Status: access.RoleStatusActive,
	}
	invited := &access.RoleAssignment{
		ID: uuid.New(), UserID: user.ID, RoleType: access.RoleSubcontractor,
		AccessLevel: access.AccessViewer, BusinessOwnerID: &ownerID,
		Status: access.RoleStatusInvited,
	}
	deactivated := &access.RoleAssignment{
		ID: uuid.New(), UserID: user.ID, RoleType: access.RoleBusinessOwner,
		Status: access.RoleStatusDeactivated,
	}

	repo.UsersRepo.On("GetByEmail", mock.Anything, user.Email).Return(user, nil)
	repo.RolesRepo.On("ListForUser", mock.Anything, user.ID).
		Return([]*access.RoleAssignment{active, invited, deactivated}, nil)

	check, err := newAuthenticator(repo, nil).CheckRoles(context.Background(), user.Email)
	require.NoError(t, err)

	assert.True(t, check.Exists)
	assert.True(t, check.HasPassword)
	require.Len(t, check.Roles, 2)
	assert.Equal(t, active.ID, check.Roles[0].RoleID)
	assert.Equal(t, invited.ID, check.Roles[1].RoleID)
}

func TestLoginIssuesSessionAndRefreshPair(t *testing.T) {
	repo := NewMockRepositoryManager()
	sink := &RecordingSink{}
	user := credentialedUser(t)

	repo.UsersRepo.On("GetByEmail", mock.Anything, user.Email).Return(user, nil)
	repo.UsersRepo.On("StoreRefreshToken", mock.Anything, user.ID, mock.Anything).Return(nil)
	repo.UsersRepo.On("TrackSuccessfulLogin", mock.Anything, user).Return(nil)

	auther := newAuthenticator(repo, sink)
	result, err := auther.Login(context.Background(), access.LoginInput{
		Email:    user.Email,
		Password: testPassword,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.Token)
	assert.NotEmpty(t, result.RefreshToken)
	assert.Nil(t, result.Role)

	claims, err := auther.TokenService().Validate(result.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID)
	assert.False(t, claims.IsRoleSwitch())

	refreshClaims, err := auther.TokenService().Validate(result.RefreshToken)
	require.NoError(t, err)
	assert.True(t, refreshClaims.Refresh)

	assert.Len(t, sink.ByType(access.ActivityEventLoginSuccess), 1)
	repo.AssertExpectations(t)
}

func TestLoginFailures(t *testing.T) {
	t.Run("unknown email", func(t *testing.T) {
		repo := NewMockRepositoryManager()
		sink := &RecordingSink{}
		repo.UsersRepo.On("GetByEmail", mock.Anything, mock.Anything).
			Return(nil, repository.NewRecordNotFound())

		_, err := newAuthenticator(repo, sink).Login(context.Background(), access.LoginInput{
			Email: "ghost@example.com", Password: "whatever",
		})
		assert.Equal(t, access.TextCodeInvalidCredentials, access.TextCode(err))
		assert.Len(t, sink.ByType(access.ActivityEventLoginFailure), 1)
	})

	t.Run("wrong password", func(t *testing.T) {
		repo := NewMockRepositoryManager()
		user := credentialedUser(t)
		repo.UsersRepo.On("GetByEmail", mock.Anything, user.Email).Return(user, nil)

		_, err := newAuthenticator(repo, nil).Login(context.Background(), access.LoginInput{
			Email: user.Email, Password: "incorrect",
		})
		assert.Equal(t, access.TextCodeInvalidCredentials, access.TextCode(err))
	})

	t.Run("credential not yet set up", func(t *testing.T) {
		repo := NewMockRepositoryManager()
		user := credentialedUser(t)
		user.PasswordHash = ""
		repo.UsersRepo.On("GetByEmail", mock.Anything, user.Email).Return(user, nil)

		_, err := newAuthenticator(repo, nil).Login(context.Background(), access.LoginInput{
			Email: user.Email, Password: testPassword,
		})
		assert.Equal(t, access.TextCodeInvalidCredentials, access.TextCode(err))
	})
}

func TestLoginWithRoleBindsSession(t *testing.T) {
	repo := NewMockRepositoryManager()
	user := credentialedUser(t)
	ownerID := uuid.New()
	role := &access.RoleAssignment{
		ID: uuid.New(), UserID: user.ID, RoleType: access.RoleAccountant,
		AccessLevel: access.AccessEditor, BusinessOwnerID: &ownerID,
		Status: access.RoleStatusActive,
	}

	repo.UsersRepo.On("GetByEmail", mock.Anything, user.Email).Return(user, nil)
	repo.RolesRepo.On("GetByID", mock.Anything, role.ID.String(), mock.Anything).Return(role, nil)
	repo.UsersRepo.On("StoreRefreshToken", mock.Anything, user.ID, mock.Anything).Return(nil)
	repo.UsersRepo.On("TrackSuccessfulLogin", mock.Anything, user).Return(nil)

	auther := newAuthenticator(repo, nil)
	result, err := auther.Login(context.Background(), access.LoginInput{
		Email: user.Email, Password: testPassword, RoleID: &role.ID,
	})
	require.NoError(t, err)

	claims, err := auther.TokenService().Validate(result.Token)
	require.NoError(t, err)
	assert.Equal(t, role.ID.String(), claims.RoleID)
	assert.Equal(t, access.RoleAccountant, claims.RoleType)
	assert.Equal(t, ownerID.String(), claims.BusinessOwnerID)
}

func TestLoginActivatesInvitedRole(t *testing.T) {
	repo := NewMockRepositoryManager()
	sink := &RecordingSink{}
	user := credentialedUser(t)
	ownerID := uuid.New()
	role := &access.RoleAssignment{
		ID: uuid.New(), UserID: user.ID, RoleType: access.RoleSubcontractor,
		AccessLevel: access.AccessContributor, BusinessOwnerID: &ownerID,
		Status: access.RoleStatusInvited,
	}

	repo.UsersRepo.On("GetByEmail", mock.Anything, user.Email).Return(user, nil)
	repo.RolesRepo.On("GetByID", mock.Anything, role.ID.String(), mock.Anything).Return(role, nil)
	stubUpdateStatus(repo.RolesRepo, role, access.RoleStatusActive)
	repo.RolesRepo.On("ClearInviteToken", mock.Anything, role.ID).Return(nil)
	repo.UsersRepo.On("StoreRefreshToken", mock.Anything, user.ID, mock.Anything).Return(nil)
	repo.UsersRepo.On("TrackSuccessfulLogin", mock.Anything, user).Return(nil)

	_, err := newAuthenticator(repo, sink).Login(context.Background(), access.LoginInput{
		Email: user.Email, Password: testPassword, RoleID: &role.ID,
	})
	require.NoError(t, err)

	// first successful login is what activation was waiting for
	events := sink.ByType(access.ActivityEventRoleStatusChanged)
	require.Len(t, events, 1)
	assert.Equal(t, access.RoleStatusInvited, events[0].FromStatus)
	assert.Equal(t, access.RoleStatusActive, events[0].ToStatus)
	repo.AssertExpectations(t)
}

func TestLoginRoleOwnershipAndStatusChecks(t *testing.T) {
	t.Run("role held by another user", func(t *testing.T) {
		repo := NewMockRepositoryManager()
		user := credentialedUser(t)
		role := &access.RoleAssignment{
			ID: uuid.New(), UserID: uuid.New(),
			RoleType: access.RoleAccountant, Status: access.RoleStatusActive,
		}
		repo.UsersRepo.On("GetByEmail", mock.Anything, user.Email).Return(user, nil)
		repo.RolesRepo.On("GetByID", mock.Anything, role.ID.String(), mock.Anything).Return(role, nil)

		_, err := newAuthenticator(repo, nil).Login(context.Background(), access.LoginInput{
			Email: user.Email, Password: testPassword, RoleID: &role.ID,
		})
		assert.Equal(t, access.TextCodeAccessDenied, access.TextCode(err))
	})

	t.Run("deactivated role cannot be claimed", func(t *testing.T) {
		repo := NewMockRepositoryManager()
		user := credentialedUser(t)
		role := &access.RoleAssignment{
			ID: uuid.New(), UserID: user.ID,
			RoleType: access.RoleAccountant, Status: access.RoleStatusDeactivated,
		}
		repo.UsersRepo.On("GetByEmail", mock.Anything, user.Email).Return(user, nil)
		repo.RolesRepo.On("GetByID", mock.Anything, role.ID.String(), mock.Anything).Return(role, nil)

		_, err := newAuthenticator(repo, nil).Login(context.Background(), access.LoginInput{
			Email: user.Email, Password: testPassword, RoleID: &role.ID,
		})
		assert.Equal(t, access.TextCodeRoleNotResolvable, access.TextCode(err))
	})
}

func TestSwitchRole(t *testing.T) {
	repo := NewMockRepositoryManager()
	sink := &RecordingSink{}
	user := credentialedUser(t)
	ownerID := uuid.New()
	role := &access.RoleAssignment{
		ID: uuid.New(), UserID: user.ID, RoleType: access.RoleAccountant,
		AccessLevel: access.AccessEditor, BusinessOwnerID: &ownerID,
		Status: access.RoleStatusActive,
	}

	repo.UsersRepo.On("GetByID", mock.Anything, user.ID.String(), mock.Anything).Return(user, nil)
	repo.RolesRepo.On("GetByID", mock.Anything, role.ID.String(), mock.Anything).Return(role, nil)

	auther := newAuthenticator(repo, sink)
	claims := &access.AccessClaims{UserID: user.ID.String()}

	result, err := auther.SwitchRole(context.Background(), claims, role.ID)
	require.NoError(t, err)

	switched, err := auther.TokenService().Validate(result.Token)
	require.NoError(t, err)
	assert.Equal(t, role.ID.String(), switched.RoleID)
	// switching does not rotate the refresh credential
	assert.Empty(t, result.RefreshToken)

	assert.Len(t, sink.ByType(access.ActivityEventRoleSwitch), 1)
}

func TestSwitchRoleRejectsNonSessionClaims(t *testing.T) {
	auther := newAuthenticator(NewMockRepositoryManager(), nil)
	roleID := uuid.New()

	_, err := auther.SwitchRole(context.Background(), nil, roleID)
	assert.Equal(t, access.TextCodeTokenMalformed, access.TextCode(err))

	_, err = auther.SwitchRole(context.Background(), &access.AccessClaims{
		UserID: uuid.NewString(), Setup: true,
	}, roleID)
	assert.Equal(t, access.TextCodeAccessDenied, access.TextCode(err))

	_, err = auther.SwitchRole(context.Background(), &access.AccessClaims{
		AccountantID: uuid.NewString(),
	}, roleID)
	assert.Equal(t, access.TextCodeAccessDenied, access.TextCode(err))
}

func TestRefreshRotation(t *testing.T) {
	repo := NewMockRepositoryManager()
	user := credentialedUser(t)

	auther := newAuthenticator(repo, nil)
	refresh, err := auther.TokenService().MintRefreshToken(user)
	require.NoError(t, err)
	user.RefreshToken = refresh

	repo.UsersRepo.On("GetByID", mock.Anything, user.ID.String(), mock.Anything).Return(user, nil)
	repo.UsersRepo.On("StoreRefreshToken", mock.Anything, user.ID, mock.Anything).Return(nil)

	result, err := auther.Refresh(context.Background(), refresh)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
	assert.NotEmpty(t, result.RefreshToken)
}

func TestRefreshRequiresStoredMatch(t *testing.T) {
	repo := NewMockRepositoryManager()
	user := credentialedUser(t)

	auther := newAuthenticator(repo, nil)
	presented, err := auther.TokenService().MintRefreshToken(user)
	require.NoError(t, err)

	// the stored copy was rotated or revoked since this token was minted
	user.RefreshToken = "something-else"
	repo.UsersRepo.On("GetByID", mock.Anything, user.ID.String(), mock.Anything).Return(user, nil)

	_, err = auther.Refresh(context.Background(), presented)
	assert.Equal(t, access.TextCodeInvalidCredentials, access.TextCode(err))
}

func TestRefreshRejectsSessionTokens(t *testing.T) {
	repo := NewMockRepositoryManager()
	user := credentialedUser(t)

	auther := newAuthenticator(repo, nil)
	session, err := auther.TokenService().MintSessionToken(user, false)
	require.NoError(t, err)

	_, err = auther.Refresh(context.Background(), session)
	assert.Equal(t, access.TextCodeTokenMalformed, access.TextCode(err))
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	repo := NewMockRepositoryManager()
	userID := uuid.New()
	repo.UsersRepo.On("ClearRefreshToken", mock.Anything, userID).Return(nil)

	err := newAuthenticator(repo, nil).Logout(context.Background(), userID)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestLegacyLogin(t *testing.T) {
	t.Run("mints the legacy accountant claim shape", func(t *testing.T) {
		repo := NewMockRepositoryManager()
		user := credentialedUser(t)
		ownerID := uuid.New()
		role := &access.RoleAssignment{
			ID: uuid.New(), UserID: user.ID, RoleType: access.RoleAccountant,
			AccessLevel: access.AccessViewer, BusinessOwnerID: &ownerID,
			Status: access.RoleStatusActive,
		}

		repo.UsersRepo.On("GetByEmail", mock.Anything, user.Email).Return(user, nil)
		repo.RolesRepo.On("ActiveOfType", mock.Anything, user.ID, access.RoleAccountant).Return(role, nil)
		repo.UsersRepo.On("TrackSuccessfulLogin", mock.Anything, user).Return(nil)

		auther := newAuthenticator(repo, nil)
		result, err := auther.LegacyLogin(context.Background(), user.Email, testPassword, access.RoleAccountant)
		require.NoError(t, err)

		claims, err := auther.TokenService().Validate(result.Token)
		require.NoError(t, err)
		kind, err := claims.Kind()
		require.NoError(t, err)
		assert.Equal(t, access.PrincipalAccountant, kind)
	})

	t.Run("requires an active assignment of the requested type", func(t *testing.T) {
		repo := NewMockRepositoryManager()
		user := credentialedUser(t)

		repo.UsersRepo.On("GetByEmail", mock.Anything, user.Email).Return(user, nil)
		repo.RolesRepo.On("ActiveOfType", mock.Anything, user.ID, access.RoleSubcontractor).
			Return(nil, repository.NewRecordNotFound())

		_, err := newAuthenticator(repo, nil).LegacyLogin(context.Background(), user.Email, testPassword, access.RoleSubcontractor)
		assert.Equal(t, access.TextCodeRoleNotResolvable, access.TextCode(err))
	})
}
