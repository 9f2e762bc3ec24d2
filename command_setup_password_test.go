package access_test

import (
	"context"
	"testing"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	access "github.com/potionhq/potion-access"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newSetupHandler(repo *MockRepositoryManager, sink access.ActivitySink) *access.SetupPasswordHandler {
	return &access.SetupPasswordHandler{
		Repo:         repo,
		Tokens:       newTestTokenService(),
		ActivitySink: sink,
		Logger:       noopLogger{},
	}
}

// mintSetupFixture returns a user carrying a freshly minted, stored
// setup token, the shape invite-role leaves behind.
func mintSetupFixture(t *testing.T) (*access.User, string) {
	t.Helper()
	user := testUser()
	token, err := newTestTokenService().MintSetupToken(user, access.RoleAccountant, access.InviteTokenTTL)
	require.NoError(t, err)
	expires := time.Now().Add(access.InviteTokenTTL)
	user.SetupToken = &token
	user.SetupTokenExpiresAt = &expires
	return user, token
}

func TestSetupPasswordCompletesInvitation(t *testing.T) {
	repo := NewMockRepositoryManager()
	sink := &RecordingSink{}
	user, token := mintSetupFixture(t)
	role := &access.RoleAssignment{
		ID:          user.ID,
		UserID:      user.ID,
		RoleType:    access.RoleAccountant,
		AccessLevel: access.AccessEditor,
		Status:      access.RoleStatusInvited,
		InviteToken: &token,
	}

	repo.UsersRepo.On("GetBySetupToken", mock.Anything, token).Return(user, nil)
	repo.UsersRepo.On("SetPasswordTx", mock.Anything, mock.Anything, user.ID, mock.Anything).Return(nil)
	repo.RolesRepo.On("GetByInviteToken", mock.Anything, token).Return(role, nil)
	stubUpdateStatus(repo.RolesRepo, role, access.RoleStatusActive)
	repo.RolesRepo.On("ClearInviteToken", mock.Anything, role.ID).Return(nil)

	var resp *access.SetupPasswordResponse
	err := newSetupHandler(repo, sink).Execute(context.Background(), access.SetupPasswordMessage{
		Token:      token,
		Password:   "a long enough password",
		OnResponse: func(r *access.SetupPasswordResponse) { resp = r },
	})
	require.NoError(t, err)

	require.NotNil(t, resp)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Role)
	assert.Equal(t, access.RoleStatusActive, resp.Role.Status)

	assert.Len(t, sink.ByType(access.ActivityEventPasswordSetup), 1)
	assert.Len(t, sink.ByType(access.ActivityEventRoleStatusChanged), 1)
	repo.AssertExpectations(t)
}

func TestSetupPasswordRejectsShortPassword(t *testing.T) {
	_, token := mintSetupFixture(t)

	err := newSetupHandler(NewMockRepositoryManager(), nil).Execute(context.Background(), access.SetupPasswordMessage{
		Token:    token,
		Password: "short",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 8 characters")
}

func TestSetupPasswordTokenValidation(t *testing.T) {
	t.Run("garbage token", func(t *testing.T) {
		err := newSetupHandler(NewMockRepositoryManager(), nil).Execute(context.Background(), access.SetupPasswordMessage{
			Token:    "not-a-jwt",
			Password: "a long enough password",
		})
		assert.Equal(t, access.TextCodeSetupTokenInvalid, access.TextCode(err))
	})

	t.Run("session token is not a setup token", func(t *testing.T) {
		session, err := newTestTokenService().MintSessionToken(testUser(), false)
		require.NoError(t, err)

		err = newSetupHandler(NewMockRepositoryManager(), nil).Execute(context.Background(), access.SetupPasswordMessage{
			Token:    session,
			Password: "a long enough password",
		})
		assert.Equal(t, access.TextCodeSetupTokenInvalid, access.TextCode(err))
	})

	t.Run("valid signature but already spent", func(t *testing.T) {
		repo := NewMockRepositoryManager()
		_, token := mintSetupFixture(t)
		// the stored copy was nulled out by a previous redemption
		repo.UsersRepo.On("GetBySetupToken", mock.Anything, token).
			Return(nil, repository.NewRecordNotFound())

		err := newSetupHandler(repo, nil).Execute(context.Background(), access.SetupPasswordMessage{
			Token:    token,
			Password: "a long enough password",
		})
		assert.Equal(t, access.TextCodeSetupTokenInvalid, access.TextCode(err))
	})

	t.Run("stored expiry has passed", func(t *testing.T) {
		repo := NewMockRepositoryManager()
		user, token := mintSetupFixture(t)
		stale := time.Now().Add(-time.Hour)
		user.SetupTokenExpiresAt = &stale
		repo.UsersRepo.On("GetBySetupToken", mock.Anything, token).Return(user, nil)

		err := newSetupHandler(repo, nil).Execute(context.Background(), access.SetupPasswordMessage{
			Token:    token,
			Password: "a long enough password",
		})
		assert.Equal(t, access.TextCodeSetupTokenInvalid, access.TextCode(err))
	})
}

func TestSetupPasswordRoleActivationIsBestEffort(t *testing.T) {
	repo := NewMockRepositoryManager()
	user, token := mintSetupFixture(t)

	repo.UsersRepo.On("GetBySetupToken", mock.Anything, token).Return(user, nil)
	repo.UsersRepo.On("SetPasswordTx", mock.Anything, mock.Anything, user.ID, mock.Anything).Return(nil)
	// no role row carries this invite token anymore
	repo.RolesRepo.On("GetByInviteToken", mock.Anything, token).
		Return(nil, repository.NewRecordNotFound())

	var resp *access.SetupPasswordResponse
	err := newSetupHandler(repo, nil).Execute(context.Background(), access.SetupPasswordMessage{
		Token:      token,
		Password:   "a long enough password",
		OnResponse: func(r *access.SetupPasswordResponse) { resp = r },
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Role)
}

func TestValidateTokenPreflight(t *testing.T) {
	repo := NewMockRepositoryManager()
	user, token := mintSetupFixture(t)
	repo.UsersRepo.On("GetBySetupToken", mock.Anything, token).Return(user, nil)

	handler := newSetupHandler(repo, nil)
	found, err := handler.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	// the pre-flight must not spend the token
	repo.UsersRepo.AssertNotCalled(t, "SetPasswordTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	_, err = handler.ValidateToken(context.Background(), "junk")
	assert.Equal(t, access.TextCodeSetupTokenInvalid, access.TextCode(err))
}
