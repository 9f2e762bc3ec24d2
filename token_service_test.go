package access_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	access "github.com/potionhq/potion-access"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key-thats-long-enough")

func newTestTokenService() *access.TokenServiceImpl {
	return access.NewTokenService(testSigningKey, "potion-test", jwt.ClaimStrings{"potion-app"}, noopLogger{})
}

func testUser() *access.User {
	return &access.User{
		ID:    uuid.New(),
		Email: "owner@example.com",
	}
}

func TestSessionTokenRoundTrip(t *testing.T) {
	svc := newTestTokenService()
	user := testUser()

	token, err := svc.MintSessionToken(user, false)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Validate(token)
	require.NoError(t, err)

	assert.Equal(t, user.ID.String(), claims.UserID)
	assert.Equal(t, user.Email, claims.Email)
	assert.False(t, claims.Setup)
	assert.False(t, claims.Refresh)

	kind, err := claims.Kind()
	require.NoError(t, err)
	assert.Equal(t, access.PrincipalUser, kind)
}

func TestExtendedSessionStretchesExpiry(t *testing.T) {
	base := time.Now()
	svc := newTestTokenService().WithClock(func() time.Time { return base })
	user := testUser()

	regular, err := svc.MintSessionToken(user, false)
	require.NoError(t, err)
	extended, err := svc.MintSessionToken(user, true)
	require.NoError(t, err)

	regularClaims, err := svc.Validate(regular)
	require.NoError(t, err)
	extendedClaims, err := svc.Validate(extended)
	require.NoError(t, err)

	assert.WithinDuration(t, base.Add(access.SessionTokenTTL), regularClaims.Expires(), time.Second)
	assert.WithinDuration(t, base.Add(access.ExtendedSessionTTL), extendedClaims.Expires(), time.Second)
}

func TestExpiredTokenFailsDeterministically(t *testing.T) {
	past := time.Now().Add(-48 * time.Hour)
	svc := newTestTokenService().WithClock(func() time.Time { return past })

	token, err := svc.MintSessionToken(testUser(), false)
	require.NoError(t, err)

	_, err = svc.Validate(token)
	require.Error(t, err)
	assert.True(t, goerrors.Is(err, access.ErrTokenExpired))
	assert.True(t, access.IsTokenExpiredError(err))
}

func TestTamperedTokenIsMalformed(t *testing.T) {
	svc := newTestTokenService()

	token, err := svc.MintSessionToken(testUser(), false)
	require.NoError(t, err)

	_, err = svc.Validate(token + "x")
	require.Error(t, err)
	assert.Equal(t, access.TextCodeTokenMalformed, access.TextCode(err))

	_, err = svc.Validate("not-a-jwt")
	require.Error(t, err)
	assert.Equal(t, access.TextCodeTokenMalformed, access.TextCode(err))
}

func TestWrongSigningKeyRejected(t *testing.T) {
	svc := newTestTokenService()
	other := access.NewTokenService([]byte("a-different-signing-key-entirely"), "potion-test", jwt.ClaimStrings{"potion-app"}, noopLogger{})

	token, err := other.MintSessionToken(testUser(), false)
	require.NoError(t, err)

	_, err = svc.Validate(token)
	require.Error(t, err)
	assert.Equal(t, access.TextCodeTokenMalformed, access.TextCode(err))
}

func TestIssuerMismatchRejected(t *testing.T) {
	minter := access.NewTokenService(testSigningKey, "someone-else", nil, noopLogger{})
	validator := access.NewTokenService(testSigningKey, "potion-test", nil, noopLogger{})

	token, err := minter.MintSessionToken(testUser(), false)
	require.NoError(t, err)

	_, err = validator.Validate(token)
	assert.Error(t, err)
}

func TestRefreshTokenShape(t *testing.T) {
	base := time.Now()
	svc := newTestTokenService().WithClock(func() time.Time { return base })
	user := testUser()

	token, err := svc.MintRefreshToken(user)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)

	assert.True(t, claims.Refresh)
	assert.False(t, claims.Setup)
	assert.Equal(t, user.ID.String(), claims.UserID)
	assert.WithinDuration(t, base.Add(access.RefreshTokenTTL), claims.Expires(), time.Second)
}

func TestRoleTokenCarriesRoleContext(t *testing.T) {
	svc := newTestTokenService()
	user := testUser()
	ownerID := uuid.New()
	role := &access.RoleAssignment{
		ID:              uuid.New(),
		UserID:          user.ID,
		RoleType:        access.RoleAccountant,
		AccessLevel:     access.AccessEditor,
		BusinessOwnerID: &ownerID,
		Status:          access.RoleStatusActive,
	}

	token, err := svc.MintRoleToken(user, role, false)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)

	assert.Equal(t, user.ID.String(), claims.UserID)
	assert.Equal(t, role.ID.String(), claims.RoleID)
	assert.Equal(t, access.RoleAccountant, claims.RoleType)
	assert.Equal(t, ownerID.String(), claims.BusinessOwnerID)
	assert.True(t, claims.IsRoleSwitch())
}

func TestSetupTokenShape(t *testing.T) {
	base := time.Now()
	svc := newTestTokenService().WithClock(func() time.Time { return base })
	user := testUser()

	token, err := svc.MintSetupToken(user, access.RoleAccountant, access.InviteTokenTTL)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)

	assert.True(t, claims.Setup)
	assert.Equal(t, access.RoleAccountant, claims.RoleType)
	assert.WithinDuration(t, base.Add(access.InviteTokenTTL), claims.Expires(), time.Second)

	// zero TTL falls back to the default setup window
	token, err = svc.MintSetupToken(user, "", 0)
	require.NoError(t, err)
	claims, err = svc.Validate(token)
	require.NoError(t, err)
	assert.WithinDuration(t, base.Add(access.SetupTokenTTL), claims.Expires(), time.Second)
}

func TestLegacyTokenShapes(t *testing.T) {
	svc := newTestTokenService()
	user := testUser()

	accountant, err := svc.MintLegacyAccountantToken(user)
	require.NoError(t, err)
	claims, err := svc.Validate(accountant)
	require.NoError(t, err)
	kind, err := claims.Kind()
	require.NoError(t, err)
	assert.Equal(t, access.PrincipalAccountant, kind)
	assert.Empty(t, claims.UserID)

	sub, err := svc.MintLegacySubcontractorToken(user)
	require.NoError(t, err)
	claims, err = svc.Validate(sub)
	require.NoError(t, err)
	kind, err = claims.Kind()
	require.NoError(t, err)
	assert.Equal(t, access.PrincipalSubcontractor, kind)

	admin, err := svc.MintAdminToken(user)
	require.NoError(t, err)
	claims, err = svc.Validate(admin)
	require.NoError(t, err)
	kind, err = claims.Kind()
	require.NoError(t, err)
	assert.Equal(t, access.PrincipalAdmin, kind)
}

func TestMintRequiresUser(t *testing.T) {
	svc := newTestTokenService()

	_, err := svc.MintSessionToken(nil, false)
	assert.Error(t, err)
	_, err = svc.MintRefreshToken(nil)
	assert.Error(t, err)
	_, err = svc.MintRoleToken(testUser(), nil, false)
	assert.Error(t, err)
	_, err = svc.MintSetupToken(nil, "", 0)
	assert.Error(t, err)
}
