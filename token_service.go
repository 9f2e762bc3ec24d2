package access

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Validity windows per token kind. Issuance is a pure function over claims
// and the signing key; nothing here touches the store.
const (
	// SessionTokenTTL covers regular session tokens of every principal kind
	SessionTokenTTL = 24 * time.Hour
	// RefreshTokenTTL covers refresh tokens minted next to a session token
	RefreshTokenTTL = 7 * 24 * time.Hour
	// ExtendedSessionTTL covers "remember this device" unified logins
	ExtendedSessionTTL = 30 * 24 * time.Hour
	// InviteTokenTTL covers role invitation links
	InviteTokenTTL = 7 * 24 * time.Hour
	// SetupTokenTTL covers password-setup and password-reset links
	SetupTokenTTL = 48 * time.Hour
)

// TokenServiceImpl implements TokenService over HS256 with a shared secret.
type TokenServiceImpl struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	logger     Logger
	now        func() time.Time
}

// NewTokenService creates a new TokenService instance.
func NewTokenService(signingKey []byte, issuer string, audience jwt.ClaimStrings, logger Logger) *TokenServiceImpl {
	if logger == nil {
		logger = defLogger{}
	}
	return &TokenServiceImpl{
		signingKey: signingKey,
		issuer:     issuer,
		audience:   audience,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the time source, useful in tests.
func (ts *TokenServiceImpl) WithClock(clock func() time.Time) *TokenServiceImpl {
	if clock != nil {
		ts.now = clock
	}
	return ts
}

var _ TokenService = (*TokenServiceImpl)(nil)

// SignClaims signs arbitrary claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(claims *AccessClaims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signed, nil
}

// Validate parses and verifies a token string. Expired or tampered tokens
// fail deterministically; there is no partial success.
func (ts *TokenServiceImpl) Validate(tokenString string) (*AccessClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 2)
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService validate encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, goerrors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		ts.logger.Error("TokenService validate could not decode claims")
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// sign applies the registered-claim envelope and signs a payload.
func (ts *TokenServiceImpl) sign(claims *AccessClaims, subject string, ttl time.Duration) (string, error) {
	now := ts.now()

	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    ts.issuer,
		Subject:   subject,
		Audience:  ts.audience,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}

	return ts.SignClaims(claims)
}
