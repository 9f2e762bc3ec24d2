package access

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds the token and middleware options consumed by the core.
type Config interface {
	GetSigningKey() string
	GetSigningMethod() string
	GetContextKey() string
	GetTokenExpiration() int
	GetExtendedTokenDuration() int
	GetTokenLookup() string
	GetAuthScheme() string
	GetIssuer() string
	GetAudience() []string
}

// TokenService mints and validates principal tokens.
type TokenService interface {
	SignClaims(claims *AccessClaims) (string, error)
	Validate(tokenString string) (*AccessClaims, error)
}

// TokenValidator validates tokens without tying callers to a signing
// implementation.
type TokenValidator interface {
	Validate(tokenString string) (*AccessClaims, error)
}

// TokenValidatorFunc adapts a function into a TokenValidator.
type TokenValidatorFunc func(tokenString string) (*AccessClaims, error)

func (f TokenValidatorFunc) Validate(tokenString string) (*AccessClaims, error) {
	if f == nil {
		return nil, ErrTokenMalformed
	}
	return f(tokenString)
}

// Mailer delivers invitation and reset notifications. Sends are
// fire-and-forget: a failed send is logged by the caller and never rolls
// back the state transition that triggered it.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// PasswordAuthenticator hashes and verifies password credentials.
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] ACCESS "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] ACCESS "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] ACCESS "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] ACCESS "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// SimpleConfig is a plain-struct Config for wiring the core without a
// configuration framework.
type SimpleConfig struct {
	SigningKey            string
	SigningMethod         string
	ContextKey            string
	TokenExpiration       int
	ExtendedTokenDuration int
	TokenLookup           string
	AuthScheme            string
	Issuer                string
	Audience              []string
}

var _ Config = (*SimpleConfig)(nil)

func (c *SimpleConfig) GetSigningKey() string    { return c.SigningKey }
func (c *SimpleConfig) GetContextKey() string    { return def(c.ContextKey, "access") }
func (c *SimpleConfig) GetTokenLookup() string   { return def(c.TokenLookup, "header:Authorization") }
func (c *SimpleConfig) GetAuthScheme() string    { return def(c.AuthScheme, "Bearer") }
func (c *SimpleConfig) GetSigningMethod() string { return def(c.SigningMethod, "HS256") }
func (c *SimpleConfig) GetIssuer() string        { return c.Issuer }
func (c *SimpleConfig) GetAudience() []string    { return c.Audience }

func (c *SimpleConfig) GetTokenExpiration() int {
	if c.TokenExpiration > 0 {
		return c.TokenExpiration
	}
	return int(SessionTokenTTL / time.Hour)
}

func (c *SimpleConfig) GetExtendedTokenDuration() int {
	if c.ExtendedTokenDuration > 0 {
		return c.ExtendedTokenDuration
	}
	return int(ExtendedSessionTTL / time.Hour)
}

func def(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}
