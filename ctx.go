package access

import (
	"context"

	"github.com/goliatone/go-router"
)

var authorizationCtxKey = &contextKey{"authorization"}
var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithAuthorization sets the resolved Authorization in the given context.
func WithAuthorization(ctx context.Context, authz *Authorization) context.Context {
	return context.WithValue(ctx, authorizationCtxKey, authz)
}

// AuthorizationFromContext finds the Authorization resolved for this request.
func AuthorizationFromContext(ctx context.Context) (*Authorization, bool) {
	raw, ok := ctx.Value(authorizationCtxKey).(*Authorization)
	return raw, ok
}

// WithClaims sets the decoded AccessClaims in the given context.
func WithClaims(ctx context.Context, claims *AccessClaims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// ClaimsFromContext extracts the AccessClaims from the standard context.
func ClaimsFromContext(ctx context.Context) (*AccessClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*AccessClaims)
	return raw, ok
}

// RouterAuthorization extracts the Authorization stored in router locals by
// the accessware middleware.
func RouterAuthorization(c router.Context, key string) (*Authorization, bool) {
	if key == "" {
		key = "access"
	}
	raw, ok := c.Locals(key).(*Authorization)
	return raw, ok
}

// RouterClaims extracts the decoded AccessClaims stored in router locals
// alongside the Authorization.
func RouterClaims(c router.Context, key string) (*AccessClaims, bool) {
	if key == "" {
		key = "access"
	}
	raw, ok := c.Locals(key + ":claims").(*AccessClaims)
	return raw, ok
}
