package access

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

// FiberConfig configures the fiber-native middleware for apps that
// mount directly on fiber rather than through go-router.
type FiberConfig struct {
	Resolver   *RoleResolver
	ContextKey string
	AuthScheme string
	// Filter skips the middleware when it returns true.
	Filter func(*fiber.Ctx) bool
	// EnforceWrite applies the method-based write gate.
	EnforceWrite bool
	ErrorHandler func(*fiber.Ctx, error) error
}

// FiberMiddleware resolves the role context for each request and stores
// the Authorization in fiber locals.
func FiberMiddleware(cfg FiberConfig) fiber.Handler {
	if cfg.Resolver == nil {
		panic("ACCESS: fiber middleware configuration: Resolver is required.")
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = "access"
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = fiberErrorHandler
	}

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw, ok := bearerToken(c.Get(fiber.HeaderAuthorization), cfg.AuthScheme)
		if !ok {
			return cfg.ErrorHandler(c, ErrTokenMalformed)
		}

		hdr := Headers{
			ClientID:  c.Get(HeaderClientID),
			ProjectID: c.Get(HeaderProjectID),
		}

		authz, err := cfg.Resolver.Resolve(c.UserContext(), raw, hdr)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		if cfg.EnforceWrite {
			if err := EnsureWriteAllowed(authz, c.Method(), authz.TargetProjectID); err != nil {
				return cfg.ErrorHandler(c, err)
			}
		}

		c.Locals(cfg.ContextKey, authz)
		c.SetUserContext(WithAuthorization(c.UserContext(), authz))

		return c.Next()
	}
}

// GetFiberAuthorization extracts the Authorization stored by
// FiberMiddleware.
func GetFiberAuthorization(c *fiber.Ctx, key string) (*Authorization, bool) {
	if key == "" {
		key = "access"
	}
	authz, ok := c.Locals(key).(*Authorization)
	return authz, ok
}

func bearerToken(header, scheme string) (string, bool) {
	l := len(scheme)
	if len(header) > l+1 && strings.EqualFold(header[:l], scheme) {
		return strings.TrimSpace(header[l:]), true
	}
	return "", false
}

func fiberErrorHandler(c *fiber.Ctx, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": fiber.Map{
				"message": "invalid or expired token",
				"code":    TextCodeTokenMalformed,
			},
		})
	}

	status := richErr.Code
	if status == 0 {
		status = fiber.StatusUnauthorized
	}

	body := fiber.Map{
		"message": richErr.Message,
		"code":    richErr.TextCode,
	}
	if len(richErr.Metadata) > 0 {
		body["metadata"] = richErr.Metadata
	}

	return c.Status(status).JSON(fiber.Map{"error": body})
}
