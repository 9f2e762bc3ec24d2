package accessware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	access "github.com/potionhq/potion-access"
)

var (
	defaultTokenLookup       = "header:" + router.HeaderAuthorization
	ErrJWTMissingOrMalformed = errors.New("missing or malformed JWT")
)

// ValidationListener is invoked after the Authorization has been resolved
// but before the request proceeds.
type ValidationListener func(ctx router.Context, claims *access.AccessClaims, authz *access.Authorization) error

type Config struct {
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler

	// Resolver turns validated claims plus context headers into the
	// request Authorization. Required.
	Resolver *access.RoleResolver

	// Validator verifies raw tokens. Defaults to a keyfunc-backed
	// validator when signing configuration is given instead.
	Validator access.TokenValidator

	SigningKey  SigningKey
	SigningKeys map[string]SigningKey
	JWKSetURLs  []string
	KeyFunc     jwt.Keyfunc

	// ContextKey is the locals key for the Authorization; claims are
	// stored under ContextKey + ":claims".
	ContextKey  string
	TokenLookup string
	AuthScheme  string

	// HeaderClientID selects the accountant's target client tenant.
	HeaderClientID string
	// HeaderProjectID selects the subcontractor's working project.
	HeaderProjectID string

	// EnforceWrite applies the method-based write gate: mutating verbs
	// require write capability for the resolved scope.
	EnforceWrite bool

	// RequiredPermission, when set, must be present in the resolved
	// permission set.
	RequiredPermission access.Permission

	// ContextEnricher propagates claims and authorization into the
	// standard context. A default is installed when nil.
	ContextEnricher func(c context.Context, claims *access.AccessClaims, authz *access.Authorization) context.Context

	ValidationListeners []ValidationListener
}

type SigningKey struct {
	JWTAlg string
	Key    any
}

// New builds the access middleware: extract token, validate, resolve
// the role context, gate writes, then hand off with the Authorization
// in locals and the standard context.
func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := GetDefaultConfig(config...)
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			raw, err := ExtractRawTokenFromContext(ctx, cfg.getExtractors())
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			claims, err := cfg.Validator.Validate(raw)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			hdr := access.Headers{
				ClientID:  ctx.GetString(cfg.HeaderClientID, ""),
				ProjectID: ctx.GetString(cfg.HeaderProjectID, ""),
			}

			authz, err := cfg.Resolver.ResolveClaims(ctx.Context(), claims, hdr)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if cfg.EnforceWrite {
				if err := access.EnsureWriteAllowed(authz, ctx.Method(), authz.TargetProjectID); err != nil {
					return cfg.ErrorHandler(ctx, err)
				}
			}

			if cfg.RequiredPermission != "" && !authz.Can(cfg.RequiredPermission) {
				return cfg.ErrorHandler(ctx, access.ErrPermissionDenied)
			}

			if err := cfg.runValidationListeners(ctx, claims, authz); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, authz)
			ctx.Locals(cfg.ContextKey+":claims", claims)

			stdCtx := cfg.ContextEnricher(ctx.Context(), claims, authz)
			ctx.SetContext(stdCtx)

			return cfg.SuccessHandler(ctx)
		}
	}
}

func ExtractRawTokenFromContext(ctx router.Context, extractors []TokenExtractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler
	}

	if cfg.Resolver == nil {
		panic("ACCESS: middleware configuration: Resolver is required.")
	}

	if cfg.Validator == nil {
		if cfg.KeyFunc == nil && cfg.SigningKey.Key == nil && len(cfg.SigningKeys) == 0 && len(cfg.JWKSetURLs) == 0 {
			panic("ACCESS: middleware configuration: At least one of the following is required: Validator, KeyFunc, JWKSetURLs, SigningKeys, or SigningKey.")
		}
		cfg.Validator = keyfuncValidator(cfg.buildKeyFunc())
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "access"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.HeaderClientID == "" {
		cfg.HeaderClientID = access.HeaderClientID
	}

	if cfg.HeaderProjectID == "" {
		cfg.HeaderProjectID = access.HeaderProjectID
	}

	if cfg.ContextEnricher == nil {
		cfg.ContextEnricher = func(c context.Context, claims *access.AccessClaims, authz *access.Authorization) context.Context {
			c = access.WithClaims(c, claims)
			return access.WithAuthorization(c, authz)
		}
	}

	return cfg
}

// DefaultErrorHandler writes the rich error as JSON, using its HTTP
// code and machine-readable text code.
func DefaultErrorHandler(c router.Context, err error) error {
	if errors.Is(err, ErrJWTMissingOrMalformed) {
		return c.JSON(router.StatusUnauthorized, map[string]any{
			"error": map[string]any{
				"message": ErrJWTMissingOrMalformed.Error(),
				"code":    access.TextCodeTokenMalformed,
			},
		})
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return c.JSON(router.StatusUnauthorized, map[string]any{
			"error": map[string]any{
				"message": "invalid or expired token",
				"code":    access.TextCodeTokenMalformed,
			},
		})
	}

	status := richErr.Code
	if status == 0 {
		status = router.StatusUnauthorized
	}

	body := map[string]any{
		"message": richErr.Message,
		"code":    richErr.TextCode,
	}
	if len(richErr.Metadata) > 0 {
		body["metadata"] = richErr.Metadata
	}

	return c.JSON(status, map[string]any{"error": body})
}

func (cfg *Config) buildKeyFunc() jwt.Keyfunc {
	if cfg.KeyFunc != nil {
		return cfg.KeyFunc
	}

	if len(cfg.SigningKeys) > 0 || len(cfg.JWKSetURLs) > 0 {
		var givenKeys map[string]keyfunc.GivenKey
		if cfg.SigningKeys != nil {
			givenKeys = make(map[string]keyfunc.GivenKey, len(cfg.SigningKeys))
			for kid, key := range cfg.SigningKeys {
				givenKeys[kid] = keyfunc.NewGivenCustom(key.Key, keyfunc.GivenKeyOptions{
					Algorithm: key.JWTAlg,
				})
			}
		}
		if len(cfg.JWKSetURLs) > 0 {
			kf, err := multiKeyfunc(givenKeys, cfg.JWKSetURLs)
			if err != nil {
				panic("Failed to create keyfunc from JWK Set URL: " + err.Error())
			}
			return kf
		}
		return keyfunc.NewGiven(givenKeys).Keyfunc
	}

	return signingKeyFunc(cfg.SigningKey)
}

// keyfuncValidator adapts a jwt.Keyfunc into the claims validator used
// for externally issued tokens.
func keyfuncValidator(kf jwt.Keyfunc) access.TokenValidator {
	return access.TokenValidatorFunc(func(raw string) (*access.AccessClaims, error) {
		claims := &access.AccessClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, kf)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return nil, access.ErrTokenExpired
			}
			return nil, access.ErrTokenMalformed
		}
		if !token.Valid {
			return nil, access.ErrTokenMalformed
		}
		return claims, nil
	})
}

func multiKeyfunc(givenKeys map[string]keyfunc.GivenKey, jwtSetUrls []string) (jwt.Keyfunc, error) {
	opts := keyfuncOptions(givenKeys)
	m := make(map[string]keyfunc.Options, len(jwtSetUrls))
	for _, url := range jwtSetUrls {
		m[url] = opts
	}
	mopts := keyfunc.MultipleOptions{
		KeySelector: keyfunc.KeySelectorFirst,
	}
	multi, err := keyfunc.GetMultiple(m, mopts)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWT URLs: %w", err)
	}
	return multi.Keyfunc, nil
}

func keyfuncOptions(givenKeys map[string]keyfunc.GivenKey) keyfunc.Options {
	return keyfunc.Options{
		GivenKeys: givenKeys,
		RefreshErrorHandler: func(err error) {
			log.Printf("failed to do a background refresh of JWT set: %s", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
}

func signingKeyFunc(key SigningKey) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if key.JWTAlg != "" {
			alg, ok := token.Header["alg"].(string)
			if !ok {
				return nil, fmt.Errorf("unexpected JWT signing method: expected %q got: missing json type", key.JWTAlg)
			}
			if alg != key.JWTAlg {
				return nil, fmt.Errorf("unexpected jwt signing method: expected: %q: got: %q", key.JWTAlg, alg)
			}
		}
		return key.Key, nil
	}
}

func (cfg *Config) getExtractors() []TokenExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func (cfg *Config) runValidationListeners(ctx router.Context, claims *access.AccessClaims, authz *access.Authorization) error {
	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(ctx, claims, authz); err != nil {
			return err
		}
	}
	return nil
}

func GetExtractors(tokenLookup string, authSchemes ...string) []TokenExtractor {
	extractors := make([]TokenExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	// header:Authorization,cookie:jwt,query:auth_token,param:token
	rootParts := strings.Split(tokenLookup, ",")
	for _, rootPart := range rootParts {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, tokenFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, tokenFromQuery(parts[1]))
		case "param":
			extractors = append(extractors, tokenFromParam(parts[1]))
		case "cookie":
			extractors = append(extractors, tokenFromCookie(parts[1]))
		}
	}

	return extractors
}

type TokenExtractor func(c router.Context) (string, error)

// tokenFromHeader returns a function that extracts token from the request header.
func tokenFromHeader(header string, authScheme string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		a := c.GetString(header, "")
		l := len(authScheme)
		if l == 0 {
			fmt.Println("[WARNING] Missing auth scheme in config definition")
			return "", ErrJWTMissingOrMalformed
		}
		authScheme = strings.TrimSpace(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}

// tokenFromQuery returns a function that extracts token from the query string.
func tokenFromQuery(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// tokenFromParam returns a function that extracts token from the url param string.
func tokenFromParam(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Param(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// tokenFromCookie returns a function that extracts token from the named cookie.
func tokenFromCookie(name string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}
