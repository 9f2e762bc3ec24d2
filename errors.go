package access

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Machine-readable text codes surfaced to clients so they can pick the
// right recovery action without parsing messages.
const (
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeMissingClient      = "MISSING_CLIENT_HEADER"
	TextCodeAccessDenied       = "ACCESS_DENIED"
	TextCodeProjectDenied      = "PROJECT_ACCESS_DENIED"
	TextCodeProjectSelection   = "PROJECT_SELECTION_REQUIRED"
	TextCodePermissionDenied   = "PERMISSION_DENIED"
	TextCodeDuplicateRole      = "DUPLICATE_ROLE"
	TextCodeSetupTokenInvalid  = "SETUP_TOKEN_INVALID"
	TextCodeRoleNotResolvable  = "ROLE_NOT_RESOLVABLE"
	TextCodeInvalidTransition  = "INVALID_ROLE_TRANSITION"
)

// ErrTokenExpired is returned for structurally valid tokens past their
// validity window.
var ErrTokenExpired = goerrors.New("authentication token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed covers tampered, unsigned, or unparseable tokens. The
// message stays generic: it never leaks which claim shape was expected.
var ErrTokenMalformed = goerrors.New("invalid authentication token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidCredentials is the login failure for a wrong email/password
// pair, distinct from token errors so clients offer a retry instead of a
// new link.
var ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrMissingClientHeader is a client-contract violation: an accountant
// token was presented without the X-User-ID tenant selector. It is not an
// authentication failure; the caller should fix the request shape.
var ErrMissingClientHeader = goerrors.New("X-User-ID header is required for accountant access", goerrors.CategoryBadInput).
	WithTextCode(TextCodeMissingClient).
	WithCode(goerrors.CodeBadRequest)

// ErrAccessDenied means the principal authenticated but holds no grant for
// the requested tenant.
var ErrAccessDenied = goerrors.New("no active access to the requested account", goerrors.CategoryAuthz).
	WithTextCode(TextCodeAccessDenied).
	WithCode(goerrors.CodeForbidden)

// ErrProjectAccessDenied means the subcontractor holds grants, but none for
// the project named by the request.
var ErrProjectAccessDenied = goerrors.New("no active access to the requested project", goerrors.CategoryAuthz).
	WithTextCode(TextCodeProjectDenied).
	WithCode(goerrors.CodeForbidden)

// ErrProjectSelectionRequired is returned when a subcontractor holds more
// than one active grant and the request does not disambiguate via
// X-Project-ID. We refuse to guess.
var ErrProjectSelectionRequired = goerrors.New("X-Project-ID header is required when multiple project grants exist", goerrors.CategoryBadInput).
	WithTextCode(TextCodeProjectSelection).
	WithCode(goerrors.CodeBadRequest)

// ErrPermissionDenied means the grant exists but its access level does not
// permit the attempted write.
var ErrPermissionDenied = goerrors.New("access level does not permit this operation", goerrors.CategoryAuthz).
	WithTextCode(TextCodePermissionDenied).
	WithCode(goerrors.CodeForbidden)

// ErrDuplicateRole rejects a second live assignment for the same
// (user, role type, business owner) tuple.
var ErrDuplicateRole = goerrors.New("role already exists for this user", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateRole).
	WithCode(goerrors.CodeConflict)

// ErrSetupTokenInvalid covers malformed, expired, and already-consumed
// setup tokens alike; the recovery is always "request a new link".
var ErrSetupTokenInvalid = goerrors.New("invalid or expired token", goerrors.CategoryAuth).
	WithTextCode(TextCodeSetupTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrRoleNotResolvable is returned when a token references a role that is
// deactivated, soft-deleted, or missing. Indistinguishable from a role
// that never existed.
var ErrRoleNotResolvable = goerrors.New("role is not available", goerrors.CategoryAuth).
	WithTextCode(TextCodeRoleNotResolvable).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidTransition is returned for role status changes outside the
// lifecycle graph.
var ErrInvalidTransition = goerrors.New("invalid role state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString rejects blank required inputs (passwords, emails).
var ErrNoEmptyString = goerrors.New("value must not be empty", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is the bcrypt mismatch sentinel.
var ErrMismatchedHashAndPassword = goerrors.New("password does not match", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized)

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if goerrors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if goerrors.Is(err, ErrTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// TextCode extracts the machine-readable code from a rich error, or "".
func TextCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode
	}
	return ""
}
