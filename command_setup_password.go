package access

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type SetupPasswordMessage struct {
	Token      string `json:"token"`
	Password   string `json:"password"`
	OnResponse func(resp *SetupPasswordResponse)
}

func (e SetupPasswordMessage) Type() string { return "user.setup_password" }

type SetupPasswordResponse struct {
	User    *User
	Role    *RoleAssignment
	Success bool
}

// SetupPasswordHandler finalizes an invitation: the setup token is
// single use, so the credential write and the token null-out happen in
// one statement. A token that validates cryptographically but no
// longer matches the stored copy has already been spent.
type SetupPasswordHandler struct {
	Repo         RepositoryManager
	Tokens       *TokenServiceImpl
	ActivitySink ActivitySink
	Logger       Logger
}

func (h *SetupPasswordHandler) Execute(ctx context.Context, event SetupPasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password setup",
		)
	default:
		return h.execute(ctx, event)
	}
}

// ValidateToken checks a setup token without spending it, for the
// pre-flight the invitation landing page does before showing the form.
func (h *SetupPasswordHandler) ValidateToken(ctx context.Context, token string) (*User, error) {
	if _, err := h.validClaims(token); err != nil {
		return nil, err
	}
	return h.matchStoredToken(ctx, token)
}

func (h *SetupPasswordHandler) execute(ctx context.Context, event SetupPasswordMessage) error {
	resp := &SetupPasswordResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if len(event.Password) < 8 {
		return goerrors.New("password must be at least 8 characters", goerrors.CategoryValidation)
	}

	if _, err := h.validClaims(event.Token); err != nil {
		return err
	}

	user, err := h.matchStoredToken(ctx, event.Token)
	if err != nil {
		return err
	}
	resp.User = user

	hash, err := HashPassword(event.Password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	err = h.Repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := h.Repo.Users().SetPasswordTx(ctx, tx, user.ID, hash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store password")
		}
		return nil
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "password setup transaction failed")
	}

	resp.Role = h.activateInvitedRole(ctx, user, event.Token)

	h.record(ctx, resp)

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *SetupPasswordHandler) validClaims(token string) (*AccessClaims, error) {
	claims, err := h.Tokens.Validate(token)
	if err != nil {
		return nil, ErrSetupTokenInvalid.Clone().WithMetadata(map[string]any{
			"reason": TextCode(err),
		})
	}
	if !claims.Setup {
		return nil, ErrSetupTokenInvalid
	}
	return claims, nil
}

func (h *SetupPasswordHandler) matchStoredToken(ctx context.Context, token string) (*User, error) {
	user, err := h.Repo.Users().GetBySetupToken(ctx, token)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrSetupTokenInvalid
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up setup token")
	}

	if user.SetupTokenExpiresAt == nil || time.Now().After(*user.SetupTokenExpiresAt) {
		return nil, ErrSetupTokenInvalid
	}

	return user, nil
}

// activateInvitedRole flips the role the token was minted for from
// invited to active. Best effort: by this point the credential is set,
// and an unflipped role still activates on the first login.
func (h *SetupPasswordHandler) activateInvitedRole(ctx context.Context, user *User, token string) *RoleAssignment {
	role, err := h.Repo.Roles().GetByInviteToken(ctx, token)
	if err != nil {
		if !repository.IsRecordNotFound(err) {
			h.logger().Warn("invite role lookup failed", "user_id", user.ID, "error", err)
		}
		return nil
	}

	if role.UserID != user.ID || role.Status != RoleStatusInvited {
		return role
	}

	lifecycle := NewRoleLifecycle(h.Repo.Roles(),
		WithLifecycleActivitySink(h.ActivitySink),
		WithLifecycleLogger(h.logger()),
	)

	activated, err := lifecycle.Transition(ctx,
		ActorRef{ID: user.ID.String(), Type: "user"},
		role, RoleStatusActive,
		WithTransitionReason("password setup completed"),
	)
	if err != nil {
		h.logger().Warn("role activation failed", "role_id", role.ID, "error", err)
		return role
	}

	if err := h.Repo.Roles().ClearInviteToken(ctx, role.ID); err != nil {
		h.logger().Warn("failed to clear invite token", "role_id", role.ID, "error", err)
	}

	return activated
}

func (h *SetupPasswordHandler) record(ctx context.Context, resp *SetupPasswordResponse) {
	event := ActivityEvent{
		EventType:  ActivityEventPasswordSetup,
		Actor:      ActorRef{ID: resp.User.ID.String(), Type: "user"},
		UserID:     resp.User.ID.String(),
		OccurredAt: time.Now(),
		Metadata:   map[string]any{},
	}
	if resp.Role != nil {
		event.RoleID = resp.Role.ID.String()
	}

	if err := normalizeActivitySink(h.ActivitySink).Record(ctx, event); err != nil {
		h.logger().Warn("activity sink record error", "error", err)
	}
}

func (h *SetupPasswordHandler) logger() Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return defLogger{}
}
