package access

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RegisterOwnerMessage struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Password   string `json:"password"`
	UseHashid  bool
	OnResponse func(resp *RegisterOwnerResponse)
}

func (e RegisterOwnerMessage) Type() string { return "owner.register" }

type RegisterOwnerResponse struct {
	User    *User
	Role    *RoleAssignment
	Success bool
}

// RegisterOwnerHandler is the self-service path: business owners sign
// up directly, everyone else arrives by invitation. The owner role is
// active from the start since there is no inviter to wait on.
type RegisterOwnerHandler struct {
	Repo RepositoryManager
}

func (h *RegisterOwnerHandler) Execute(ctx context.Context, event RegisterOwnerMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during owner registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterOwnerHandler) execute(ctx context.Context, event RegisterOwnerMessage) error {
	resp := &RegisterOwnerResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.Repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		hash, err := HashPassword(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		user := &User{
			Email:        event.Email,
			FirstName:    event.FirstName,
			LastName:     event.LastName,
			Phone:        normalizePhone(event.Phone),
			PasswordHash: hash,
		}
		if event.UseHashid {
			if id, err := hashid.NewUUID(event.Email); err == nil {
				user.ID = id
			}
		}

		if user, err = h.Repo.Users().CreateTx(ctx, tx, user); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
		}
		resp.User = user

		existing, err := h.Repo.Roles().FindTupleTx(ctx, tx, user.ID, RoleBusinessOwner, nil)
		if err != nil && !repository.IsRecordNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check existing role")
		}
		if existing != nil {
			return ErrDuplicateRole.Clone().WithMetadata(map[string]any{
				"user_id":   user.ID.String(),
				"role_type": RoleBusinessOwner,
			})
		}

		role := &RoleAssignment{
			ID:          uuid.New(),
			UserID:      user.ID,
			RoleType:    RoleBusinessOwner,
			AccessLevel: AccessAdmin,
			Status:      RoleStatusActive,
		}
		if role, err = h.Repo.Roles().CreateTx(ctx, tx, role); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create owner role")
		}
		resp.Role = role

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "owner registration transaction failed")
	}

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
