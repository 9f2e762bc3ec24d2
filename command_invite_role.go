package access

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// ProjectGrantSpec names one project a subcontractor invite should
// cover, with the access level for that project alone.
type ProjectGrantSpec struct {
	ProjectID   uuid.UUID   `json:"project_id"`
	AccessLevel AccessLevel `json:"access_level"`
}

type InviteRoleMessage struct {
	Email           string             `json:"email"`
	FirstName       string             `json:"first_name"`
	LastName        string             `json:"last_name"`
	Phone           string             `json:"phone"`
	RoleType        RoleType           `json:"role_type"`
	AccessLevel     AccessLevel        `json:"access_level"`
	BusinessOwnerID uuid.UUID          `json:"business_owner_id"`
	Profile         *RoleProfile       `json:"profile,omitempty"`
	Projects        []ProjectGrantSpec `json:"projects,omitempty"`
	InvitedBy       uuid.UUID          `json:"invited_by"`
	UseHashid       bool
	OnResponse      func(resp *InviteRoleResponse)
}

func (e InviteRoleMessage) Type() string { return "role.invite" }

type InviteRoleResponse struct {
	User        *User
	Role        *RoleAssignment
	SetupToken  string
	Reactivated bool
	Success     bool
}

// InviteRoleHandler grants a role by invitation. The invited user may
// not exist yet; a placeholder identity is created with an unusable
// random credential until setup-password runs. Re-inviting a removed
// (soft-deleted) tuple reactivates it in place rather than violating
// the one-role-per-owner uniqueness rule with a second row.
type InviteRoleHandler struct {
	Repo         RepositoryManager
	Tokens       *TokenServiceImpl
	Mailer       Mailer
	ActivitySink ActivitySink
	Logger       Logger
}

func (h *InviteRoleHandler) Execute(ctx context.Context, event InviteRoleMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during role invitation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InviteRoleHandler) execute(ctx context.Context, event InviteRoleMessage) error {
	resp := &InviteRoleResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if !IsValidRoleType(string(event.RoleType)) {
		return goerrors.New("unknown role type", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"role_type": event.RoleType})
	}

	if event.AccessLevel == "" {
		event.AccessLevel = AccessViewer
	}
	if !IsValidAccessLevel(string(event.AccessLevel)) {
		return goerrors.New("unknown access level", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"access_level": event.AccessLevel})
	}

	err := h.Repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		seed := &User{
			Email:     event.Email,
			FirstName: event.FirstName,
			LastName:  event.LastName,
			Phone:     normalizePhone(event.Phone),
		}
		if event.UseHashid {
			if id, err := hashid.NewUUID(event.Email); err == nil {
				seed.ID = id
			}
		}

		user, err := h.Repo.Users().GetOrCreateByEmailTx(ctx, tx, seed)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve invited user")
		}
		resp.User = user

		owner := &event.BusinessOwnerID
		if event.RoleType == RoleBusinessOwner || event.RoleType == RoleAdmin {
			owner = nil
		}

		setupToken, err := h.Tokens.MintSetupToken(user, event.RoleType, InviteTokenTTL)
		if err != nil {
			return err
		}
		expiresAt := time.Now().Add(InviteTokenTTL)

		existing, err := h.Repo.Roles().FindTupleTx(ctx, tx, user.ID, event.RoleType, owner)
		if err != nil && !repository.IsRecordNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check existing role")
		}

		switch {
		case existing != nil && existing.DeletedAt == nil:
			return ErrDuplicateRole.Clone().WithMetadata(map[string]any{
				"user_id":   user.ID.String(),
				"role_type": event.RoleType,
			})
		case existing != nil:
			role, err := h.Repo.Roles().ReactivateTx(ctx, tx, existing.ID, setupToken, expiresAt)
			if err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reactivate role")
			}
			resp.Role = role
			resp.Reactivated = true
		default:
			role := &RoleAssignment{
				ID:              uuid.New(),
				UserID:          user.ID,
				RoleType:        event.RoleType,
				AccessLevel:     event.AccessLevel,
				BusinessOwnerID: owner,
				Status:          RoleStatusInvited,
				InviteToken:     &setupToken,
				InviteExpiresAt: &expiresAt,
				Profile:         event.Profile,
			}
			if role, err = h.Repo.Roles().CreateTx(ctx, tx, role); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create role assignment")
			}
			resp.Role = role
		}

		if event.RoleType == RoleSubcontractor {
			if err := h.createGrants(ctx, tx, resp.Role, event); err != nil {
				return err
			}
		}

		if err := h.Repo.Users().StoreSetupTokenTx(ctx, tx, user.ID, setupToken, expiresAt); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store setup token")
		}

		resp.SetupToken = setupToken
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "role invitation transaction failed")
	}

	h.notify(ctx, event, resp)
	h.record(ctx, event, resp)

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *InviteRoleHandler) createGrants(ctx context.Context, tx bun.Tx, role *RoleAssignment, event InviteRoleMessage) error {
	for _, spec := range event.Projects {
		level := spec.AccessLevel
		if level == "" {
			level = event.AccessLevel
		}
		grant := &ProjectGrant{
			ID:          uuid.New(),
			RoleID:      role.ID,
			ProjectID:   spec.ProjectID,
			OwnerID:     event.BusinessOwnerID,
			AccessLevel: level,
			Status:      RoleStatusActive,
		}
		if _, err := h.Repo.ProjectGrants().CreateTx(ctx, tx, grant); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create project grant")
		}
	}
	return nil
}

func (h *InviteRoleHandler) notify(ctx context.Context, event InviteRoleMessage, resp *InviteRoleResponse) {
	mailer := normalizeMailer(h.Mailer)
	subject, body := inviteEmailBody("", event.RoleType, resp.SetupToken)

	// Mail failures never roll back the invite; resend-invite covers them.
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := mailer.Send(sendCtx, event.Email, subject, body); err != nil {
			h.logger().Warn("invite email failed", "email", event.Email, "error", err)
		}
	}()
}

func (h *InviteRoleHandler) record(ctx context.Context, event InviteRoleMessage, resp *InviteRoleResponse) {
	sink := normalizeActivitySink(h.ActivitySink)
	err := sink.Record(ctx, ActivityEvent{
		EventType: ActivityEventRoleInvited,
		Actor:     ActorRef{ID: event.InvitedBy.String(), Type: "user"},
		UserID:    resp.User.ID.String(),
		RoleID:    resp.Role.ID.String(),
		ToStatus:  RoleStatusInvited,
		Metadata: map[string]any{
			"role_type":   event.RoleType,
			"reactivated": resp.Reactivated,
		},
		OccurredAt: time.Now(),
	})
	if err != nil {
		h.logger().Warn("activity sink record error", "error", err)
	}
}

func (h *InviteRoleHandler) logger() Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return defLogger{}
}

// normalizePhone formats to E.164 when the number parses, and keeps
// the raw input otherwise. Invites should not fail on a phone typo.
func normalizePhone(raw string) string {
	if raw == "" {
		return ""
	}
	num, err := phonenumbers.Parse(raw, "US")
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}
