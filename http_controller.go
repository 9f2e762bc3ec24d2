package access

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Patch(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// Controller serves the unified auth API as JSON. Mount it twice: the
// unified surface under /unified-auth and the legacy endpoints under
// /auth, both against the same instance.
type Controller struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Auther       *UnifiedAuthenticator
	Mailer       Mailer
	ActivitySink ActivitySink
	// ContextKey is the router locals key the middleware stores the
	// Authorization under.
	ContextKey string
}

type ControllerOption func(*Controller) *Controller

func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *Controller) *Controller {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerMailer(mailer Mailer) ControllerOption {
	return func(c *Controller) *Controller {
		c.Mailer = mailer
		return c
	}
}

func WithControllerActivitySink(sink ActivitySink) ControllerOption {
	return func(c *Controller) *Controller {
		c.ActivitySink = normalizeActivitySink(sink)
		return c
	}
}

func WithControllerDebug(debug bool) ControllerOption {
	return func(c *Controller) *Controller {
		c.Debug = debug
		return c
	}
}

func NewController(repo RepositoryManager, auther *UnifiedAuthenticator, opts ...ControllerOption) *Controller {
	c := &Controller{
		Logger:       defLogger{},
		Repo:         repo,
		Auther:       auther,
		ActivitySink: noopActivitySink{},
		ContextKey:   "access",
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in access controller...")
	}

	if c.Auther == nil {
		panic("Missing UnifiedAuthenticator in access controller...")
	}

	return c
}

// RegisterUnifiedRoutes mounts the unified auth surface. The protected
// routes expect the accessware middleware to have run already.
func (a *Controller) RegisterUnifiedRoutes(group RouteRegistrar, protect router.MiddlewareFunc) {
	group.Post("/check-roles", a.CheckRoles)
	group.Post("/login", a.Login)
	group.Post("/forgot-password", a.ForgotPassword)
	group.Post("/setup-password/:token", a.SetupPassword)
	group.Get("/validate-token/:token", a.ValidateToken)

	group.Post("/switch-role", a.SwitchRole, protect)
	group.Post("/invite", a.Invite, protect)
	group.Get("/team", a.Team, protect)
	group.Patch("/team/:roleId", a.TeamUpdate, protect)
	group.Delete("/team/:roleId", a.TeamRemove, protect)
	group.Post("/team/:roleId/resend-invite", a.ResendInvite, protect)
}

// RegisterLegacyRoutes mounts the pre-unification endpoints.
func (a *Controller) RegisterLegacyRoutes(group RouteRegistrar, protect router.MiddlewareFunc) {
	group.Post("/login", a.LegacyLogin)
	group.Post("/refresh-token", a.Refresh)
	group.Post("/logout", a.Logout, protect)
}

// CheckRolesRequest payload
type CheckRolesRequest struct {
	Email string `json:"email"`
}

func (r CheckRolesRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *Controller) CheckRoles(ctx router.Context) error {
	payload := new(CheckRolesRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}
	if err := payload.Validate(); err != nil {
		return a.validationError(ctx, err)
	}

	check, err := a.Auther.CheckRoles(ctx.Context(), payload.Email)
	if err != nil {
		return a.errorResponse(ctx, err)
	}

	return ctx.JSON(router.StatusOK, check)
}

// LoginRequest payload for unified login
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RoleID     string `json:"role_id,omitempty"`
	RememberMe bool   `json:"remember_me"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.RoleID, is.UUIDv4),
	)
}

func (a *Controller) Login(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}
	if err := payload.Validate(); err != nil {
		return a.validationError(ctx, err)
	}

	if a.Debug {
		fmt.Println("======= UNIFIED LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(map[string]any{
			"email":   payload.Email,
			"role_id": payload.RoleID,
		}))
		fmt.Println("============================")
	}

	input := LoginInput{
		Email:    payload.Email,
		Password: payload.Password,
		Extended: payload.RememberMe,
	}
	if payload.RoleID != "" {
		id, err := uuid.Parse(payload.RoleID)
		if err != nil {
			return a.badRequest(ctx, err)
		}
		input.RoleID = &id
	}

	result, err := a.Auther.Login(ctx.Context(), input)
	if err != nil {
		return a.errorResponse(ctx, err)
	}

	return ctx.JSON(router.StatusOK, result)
}

// SwitchRoleRequest payload
type SwitchRoleRequest struct {
	RoleID string `json:"role_id"`
}

func (r SwitchRoleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RoleID, validation.Required, is.UUIDv4),
	)
}

func (a *Controller) SwitchRole(ctx router.Context) error {
	claims, ok := RouterClaims(ctx, a.ContextKey)
	if !ok {
		return a.errorResponse(ctx, ErrAccessDenied)
	}

	payload := new(SwitchRoleRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}
	if err := payload.Validate(); err != nil {
		return a.validationError(ctx, err)
	}

	roleID, err := uuid.Parse(payload.RoleID)
	if err != nil {
		return a.badRequest(ctx, err)
	}

	result, err := a.Auther.SwitchRole(ctx.Context(), claims, roleID)
	if err != nil {
		return a.errorResponse(ctx, err)
	}

	return ctx.JSON(router.StatusOK, result)
}

// InviteRequest payload
type InviteRequest struct {
	Email       string             `json:"email"`
	FirstName   string             `json:"first_name"`
	LastName    string             `json:"last_name"`
	Phone       string             `json:"phone"`
	RoleType    string             `json:"role_type"`
	AccessLevel string             `json:"access_level"`
	Profile     *RoleProfile       `json:"profile,omitempty"`
	Projects    []ProjectGrantSpec `json:"projects,omitempty"`
}

func (r InviteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.FirstName, validation.Length(0, 200)),
		validation.Field(&r.LastName, validation.Length(0, 200)),
		validation.Field(&r.RoleType, validation.Required, validation.By(func(value any) error {
			s, _ := value.(string)
			if !IsValidRoleType(s) {
				return fmt.Errorf("unknown role type: %s", s)
			}
			return nil
		})),
		validation.Field(&r.AccessLevel, validation.By(func(value any) error {
			s, _ := value.(string)
			if s != "" && !IsValidAccessLevel(s) {
				return fmt.Errorf("unknown access level: %s", s)
			}
			return nil
		})),
	)
}

func (a *Controller) Invite(ctx router.Context) error {
	authz, err := a.requireManager(ctx)
	if err != nil {
		return a.errorResponse(ctx, err)
	}

	payload := new(InviteRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}
	if err := payload.Validate(); err != nil {
		return a.validationError(ctx, err)
	}

	level, _ := ParseAccessLevel(payload.AccessLevel)

	var resp *InviteRoleResponse
	msg := InviteRoleMessage{
		Email:           payload.Email,
		FirstName:       payload.FirstName,
		LastName:        payload.LastName,
		Phone:           payload.Phone,
		RoleType:        RoleType(payload.RoleType),
		AccessLevel:     level,
		BusinessOwnerID: authz.TargetOwnerID,
		Profile:         payload.Profile,
		Projects:        payload.Projects,
		InvitedBy:       authz.PrincipalID,
		OnResponse: func(r *InviteRoleResponse) {
			resp = r
		},
	}

	invite := InviteRoleHandler{
		Repo:         a.Repo,
		Tokens:       a.Auther.TokenService(),
		Mailer:       a.Mailer,
		ActivitySink: a.ActivitySink,
		Logger:       a.Logger,
	}
	if err := invite.Execute(ctx.Context(), msg); err != nil {
		return a.errorResponse(ctx, err)
	}

	return ctx.JSON(router.StatusCreated, map[string]any{
		"role":        resp.Role,
		"user":        resp.User,
		"reactivated": resp.Reactivated,
	})
}

func (a *Controller) Team(ctx router.Context) error {
	authz, err := a.requireManager(ctx)
	if err != nil {
		return a.errorResponse(ctx, err)
	}

	team, err := a.Repo.Roles().TeamForOwner(ctx.Context(), authz.TargetOwnerID)
	if err != nil {
		return a.errorResponse(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"team": team,
	})
}

// TeamUpdateRequest payload. Both fields optional; omitted means keep.
type TeamUpdateRequest struct {
	Status      string `json:"status,omitempty"`
	AccessLevel string `json:"access_level,omitempty"`
}

func (r TeamUpdateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Status, validation.In(
			string(RoleStatusActive),
			string(RoleStatusDeactivated),
		)),
		validation.Field(&r.AccessLevel, validation.By(func(value any) error {
			s, _ := value.(string)
			if s != "" && !IsValidAccessLevel(s) {
				return fmt.Errorf("unknown access level: %s", s)
			}
			return nil
		})),
	)
}

func (a *Controller) TeamUpdate(ctx router.Context) error {
	authz, err := a.requireManager(ctx)
	if err != nil {
		return a.errorResponse(ctx, err)
	}

	role, err := a.teamRole(ctx, authz)
	if err != nil {
		return a.errorResponse(ctx, err)
	}

	payload := new(TeamUpdateRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}
	if err := payload.Validate(); err != nil {
		return a.validationError(ctx, err)
	}

	if payload.AccessLevel != "" {
		level, _ := ParseAccessLevel(payload.AccessLevel)
		role.AccessLevel = level
		if role, err = a.Repo.Roles().Update(ctx.Context(), role); err != nil {
			return a.errorResponse(ctx, err)
		}
	}

	if payload.Status != "" && RoleStatus(payload.Status) != role.Status {
		lifecycle := NewRoleLifecycle(a.Repo.Roles(),
			WithLifecycleActivitySink(a.ActivitySink),
			WithLifecycleLogger(a.Logger),
		)
		role, err = lifecycle.Transition(ctx.Context(),
			ActorRef{ID: authz.PrincipalID.String(), Type: "user"},
			role, RoleStatus(payload.Status),
		)
		if err != nil {
			return a.errorResponse(ctx, err)
		}
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"role": role,
	})
}

func (a *Controller) TeamRemove(ctx router.Context) error {
	authz, err := a.requireManager(ctx)
	if err != nil {
		return a.errorResponse(ctx, err)
	}

	role, err := a.teamRole(ctx, authz)
	if err != nil {
		return a.errorResponse(ctx, err)
	}

	if err := a.Repo.Roles().Remove(ctx.Context(), role.ID, authz.PrincipalID); err != nil {
		return a.errorResponse(ctx, err)
	}

	if role.RoleType == RoleSubcontractor {
		if err := a.Repo.ProjectGrants().RevokeForRole(ctx.Context(), role.ID); err != nil {
			a.Logger.Warn("failed to revoke project grants", "role_id", role.ID, "error", err)
		}
	}

	a.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventRoleRemoved,
		Actor:      ActorRef{ID: authz.PrincipalID.String(), Type: "user"},
		UserID:     role.UserID.String(),
		RoleID:     role.ID.String(),
		FromStatus: role.Status,
	})

	return ctx.JSON(router.StatusOK, map[string]any{
		"status": "removed",
	})
}

func (a *Controller) ResendInvite(ctx router.Context) error {
	authz, err := a.requireManager(ctx)
	if err != nil {
		return a.errorResponse(ctx, err)
	}

	role, err := a.teamRole(ctx, authz)
	if err != nil {
		return a.errorResponse(ctx, err)
	}

	if role.Status != RoleStatusInvited {
		return a.errorResponse(ctx, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"status": role.Status,
			"reason": "only pending invitations can be resent",
		}))
	}

	user, err := a.Repo.Users().GetByID(ctx.Context(), role.UserID.String())
	if err != nil {
		return a.errorResponse(ctx, err)
	}

	token, err := a.Auther.TokenService().MintSetupToken(user, role.RoleType, InviteTokenTTL)
	if err != nil {
		return a.errorResponse(ctx, err)
	}

	expiresAt := a.Auther.now().Add(InviteTokenTTL)
	if err := a.Repo.Roles().StoreInviteToken(ctx.Context(), role.ID, token, expiresAt); err != nil {
		return a.errorResponse(ctx, err)
	}
	if err := a.Repo.Users().StoreSetupToken(ctx.Context(), user.ID, token, expiresAt); err != nil {
		return a.errorResponse(ctx, err)
	}

	subject, body := inviteEmailBody("", role.RoleType, token)
	if err := normalizeMailer(a.Mailer).Send(ctx.Context(), user.Email, subject, body); err != nil {
		a.Logger.Warn("invite email failed", "email", user.Email, "error", err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"status": "invite_sent",
	})
}

// SetupPasswordRequest payload
type SetupPasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (r SetupPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
		validation.Field(&r.ConfirmPassword, validation.Required, validation.By(func(value any) error {
			s, _ := value.(string)
			if s != r.Password {
				return fmt.Errorf("values must match")
			}
			return nil
		})),
	)
}

func (a *Controller) SetupPassword(ctx router.Context) error {
	token := ctx.Param("token", "")
	if token == "" {
		return a.errorResponse(ctx, ErrSetupTokenInvalid)
	}

	payload := new(SetupPasswordRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}
	if err := payload.Validate(); err != nil {
		return a.validationError(ctx, err)
	}

	var resp *SetupPasswordResponse
	msg := SetupPasswordMessage{
		Token:    token,
		Password: payload.Password,
		OnResponse: func(r *SetupPasswordResponse) {
			resp = r
		},
	}

	setup := SetupPasswordHandler{
		Repo:         a.Repo,
		Tokens:       a.Auther.TokenService(),
		ActivitySink: a.ActivitySink,
		Logger:       a.Logger,
	}
	if err := setup.Execute(ctx.Context(), msg); err != nil {
		return a.errorResponse(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"user": resp.User,
		"role": resp.Role,
	})
}

func (a *Controller) ValidateToken(ctx router.Context) error {
	token := ctx.Param("token", "")
	if token == "" {
		return a.errorResponse(ctx, ErrSetupTokenInvalid)
	}

	setup := SetupPasswordHandler{
		Repo:   a.Repo,
		Tokens: a.Auther.TokenService(),
		Logger: a.Logger,
	}

	user, err := setup.ValidateToken(ctx.Context(), token)
	if err != nil {
		return a.errorResponse(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"valid": true,
		"email": user.Email,
	})
}

// ForgotPasswordRequest payload
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

func (r ForgotPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *Controller) ForgotPassword(ctx router.Context) error {
	payload := new(ForgotPasswordRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}
	if err := payload.Validate(); err != nil {
		return a.validationError(ctx, err)
	}

	forgot := ForgotPasswordHandler{
		Repo:   a.Repo,
		Tokens: a.Auther.TokenService(),
		Mailer: a.Mailer,
		Logger: a.Logger,
	}
	if err := forgot.Execute(ctx.Context(), ForgotPasswordMessage{Email: payload.Email}); err != nil {
		return a.errorResponse(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"status": "accepted",
	})
}

// LegacyLoginRequest payload for the pre-unification endpoint
type LegacyLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

func (r LegacyLoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.Role, validation.By(func(value any) error {
			s, _ := value.(string)
			if s != "" && !IsValidRoleType(s) {
				return fmt.Errorf("unknown role type: %s", s)
			}
			return nil
		})),
	)
}

func (a *Controller) LegacyLogin(ctx router.Context) error {
	payload := new(LegacyLoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}
	if err := payload.Validate(); err != nil {
		return a.validationError(ctx, err)
	}

	roleType := RoleType(payload.Role)
	if payload.Role == "" {
		roleType = RoleBusinessOwner
	}

	result, err := a.Auther.LegacyLogin(ctx.Context(), payload.Email, payload.Password, roleType)
	if err != nil {
		return a.errorResponse(ctx, err)
	}

	return ctx.JSON(router.StatusOK, result)
}

// RefreshRequest payload
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

func (a *Controller) Refresh(ctx router.Context) error {
	payload := new(RefreshRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}
	if err := payload.Validate(); err != nil {
		return a.validationError(ctx, err)
	}

	result, err := a.Auther.Refresh(ctx.Context(), payload.RefreshToken)
	if err != nil {
		return a.errorResponse(ctx, err)
	}

	return ctx.JSON(router.StatusOK, result)
}

func (a *Controller) Logout(ctx router.Context) error {
	authz, ok := RouterAuthorization(ctx, a.ContextKey)
	if !ok {
		return a.errorResponse(ctx, ErrAccessDenied)
	}

	if err := a.Auther.Logout(ctx.Context(), authz.PrincipalID); err != nil {
		return a.errorResponse(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"status": "logged_out",
	})
}

// requireManager gates the team endpoints: business owners manage their
// own tenant, admins carry manage_users; nobody else gets in.
func (a *Controller) requireManager(ctx router.Context) (*Authorization, error) {
	authz, ok := RouterAuthorization(ctx, a.ContextKey)
	if !ok {
		return nil, ErrAccessDenied
	}
	if authz.RoleType != RoleBusinessOwner && !authz.Can(PermManageUsers) {
		return nil, ErrPermissionDenied
	}
	return authz, nil
}

// teamRole loads the :roleId route param and checks it belongs to the
// caller's tenant.
func (a *Controller) teamRole(ctx router.Context, authz *Authorization) (*RoleAssignment, error) {
	roleID, err := uuid.Parse(ctx.Param("roleId", ""))
	if err != nil {
		return nil, goerrors.New("invalid role id", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	role, err := a.Repo.Roles().GetByID(ctx.Context(), roleID.String())
	if err != nil {
		return nil, err
	}

	// another tenant's role must look exactly like a missing one, so
	// the response cannot confirm the row exists
	if role.BusinessOwnerID == nil || *role.BusinessOwnerID != authz.TargetOwnerID {
		return nil, repository.NewRecordNotFound()
	}

	return role, nil
}

func (a *Controller) recordActivity(ctx router.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.Auther.now()
	}
	if err := normalizeActivitySink(a.ActivitySink).Record(ctx.Context(), event); err != nil {
		a.Logger.Warn("activity sink record error", "error", err)
	}
}

func (a *Controller) badRequest(ctx router.Context, err error) error {
	a.Logger.Error("failed to parse payload", "error", err)
	return ctx.JSON(router.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"message": "failed to parse request body",
			"code":    "BAD_REQUEST",
		},
	})
}

func (a *Controller) validationError(ctx router.Context, err error) error {
	return ctx.JSON(router.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"message": "validation failed",
			"code":    "VALIDATION_ERROR",
			"fields":  FormatValidationErrorToMap(err),
		},
	})
}

// errorResponse maps rich errors onto the wire contract: HTTP status
// from the error code, machine-readable text code in the body.
func (a *Controller) errorResponse(ctx router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		if repository.IsRecordNotFound(err) {
			return ctx.JSON(router.StatusNotFound, map[string]any{
				"error": map[string]any{
					"message": "not found",
					"code":    "NOT_FOUND",
				},
			})
		}
		a.Logger.Error("unhandled error", "error", err)
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "an unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	status := richErr.Code
	if status == 0 {
		status = router.StatusInternalServerError
	}

	if a.Debug {
		fmt.Println("======= ACCESS ERROR ======")
		fmt.Println(print.MaybePrettyJSON(richErr))
		fmt.Println("===========================")
	}

	body := map[string]any{
		"message":  richErr.Message,
		"code":     richErr.TextCode,
		"category": richErr.Category,
	}
	if len(richErr.Metadata) > 0 {
		body["metadata"] = richErr.Metadata
	}

	return ctx.JSON(status, map[string]any{"error": body})
}
