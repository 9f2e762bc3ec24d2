package access

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

type ForgotPasswordMessage struct {
	Email      string `json:"email"`
	OnResponse func(resp *ForgotPasswordResponse)
}

func (e ForgotPasswordMessage) Type() string { return "user.forgot_password" }

type ForgotPasswordResponse struct {
	// Accepted is true whether or not the email matched an account;
	// the response must not leak which addresses exist.
	Accepted bool
}

// ForgotPasswordHandler reissues a setup token for an existing
// credential. It reuses the invitation machinery: the emailed token is
// the same single-use setup token, spent by the same endpoint.
type ForgotPasswordHandler struct {
	Repo   RepositoryManager
	Tokens *TokenServiceImpl
	Mailer Mailer
	Logger Logger
}

func (h *ForgotPasswordHandler) Execute(ctx context.Context, event ForgotPasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ForgotPasswordHandler) execute(ctx context.Context, event ForgotPasswordMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	respond := func() {
		if event.OnResponse != nil {
			event.OnResponse(&ForgotPasswordResponse{Accepted: true})
		}
	}

	user, err := h.Repo.Users().GetByEmail(ctx, event.Email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			respond()
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up account")
	}

	token, err := h.Tokens.MintSetupToken(user, "", SetupTokenTTL)
	if err != nil {
		return err
	}

	expiresAt := time.Now().Add(SetupTokenTTL)
	if err := h.Repo.Users().StoreSetupToken(ctx, user.ID, token, expiresAt); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store reset token")
	}

	subject, body := passwordResetEmailBody(token)
	mailer := normalizeMailer(h.Mailer)

	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := mailer.Send(sendCtx, user.Email, subject, body); err != nil {
			h.logger().Warn("reset email failed", "email", user.Email, "error", err)
		}
	}()

	respond()
	return nil
}

func (h *ForgotPasswordHandler) logger() Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return defLogger{}
}
