package access

import (
	"context"
	"fmt"
)

// LogMailer writes outgoing mail to the logger instead of a provider.
// It is the default so invitation flows work end to end in development
// without SMTP credentials.
type LogMailer struct {
	Logger Logger
}

func (m LogMailer) Send(_ context.Context, to, subject, body string) error {
	logger := m.Logger
	if logger == nil {
		logger = defLogger{}
	}
	logger.Info("====== SENDING EMAIL NOTIFICATION =======")
	logger.Info("to: %s", to)
	logger.Info("subject: %s", subject)
	logger.Info("%s", body)
	return nil
}

func normalizeMailer(m Mailer) Mailer {
	if m == nil {
		return LogMailer{}
	}
	return m
}

func inviteEmailBody(inviterName string, roleType RoleType, token string) (subject, body string) {
	subject = "You have been invited"
	who := inviterName
	if who == "" {
		who = "A business owner"
	}
	body = fmt.Sprintf(
		"%s invited you to join as %s.\nFollow the link to set your password:\n/unified-auth/setup-password/%s\n",
		who, roleType, token,
	)
	return subject, body
}

func passwordResetEmailBody(token string) (subject, body string) {
	subject = "Reset your password"
	body = fmt.Sprintf(
		"Follow the link to choose a new password:\n/unified-auth/setup-password/%s\n",
		token,
	)
	return subject, body
}
