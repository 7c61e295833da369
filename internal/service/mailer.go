package service

import (
	"context"

	"go.uber.org/zap"
)

// Mailer delivers password reset links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, token string) error
}

// LogMailer writes the reset token to the log instead of sending mail.
type LogMailer struct {
	Logger *zap.Logger
}

func (m LogMailer) SendPasswordReset(_ context.Context, email, token string) error {
	m.Logger.Info("password reset requested",
		zap.String("email", email),
		zap.String("reset_token", token),
	)
	return nil
}
