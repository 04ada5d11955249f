package email

import (
	"context"

	"github.com/redmonkez12/fintrack-api/internal/logging"
)

// LogService writes emails to the log instead of sending them. It is used
// in development when no SMTP host is configured.
type LogService struct {
	logger      *logging.Logger
	frontendURL string
}

func NewLogService(logger *logging.Logger, frontendURL string) *LogService {
	return &LogService{logger: logger, frontendURL: frontendURL}
}

func (s *LogService) SendVerificationEmail(_ context.Context, toEmail, token string) error {
	s.logger.Info("email not sent (no SMTP configured)", "kind", "verification", "email", toEmail,
		"link", s.frontendURL+"/verify-email?token="+token)
	return nil
}

func (s *LogService) SendPasswordResetEmail(_ context.Context, toEmail, token string) error {
	s.logger.Info("email not sent (no SMTP configured)", "kind", "password_reset", "email", toEmail,
		"link", s.frontendURL+"/reset-password?token="+token)
	return nil
}

func (s *LogService) SendTwoFactorCode(_ context.Context, toEmail, code string) error {
	s.logger.Info("email not sent (no SMTP configured)", "kind", "two_factor", "email", toEmail, "code", code)
	return nil
}
