// Package email delivers verification links, password reset links and
// two-factor codes.
package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/redmonkez12/fintrack-api/internal/logging"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	templateVerification  = "verification.html"
	templatePasswordReset = "password_reset.html"
	templateTwoFactor     = "two_factor.html"
)

var templates = mustParseTemplates(templateVerification, templatePasswordReset, templateTwoFactor)

func mustParseTemplates(names ...string) map[string]*template.Template {
	out := make(map[string]*template.Template, len(names))
	for _, name := range names {
		out[name] = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/"+name))
	}
	return out
}

// Config describes the SMTP relay and the links embedded in emails.
type Config struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
	FromName     string
	FrontendURL  string
	AppName      string
}

// templateData feeds the shared layout and every content template.
type templateData struct {
	AppName    string
	Year       int
	ExpiryNote string
	Link       string
	Code       string
}

// SMTPService sends HTML email through an SMTP relay.
type SMTPService struct {
	cfg    Config
	logger *logging.Logger
	send   func(m *gomail.Message) error
}

func NewSMTPService(cfg Config, logger *logging.Logger) *SMTPService {
	if cfg.FromAddress == "" {
		cfg.FromAddress = cfg.SMTPUser
	}
	if cfg.AppName == "" {
		cfg.AppName = "FinTrack"
	}

	dialer := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)

	return &SMTPService{
		cfg:    cfg,
		logger: logger,
		send: func(m *gomail.Message) error {
			return dialer.DialAndSend(m)
		},
	}
}

// SendVerificationEmail sends an email verification link to the user
func (s *SMTPService) SendVerificationEmail(ctx context.Context, toEmail, token string) error {
	return s.deliver(ctx, toEmail, "Verify your email address", templateVerification, templateData{
		Link:       fmt.Sprintf("%s/verify-email?token=%s", s.cfg.FrontendURL, token),
		ExpiryNote: "This link will expire in 24 hours.",
	})
}

// SendPasswordResetEmail sends a password reset link to the user
func (s *SMTPService) SendPasswordResetEmail(ctx context.Context, toEmail, token string) error {
	return s.deliver(ctx, toEmail, "Reset your password", templatePasswordReset, templateData{
		Link:       fmt.Sprintf("%s/reset-password?token=%s", s.cfg.FrontendURL, token),
		ExpiryNote: "This link will expire in 1 hour.",
	})
}

// SendTwoFactorCode emails a one-time sign-in code.
func (s *SMTPService) SendTwoFactorCode(ctx context.Context, toEmail, code string) error {
	return s.deliver(ctx, toEmail, "Your sign-in code", templateTwoFactor, templateData{
		Code:       code,
		ExpiryNote: "This code will expire in 1 hour.",
	})
}

func (s *SMTPService) deliver(ctx context.Context, to, subject, tmpl string, data templateData) error {
	data.AppName = s.cfg.AppName
	data.Year = time.Now().Year()

	body, err := render(tmpl, data)
	if err != nil {
		s.logger.Error("failed to render email template", "template", tmpl, "error", err)
		return fmt.Errorf("render template: %w", err)
	}

	m := gomail.NewMessage(gomail.SetEncoding(gomail.Unencoded))
	m.SetAddressHeader("From", s.cfg.FromAddress, s.cfg.FromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	// gomail has no context support, so the dial runs in its own goroutine.
	done := make(chan error, 1)
	go func() { done <- s.send(m) }()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Error("failed to send email", "email", to, "subject", subject, "error", err)
			return fmt.Errorf("send email: %w", err)
		}
	case <-ctx.Done():
		s.logger.Error("email send timed out", "email", to, "subject", subject)
		return fmt.Errorf("send email: %w", ctx.Err())
	}

	s.logger.Info("email sent", "email", to, "subject", subject)
	return nil
}

func render(name string, data templateData) (string, error) {
	t, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("unknown template %q", name)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}
