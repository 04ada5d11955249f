package email

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/redmonkez12/fintrack-api/internal/logging"
)

func newTestService(send func(*gomail.Message) error) *SMTPService {
	s := NewSMTPService(Config{
		SMTPHost:    "smtp.example.com",
		SMTPPort:    587,
		SMTPUser:    "noreply@example.com",
		FrontendURL: "https://app.example.com",
	}, logging.Discard())
	s.send = send
	return s
}

func messageBody(t *testing.T, m *gomail.Message) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	return buf.String()
}

func TestSMTPService_SendVerificationEmail(t *testing.T) {
	var sent *gomail.Message
	s := newTestService(func(m *gomail.Message) error {
		sent = m
		return nil
	})

	err := s.SendVerificationEmail(context.Background(), "a@x.com", "abc123")
	require.NoError(t, err)
	require.NotNil(t, sent)

	assert.Equal(t, []string{"a@x.com"}, sent.GetHeader("To"))
	assert.Equal(t, []string{"Verify your email address"}, sent.GetHeader("Subject"))
	assert.Contains(t, sent.GetHeader("From")[0], "noreply@example.com")

	body := messageBody(t, sent)
	assert.Contains(t, body, "https://app.example.com/verify-email?token=abc123")
	assert.Contains(t, body, "24 hours")
}

func TestSMTPService_SendTwoFactorCode(t *testing.T) {
	var sent *gomail.Message
	s := newTestService(func(m *gomail.Message) error {
		sent = m
		return nil
	})

	require.NoError(t, s.SendTwoFactorCode(context.Background(), "a@x.com", "482913"))
	assert.Contains(t, messageBody(t, sent), "482913")
}

func TestSMTPService_SendError(t *testing.T) {
	s := newTestService(func(*gomail.Message) error {
		return errors.New("connection refused")
	})

	err := s.SendPasswordResetEmail(context.Background(), "a@x.com", "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSMTPService_ContextTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	s := newTestService(func(*gomail.Message) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.SendVerificationEmail(ctx, "a@x.com", "tok")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRender_AllTemplates(t *testing.T) {
	for name := range templates {
		t.Run(name, func(t *testing.T) {
			out, err := render(name, templateData{AppName: "FinTrack", Year: 2026, Link: "https://x/y", Code: "123456"})
			require.NoError(t, err)
			assert.Contains(t, out, "FinTrack")
			assert.Contains(t, out, "<html>")
		})
	}

	_, err := render("missing.html", templateData{})
	assert.Error(t, err)
}

func TestLogService(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogService(logging.New(slog.NewTextHandler(&buf, nil)), "https://app.example.com")

	require.NoError(t, s.SendPasswordResetEmail(context.Background(), "a@x.com", "tok"))
	assert.Contains(t, buf.String(), "https://app.example.com/reset-password?token=tok")
}
