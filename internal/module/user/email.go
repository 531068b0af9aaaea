package user

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"

	"go.uber.org/zap"

	"github.com/clausewise/server/internal/shared/config"
)

// SMTPMailer delivers account emails over SMTP.
type SMTPMailer struct {
	cfg    *config.EmailConfig
	logger *zap.Logger
}

// NewSMTPMailer creates an SMTP mailer.
func NewSMTPMailer(cfg *config.EmailConfig, logger *zap.Logger) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, logger: logger}
}

func (m *SMTPMailer) SendVerificationEmail(ctx context.Context, email, token string) error {
	verifyURL := fmt.Sprintf("%s/verify-email?token=%s", m.cfg.BaseURL, token)

	body, err := renderEmailTemplate(verificationEmailTemplate, map[string]string{
		"VerifyURL": verifyURL,
	})
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}
	return m.send(email, "Verify your email address", body)
}

func (m *SMTPMailer) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	resetURL := fmt.Sprintf("%s/reset-password?token=%s", m.cfg.BaseURL, token)

	body, err := renderEmailTemplate(passwordResetEmailTemplate, map[string]string{
		"ResetURL": resetURL,
	})
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}
	return m.send(email, "Reset your password", body)
}

func (m *SMTPMailer) send(to, subject, body string) error {
	from := m.cfg.FromAddress
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.FromAddress)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		from, to, subject, body)

	addr := fmt.Sprintf("%s:%d", m.cfg.SMTPHost, m.cfg.SMTPPort)

	var auth smtp.Auth
	if m.cfg.SMTPUser != "" && m.cfg.SMTPPass != "" {
		auth = smtp.PlainAuth("", m.cfg.SMTPUser, m.cfg.SMTPPass, m.cfg.SMTPHost)
	}

	if err := smtp.SendMail(addr, auth, m.cfg.FromAddress, []string{to}, []byte(msg)); err != nil {
		m.logger.Error("failed to send email", zap.String("to", to), zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("send email: %w", err)
	}
	m.logger.Info("email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}

func renderEmailTemplate(tmpl string, data map[string]string) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const verificationEmailTemplate = `
<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body>
    <h1>Welcome to Clausewise</h1>
    <p>Thanks for signing up. Please verify your email address:</p>
    <p><a href="{{.VerifyURL}}">Verify Email</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p>{{.VerifyURL}}</p>
    <p>This link will expire in 48 hours.</p>
    <p>If you didn't create an account, you can safely ignore this email.</p>
</body>
</html>
`

const passwordResetEmailTemplate = `
<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body>
    <h1>Reset your password</h1>
    <p>We received a request to reset your password:</p>
    <p><a href="{{.ResetURL}}">Reset Password</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p>{{.ResetURL}}</p>
    <p>This link will expire in 1 hour.</p>
    <p>If you didn't request a password reset, you can safely ignore this email.</p>
</body>
</html>
`

// LogMailer logs instead of sending, for development environments without
// an SMTP host.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a logging-only mailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendVerificationEmail(ctx context.Context, email, token string) error {
	m.logger.Info("verification email (not sent)", zap.String("email", email), zap.String("token", token))
	return nil
}

func (m *LogMailer) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	m.logger.Info("password reset email (not sent)", zap.String("email", email), zap.String("token", token))
	return nil
}

var (
	_ Mailer = (*SMTPMailer)(nil)
	_ Mailer = (*LogMailer)(nil)
)
