// Package mail sends account emails over SMTP.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"acadRepo/internal/config"
	"acadRepo/internal/database"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// WelcomeMessage builds the registration greeting for user.
func WelcomeMessage(user database.User) Message {
	return Message{
		To:      user.Email,
		Subject: "Welcome",
		Body:    fmt.Sprintf("Hi %s, your account was created successfully.", strings.TrimSpace(user.FirstName)),
	}
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer delivers messages through an SMTP relay. Without a host it only logs them.
type SMTPMailer struct {
	cfg    config.MailConfig
	logger *slog.Logger
	send   sendFunc
}

// NewSMTPMailer returns a mailer for cfg.
func NewSMTPMailer(cfg config.MailConfig, logger *slog.Logger) *SMTPMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPMailer{cfg: cfg, logger: logger, send: smtp.SendMail}
}

// SendWelcome greets a newly registered user.
func (m *SMTPMailer) SendWelcome(ctx context.Context, user database.User) error {
	return m.Send(ctx, WelcomeMessage(user))
}

// Send delivers msg synchronously.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(m.cfg.Host) == "" {
		m.logger.InfoContext(ctx, "smtp not configured, logging email",
			slog.String("to", msg.To),
			slog.String("subject", msg.Subject),
			slog.String("body", msg.Body),
		)
		return nil
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, auth, m.cfg.From, []string{msg.To}, compose(m.cfg.From, msg)); err != nil {
		return fmt.Errorf("send email to %s: %w", msg.To, err)
	}
	return nil
}

func compose(from string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body + "\r\n")
	return []byte(b.String())
}
