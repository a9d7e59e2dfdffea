package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"taskd/internal/config"
)

// Email sends outcome summaries over SMTP with STARTTLS.
type Email struct {
	addr string
	auth smtp.Auth
	from string
	to   string
}

// NewEmail returns nil when the transport is not configured (missing
// credentials), which callers treat as "no email notifications".
func NewEmail(cfg *config.EmailConfig) *Email {
	if cfg == nil || strings.TrimSpace(cfg.Username) == "" || strings.TrimSpace(cfg.Password) == "" {
		return nil
	}
	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}
	to := strings.TrimSpace(cfg.To)
	if to == "" {
		to = cfg.Username
	}
	return &Email{
		addr: fmt.Sprintf("%s:%d", cfg.SMTPServer, port),
		auth: smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPServer),
		from: cfg.Username,
		to:   to,
	}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		e.from, e.to, subject, body)

	// net/smtp has no context support; run the dial+send in a goroutine and
	// abandon it on ctx expiry (the SMTP connection times out on its own).
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(e.addr, e.auth, e.from, []string{e.to}, []byte(msg))
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
