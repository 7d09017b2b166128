// Package email sends verification codes over SMTP. It is a side-effect
// service in the sense of spec.md §4.G: callers only observe a boolean
// success/failure, never the delivery itself.
//
// This is the one ambient concern in this module built directly on the
// standard library rather than a pack dependency: none of the retrieved
// example repositories import an SMTP client or mail-building library, and
// the original reference implementation itself uses nothing more than its
// language's standard smtplib. net/smtp plus net/textproto is the idiomatic
// Go equivalent.
package email

import (
	"fmt"
	"net/smtp"
	"net/textproto"
	"strings"
)

// Sender delivers a verification code to an address and reports whether
// the send succeeded. Handlers depend on this interface, not on a concrete
// SMTP client, so tests can substitute a no-op implementation.
type Sender interface {
	SendVerificationCode(toAddress, code string) error
}

// SMTPConfig holds the connection details for an outgoing mail relay
// (grounded on original_source/server/email_utils.py's EmailManager, which
// reads host/port/username/password/from-address from configuration).
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends mail through a configured relay with smtp.SendMail: it
// connects in plain text and upgrades with STARTTLS when the relay offers
// it. Relays that expect implicit TLS from the first byte (SMTPS) are not
// supported.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender returns a Sender backed by cfg.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// SendVerificationCode sends a plain-text verification email.
func (s *SMTPSender) SendVerificationCode(toAddress, code string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)

	subject := "Your verification code"
	body := fmt.Sprintf("Your verification code is: %s\r\nIt expires in 10 minutes.\r\n", code)

	header := textproto.MIMEHeader{}
	header.Set("From", s.cfg.From)
	header.Set("To", toAddress)
	header.Set("Subject", subject)
	header.Set("Content-Type", "text/plain; charset=UTF-8")

	var b strings.Builder
	for k, vs := range header {
		for _, v := range vs {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	b.WriteString("\r\n")
	b.WriteString(body)

	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{toAddress}, []byte(b.String())); err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}
	return nil
}

// NoopSender discards codes without sending mail, for tests and local
// development where no SMTP relay is configured.
type NoopSender struct{}

// SendVerificationCode always succeeds without doing anything.
func (NoopSender) SendVerificationCode(string, string) error { return nil }
