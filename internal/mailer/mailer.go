// Package mailer delivers account emails.
package mailer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type Mailer interface {
	SendVerification(ctx context.Context, to, link string) error
	SendPasswordReset(ctx context.Context, to, link string) error
}

const (
	verificationSubject = "Verify your email address"
	resetSubject        = "Reset your password"
)

type SMTPMailer struct {
	log  *zap.SugaredLogger
	from string
	send func(m ...*gomail.Message) error
}

func NewSMTPMailer(log *zap.SugaredLogger, host string, port int, user, password, from string) *SMTPMailer {
	d := gomail.NewDialer(host, port, user, password)
	return &SMTPMailer{
		log:  log,
		from: from,
		send: d.DialAndSend,
	}
}

func newMailerWithSender(log *zap.SugaredLogger, from string, s gomail.Sender) *SMTPMailer {
	return &SMTPMailer{
		log:  log,
		from: from,
		send: func(m ...*gomail.Message) error { return gomail.Send(s, m...) },
	}
}

func (s *SMTPMailer) SendVerification(ctx context.Context, to, link string) error {
	body := fmt.Sprintf(`<p>Welcome to roomsync!</p>
<p>Confirm your email address to start chatting:</p>
<p><a href="%s">%s</a></p>
<p>If you did not create an account, ignore this email.</p>`, link, link)

	return s.deliver(ctx, to, verificationSubject, body)
}

func (s *SMTPMailer) SendPasswordReset(ctx context.Context, to, link string) error {
	body := fmt.Sprintf(`<p>You asked to reset your roomsync password.</p>
<p><a href="%s">%s</a></p>
<p>The link expires in one hour. If you did not ask for this, ignore this email.</p>`, link, link)

	return s.deliver(ctx, to, resetSubject, body)
}

func (s *SMTPMailer) deliver(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.send(m); err != nil {
		s.log.Errorw("failed to send email", "to", to, "subject", subject, "error", err)
		return fmt.Errorf("send %q: %w", subject, err)
	}

	s.log.Infow("email sent", "to", to, "subject", subject)
	return nil
}

// LogMailer writes links to the log instead of sending them. It is used when
// no SMTP server is configured.
type LogMailer struct {
	log *zap.SugaredLogger
}

func NewLogMailer(log *zap.SugaredLogger) *LogMailer {
	return &LogMailer{log: log}
}

func (l *LogMailer) SendVerification(_ context.Context, to, link string) error {
	l.log.Infow("verification email", "to", to, "link", link)
	return nil
}

func (l *LogMailer) SendPasswordReset(_ context.Context, to, link string) error {
	l.log.Infow("password reset email", "to", to, "link", link)
	return nil
}
