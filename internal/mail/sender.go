package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/johanbring/timedollar/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

const (
	sendAttempts = 3
	retryDelay   = 2 * time.Second
)

// Sender handles sending emails via SMTP
type Sender struct {
	from     string
	password string
	host     string
	port     string
	log      *logrus.Logger

	attempts int
	delay    time.Duration
	sendFn   func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewSender creates a new email sender
func NewSender(settings *config.Settings, cfg *config.Config, log *logrus.Logger) *Sender {
	s := &Sender{
		from:     settings.Email,
		password: settings.Password,
		host:     settings.SMTPServer,
		port:     cfg.SMTPPort,
		log:      log,
		attempts: sendAttempts,
		delay:    retryDelay,
	}
	s.sendFn = s.sendStartTLS
	return s
}

// Send delivers one message, retrying transient faults up to the attempt
// bound with a fixed pause between tries. Authentication rejections are
// returned immediately as ErrAuth. The pause is interruptible via ctx.
func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	e := email.NewEmail()
	e.From = s.from
	e.To = []string{to}
	e.Subject = subject
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	auth := smtp.PlainAuth("", s.from, s.password, s.host)

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		err := s.sendFn(e, addr, auth)
		if err == nil {
			s.log.Infof("Email sent to %s: %s", to, subject)
			return nil
		}
		if isAuthError(err) {
			s.log.Errorf("SMTP authentication failed for %s: %v", s.from, err)
			return fmt.Errorf("%w: %v", ErrAuth, err)
		}
		lastErr = err
		s.log.Warnf("Send attempt %d/%d to %s failed: %v", attempt, s.attempts, to, err)
		if attempt < s.attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.delay):
			}
		}
	}

	s.log.Errorf("Failed to send email to %s after %d attempts: %v", to, s.attempts, lastErr)
	return fmt.Errorf("failed to send email after %d attempts: %w", s.attempts, lastErr)
}

func (s *Sender) sendStartTLS(e *email.Email, addr string, auth smtp.Auth) error {
	return e.SendWithStartTLS(addr, auth, &tls.Config{ServerName: s.host})
}

// isAuthError reports whether the SMTP server rejected our credentials.
// The server signals this with a 5xx auth reply code, which net/smtp
// surfaces as a textproto protocol error.
func isAuthError(err error) bool {
	var protoErr *textproto.Error
	if !errors.As(err, &protoErr) {
		return false
	}
	switch protoErr.Code {
	case 530, 534, 535:
		return true
	}
	return false
}
