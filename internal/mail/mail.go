// Package mail is the transport layer: it sends transaction messages over
// SMTP with bounded retry and scans an IMAP mailbox for candidates. It deals
// in already-resolved connection parameters; credential management is the
// caller's concern.
package mail

import (
	"errors"

	"github.com/johanbring/timedollar/internal/config"
	"github.com/sirupsen/logrus"
)

// RawMessage is one mailbox message reduced to the two fields the
// reconciliation engine needs.
type RawMessage struct {
	Subject string
	Sender  string
}

// ErrAuth marks a credential rejection by the mail server. Retrying cannot
// help, so callers surface it immediately.
var ErrAuth = errors.New("mail authentication rejected")

// Transport bundles the SMTP sender and the IMAP inbox behind one value.
type Transport struct {
	*Sender
	*Inbox
}

// NewTransport creates the full mail transport from resolved connection
// parameters.
func NewTransport(settings *config.Settings, cfg *config.Config, log *logrus.Logger) *Transport {
	return &Transport{
		Sender: NewSender(settings, cfg, log),
		Inbox:  NewInbox(settings, cfg, log),
	}
}
