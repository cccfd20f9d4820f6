package mail

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/johanbring/timedollar/internal/config"
	"github.com/sirupsen/logrus"
)

// Inbox scans an IMAP mailbox for transaction candidates.
type Inbox struct {
	account  string
	password string
	host     string
	port     string
	log      *logrus.Logger
}

// NewInbox creates a new inbox scanner
func NewInbox(settings *config.Settings, cfg *config.Config, log *logrus.Logger) *Inbox {
	return &Inbox{
		account:  settings.Email,
		password: settings.Password,
		host:     settings.IMAPServer,
		port:     cfg.IMAPPort,
		log:      log,
	}
}

// ScanInbox fetches every message currently in the inbox and reduces each to
// its subject and sender address. It is a full rescan on every call; the
// idempotency key downstream makes reprocessing safe. Messages whose envelope
// cannot be read are skipped; a connection or login failure aborts the scan.
func (in *Inbox) ScanInbox(ctx context.Context) ([]RawMessage, error) {
	addr := net.JoinHostPort(in.host, in.port)
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mailbox %s: %w", addr, err)
	}
	defer c.Logout()

	if err := c.Login(in.account, in.password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	mbox, err := c.Select("INBOX", true)
	if err != nil {
		return nil, fmt.Errorf("failed to select inbox: %w", err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(1, mbox.Messages)

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope}, messages)
	}()

	var out []RawMessage
	for msg := range messages {
		if msg == nil || msg.Envelope == nil {
			in.log.Warn("Skipping message with unreadable envelope")
			continue
		}
		sender, ok := envelopeSender(msg.Envelope)
		if !ok {
			in.log.Warnf("Skipping message with unreadable sender: %s", msg.Envelope.Subject)
			continue
		}
		out = append(out, RawMessage{Subject: msg.Envelope.Subject, Sender: sender})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch mailbox: %w", err)
	}

	in.log.Infof("Fetched %d messages from inbox", len(out))
	return out, nil
}

func envelopeSender(env *imap.Envelope) (string, bool) {
	if len(env.From) == 0 {
		return "", false
	}
	a := env.From[0]
	if a.MailboxName == "" || a.HostName == "" {
		return "", false
	}
	header := fmt.Sprintf("%s <%s@%s>", a.PersonalName, a.MailboxName, a.HostName)
	return ExtractAddress(header), true
}

// ExtractAddress pulls the bare address out of a "Display Name <address>"
// shaped From header, taking the last <…>-delimited segment. A header with no
// angle brackets is returned whole.
func ExtractAddress(header string) string {
	parts := strings.Split(header, "<")
	last := parts[len(parts)-1]
	return strings.Split(last, ">")[0]
}
