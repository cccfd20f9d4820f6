package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/johanbring/timedollar/internal/codec"
	"github.com/johanbring/timedollar/internal/mail"
	"github.com/johanbring/timedollar/internal/metrics"
	"github.com/johanbring/timedollar/internal/models"
	"github.com/johanbring/timedollar/internal/repository"
	"github.com/sirupsen/logrus"
)

const (
	timestampLayout  = "2006-01-02 15:04:05"
	confirmationMemo = "Your payment has been received successfully."
)

var (
	// ErrInvalidInput rejects a transaction intent before any transport or
	// store call is made.
	ErrInvalidInput = errors.New("invalid transaction input")
	// ErrDelivery marks an outbound send with no surviving ledger row: the
	// transaction simply never happened.
	ErrDelivery = errors.New("transaction delivery failed")
)

// Ledger is the persistence contract the engine requires: insert with
// duplicate detection, point lookup by idempotency key, and full scans.
type Ledger interface {
	Insert(ctx context.Context, tx *models.Transaction) error
	FindByKey(ctx context.Context, key string) (*models.Transaction, error)
	TotalBalance(ctx context.Context) (float64, error)
	ScanAll(ctx context.Context) ([]models.Transaction, error)
}

// Transport sends one message and scans the mailbox for all stored messages.
type Transport interface {
	Send(ctx context.Context, to, subject, body string) error
	ScanInbox(ctx context.Context) ([]mail.RawMessage, error)
}

// ReconcileReport summarizes one inbound reconciliation pass.
type ReconcileReport struct {
	Fetched    int `json:"fetched"`
	Recorded   int `json:"recorded"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

// Service is the reconciliation engine: it turns outbound intents into sent
// messages plus debit rows, and inbound mailbox contents into credit rows
// plus confirmation messages.
type Service struct {
	ledger Ledger
	mail   Transport
	log    *logrus.Logger
	now    func() time.Time
}

// NewService initializes a new service
func NewService(ledger Ledger, transport Transport, log *logrus.Logger) *Service {
	return &Service{ledger: ledger, mail: transport, log: log, now: time.Now}
}

// Initiate sends a new outbound transaction and records it as a debit. The
// row is written only after the message is known to be delivered; a failed
// send leaves the ledger untouched.
func (s *Service) Initiate(ctx context.Context, counterparty string, amount float64, message string) (*models.Transaction, error) {
	if counterparty == "" || message == "" {
		return nil, fmt.Errorf("%w: counterparty and message are required", ErrInvalidInput)
	}
	if amount == 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("%w: amount must be a nonzero number", ErrInvalidInput)
	}
	if err := codec.ValidateMessage(message); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	amount = math.Abs(amount)

	key := uuid.NewString()
	hash := codec.Fingerprint(amount, counterparty, message)

	// Guard against key-generation collisions.
	existing, err := s.ledger.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("transaction already recorded under key %s", key)
	}

	subject := codec.EncodeSubject(amount, message, key)
	body := fmt.Sprintf("%s\n\nTransaction UUID: %s", message, key)
	if err := s.mail.Send(ctx, counterparty, subject, body); err != nil {
		metrics.SendFailures.Inc()
		return nil, fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	tx := &models.Transaction{
		Counterparty:   counterparty,
		Amount:         -amount,
		Message:        message,
		Timestamp:      s.now().Format(timestampLayout),
		IntegrityHash:  hash,
		IdempotencyKey: key,
	}
	if err := s.ledger.Insert(ctx, tx); err != nil {
		return nil, fmt.Errorf("message sent but transaction not recorded: %w", err)
	}

	metrics.TransactionsInitiated.Inc()
	s.log.Infof("Transaction initiated: %.2f to %s (key %s)", amount, counterparty, key)
	return tx, nil
}

// ReconcileInbox rescans the whole mailbox and records every not-yet-seen
// transaction as a credit, answering each with a confirmation message.
// Malformed messages and duplicates are absorbed; a scan failure aborts the
// pass with whatever was already committed left in place.
func (s *Service) ReconcileInbox(ctx context.Context) (*ReconcileReport, error) {
	msgs, err := s.mail.ScanInbox(ctx)
	if err != nil {
		return nil, fmt.Errorf("inbox scan failed: %w", err)
	}

	report := &ReconcileReport{Fetched: len(msgs)}
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		parsed, err := codec.DecodeSubject(msg.Subject)
		if err != nil {
			s.log.Warnf("Skipping message from %s: %v", msg.Sender, err)
			report.Skipped++
			continue
		}

		existing, err := s.ledger.FindByKey(ctx, parsed.Key)
		if err != nil {
			return report, err
		}
		if existing != nil {
			s.log.Infof("Duplicate transaction key %s, skipping", parsed.Key)
			metrics.DuplicatesSkipped.Inc()
			report.Duplicates++
			continue
		}

		amount := math.Abs(parsed.Amount)
		subject := msg.Subject
		tx := &models.Transaction{
			Counterparty:   msg.Sender,
			Amount:         amount,
			Message:        parsed.Message,
			Timestamp:      s.now().Format(timestampLayout),
			SourceSubject:  &subject,
			IntegrityHash:  codec.Fingerprint(amount, msg.Sender, parsed.Message),
			IdempotencyKey: parsed.Key,
		}
		if err := s.ledger.Insert(ctx, tx); err != nil {
			switch {
			case errors.Is(err, repository.ErrDuplicateKey):
				s.log.Infof("Duplicate transaction key %s, skipping", parsed.Key)
				metrics.DuplicatesSkipped.Inc()
				report.Duplicates++
			case errors.Is(err, repository.ErrAuditConflict):
				// The key is the sole dedup authority; a hash or subject
				// collision is an audit anomaly, not a duplicate.
				s.log.Warnf("Audit conflict for key %s: %v", parsed.Key, err)
				report.Skipped++
			default:
				return report, err
			}
			continue
		}

		metrics.TransactionsReconciled.Inc()
		report.Recorded++
		s.log.Infof("Recorded inbound transaction %.2f from %s (key %s)", amount, msg.Sender, parsed.Key)

		s.confirm(ctx, msg.Sender, amount)
	}
	return report, nil
}

// ListAndTotal returns all transactions in insertion order with the running
// total.
func (s *Service) ListAndTotal(ctx context.Context) ([]models.Transaction, float64, error) {
	txs, err := s.ledger.ScanAll(ctx)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.ledger.TotalBalance(ctx)
	if err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

// confirm sends the receipt message for a recorded inbound transaction. It
// carries a fresh idempotency key; no ledger row is written for it, and a
// failed confirmation does not unwind the recorded credit.
func (s *Service) confirm(ctx context.Context, to string, amount float64) {
	key := uuid.NewString()
	subject := codec.EncodeSubject(amount, confirmationMemo, key)
	body := fmt.Sprintf("%s\n\nTransaction UUID: %s", confirmationMemo, key)
	if err := s.mail.Send(ctx, to, subject, body); err != nil {
		metrics.SendFailures.Inc()
		s.log.Errorf("Failed to send confirmation to %s: %v", to, err)
	}
}
