package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/johanbring/timedollar/internal/codec"
	"github.com/johanbring/timedollar/internal/mail"
	"github.com/johanbring/timedollar/internal/models"
	"github.com/johanbring/timedollar/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger is an in-memory Ledger enforcing idempotency-key uniqueness the
// way the Postgres store does. Hash-conflict enforcement is opt-in so the
// audit-anomaly path can be exercised separately.
type fakeLedger struct {
	rows        []models.Transaction
	nextID      int64
	enforceHash bool
}

func (f *fakeLedger) Insert(ctx context.Context, tx *models.Transaction) error {
	for _, r := range f.rows {
		if r.IdempotencyKey == tx.IdempotencyKey {
			return fmt.Errorf("%w: ledger_idempotency_key_key", repository.ErrDuplicateKey)
		}
		if f.enforceHash && r.IntegrityHash == tx.IntegrityHash {
			return fmt.Errorf("%w: ledger_integrity_hash_key", repository.ErrAuditConflict)
		}
	}
	f.nextID++
	tx.ID = f.nextID
	f.rows = append(f.rows, *tx)
	return nil
}

func (f *fakeLedger) FindByKey(ctx context.Context, key string) (*models.Transaction, error) {
	for i := range f.rows {
		if f.rows[i].IdempotencyKey == key {
			return &f.rows[i], nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) TotalBalance(ctx context.Context) (float64, error) {
	var total float64
	for _, r := range f.rows {
		total += r.Amount
	}
	return total, nil
}

func (f *fakeLedger) ScanAll(ctx context.Context) ([]models.Transaction, error) {
	return append([]models.Transaction(nil), f.rows...), nil
}

type sentMail struct {
	to      string
	subject string
	body    string
}

type fakeTransport struct {
	inbox   []mail.RawMessage
	scanErr error
	sendErr error
	sent    []sentMail
}

func (f *fakeTransport) Send(ctx context.Context, to, subject, body string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (f *fakeTransport) ScanInbox(ctx context.Context) ([]mail.RawMessage, error) {
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return f.inbox, nil
}

func newTestService(ledger *fakeLedger, transport *fakeTransport) *Service {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewService(ledger, transport, log)
}

func TestInitiate_RecordsDebit(t *testing.T) {
	ledger := &fakeLedger{}
	transport := &fakeTransport{}
	svc := newTestService(ledger, transport)

	tx, err := svc.Initiate(context.Background(), "b@x.com", 12.50, "lunch")
	require.NoError(t, err)

	assert.Equal(t, -12.5, tx.Amount)
	assert.Equal(t, "b@x.com", tx.Counterparty)
	assert.Nil(t, tx.SourceSubject)
	assert.NotEmpty(t, tx.IdempotencyKey)
	assert.Len(t, tx.IntegrityHash, 64)

	require.Len(t, ledger.rows, 1)
	require.Len(t, transport.sent, 1)
	assert.Equal(t, "b@x.com", transport.sent[0].to)
	assert.Equal(t, "Transaction - 12.5 - lunch - UUID: "+tx.IdempotencyKey, transport.sent[0].subject)
	assert.Contains(t, transport.sent[0].body, tx.IdempotencyKey)
}

func TestInitiate_NegativeAmountStillDebits(t *testing.T) {
	ledger := &fakeLedger{}
	svc := newTestService(ledger, &fakeTransport{})

	tx, err := svc.Initiate(context.Background(), "b@x.com", -12.50, "lunch")
	require.NoError(t, err)
	assert.Equal(t, -12.5, tx.Amount)
}

func TestInitiate_SendFailureLeavesLedgerUntouched(t *testing.T) {
	ledger := &fakeLedger{}
	transport := &fakeTransport{sendErr: errors.New("connection refused")}
	svc := newTestService(ledger, transport)

	_, err := svc.Initiate(context.Background(), "b@x.com", 12.50, "lunch")
	require.Error(t, err)
	assert.Empty(t, ledger.rows)
}

func TestInitiate_InvalidInputHasNoSideEffects(t *testing.T) {
	cases := []struct {
		name         string
		counterparty string
		amount       float64
		message      string
	}{
		{"empty counterparty", "", 12.5, "lunch"},
		{"empty message", "b@x.com", 12.5, ""},
		{"zero amount", "b@x.com", 0, "lunch"},
		{"delimiter in message", "b@x.com", 12.5, "lunch - again"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ledger := &fakeLedger{}
			transport := &fakeTransport{}
			svc := newTestService(ledger, transport)

			_, err := svc.Initiate(context.Background(), tc.counterparty, tc.amount, tc.message)
			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Empty(t, ledger.rows)
			assert.Empty(t, transport.sent)
		})
	}
}

func TestReconcileInbox_RecordsCreditAndConfirms(t *testing.T) {
	ledger := &fakeLedger{}
	transport := &fakeTransport{inbox: []mail.RawMessage{
		{Subject: "Transaction - 12.5 - lunch - UUID: 1234", Sender: "b@x.com"},
	}}
	svc := newTestService(ledger, transport)

	report, err := svc.ReconcileInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &ReconcileReport{Fetched: 1, Recorded: 1}, report)

	require.Len(t, ledger.rows, 1)
	row := ledger.rows[0]
	assert.Equal(t, 12.5, row.Amount)
	assert.Equal(t, "b@x.com", row.Counterparty)
	assert.Equal(t, "1234", row.IdempotencyKey)
	require.NotNil(t, row.SourceSubject)
	assert.Equal(t, "Transaction - 12.5 - lunch - UUID: 1234", *row.SourceSubject)

	// Confirmation goes back to the sender under a fresh key.
	require.Len(t, transport.sent, 1)
	assert.Equal(t, "b@x.com", transport.sent[0].to)
	confirmation, err := codec.DecodeSubject(transport.sent[0].subject)
	require.NoError(t, err)
	assert.Equal(t, 12.5, confirmation.Amount)
	assert.NotEqual(t, "1234", confirmation.Key)
}

func TestReconcileInbox_SecondScanIsNoOp(t *testing.T) {
	ledger := &fakeLedger{}
	transport := &fakeTransport{inbox: []mail.RawMessage{
		{Subject: "Transaction - 12.5 - lunch - UUID: 1234", Sender: "b@x.com"},
	}}
	svc := newTestService(ledger, transport)

	_, err := svc.ReconcileInbox(context.Background())
	require.NoError(t, err)

	report, err := svc.ReconcileInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Recorded)
	assert.Equal(t, 1, report.Duplicates)
	assert.Len(t, ledger.rows, 1)
	assert.Len(t, transport.sent, 1)
}

func TestReconcileInbox_DuplicateKeyWithinOneScan(t *testing.T) {
	ledger := &fakeLedger{}
	transport := &fakeTransport{inbox: []mail.RawMessage{
		{Subject: "Transaction - 12.5 - lunch - UUID: 1234", Sender: "b@x.com"},
		{Subject: "Transaction - 12.5 - lunch - UUID: 1234", Sender: "b@x.com"},
	}}
	svc := newTestService(ledger, transport)

	report, err := svc.ReconcileInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recorded)
	assert.Equal(t, 1, report.Duplicates)
	assert.Len(t, ledger.rows, 1)
}

func TestReconcileInbox_MalformedMessagesSkipped(t *testing.T) {
	ledger := &fakeLedger{}
	transport := &fakeTransport{inbox: []mail.RawMessage{
		{Subject: "", Sender: "a@x.com"},
		{Subject: "Re: dinner plans", Sender: "a@x.com"},
		{Subject: "Transaction - twelve - lunch - UUID: 1", Sender: "a@x.com"},
		{Subject: "Transaction - 7 - dinner - UUID: 5678", Sender: "c@x.com"},
	}}
	svc := newTestService(ledger, transport)

	report, err := svc.ReconcileInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Skipped)
	assert.Equal(t, 1, report.Recorded)
	require.Len(t, ledger.rows, 1)
	assert.Equal(t, "c@x.com", ledger.rows[0].Counterparty)
}

func TestReconcileInbox_ScanFailureAborts(t *testing.T) {
	ledger := &fakeLedger{}
	transport := &fakeTransport{scanErr: mail.ErrAuth}
	svc := newTestService(ledger, transport)

	_, err := svc.ReconcileInbox(context.Background())
	require.ErrorIs(t, err, mail.ErrAuth)
	assert.Empty(t, ledger.rows)
}

func TestReconcileInbox_AuditConflictSkippedNotFatal(t *testing.T) {
	ledger := &fakeLedger{enforceHash: true}
	transport := &fakeTransport{inbox: []mail.RawMessage{
		{Subject: "Transaction - 12.5 - lunch - UUID: aaaa", Sender: "b@x.com"},
		{Subject: "Transaction - 12.5 - lunch - UUID: bbbb", Sender: "b@x.com"},
	}}
	svc := newTestService(ledger, transport)

	report, err := svc.ReconcileInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recorded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Duplicates)
	assert.Len(t, ledger.rows, 1)
}

func TestReconcileInbox_ConfirmationFailureKeepsCredit(t *testing.T) {
	ledger := &fakeLedger{}
	transport := &fakeTransport{
		inbox:   []mail.RawMessage{{Subject: "Transaction - 12.5 - lunch - UUID: 1234", Sender: "b@x.com"}},
		sendErr: errors.New("connection refused"),
	}
	svc := newTestService(ledger, transport)

	report, err := svc.ReconcileInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recorded)
	assert.Len(t, ledger.rows, 1)
}

func TestReconcileInbox_CancelledBetweenMessages(t *testing.T) {
	ledger := &fakeLedger{}
	transport := &fakeTransport{inbox: []mail.RawMessage{
		{Subject: "Transaction - 1 - a - UUID: 1", Sender: "a@x.com"},
	}}
	svc := newTestService(ledger, transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.ReconcileInbox(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ledger.rows)
}

func TestBalance_OutboundThenInboundNetsToZero(t *testing.T) {
	ledger := &fakeLedger{}
	transport := &fakeTransport{inbox: []mail.RawMessage{
		{Subject: "Transaction - 12.5 - lunch - UUID: 1234", Sender: "b@x.com"},
	}}
	svc := newTestService(ledger, transport)

	_, err := svc.Initiate(context.Background(), "b@x.com", 12.50, "lunch")
	require.NoError(t, err)
	_, err = svc.ReconcileInbox(context.Background())
	require.NoError(t, err)

	txs, total, err := svc.ListAndTotal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, total)
	require.Len(t, txs, 2)
	assert.Less(t, txs[0].Amount, 0.0)
	assert.Greater(t, txs[1].Amount, 0.0)
}

func TestListAndTotal_Empty(t *testing.T) {
	svc := newTestService(&fakeLedger{}, &fakeTransport{})

	txs, total, err := svc.ListAndTotal(context.Background())
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.Equal(t, 0.0, total)
}
