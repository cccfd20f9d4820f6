package models

// Transaction represents one ledger entry. Amount is signed: negative for
// outbound-initiated debits, positive for inbound-confirmed credits.
type Transaction struct {
	ID             int64   `json:"id"`
	Counterparty   string  `json:"counterparty"`
	Amount         float64 `json:"amount"`
	Message        string  `json:"message"`
	Timestamp      string  `json:"timestamp"`
	SourceSubject  *string `json:"source_subject,omitempty"`
	IntegrityHash  string  `json:"integrity_hash"`
	IdempotencyKey string  `json:"idempotency_key"`
}

// Debit reports whether the entry was initiated locally (value leaving the
// ledger owner).
func (t *Transaction) Debit() bool {
	return t.Amount < 0
}
