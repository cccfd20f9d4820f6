// Package codec owns the email wire format for transactions. The subject line
// is the only machine-readable part of a message, so all encoding and parsing
// of it lives here and nowhere else.
package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Marker identifies a transaction subject among arbitrary inbox mail.
	Marker = "Transaction"
	// Delimiter separates subject fields. A memo containing it makes the
	// subject ambiguous, so Encode callers must reject such memos.
	Delimiter = " - "

	uuidPrefix = "UUID:"
)

// Rejection reasons returned by DecodeSubject. Decoding never panics: any
// subject that is not a well-formed transaction yields one of these.
var (
	ErrEmptySubject = fmt.Errorf("empty subject")
	ErrNoMarker     = fmt.Errorf("subject does not contain %q", Marker)
	ErrTooFewFields = fmt.Errorf("subject has fewer than 4 %q-delimited fields", Delimiter)
	ErrBadAmount    = fmt.Errorf("amount field is not a number")
	ErrBadMessage   = fmt.Errorf("message contains the field delimiter %q", Delimiter)
)

// Parsed is a candidate transaction decoded from a subject line. It carries
// only what the wire holds; the counterparty comes from the message envelope.
type Parsed struct {
	Amount  float64
	Message string
	Key     string
}

// EncodeSubject renders a transaction as a transport subject:
//
//	Transaction - {amount} - {message} - UUID: {key}
func EncodeSubject(amount float64, message, key string) string {
	return Marker + Delimiter + formatAmount(amount) + Delimiter + message + Delimiter + uuidPrefix + " " + key
}

// DecodeSubject parses a subject line back into a candidate transaction.
// Malformed or unrelated subjects are rejected with an error so inbox scans
// can skip past them; nothing here is fatal.
func DecodeSubject(subject string) (*Parsed, error) {
	if subject == "" {
		return nil, ErrEmptySubject
	}
	if !strings.Contains(subject, Marker) {
		return nil, ErrNoMarker
	}
	parts := strings.Split(subject, Delimiter)
	if len(parts) < 4 {
		return nil, ErrTooFewFields
	}
	amount, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadAmount, parts[1])
	}
	key := strings.TrimSpace(strings.ReplaceAll(parts[3], uuidPrefix, ""))
	return &Parsed{
		Amount:  amount,
		Message: parts[2],
		Key:     key,
	}, nil
}

// ValidateMessage rejects memos that would corrupt the wire format.
func ValidateMessage(message string) error {
	if strings.Contains(message, Delimiter) {
		return ErrBadMessage
	}
	return nil
}

// Fingerprint derives the integrity hash of a transaction: lowercase hex
// SHA-256 over amount, counterparty and memo concatenated as text. It
// deliberately excludes the idempotency key, so it fingerprints content, not
// identity — deduplication is the key's job.
func Fingerprint(amount float64, counterparty, message string) string {
	data := formatAmount(amount) + counterparty + message
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// formatAmount renders an amount in its natural decimal form (no exponent,
// no trailing zeros), so "12.5" round-trips as "12.5".
func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}
