package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/johanbring/timedollar/internal/models"
	"github.com/lib/pq"
)

// Insert outcomes that callers branch on.
var (
	// ErrDuplicateKey means the idempotency key is already recorded. This is
	// the expected result of duplicate delivery, not a failure.
	ErrDuplicateKey = errors.New("idempotency key already recorded")
	// ErrAuditConflict means a row collided on integrity_hash or
	// source_subject while carrying a fresh idempotency key. The key is the
	// sole deduplication authority, so this is an audit anomaly to log, not a
	// duplicate.
	ErrAuditConflict = errors.New("integrity hash or subject conflict")
)

const uniqueViolation = "23505"

// Repository provides database operations for the ledger table.
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the ledger table and its uniqueness constraints.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ledger (
			id BIGSERIAL PRIMARY KEY,
			counterparty TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			message TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			source_subject TEXT,
			integrity_hash TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			CONSTRAINT ledger_source_subject_key UNIQUE (source_subject),
			CONSTRAINT ledger_integrity_hash_key UNIQUE (integrity_hash),
			CONSTRAINT ledger_idempotency_key_key UNIQUE (idempotency_key)
		)`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure ledger schema: %w", err)
	}
	return nil
}

// Insert stores a new transaction and fills in its assigned id. A unique
// violation on the idempotency key yields ErrDuplicateKey; one on the
// integrity hash or source subject yields ErrAuditConflict.
func (r *Repository) Insert(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO ledger (counterparty, amount, message, timestamp, source_subject, integrity_hash, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query,
		tx.Counterparty, tx.Amount, tx.Message, tx.Timestamp, tx.SourceSubject, tx.IntegrityHash, tx.IdempotencyKey).
		Scan(&tx.ID)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// FindByKey retrieves a transaction by idempotency key, or nil when absent.
func (r *Repository) FindByKey(ctx context.Context, key string) (*models.Transaction, error) {
	tx := &models.Transaction{}
	query := `
		SELECT id, counterparty, amount, message, timestamp, source_subject, integrity_hash, idempotency_key
		FROM ledger
		WHERE idempotency_key = $1`
	err := r.db.QueryRowContext(ctx, query, key).
		Scan(&tx.ID, &tx.Counterparty, &tx.Amount, &tx.Message, &tx.Timestamp, &tx.SourceSubject, &tx.IntegrityHash, &tx.IdempotencyKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction by key: %w", err)
	}
	return tx, nil
}

// TotalBalance sums all amounts; zero for an empty ledger.
func (r *Repository) TotalBalance(ctx context.Context) (float64, error) {
	var total float64
	query := `SELECT COALESCE(SUM(amount), 0) FROM ledger`
	if err := r.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to compute total balance: %w", err)
	}
	return total, nil
}

// ScanAll returns every transaction in insertion order.
func (r *Repository) ScanAll(ctx context.Context) ([]models.Transaction, error) {
	query := `
		SELECT id, counterparty, amount, message, timestamp, source_subject, integrity_hash, idempotency_key
		FROM ledger
		ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to scan ledger: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(&tx.ID, &tx.Counterparty, &tx.Amount, &tx.Message, &tx.Timestamp, &tx.SourceSubject, &tx.IntegrityHash, &tx.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan ledger: %w", err)
	}
	return out, nil
}

// mapUniqueViolation translates a pq unique-violation error into the matching
// sentinel, keyed on the violated constraint. Non-unique errors map to nil.
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil
	}
	if strings.Contains(pqErr.Constraint, "idempotency_key") {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, pqErr.Constraint)
	}
	return fmt.Errorf("%w: %s", ErrAuditConflict, pqErr.Constraint)
}
