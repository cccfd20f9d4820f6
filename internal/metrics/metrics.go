// Package metrics exposes Prometheus counters for ledger activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransactionsInitiated counts outbound transactions durably recorded.
	TransactionsInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_transactions_initiated_total",
		Help: "Outbound transactions sent and recorded",
	})

	// TransactionsReconciled counts inbound transactions durably recorded.
	TransactionsReconciled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_transactions_reconciled_total",
		Help: "Inbound transactions recorded from the mailbox",
	})

	// DuplicatesSkipped counts inbound messages absorbed by the idempotency key.
	DuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_duplicates_skipped_total",
		Help: "Inbound messages skipped because their idempotency key was already recorded",
	})

	// SendFailures counts outbound deliveries that exhausted their retries or
	// were rejected outright.
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_send_failures_total",
		Help: "Email deliveries that failed after all attempts",
	})
)
