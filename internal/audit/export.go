// Package audit renders the ledger as an XML document so the integrity
// hashes can be checked outside the store.
package audit

import (
	"strconv"

	"github.com/beevik/etree"
	"github.com/johanbring/timedollar/internal/models"
)

// ExportXML serializes the ledger with its running total. Rows appear in the
// order given, one element per transaction, hashes included.
func ExportXML(txs []models.Transaction, total float64) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("ledger")
	root.CreateAttr("total", strconv.FormatFloat(total, 'f', 2, 64))

	for _, tx := range txs {
		e := root.CreateElement("transaction")
		e.CreateAttr("id", strconv.FormatInt(tx.ID, 10))
		e.CreateElement("counterparty").SetText(tx.Counterparty)
		e.CreateElement("amount").SetText(strconv.FormatFloat(tx.Amount, 'f', -1, 64))
		e.CreateElement("message").SetText(tx.Message)
		e.CreateElement("timestamp").SetText(tx.Timestamp)
		if tx.SourceSubject != nil {
			e.CreateElement("source_subject").SetText(*tx.SourceSubject)
		}
		e.CreateElement("integrity_hash").SetText(tx.IntegrityHash)
		e.CreateElement("idempotency_key").SetText(tx.IdempotencyKey)
	}

	doc.Indent(2)
	return doc.WriteToBytes()
}
