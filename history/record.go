// Package history lists past payments for an account: on-chain records
// first, then the local payment journal, then illustrative fixtures.
package history

import (
	"math/big"
	"time"
)

// Status codes used by the settlement contract.
const (
	StatusPending    uint8 = 0
	StatusProcessing uint8 = 1
	StatusCompleted  uint8 = 2
	StatusFailed     uint8 = 3
	StatusCancelled  uint8 = 4
)

// AmountDecimals is the precision the router reports amounts in.
const AmountDecimals uint8 = 6

var statusLabels = map[uint8]string{
	StatusPending:    "Pending",
	StatusProcessing: "Processing",
	StatusCompleted:  "Completed",
	StatusFailed:     "Failed",
	StatusCancelled:  "Cancelled",
}

// StatusLabel - display label for an on-chain status code
func StatusLabel(code uint8) string {
	if label, ok := statusLabels[code]; ok {
		return label
	}
	return "Unknown"
}

// Record is one row of payment history.
type Record struct {
	ID          string    `json:"id"`
	Payer       string    `json:"payer"`
	Payee       string    `json:"payee"`
	Amount      float64   `json:"amount"`
	AmountRaw   *big.Int  `json:"amount_raw,omitempty"`
	Currency    string    `json:"currency"`
	Timestamp   time.Time `json:"timestamp"`
	Status      uint8     `json:"status"`
	StatusLabel string    `json:"status_label"`
	TxHash      string    `json:"tx_hash"`
	Error       string    `json:"error,omitempty"`
}

// Source names where a page of history came from.
type Source string

const (
	SourceChain    Source = "chain"
	SourceJournal  Source = "journal"
	SourceFixtures Source = "fixtures"
)

// Page is the result of a history read. IsMock is set whenever the
// records are fixtures rather than real payments.
type Page struct {
	Records []Record `json:"records"`
	Source  Source   `json:"source"`
	IsMock  bool     `json:"is_mock"`
}
