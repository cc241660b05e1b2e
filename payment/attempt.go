// Package payment drives a single Permit2 payment attempt through balance
// check, approval, signing, submission and confirmation.
package payment

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"fxpay/payerr"
)

// State is a step of the payment state machine.
type State string

const (
	StateIdle       State = "Idle"
	StateChecking   State = "Checking"
	StateApproving  State = "Approving"
	StateSigning    State = "Signing"
	StateSubmitting State = "Submitting"
	StateConfirming State = "Confirming"
	StateSucceeded  State = "Succeeded"
	StateFailed     State = "Failed"
)

// Terminal reports whether no further transitions follow s for the attempt.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// acceptsSubmit reports whether a new attempt may start from s.
func (s State) acceptsSubmit() bool {
	return s == StateIdle || s.Terminal()
}

// Request is the user's payment input. Amount is a human decimal string in
// units of the payment token.
type Request struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// Attempt is a snapshot of the current attempt.
type Attempt struct {
	ID          string         `json:"id,omitempty"`
	State       State          `json:"state"`
	Payer       common.Address `json:"payer"`
	Recipient   common.Address `json:"recipient"`
	Token       common.Address `json:"token"`
	Amount      *big.Int       `json:"amount,omitempty"`
	AmountText  string         `json:"amount_text,omitempty"`
	Nonce       *big.Int       `json:"nonce,omitempty"`
	Deadline    *big.Int       `json:"deadline,omitempty"`
	Approved    bool           `json:"approved"`
	ApprovalTx  common.Hash    `json:"approval_tx,omitempty"`
	TxHash      common.Hash    `json:"tx_hash,omitempty"`
	ExplorerURL string         `json:"explorer_url,omitempty"`
	Warning     string         `json:"warning,omitempty"`
	Err         *payerr.Error  `json:"-"`
	StartedAt   time.Time      `json:"started_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Broadcast reports whether the settlement call left the wallet.
func (a Attempt) Broadcast() bool {
	return a.TxHash != (common.Hash{})
}

// Transition is emitted on every state change.
type Transition struct {
	AttemptID string        `json:"attempt_id"`
	From      State         `json:"from"`
	To        State         `json:"to"`
	Err       *payerr.Error `json:"-"`
	At        time.Time     `json:"at"`
}
