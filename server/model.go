package server

import (
	"math/big"
	"time"

	"fxpay/payment"
	"fxpay/swap"
)

// ErrorResponse - JSON error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// QuoteResponse - swap quote with amounts rendered as decimal strings
type QuoteResponse struct {
	From         string  `json:"from"`
	To           string  `json:"to"`
	Pair         string  `json:"pair"`
	Direction    string  `json:"direction"`
	Rate         string  `json:"rate"`
	AmountIn     string  `json:"amount_in"`
	AmountOut    string  `json:"amount_out"`
	AmountOutMin string  `json:"amount_out_min"`
	SlippagePct  float64 `json:"slippage_pct"`
}

// quotePlaces is the precision quoted amounts are rendered with.
const quotePlaces = 8

func newQuoteResponse(q swap.Result) QuoteResponse {
	slippage, _ := q.SlippagePct.Float64()
	return QuoteResponse{
		From:         q.From,
		To:           q.To,
		Pair:         q.Pair,
		Direction:    string(q.Direction),
		Rate:         ratString(q.Rate),
		AmountIn:     ratString(q.AmountIn),
		AmountOut:    ratString(q.AmountOut),
		AmountOutMin: ratString(q.AmountOutMin),
		SlippagePct:  slippage,
	}
}

// SwapResponse - executed swap
type SwapResponse struct {
	Quote           QuoteResponse `json:"quote"`
	AmountInRaw     string        `json:"amount_in_raw"`
	MinAmountOutRaw string        `json:"min_amount_out_raw"`
	ApprovalTx      string        `json:"approval_tx,omitempty"`
	TxHash          string        `json:"tx_hash"`
	ExplorerURL     string        `json:"explorer_url,omitempty"`
}

func newSwapResponse(e swap.Execution) SwapResponse {
	resp := SwapResponse{
		Quote:           newQuoteResponse(e.Quote),
		AmountInRaw:     intString(e.AmountInRaw),
		MinAmountOutRaw: intString(e.MinAmountOutRaw),
		TxHash:          e.TxHash.Hex(),
		ExplorerURL:     e.ExplorerURL,
	}
	if e.ApprovalTx != ([32]byte{}) {
		resp.ApprovalTx = e.ApprovalTx.Hex()
	}
	return resp
}

// AttemptResponse - payment attempt snapshot
type AttemptResponse struct {
	ID          string    `json:"id,omitempty"`
	State       string    `json:"state"`
	Payer       string    `json:"payer,omitempty"`
	Recipient   string    `json:"recipient,omitempty"`
	Token       string    `json:"token,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	AmountRaw   string    `json:"amount_raw,omitempty"`
	Approved    bool      `json:"approved"`
	ApprovalTx  string    `json:"approval_tx,omitempty"`
	TxHash      string    `json:"tx_hash,omitempty"`
	ExplorerURL string    `json:"explorer_url,omitempty"`
	Warning     string    `json:"warning,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newAttemptResponse(a payment.Attempt) AttemptResponse {
	resp := AttemptResponse{
		ID:          a.ID,
		State:       string(a.State),
		Amount:      a.AmountText,
		AmountRaw:   intString(a.Amount),
		Approved:    a.Approved,
		ExplorerURL: a.ExplorerURL,
		Warning:     a.Warning,
		StartedAt:   a.StartedAt,
		UpdatedAt:   a.UpdatedAt,
	}
	if a.ID != "" {
		resp.Payer = a.Payer.Hex()
		resp.Recipient = a.Recipient.Hex()
		resp.Token = a.Token.Hex()
	}
	if a.ApprovalTx != ([32]byte{}) {
		resp.ApprovalTx = a.ApprovalTx.Hex()
	}
	if a.Broadcast() {
		resp.TxHash = a.TxHash.Hex()
	}
	if a.Err != nil {
		resp.ErrorKind = string(a.Err.Kind)
		resp.Error = a.Err.Error()
	}
	return resp
}

func ratString(r *big.Rat) string {
	if r == nil {
		return ""
	}
	return r.FloatString(quotePlaces)
}

func intString(i *big.Int) string {
	if i == nil {
		return ""
	}
	return i.String()
}
