package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"fxpay/payerr"
	"fxpay/payment"
	"fxpay/swap"
)

const maxRequestBodyBytes = 1 << 16

// HandleHealth - GET /health
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.cfg.Chain != nil {
		if err := s.cfg.Chain.HealthCheck(r.Context()); err != nil {
			respondJSON(w, map[string]any{"status": "degraded", "error": err.Error()}, http.StatusServiceUnavailable)
			return
		}
	}
	account := s.cfg.Wallet.Account()
	body["wallet_connected"] = account.Connected
	if account.Connected {
		body["account"] = account.Address.Hex()
		body["chain_id"] = account.ChainID
	}
	respondJSON(w, body, http.StatusOK)
}

// HandleGetRates - GET /api/v1/rates
func (s *Server) HandleGetRates(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.cfg.Rates.Latest(), http.StatusOK)
}

// HandleRefreshRates - POST /api/v1/rates/refresh
func (s *Server) HandleRefreshRates(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Rates.RefreshAll(r.Context()); err != nil {
		respondError(w, payerr.Wrap(payerr.KindRegistryUnavailable, err))
		return
	}
	respondJSON(w, s.cfg.Rates.Latest(), http.StatusOK)
}

// HandleGetQuote - GET /api/v1/quote?from=USDC&to=VNDC&amount=100&slippage=0.5
func (s *Server) HandleGetQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := swap.Request{From: q.Get("from"), To: q.Get("to"), Amount: q.Get("amount")}
	if raw := q.Get("slippage"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			respondError(w, payerr.New(payerr.KindInvalidAmount, "invalid slippage %q", raw))
			return
		}
		req.SlippagePct = &v
	}
	quote, err := s.cfg.Quotes.Quote(req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, newQuoteResponse(quote), http.StatusOK)
}

// HandleExecuteSwap - POST /api/v1/swaps
func (s *Server) HandleExecuteSwap(w http.ResponseWriter, r *http.Request) {
	var req swap.Request
	if !decodeBody(w, r, &req) {
		return
	}
	exec, err := s.cfg.Swaps.Execute(r.Context(), req)
	if err != nil {
		s.log.Warn("Swap failed", zap.String("kind", string(payerr.KindOf(err))), zap.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, newSwapResponse(exec), http.StatusOK)
}

// HandleStartPayment - POST /api/v1/payments
// Returns 202 with the Checking snapshot; poll /payments/current for progress.
func (s *Server) HandleStartPayment(w http.ResponseWriter, r *http.Request) {
	var req payment.Request
	if !decodeBody(w, r, &req) {
		return
	}
	attempt, err := s.cfg.Payments.Start(s.cfg.BaseContext, req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, newAttemptResponse(attempt), http.StatusAccepted)
}

// HandleCurrentPayment - GET /api/v1/payments/current
func (s *Server) HandleCurrentPayment(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, newAttemptResponse(s.cfg.Payments.Current()), http.StatusOK)
}

// HandleAbandonPayment - POST /api/v1/payments/abandon
func (s *Server) HandleAbandonPayment(w http.ResponseWriter, r *http.Request) {
	attempt, ok := s.cfg.Payments.Abandon()
	if !ok {
		respondError(w, newHTTPError(http.StatusConflict, "no attempt in flight"))
		return
	}
	respondJSON(w, newAttemptResponse(attempt), http.StatusOK)
}

// HandleResetPayment - POST /api/v1/payments/reset
func (s *Server) HandleResetPayment(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Payments.Reset(); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, newAttemptResponse(s.cfg.Payments.Current()), http.StatusOK)
}

// HandleGetHistory - GET /api/v1/history?address=0x..&limit=10
// address defaults to the connected account.
func (s *Server) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	account := s.cfg.Wallet.Account().Address
	if raw := r.URL.Query().Get("address"); raw != "" {
		if !common.IsHexAddress(raw) {
			respondError(w, payerr.New(payerr.KindInvalidRecipient, "invalid address %q", raw))
			return
		}
		account = common.HexToAddress(raw)
	}
	page := s.cfg.History.List(r.Context(), account)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(w, newHTTPError(http.StatusBadRequest, "invalid limit"))
			return
		}
		if limit < len(page.Records) {
			page.Records = page.Records[:limit]
		}
	}
	respondJSON(w, page, http.StatusOK)
}

// HandleGetTransactionStatus - GET /api/v1/tx/status?hash=0x...
func (s *Server) HandleGetTransactionStatus(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimSpace(r.URL.Query().Get("hash"))
	if hash == "" {
		respondError(w, newHTTPError(http.StatusBadRequest, "hash parameter required"))
		return
	}
	status, err := s.cfg.Chain.TransactionStatus(r.Context(), hash)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, status, http.StatusOK)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, newHTTPError(http.StatusBadRequest, "invalid request body"))
		return false
	}
	return true
}

// httpError carries a plain HTTP status for errors outside the payment taxonomy.
type httpError struct {
	status  int
	message string
}

func newHTTPError(status int, message string) *httpError {
	return &httpError{status: status, message: message}
}

func (e *httpError) Error() string { return e.message }

// statusFor maps an error kind to an HTTP status.
func statusFor(kind payerr.Kind) int {
	switch kind {
	case payerr.KindAttemptInFlight, payerr.KindAttemptAbandoned:
		return http.StatusConflict
	case payerr.KindWalletDisconnected:
		return http.StatusServiceUnavailable
	}
	switch payerr.CategoryOf(kind) {
	case payerr.CategoryInput:
		return http.StatusBadRequest
	case payerr.CategoryWallet:
		return http.StatusUnprocessableEntity
	case payerr.CategoryNetwork:
		return http.StatusServiceUnavailable
	case payerr.CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// Helper functions
func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, err error) {
	var herr *httpError
	if errors.As(err, &herr) {
		respondJSON(w, ErrorResponse{
			Error:   http.StatusText(herr.status),
			Message: herr.message,
			Code:    herr.status,
		}, herr.status)
		return
	}

	var perr *payerr.Error
	if !errors.As(err, &perr) {
		respondJSON(w, ErrorResponse{
			Error:   http.StatusText(http.StatusInternalServerError),
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		}, http.StatusInternalServerError)
		return
	}
	status := statusFor(perr.Kind)
	respondJSON(w, ErrorResponse{
		Error:   http.StatusText(status),
		Kind:    string(perr.Kind),
		Message: perr.Error(),
		Code:    status,
	}, status)
}
