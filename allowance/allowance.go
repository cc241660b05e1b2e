// Package allowance checks and tops up ERC-20 spending allowances.
//
// By default approvals request the maximum uint256 allowance so a spender
// is approved once rather than before every payment. This trades gas and
// prompts for an unlimited standing allowance on the spender contract; the
// exact-amount policy is available where that trade is not acceptable.
package allowance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"fxpay/chainevm"
	"fxpay/fixedpoint"
	"fxpay/logger"
	"fxpay/metrics"
	"fxpay/payerr"
)

// Reader reads allowances.
type Reader interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// Sender broadcasts a contract call from the connected wallet.
type Sender interface {
	SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
}

// Confirmer waits for a transaction receipt.
type Confirmer interface {
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Policy selects the approval amount.
type Policy int

const (
	// PolicyInfinite approves the maximum uint256.
	PolicyInfinite Policy = iota
	// PolicyExact approves exactly the required amount.
	PolicyExact
)

// Result reports what EnsureApproved did.
type Result struct {
	Approved bool        `json:"approved"`
	TxHash   common.Hash `json:"tx_hash,omitempty"`
	Amount   *big.Int    `json:"amount,omitempty"`
}

// Manager decides on and submits approvals.
type Manager struct {
	reader    Reader
	sender    Sender
	confirmer Confirmer
	policy    Policy
	timeout   time.Duration
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy selects infinite or exact approvals.
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithTimeout bounds the confirmation wait.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithLogger installs a logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) { m.log = logger.OrNop(l).Named("allowance") }
}

// WithMetrics records approval outcomes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager constructs a Manager. sender may be nil for read-only use.
func NewManager(reader Reader, sender Sender, confirmer Confirmer, opts ...Option) *Manager {
	m := &Manager{
		reader:    reader,
		sender:    sender,
		confirmer: confirmer,
		policy:    PolicyInfinite,
		timeout:   120 * time.Second,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// NeedsApprovalFor reports whether current is below required.
func NeedsApprovalFor(current, required *big.Int) bool {
	if required == nil || required.Sign() <= 0 {
		return false
	}
	if current == nil {
		return true
	}
	return current.Cmp(required) < 0
}

// CurrentAllowance reads owner's allowance of token for spender.
func (m *Manager) CurrentAllowance(ctx context.Context, owner, token, spender common.Address) (*big.Int, error) {
	allowance, err := m.reader.Allowance(ctx, token, owner, spender)
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}
	return allowance, nil
}

// NeedsApproval reports whether the current allowance is below required.
func (m *Manager) NeedsApproval(ctx context.Context, owner, token, spender common.Address, required *big.Int) (bool, error) {
	current, err := m.CurrentAllowance(ctx, owner, token, spender)
	if err != nil {
		return false, err
	}
	return NeedsApprovalFor(current, required), nil
}

// ApprovalAmount returns the amount an approval for required would request.
func (m *Manager) ApprovalAmount(required *big.Int) *big.Int {
	if m.policy == PolicyExact {
		return new(big.Int).Set(required)
	}
	return fixedpoint.MaxUint256()
}

// EnsureApproved submits an approval if the allowance is insufficient and
// waits for it to confirm. Cancelling ctx abandons the wait and returns
// ctx.Err(); only the configured timeout yields ApprovalTimeout.
func (m *Manager) EnsureApproved(ctx context.Context, owner, token, spender common.Address, required *big.Int) (Result, error) {
	needed, err := m.NeedsApproval(ctx, owner, token, spender, required)
	if err != nil {
		return Result{}, err
	}
	if !needed {
		m.metrics.RecordApproval("skipped")
		return Result{}, nil
	}
	if m.sender == nil {
		return Result{}, payerr.New(payerr.KindWalletDisconnected, "no wallet to approve from")
	}

	amount := m.ApprovalAmount(required)
	data, err := chainevm.PackApprove(spender, amount)
	if err != nil {
		return Result{}, fmt.Errorf("pack approve: %w", err)
	}
	log := m.log.With(zap.String("token", token.Hex()), zap.String("spender", spender.Hex()))

	hash, err := m.sender.SendTransaction(ctx, token, data)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		classified := payerr.ClassifyWalletError(err, payerr.KindApprovalRejected, payerr.KindOther)
		m.metrics.RecordApproval("rejected")
		log.Warn("Approval not sent", zap.String("kind", string(classified.Kind)), zap.Error(err))
		return Result{}, classified
	}
	log.LogTransaction("approve", hash.Hex(), zap.String("amount", amount.String()))
	result := Result{Approved: true, TxHash: hash, Amount: amount}

	waitCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	receipt, err := m.confirmer.WaitMined(waitCtx, hash)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			m.metrics.RecordApproval("timeout")
			return result, payerr.New(payerr.KindApprovalTimeout,
				"approval %s not confirmed within %s; it may still land", hash.Hex(), m.timeout)
		}
		return result, fmt.Errorf("await approval: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		m.metrics.RecordApproval("reverted")
		return result, payerr.New(payerr.KindApprovalReverted, "approval %s reverted", hash.Hex())
	}

	current, err := m.CurrentAllowance(ctx, owner, token, spender)
	if err == nil && NeedsApprovalFor(current, required) {
		m.metrics.RecordApproval("reverted")
		return result, payerr.New(payerr.KindApprovalReverted,
			"allowance %s still below %s after approval", current, required)
	}
	m.metrics.RecordApproval("confirmed")
	return result, nil
}
