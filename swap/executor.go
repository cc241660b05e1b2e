package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"fxpay/allowance"
	"fxpay/chainevm"
	"fxpay/fixedpoint"
	"fxpay/logger"
	"fxpay/payerr"
	"fxpay/wallet"
)

// Token is a swappable token.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// Approver is satisfied by *allowance.Manager. The swap router is approved
// for exactly the amount being sold.
type Approver interface {
	EnsureApproved(ctx context.Context, owner, token, spender common.Address, required *big.Int) (allowance.Result, error)
}

// Confirmer is satisfied by *chainevm.Confirmer.
type Confirmer interface {
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	RevertReason(ctx context.Context, receipt *types.Receipt) (string, []byte)
}

// Execution reports a completed swap.
type Execution struct {
	Quote           Result
	AmountInRaw     *big.Int
	MinAmountOutRaw *big.Int
	ApprovalTx      common.Hash
	TxHash          common.Hash
	ExplorerURL     string
}

// Executor approves and calls the swap router.
type Executor struct {
	calc      *Calculator
	router    common.Address
	tokens    map[string]Token
	wallet    wallet.Wallet
	approver  Approver
	confirmer Confirmer
	timeout   time.Duration
	explorer  func(txHash string) string
	log       *logger.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTimeout bounds the swap confirmation wait.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

func WithLogger(l *logger.Logger) ExecutorOption {
	return func(e *Executor) { e.log = logger.OrNop(l).Named("swap") }
}

func WithExplorer(fn func(txHash string) string) ExecutorOption {
	return func(e *Executor) { e.explorer = fn }
}

// NewExecutor wires an executor for router.
func NewExecutor(calc *Calculator, router common.Address, tokens []Token, w wallet.Wallet, approver Approver, confirmer Confirmer, opts ...ExecutorOption) (*Executor, error) {
	if calc == nil || w == nil || approver == nil || confirmer == nil {
		return nil, errors.New("swap: calculator, wallet, approver and confirmer required")
	}
	if router == (common.Address{}) {
		return nil, errors.New("swap: router address required")
	}
	e := &Executor{
		calc:      calc,
		router:    router,
		tokens:    make(map[string]Token, len(tokens)),
		wallet:    w,
		approver:  approver,
		confirmer: confirmer,
		timeout:   120 * time.Second,
		log:       logger.Nop(),
	}
	for _, t := range tokens {
		e.tokens[strings.ToUpper(t.Symbol)] = t
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

func (e *Executor) token(symbol string) (Token, error) {
	t, ok := e.tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Token{}, payerr.New(payerr.KindNoRouteAvailable, "unknown token %q", symbol)
	}
	return t, nil
}

// Execute quotes req, approves the router for the input amount when
// needed, sends swap(tokenIn, tokenOut, amountIn, minAmountOut) and waits
// for it to confirm.
func (e *Executor) Execute(ctx context.Context, req Request) (Execution, error) {
	account := e.wallet.Account()
	if !account.Connected {
		return Execution{}, payerr.New(payerr.KindWalletDisconnected, "wallet not connected")
	}
	in, err := e.token(req.From)
	if err != nil {
		return Execution{}, err
	}
	out, err := e.token(req.To)
	if err != nil {
		return Execution{}, err
	}
	quote, err := e.calc.Quote(req)
	if err != nil {
		return Execution{}, err
	}
	amountIn, err := fixedpoint.RatToRaw(quote.AmountIn, in.Decimals)
	if err != nil || amountIn.Sign() == 0 {
		return Execution{}, payerr.New(payerr.KindInvalidAmount, "%s is below the smallest %s unit", req.Amount, in.Symbol)
	}
	minOut, err := fixedpoint.RatToRaw(quote.AmountOutMin, out.Decimals)
	if err != nil {
		return Execution{}, payerr.Wrap(payerr.KindInvalidAmount, err)
	}
	exec := Execution{Quote: quote, AmountInRaw: amountIn, MinAmountOutRaw: minOut}
	log := e.log.With(zap.String("pair", quote.Pair), zap.String("amount_in", amountIn.String()))

	approval, err := e.approver.EnsureApproved(ctx, account.Address, in.Address, e.router, amountIn)
	if err != nil {
		return exec, err
	}
	exec.ApprovalTx = approval.TxHash

	data, err := chainevm.PackSwap(in.Address, out.Address, amountIn, minOut)
	if err != nil {
		return exec, fmt.Errorf("pack swap: %w", err)
	}
	hash, err := e.wallet.SendTransaction(ctx, e.router, data)
	if err != nil {
		perr := chainevm.ClassifySendError(err, payerr.KindUserRejectedSubmission)
		log.Warn("Swap not sent", zap.String("kind", string(perr.Kind)), zap.Error(err))
		return exec, perr
	}
	exec.TxHash = hash
	if e.explorer != nil {
		exec.ExplorerURL = e.explorer(hash.Hex())
	}
	log.LogTransaction("swap", hash.Hex(), zap.String("min_amount_out", minOut.String()))

	waitCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	receipt, err := e.confirmer.WaitMined(waitCtx, hash)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return exec, payerr.New(payerr.KindConfirmationTimeout,
				"swap %s not confirmed within %s; it may still land", hash.Hex(), e.timeout)
		}
		return exec, payerr.Wrap(payerr.KindOther, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		reason, revertData := e.confirmer.RevertReason(ctx, receipt)
		perr := payerr.ClassifyRevert(reason, revertData)
		log.Warn("Swap reverted", zap.String("kind", string(perr.Kind)), zap.String("tx_hash", hash.Hex()))
		return exec, perr
	}
	return exec, nil
}
