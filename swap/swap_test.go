package swap

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxpay/allowance"
	"fxpay/chainevm"
	"fxpay/payerr"
	"fxpay/wallet"
)

var (
	usdc       = Token{Symbol: "USDC", Address: common.HexToAddress("0x3600000000000000000000000000000000000000"), Decimals: 6}
	vndc       = Token{Symbol: "VNDC", Address: common.HexToAddress("0xF2625B91c67A011b9F5a4fee59814EC0dE23A6d7"), Decimals: 8}
	jpy        = Token{Symbol: "JPY", Address: common.HexToAddress("0x0d4d5251aFf1facaC43Af61F78A8f339D28808f7"), Decimals: 8}
	swapRouter = common.HexToAddress("0x5b2F0e3D6b4c4A3a1E2c2b9e8F6e5b8a7c6d5e4f")
	owner      = common.HexToAddress("0xAeeAe0B6dBD6EF6eFE2fec07a720c65AeFb2492A")
)

func ratesOf(pairs map[string]string) RateLookup {
	return LookupFunc(func(pair string) (*big.Rat, bool) {
		v, ok := pairs[pair]
		if !ok {
			return nil, false
		}
		r, _ := new(big.Rat).SetString(v)
		return r, true
	})
}

func slippage(v float64) *float64 { return &v }

func TestMinAmountOutIsExact(t *testing.T) {
	out, minOut, err := MinAmountOut(big.NewRat(100, 1), big.NewRat(25000, 1), BaseToQuote, big.NewRat(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 0, out.Cmp(big.NewRat(2_500_000, 1)))
	assert.Equal(t, 0, minOut.Cmp(big.NewRat(2_487_500, 1)), "got %s", minOut.FloatString(6))

	_, minOut, err = MinAmountOut(big.NewRat(2_500_000, 1), big.NewRat(25000, 1), QuoteToBase, nil)
	require.NoError(t, err)
	assert.Equal(t, "100.000000", minOut.FloatString(6))
}

func TestMinAmountOutRejects(t *testing.T) {
	_, _, err := MinAmountOut(big.NewRat(0, 1), big.NewRat(1, 1), BaseToQuote, nil)
	assert.ErrorIs(t, err, payerr.ErrInvalidAmount)
	_, _, err = MinAmountOut(big.NewRat(1, 1), big.NewRat(0, 1), BaseToQuote, nil)
	assert.ErrorIs(t, err, payerr.ErrRegistryUnavailable)
	_, _, err = MinAmountOut(big.NewRat(1, 1), big.NewRat(1, 1), BaseToQuote, big.NewRat(100, 1))
	assert.ErrorIs(t, err, payerr.ErrInvalidAmount)
	_, _, err = MinAmountOut(big.NewRat(1, 1), big.NewRat(1, 1), Direction("sideways"), nil)
	assert.Error(t, err)
}

func TestRoute(t *testing.T) {
	calc, err := NewCalculator("USDC", ratesOf(nil), 0.5)
	require.NoError(t, err)

	pair, dir, err := calc.Route("usdc", "vndc")
	require.NoError(t, err)
	assert.Equal(t, "USDC/VNDC", pair)
	assert.Equal(t, BaseToQuote, dir)

	pair, dir, err = calc.Route("JPY", "USDC")
	require.NoError(t, err)
	assert.Equal(t, "USDC/JPY", pair)
	assert.Equal(t, QuoteToBase, dir)

	_, _, err = calc.Route("VNDC", "JPY")
	assert.ErrorIs(t, err, payerr.ErrNoRouteAvailable)
	_, _, err = calc.Route("USDC", "USDC")
	assert.ErrorIs(t, err, payerr.ErrNoRouteAvailable)
}

func TestCalculatorQuote(t *testing.T) {
	calc, err := NewCalculator("USDC", ratesOf(map[string]string{"USDC/VNDC": "25000", "USDC/JPY": "151.45"}), 0.5)
	require.NoError(t, err)

	res, err := calc.Quote(Request{From: "USDC", To: "VNDC", Amount: "100"})
	require.NoError(t, err)
	assert.Equal(t, "2487500.00", res.AmountOutMin.FloatString(2))
	assert.Equal(t, "0.50", res.SlippagePct.FloatString(2))

	res, err = calc.Quote(Request{From: "JPY", To: "USDC", Amount: "1514.5", SlippagePct: slippage(0)})
	require.NoError(t, err)
	assert.Equal(t, "10.000000", res.AmountOutMin.FloatString(6))

	_, err = calc.Quote(Request{From: "VNDC", To: "JPY", Amount: "1"})
	assert.ErrorIs(t, err, payerr.ErrNoRouteAvailable)

	_, err = calc.Quote(Request{From: "USDC", To: "GBP", Amount: "1"})
	assert.ErrorIs(t, err, payerr.ErrRegistryUnavailable, "a missing rate must not quote zero")

	_, err = calc.Quote(Request{From: "USDC", To: "VNDC", Amount: "abc"})
	assert.ErrorIs(t, err, payerr.ErrInvalidAmount)

	_, err = calc.Quote(Request{From: "USDC", To: "VNDC", Amount: "1", SlippagePct: slippage(-1)})
	assert.ErrorIs(t, err, payerr.ErrInvalidAmount)

	_, err = NewCalculator("", ratesOf(nil), 0.5)
	assert.Error(t, err)
}

type chain struct {
	mu        sync.Mutex
	allowance *big.Int
	sendErr   error
	status    uint64
	reason    string
	hang      bool
	sent      []sentTx
}

type sentTx struct {
	to   common.Address
	data []byte
}

func (c *chain) Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.allowance), nil
}

func (c *chain) send(_ context.Context, to common.Address, data []byte) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil && to == swapRouter {
		return common.Hash{}, c.sendErr
	}
	c.sent = append(c.sent, sentTx{to: to, data: data})
	if to != swapRouter {
		c.allowance = big.NewInt(100_000_000)
	}
	return common.BigToHash(big.NewInt(int64(len(c.sent)))), nil
}

func (c *chain) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	hang, status := c.hang, c.status
	c.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &types.Receipt{Status: status, TxHash: hash}, nil
}

func (c *chain) RevertReason(context.Context, *types.Receipt) (string, []byte) {
	return c.reason, nil
}

func newExecutor(t *testing.T, c *chain) *Executor {
	t.Helper()
	calc, err := NewCalculator("USDC", ratesOf(map[string]string{"USDC/VNDC": "25000"}), 0.5)
	require.NoError(t, err)
	w := wallet.FuncWallet{
		AccountFunc: func() wallet.Account { return wallet.Account{Address: owner, ChainID: 5042002, Connected: true} },
		SendFunc:    c.send,
	}
	approver := allowance.NewManager(c, w, c, allowance.WithPolicy(allowance.PolicyExact), allowance.WithTimeout(time.Second))
	e, err := NewExecutor(calc, swapRouter, []Token{usdc, vndc, jpy}, w, approver, c,
		WithTimeout(time.Second),
		WithExplorer(func(h string) string { return "https://testnet.arcscan.app/tx/" + h }),
	)
	require.NoError(t, err)
	return e
}

func TestExecuteApprovesExactAmountThenSwaps(t *testing.T) {
	c := &chain{allowance: big.NewInt(0), status: types.ReceiptStatusSuccessful}
	e := newExecutor(t, c)

	exec, err := e.Execute(context.Background(), Request{From: "USDC", To: "VNDC", Amount: "100"})
	require.NoError(t, err)
	assert.Equal(t, "100000000", exec.AmountInRaw.String())
	assert.Equal(t, "248750000000000", exec.MinAmountOutRaw.String())
	assert.NotEqual(t, common.Hash{}, exec.ApprovalTx)
	assert.Equal(t, "https://testnet.arcscan.app/tx/"+exec.TxHash.Hex(), exec.ExplorerURL)

	require.Len(t, c.sent, 2)
	approve, err := chainevm.PackApprove(swapRouter, big.NewInt(100_000_000))
	require.NoError(t, err)
	assert.Equal(t, usdc.Address, c.sent[0].to)
	assert.Equal(t, approve, c.sent[0].data, "router is approved for exactly the input amount")

	swapCall, err := chainevm.PackSwap(usdc.Address, vndc.Address, big.NewInt(100_000_000), big.NewInt(248_750_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, swapRouter, c.sent[1].to)
	assert.Equal(t, swapCall, c.sent[1].data)
}

func TestExecuteSkipsApprovalWhenCovered(t *testing.T) {
	c := &chain{allowance: big.NewInt(500_000_000), status: types.ReceiptStatusSuccessful}
	e := newExecutor(t, c)

	exec, err := e.Execute(context.Background(), Request{From: "USDC", To: "VNDC", Amount: "100"})
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, exec.ApprovalTx)
	require.Len(t, c.sent, 1)
	assert.Equal(t, swapRouter, c.sent[0].to)
}

func TestExecuteFailures(t *testing.T) {
	t.Run("unknown token", func(t *testing.T) {
		e := newExecutor(t, &chain{allowance: big.NewInt(0)})
		_, err := e.Execute(context.Background(), Request{From: "USDC", To: "XYZ", Amount: "1"})
		assert.ErrorIs(t, err, payerr.ErrNoRouteAvailable)
	})
	t.Run("no hub", func(t *testing.T) {
		e := newExecutor(t, &chain{allowance: big.NewInt(0)})
		_, err := e.Execute(context.Background(), Request{From: "VNDC", To: "JPY", Amount: "1"})
		assert.ErrorIs(t, err, payerr.ErrNoRouteAvailable)
	})
	t.Run("dust", func(t *testing.T) {
		e := newExecutor(t, &chain{allowance: big.NewInt(0)})
		_, err := e.Execute(context.Background(), Request{From: "USDC", To: "VNDC", Amount: "0.0000001"})
		assert.ErrorIs(t, err, payerr.ErrInvalidAmount)
	})
	t.Run("user rejects swap", func(t *testing.T) {
		c := &chain{allowance: big.NewInt(500_000_000), sendErr: errors.New("user rejected transaction")}
		_, err := newExecutor(t, c).Execute(context.Background(), Request{From: "USDC", To: "VNDC", Amount: "100"})
		assert.ErrorIs(t, err, payerr.ErrUserRejectedSubmission)
	})
	t.Run("reverted", func(t *testing.T) {
		c := &chain{allowance: big.NewInt(500_000_000), status: types.ReceiptStatusFailed, reason: "StableFX: slippage"}
		exec, err := newExecutor(t, c).Execute(context.Background(), Request{From: "USDC", To: "VNDC", Amount: "100"})
		assert.ErrorIs(t, err, payerr.ErrOther)
		assert.Contains(t, err.Error(), "slippage")
		assert.NotEqual(t, common.Hash{}, exec.TxHash)
	})
	t.Run("confirmation timeout", func(t *testing.T) {
		c := &chain{allowance: big.NewInt(500_000_000), hang: true}
		e := newExecutor(t, c)
		e.timeout = 30 * time.Millisecond
		_, err := e.Execute(context.Background(), Request{From: "USDC", To: "VNDC", Amount: "100"})
		assert.ErrorIs(t, err, payerr.ErrConfirmationTimeout)
	})
	t.Run("disconnected", func(t *testing.T) {
		c := &chain{allowance: big.NewInt(0)}
		e := newExecutor(t, c)
		e.wallet = wallet.FuncWallet{}
		_, err := e.Execute(context.Background(), Request{From: "USDC", To: "VNDC", Amount: "1"})
		assert.ErrorIs(t, err, payerr.ErrWalletDisconnected)
	})
}
