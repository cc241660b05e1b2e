package chainevm

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxpay/payerr"
)

type fakeRPC struct {
	mu       sync.Mutex
	chainID  int64
	head     uint64
	callFn   func(msg ethereum.CallMsg, block *big.Int) ([]byte, error)
	receipts map[common.Hash]*types.Receipt
	polls    int
	pending  map[common.Hash]bool
}

func (f *fakeRPC) ChainID(context.Context) (*big.Int, error) { return big.NewInt(f.chainID), nil }
func (f *fakeRPC) BlockNumber(context.Context) (uint64, error) { return f.head, nil }
func (f *fakeRPC) HeaderByNumber(_ context.Context, n *big.Int) (*types.Header, error) {
	return &types.Header{Number: n, Time: 1_700_000_000}, nil
}
func (f *fakeRPC) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	return f.callFn(msg, block)
}
func (f *fakeRPC) TransactionByHash(_ context.Context, h common.Hash) (*types.Transaction, bool, error) {
	if f.pending[h] {
		return types.NewTx(&types.LegacyTx{}), true, nil
	}
	return nil, false, ethereum.NotFound
}
func (f *fakeRPC) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if r, ok := f.receipts[h]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}
func (f *fakeRPC) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }
func (f *fakeRPC) SuggestGasPrice(context.Context) (*big.Int, error)             { return big.NewInt(1), nil }
func (f *fakeRPC) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error)  { return 21000, nil }
func (f *fakeRPC) SendTransaction(context.Context, *types.Transaction) error     { return nil }

func newTestChain(rpc *fakeRPC) *Chain {
	return New(rpc, Config{ChainID: 5042002, ExplorerURL: "https://testnet.arcscan.app/", RPS: 1000, Burst: 1000})
}

func packOutput(t *testing.T, contract abi.ABI, method string, values ...interface{}) []byte {
	t.Helper()
	out, err := contract.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	return out
}

func TestExplorerURL(t *testing.T) {
	c := newTestChain(&fakeRPC{})
	assert.Equal(t, "https://testnet.arcscan.app/tx/0xabc", c.ExplorerURL("0xabc"))
	assert.Empty(t, New(&fakeRPC{}, Config{}).ExplorerURL("0xabc"))
}

func TestHealthCheckDetectsChainMismatch(t *testing.T) {
	assert.NoError(t, newTestChain(&fakeRPC{chainID: 5042002}).HealthCheck(context.Background()))

	err := newTestChain(&fakeRPC{chainID: 1}).HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain id mismatch")
}

func TestRegistryLatestPrice(t *testing.T) {
	registryAddr := common.HexToAddress("0xaf4aCA1644c19d04B251223104faC31B11d1aA51")
	rpc := &fakeRPC{callFn: func(msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
		assert.Equal(t, registryAddr, *msg.To)
		args, err := registryABI.Methods["getLatestPrice"].Inputs.Unpack(msg.Data[4:])
		require.NoError(t, err)
		assert.Equal(t, "USDC/KRW", args[0])
		return packOutput(t, registryABI, "getLatestPrice", big.NewInt(138_512_000_000)), nil
	}}

	price, err := NewRegistry(registryAddr, newTestChain(rpc)).LatestPrice(context.Background(), "USDC/KRW")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(138_512_000_000), price)
}

func TestCallEmptyResult(t *testing.T) {
	rpc := &fakeRPC{callFn: func(ethereum.CallMsg, *big.Int) ([]byte, error) { return nil, nil }}
	_, err := NewRegistry(common.Address{}, newTestChain(rpc)).LatestPrice(context.Background(), "USDC/GBP")
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestTokenReads(t *testing.T) {
	rpc := &fakeRPC{callFn: func(msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
		method, err := erc20ABI.MethodById(msg.Data[:4])
		require.NoError(t, err)
		switch method.Name {
		case "allowance":
			return packOutput(t, erc20ABI, "allowance", big.NewInt(500)), nil
		case "balanceOf":
			return packOutput(t, erc20ABI, "balanceOf", big.NewInt(1_000_000_000)), nil
		}
		return nil, errors.New("unexpected")
	}}
	token := NewToken(common.HexToAddress("0x3600000000000000000000000000000000000000"), newTestChain(rpc))

	allowance, err := token.Allowance(context.Background(), common.Address{1}, common.Address{2})
	require.NoError(t, err)
	assert.Equal(t, int64(500), allowance.Int64())

	balance, err := token.BalanceOf(context.Background(), common.Address{1})
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000), balance.Int64())
}

func TestPaymentHistoryDecodes(t *testing.T) {
	records := []PaymentRecord{{
		Id:        big.NewInt(7),
		Payer:     common.HexToAddress("0xAeeAe0B6dBD6EF6eFE2fec07a720c65AeFb2492A"),
		Payee:     common.HexToAddress("0x1234567890123456789012345678901234567890"),
		Amount:    big.NewInt(100_500_000),
		Currency:  "USDC",
		Timestamp: big.NewInt(1_700_000_000),
		Status:    2,
		TxHash:    common.HexToHash("0x01"),
	}}
	rpc := &fakeRPC{callFn: func(ethereum.CallMsg, *big.Int) ([]byte, error) {
		return packOutput(t, paymentRouterABI, "getPaymentHistory", records), nil
	}}

	got, err := NewPaymentRouter(common.Address{9}, newTestChain(rpc)).PaymentHistory(context.Background(), common.Address{1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].Id.Int64())
	assert.Equal(t, "USDC", got[0].Currency)
	assert.Equal(t, uint8(2), got[0].Status)
	assert.Equal(t, records[0].Payee, got[0].Payee)
}

func TestIsPaymentProcessed(t *testing.T) {
	rpc := &fakeRPC{callFn: func(ethereum.CallMsg, *big.Int) ([]byte, error) {
		return packOutput(t, paymentRouterABI, "isPaymentProcessed", true), nil
	}}
	processed, err := NewPaymentRouter(common.Address{9}, newTestChain(rpc)).IsPaymentProcessed(context.Background(), big.NewInt(42))
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestPackRequestPaymentWithPermit(t *testing.T) {
	payee := common.HexToAddress("0x1234567890123456789012345678901234567890")
	token := common.HexToAddress("0x3600000000000000000000000000000000000000")
	sig := make([]byte, 65)
	data, err := PackRequestPaymentWithPermit(payee, big.NewInt(100), token, big.NewInt(1_700_003_600), sig, big.NewInt(17_000_000_000_001))
	require.NoError(t, err)

	method, err := paymentRouterABI.MethodById(data[:4])
	require.NoError(t, err)
	assert.Equal(t, "requestPaymentWithPermit", method.Name)
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, payee, args[0])
	assert.Equal(t, token, args[2])
	assert.Equal(t, sig, args[4])

	call, err := DecodePaymentCall(data)
	require.NoError(t, err)
	assert.Equal(t, payee, call.Payee)
	assert.Equal(t, big.NewInt(100), call.Amount)
	assert.Equal(t, big.NewInt(17_000_000_000_001), call.PaymentID)

	swapData, err := PackSwap(token, payee, big.NewInt(1), big.NewInt(1))
	require.NoError(t, err)
	_, err = DecodePaymentCall(swapData)
	assert.Error(t, err)
}

func TestWaitMinedPollsUntilReceipt(t *testing.T) {
	hash := common.HexToHash("0xaa")
	rpc := &fakeRPC{receipts: map[common.Hash]*types.Receipt{}}
	go func() {
		time.Sleep(30 * time.Millisecond)
		rpc.mu.Lock()
		rpc.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}
		rpc.mu.Unlock()
	}()

	receipt, err := WaitMined(context.Background(), newTestChain(rpc), hash, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, hash, receipt.TxHash)
}

func TestWaitMinedTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := WaitMined(ctx, newTestChain(&fakeRPC{}), common.HexToHash("0xbb"), 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitMinedThrottledPollTimesOut(t *testing.T) {
	rpc := &fakeRPC{}
	chain := New(rpc, Config{ChainID: 5042002, RPS: 0.001, Burst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	_, err := WaitMined(ctx, chain, common.HexToHash("0xcc"), 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	rpc.mu.Lock()
	defer rpc.mu.Unlock()
	assert.Equal(t, 1, rpc.polls)
}

type dataError struct {
	msg  string
	data interface{}
}

func (e dataError) Error() string          { return e.msg }
func (e dataError) ErrorData() interface{} { return e.data }

func TestRevertData(t *testing.T) {
	reason, data := RevertData(dataError{msg: "execution reverted: DEADLINE_EXPIRED", data: "0x756688fe"})
	assert.Equal(t, "DEADLINE_EXPIRED", reason)
	assert.Equal(t, []byte{0x75, 0x66, 0x88, 0xfe}, data)

	reason, data = RevertData(errors.New("insufficient funds for gas"))
	assert.Equal(t, "insufficient funds for gas", reason)
	assert.Nil(t, data)
}

func TestClassifySendError(t *testing.T) {
	invalidNonce := "0x756688fe"
	assert.Nil(t, ClassifySendError(nil, payerr.KindUserRejectedSubmission))
	assert.Equal(t, payerr.KindUserRejectedSubmission,
		ClassifySendError(errors.New("User denied transaction signature"), payerr.KindUserRejectedSubmission).Kind)
	assert.Equal(t, payerr.KindApprovalRejected,
		ClassifySendError(payerr.ErrUserRejected, payerr.KindApprovalRejected).Kind)
	assert.Equal(t, payerr.KindNonceReused,
		ClassifySendError(dataError{msg: "execution reverted", data: invalidNonce}, payerr.KindUserRejectedSubmission).Kind)
	assert.Equal(t, payerr.KindWalletDisconnected,
		ClassifySendError(payerr.New(payerr.KindWalletDisconnected, "gone"), payerr.KindUserRejectedSubmission).Kind)
	assert.Equal(t, payerr.KindOther,
		ClassifySendError(errors.New("connection refused"), payerr.KindUserRejectedSubmission).Kind)
}

func TestTransactionStatus(t *testing.T) {
	confirmed := common.HexToHash("0x01")
	pending := common.HexToHash("0x02")
	rpc := &fakeRPC{
		head: 110,
		receipts: map[common.Hash]*types.Receipt{
			confirmed: {Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(101), GasUsed: 52_000, TxHash: confirmed},
		},
		pending: map[common.Hash]bool{pending: true},
	}
	c := newTestChain(rpc)

	status, err := c.TransactionStatus(context.Background(), confirmed.Hex())
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, status.Status)
	assert.Equal(t, uint64(10), status.Confirmations)
	assert.Equal(t, uint64(52_000), status.GasUsed)
	require.NotNil(t, status.BlockTime)
	assert.Equal(t, "https://testnet.arcscan.app/tx/"+confirmed.Hex(), status.ExplorerURL)

	status, err = c.TransactionStatus(context.Background(), pending.Hex())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status.Status)

	status, err = c.TransactionStatus(context.Background(), common.HexToHash("0x03").Hex())
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, status.Status)

	_, err = c.TransactionStatus(context.Background(), "0x1234")
	assert.Error(t, err)
}
