package allowance

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

	"fxpay/fixedpoint"
	"fxpay/payerr"
)

var (
	owner   = common.HexToAddress("0xAeeAe0B6dBD6EF6eFE2fec07a720c65AeFb2492A")
	token   = common.HexToAddress("0x3600000000000000000000000000000000000000")
	spender = common.HexToAddress("0x000000000022D473030F116dDEE9F6B43aC78BA3")
)

type fakeChain struct {
	mu        sync.Mutex
	allowance *big.Int
	sendErr   error
	status    uint64
	hang      bool
	applyOnOK bool
	sent      [][]byte
}

func (f *fakeChain) Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.allowance), nil
}

func (f *fakeChain) SendTransaction(_ context.Context, to common.Address, data []byte) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sent = append(f.sent, data)
	return common.BytesToHash([]byte{byte(len(f.sent))}), nil
}

func (f *fakeChain) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == types.ReceiptStatusSuccessful && f.applyOnOK {
		f.allowance = fixedpoint.MaxUint256()
	}
	return &types.Receipt{TxHash: hash, Status: f.status}, nil
}

func newFake(allowance int64) *fakeChain {
	return &fakeChain{allowance: big.NewInt(allowance), status: types.ReceiptStatusSuccessful, applyOnOK: true}
}

func TestNeedsApprovalFor(t *testing.T) {
	cases := []struct {
		current, required int64
		want              bool
	}{
		{0, 1, true},
		{99, 100, true},
		{100, 100, false},
		{101, 100, false},
		{0, 0, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NeedsApprovalFor(big.NewInt(tc.current), big.NewInt(tc.required)), "%d vs %d", tc.current, tc.required)
	}
}

func TestNeedsApprovalFalseAfterInfiniteApproval(t *testing.T) {
	maxAllowance := fixedpoint.MaxUint256()
	huge, _ := new(big.Int).SetString("1000000000000000000000000000000", 10)
	for _, required := range []*big.Int{big.NewInt(1), big.NewInt(100_500_000), huge, maxAllowance} {
		assert.False(t, NeedsApprovalFor(maxAllowance, required))
	}
}

func TestEnsureApprovedSkipsWhenSufficient(t *testing.T) {
	chain := newFake(1_000)
	m := NewManager(chain, chain, chain)

	res, err := m.EnsureApproved(context.Background(), owner, token, spender, big.NewInt(1_000))
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Empty(t, chain.sent)
}

func TestEnsureApprovedInfinite(t *testing.T) {
	chain := newFake(0)
	m := NewManager(chain, chain, chain)

	res, err := m.EnsureApproved(context.Background(), owner, token, spender, big.NewInt(100_500_000))
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, fixedpoint.MaxUint256(), res.Amount)
	require.Len(t, chain.sent, 1)
}

func TestEnsureApprovedExactPolicy(t *testing.T) {
	m := NewManager(newFake(0), nil, nil, WithPolicy(PolicyExact))
	assert.Equal(t, big.NewInt(42), m.ApprovalAmount(big.NewInt(42)))
}

func TestEnsureApprovedRejected(t *testing.T) {
	chain := newFake(0)
	chain.sendErr = errors.New("MetaMask Tx Signature: User denied transaction signature.")
	m := NewManager(chain, chain, chain)

	_, err := m.EnsureApproved(context.Background(), owner, token, spender, big.NewInt(1))
	assert.ErrorIs(t, err, payerr.ErrApprovalRejected)
}

func TestEnsureApprovedReverted(t *testing.T) {
	chain := newFake(0)
	chain.status = types.ReceiptStatusFailed
	m := NewManager(chain, chain, chain)

	res, err := m.EnsureApproved(context.Background(), owner, token, spender, big.NewInt(1))
	assert.ErrorIs(t, err, payerr.ErrApprovalReverted)
	assert.True(t, res.Approved)
}

func TestEnsureApprovedStillShortAfterConfirm(t *testing.T) {
	chain := newFake(0)
	chain.applyOnOK = false
	m := NewManager(chain, chain, chain)

	_, err := m.EnsureApproved(context.Background(), owner, token, spender, big.NewInt(1))
	assert.ErrorIs(t, err, payerr.ErrApprovalReverted)
}

func TestEnsureApprovedTimeout(t *testing.T) {
	chain := newFake(0)
	chain.hang = true
	m := NewManager(chain, chain, chain, WithTimeout(10*time.Millisecond))

	_, err := m.EnsureApproved(context.Background(), owner, token, spender, big.NewInt(1))
	assert.ErrorIs(t, err, payerr.ErrApprovalTimeout)
}

func TestEnsureApprovedCancelledIsNotTimeout(t *testing.T) {
	chain := newFake(0)
	chain.hang = true
	m := NewManager(chain, chain, chain, WithTimeout(time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := m.EnsureApproved(ctx, owner, token, spender, big.NewInt(1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, payerr.ErrApprovalTimeout)
}

func TestEnsureApprovedWithoutSender(t *testing.T) {
	m := NewManager(newFake(0), nil, nil)
	_, err := m.EnsureApproved(context.Background(), owner, token, spender, big.NewInt(1))
	assert.ErrorIs(t, err, payerr.ErrWalletDisconnected)
}
