// Package wallet models the connected account. Connection state is owned by
// whoever constructs the wallet; the payment core only reads it.
package wallet

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Account - read-only snapshot of the connected wallet
type Account struct {
	Address   common.Address `json:"address"`
	ChainID   uint64         `json:"chain_id"`
	Connected bool           `json:"connected"`
}

// Wallet is the capability set the payment flow needs from a connected
// wallet. Implementations return payerr.ErrUserRejected (or an error whose
// text carries an EIP-1193 4001 rejection) when the user declines a prompt.
type Wallet interface {
	Account() Account
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
	SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
}

// FuncWallet adapts callback functions to the Wallet interface.
type FuncWallet struct {
	AccountFunc func() Account
	SignFunc    func(ctx context.Context, data apitypes.TypedData) ([]byte, error)
	SendFunc    func(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
}

// Account delegates to the configured callback.
func (w FuncWallet) Account() Account {
	if w.AccountFunc == nil {
		return Account{}
	}
	return w.AccountFunc()
}

// SignTypedData delegates to the configured callback.
func (w FuncWallet) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	if w.SignFunc == nil {
		return nil, errSigningUnavailable
	}
	return w.SignFunc(ctx, data)
}

// SendTransaction delegates to the configured callback.
func (w FuncWallet) SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if w.SendFunc == nil {
		return common.Hash{}, errSendingUnavailable
	}
	return w.SendFunc(ctx, to, data)
}
