package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"fxpay/payerr"
)

var (
	errSigningUnavailable = payerr.New(payerr.KindSigningUnavailable, "wallet cannot sign typed data")
	errSendingUnavailable = payerr.New(payerr.KindWalletDisconnected, "wallet cannot send transactions")
)

// Backend is the subset of ethclient.Client used to build and broadcast transactions.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// KeyWallet - private key backed wallet for headless use (CLI, API server)
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID uint64
	backend Backend

	mu sync.Mutex
}

// NewKeyWallet parses a hex private key (with or without 0x).
func NewKeyWallet(privateKeyHex string, chainID uint64, backend Backend) (*KeyWallet, error) {
	if len(privateKeyHex) >= 2 && privateKeyHex[:2] == "0x" {
		privateKeyHex = privateKeyHex[2:]
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKeyWalletFromKey(key, chainID, backend), nil
}

// NewKeyWalletFromKey wraps an already parsed key.
func NewKeyWalletFromKey(key *ecdsa.PrivateKey, chainID uint64, backend Backend) *KeyWallet {
	return &KeyWallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		backend: backend,
	}
}

// Account implements Wallet.
func (w *KeyWallet) Account() Account {
	return Account{Address: w.address, ChainID: w.chainID, Connected: true}
}

// SignTypedData hashes data per EIP-712 and returns a 65 byte signature
// with v in {27, 28}.
func (w *KeyWallet) SignTypedData(_ context.Context, data apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	sig, err := crypto.Sign(digest, w.key)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SendTransaction builds, signs and broadcasts a contract call.
func (w *KeyWallet) SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if w.backend == nil {
		return common.Hash{}, errSendingUnavailable
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	nonce, err := w.backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}
	gasLimit, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     w.address,
		To:       &to,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
	}
	gasLimit += gasLimit / 5

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signer := types.NewEIP155Signer(new(big.Int).SetUint64(w.chainID))
	signedTx, err := types.SignTx(tx, signer, w.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := w.backend.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return signedTx.Hash(), nil
}
