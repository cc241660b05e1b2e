package chainevm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"fxpay/payerr"
)

// ReceiptReader is the RPC subset needed to await and diagnose receipts.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	Caller
}

// Confirmer waits for receipts at a fixed poll interval.
type Confirmer struct {
	reader ReceiptReader
	poll   time.Duration
}

func NewConfirmer(reader ReceiptReader, poll time.Duration) *Confirmer {
	return &Confirmer{reader: reader, poll: poll}
}

// WaitMined blocks until hash is mined or ctx is done.
func (c *Confirmer) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return WaitMined(ctx, c.reader, hash, c.poll)
}

// RevertReason recovers the reason of a failed receipt.
func (c *Confirmer) RevertReason(ctx context.Context, receipt *types.Receipt) (string, []byte) {
	return ReplayRevert(ctx, c.reader, receipt)
}

// WaitMined polls until the transaction has a receipt or ctx is done. A
// receipt with a failed status is returned without error; callers decide
// what a revert means.
func WaitMined(ctx context.Context, reader ReceiptReader, hash common.Hash, poll time.Duration) (*types.Receipt, error) {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		receipt, err := reader.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		// a throttled poll waits for the next tick or the deadline
		if err != nil && !errors.Is(err, ethereum.NotFound) && !errors.Is(err, ErrRateLimited) && ctx.Err() == nil {
			return nil, fmt.Errorf("fetch receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ReplayRevert re-executes a reverted transaction as a call at its block to
// recover the revert reason and data, which receipts do not carry.
func ReplayRevert(ctx context.Context, reader ReceiptReader, receipt *types.Receipt) (string, []byte) {
	if receipt == nil {
		return "", nil
	}
	tx, _, err := reader.TransactionByHash(ctx, receipt.TxHash)
	if err != nil || tx == nil {
		return "", nil
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return "", nil
	}
	msg := ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}
	_, err = reader.CallContract(ctx, msg, receipt.BlockNumber)
	if err == nil {
		return "", nil
	}
	return RevertData(err)
}

// RevertData extracts a revert reason and raw revert payload from an RPC
// error. Either may be empty.
func RevertData(err error) (string, []byte) {
	if err == nil {
		return "", nil
	}
	var data []byte
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		switch d := dataErr.ErrorData().(type) {
		case string:
			if decoded, decErr := hexutil.Decode(d); decErr == nil {
				data = decoded
			}
		case []byte:
			data = d
		}
	}
	msg := err.Error()
	reason := msg
	if idx := strings.Index(msg, "execution reverted"); idx >= 0 {
		reason = strings.TrimSpace(strings.TrimPrefix(msg[idx:], "execution reverted"))
		reason = strings.TrimSpace(strings.TrimPrefix(reason, ":"))
	}
	return reason, data
}

// ClassifySendError maps a failed wallet broadcast. A refusal becomes
// rejected; wallets that simulate before sending surface contract reverts
// here, which are classified like mined reverts.
func ClassifySendError(err error, rejected payerr.Kind) *payerr.Error {
	if err == nil {
		return nil
	}
	var classified *payerr.Error
	if errors.As(err, &classified) {
		return classified
	}
	if payerr.IsUserRejection(err) {
		return payerr.Wrap(rejected, err)
	}
	reason, data := RevertData(err)
	if len(data) >= 4 || strings.Contains(strings.ToLower(err.Error()), "revert") {
		return payerr.ClassifyRevert(reason, data)
	}
	return payerr.Wrap(payerr.KindOther, err)
}
