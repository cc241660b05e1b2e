package chainevm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TransactionStatus - Check transaction status by hash
func (c *Chain) TransactionStatus(ctx context.Context, txHash string) (*TransactionStatusResponse, error) {
	if len(txHash) != 66 {
		return nil, fmt.Errorf("invalid transaction hash %q", txHash)
	}
	hash := common.HexToHash(txHash)

	response := &TransactionStatusResponse{
		TxHash:      hash.Hex(),
		ExplorerURL: c.ExplorerURL(hash.Hex()),
	}

	receipt, err := c.TransactionReceipt(ctx, hash)
	if err != nil {
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}
		_, pending, txErr := c.TransactionByHash(ctx, hash)
		if txErr == nil && pending {
			response.Status = StatusPending
		} else {
			response.Status = StatusNotFound
		}
		return response, nil
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		response.Status = StatusConfirmed
	} else {
		response.Status = StatusFailed
		errMsg := "transaction reverted"
		if reason, _ := ReplayRevert(ctx, c, receipt); reason != "" {
			errMsg = reason
		}
		response.Error = &errMsg
	}

	response.BlockNumber = receipt.BlockNumber.Uint64()
	response.GasUsed = receipt.GasUsed

	if header, err := c.HeaderByNumber(ctx, receipt.BlockNumber); err == nil && header != nil {
		blockTime := header.Time
		response.BlockTime = &blockTime
	}

	if current, err := c.BlockNumber(ctx); err == nil && current >= response.BlockNumber {
		response.Confirmations = current - response.BlockNumber + 1
	}

	return response, nil
}
