package evm

import (
	"context"

	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// TransactionStatus reports where a transaction currently is without waiting for it.
//
// Parameters:
// - ctx: the context for managing the request.
// - txHash: the transaction hash.
//
// Returns:
// - *types.TransactionStatusReport: TxNotFound, TxPending, TxConfirmed or TxReverted with the block number.
// - error: an error if the node cannot be queried.
func (e *evm) TransactionStatus(ctx context.Context, txHash string) (*types.TransactionStatusReport, error) {
	client := e.getClient()
	if client == nil {
		return nil, errors.New("client not initialized")
	}

	hash := common.HexToHash(txHash)
	report := &types.TransactionStatusReport{TxHash: hash.Hex()}

	_, isPending, err := client.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			report.Status = types.TxNotFound
			return report, nil
		}
		return nil, errors.Wrap(err, "failed to get transaction details")
	}
	if isPending {
		report.Status = types.TxPending
		return report, nil
	}

	receipt, err := client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			report.Status = types.TxPending
			return report, nil
		}
		return nil, errors.Wrap(err, "failed to get transaction receipt")
	}

	mined := toReceipt(receipt)
	report.Status = mined.Status
	report.BlockNumber = mined.BlockNumber

	return report, nil
}
