package evm

import (
	"context"
	"math/big"

	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// EstimateGas estimates the gas required for a transaction sent by the relayer identity.
//
// Parameters:
// - ctx: the context for managing the request.
// - toAddress: the recipient address of the transaction.
// - value: the amount of Ether to send with the transaction.
// - data: the input data for the transaction.
//
// Returns:
// - uint64: the estimated gas required for the transaction.
// - error: an error if the client or signer is not initialized or if the gas estimation fails.
func (e *evm) EstimateGas(ctx context.Context, toAddress string, value *big.Int, data []byte) (uint64, error) {
	client := e.getClient()
	if client == nil {
		return 0, errors.New("client not initialized")
	}

	from, err := e.relayerAddress()
	if err != nil {
		return 0, err
	}

	to := common.HexToAddress(toAddress)
	return client.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	})
}

// GetFeeData reads the base fee of the latest block and the node's priority fee suggestion.
// Unlike gas estimation there is no fallback: a missing component is an error so callers fail closed.
//
// Parameters:
// - ctx: the context for managing the request.
//
// Returns:
// - *types.FeeData: the fee market sample.
// - error: an error if the client is not initialized or any component is unavailable.
func (e *evm) GetFeeData(ctx context.Context) (*types.FeeData, error) {
	client := e.getClient()
	if client == nil {
		return nil, errors.New("client not initialized")
	}

	suggestedTip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		e.logger.WithField("chain", e.config.Name).WithError(err).Warn("Failed to get suggested gas tip")
		return nil, errors.Wrap(err, "failed to get suggested gas tip")
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		e.logger.WithField("chain", e.config.Name).WithError(err).Warn("Failed to get header by number")
		return nil, errors.Wrap(err, "failed to get header by number")
	}

	if header.BaseFee == nil {
		e.logger.WithField("chain", e.config.Name).Warn("Base fee is nil")
		return nil, errors.New("base fee is nil, chain does not support EIP-1559")
	}

	return &types.FeeData{
		BaseFee:              header.BaseFee,
		SuggestedPriorityFee: suggestedTip,
	}, nil
}
