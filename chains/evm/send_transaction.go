package evm

import (
	"context"
	"math/big"
	"time"

	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SendTransaction signs and submits a relayer transaction carrying the request's fee quote.
//
// Parameters:
// - ctx: the context for managing the request.
// - request: the transaction request. A nil Nonce uses the relayer's pending nonce.
//
// Returns:
// - *types.Transaction: the transaction accepted by the node.
// - error: an error if the request is incomplete or the node rejects the transaction.
func (e *evm) SendTransaction(ctx context.Context, request *types.TransactionRequest) (*types.Transaction, error) {
	if request == nil || request.Fee == nil || request.Fee.MaxFeePerGas == nil || request.Fee.MaxPriorityFeePerGas == nil {
		return nil, errors.New("transaction request without fee quote")
	}
	if !common.IsHexAddress(request.To) {
		return nil, errors.Errorf("invalid recipient address %q", request.To)
	}

	from, err := e.relayerAddress()
	if err != nil {
		return nil, err
	}

	var nonce uint64
	if request.Nonce != nil {
		nonce = *request.Nonce
	} else {
		nonce, err = e.PendingNonce(ctx)
		if err != nil {
			return nil, err
		}
	}

	value := request.Value
	if value == nil {
		value = new(big.Int)
	}

	tx, err := e.prepareTransaction(ctx, nonce, request.To, value, request.Data, request.Fee)
	if err != nil {
		return nil, err
	}

	signedTx, err := e.signAndSendTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"chain":                e.config.Name,
		"txHash":               signedTx.Hash().Hex(),
		"nonce":                nonce,
		"maxFeePerGas":         request.Fee.MaxFeePerGas.String(),
		"maxPriorityFeePerGas": request.Fee.MaxPriorityFeePerGas.String(),
	}).Debug("Transaction accepted by node")

	return &types.Transaction{
		Hash:                 signedTx.Hash().Hex(),
		From:                 from.Hex(),
		To:                   common.HexToAddress(request.To).Hex(),
		Value:                value.String(),
		Nonce:                nonce,
		ChainID:              e.config.ChainID,
		MaxFeePerGas:         signedTx.GasFeeCap(),
		MaxPriorityFeePerGas: signedTx.GasTipCap(),
		SubmittedAt:          time.Now().UTC(),
	}, nil
}

// PendingNonce returns the relayer identity's next nonce, pending pool included.
//
// Parameters:
// - ctx: the context for managing the request.
//
// Returns:
// - uint64: the next nonce.
// - error: an error if the relayer is not configured or the node cannot be queried.
func (e *evm) PendingNonce(ctx context.Context) (uint64, error) {
	client := e.getClient()
	if client == nil {
		return 0, errors.New("client not initialized")
	}

	from, err := e.relayerAddress()
	if err != nil {
		return 0, err
	}

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get nonce")
	}
	return nonce, nil
}

// prepareTransaction builds an EIP-1559 transaction with a buffered gas limit.
//
// Parameters:
// - ctx: the context for managing the request.
// - nonce: the nonce for the transaction.
// - toAddress: the recipient address of the transaction.
// - value: the amount of Ether to send with the transaction.
// - data: the input data for the transaction.
// - fee: the bounded fee quote.
//
// Returns:
// - *ethtypes.Transaction: the unsigned transaction.
// - error: an error if the gas estimation fails.
func (e *evm) prepareTransaction(ctx context.Context, nonce uint64, toAddress string, value *big.Int, data []byte, fee *types.FeeQuote) (*ethtypes.Transaction, error) {
	estimatedGas, err := e.EstimateGas(ctx, toAddress, value, data)
	if err != nil {
		e.logger.WithField("chain", e.config.Name).WithError(err).Warn("Failed to estimate gas")
		return nil, errors.Wrap(err, "failed to estimate gas")
	}

	gasLimit := estimatedGas * gasLimitBufferPercent / 100
	to := common.HexToAddress(toAddress)

	return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(e.config.ChainID),
		Nonce:     nonce,
		GasFeeCap: fee.MaxFeePerGas,
		GasTipCap: fee.MaxPriorityFeePerGas,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	}), nil
}

// signAndSendTransaction signs the prepared transaction with the relayer key and sends it.
//
// Parameters:
// - ctx: the context for managing the request.
// - tx: the prepared transaction to be signed and sent.
//
// Returns:
// - *ethtypes.Transaction: the signed and sent transaction.
// - error: an error if the client or signer is not initialized, or if the signing or sending fails.
func (e *evm) signAndSendTransaction(ctx context.Context, tx *ethtypes.Transaction) (*ethtypes.Transaction, error) {
	client := e.getClient()
	s := e.getSigner()
	if client == nil || s == nil {
		return nil, errors.New("client or signer not initialized")
	}

	signedTx, err := s.SignTx(tx, new(big.Int).SetUint64(e.config.ChainID))
	if err != nil {
		e.logger.WithError(err).Error("Failed to sign transaction")
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	if err = client.SendTransaction(ctx, signedTx); err != nil {
		e.logger.WithField("chain", e.config.Name).WithError(err).Error("Failed to send transaction")
		return nil, errors.Wrap(err, "failed to send transaction")
	}

	return signedTx, nil
}
