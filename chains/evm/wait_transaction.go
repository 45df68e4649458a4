package evm

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// subscriptionHandler manages block header subscriptions
type subscriptionHandler struct {
	subscription ethereum.Subscription
	headerChan   chan *ethtypes.Header
	sync.Mutex
}

// close unsubscribes. The header channel is left to the garbage collector since the
// subscription may still be delivering into it.
func (h *subscriptionHandler) close() {
	h.Lock()
	defer h.Unlock()
	if h.subscription != nil {
		h.subscription.Unsubscribe()
		h.subscription = nil
	}
}

// WaitTransactionConfirmation waits until the transaction is mined with WaitNBlocks confirmations.
// It never replaces or cancels the transaction. A wait that outlives ctx is returned as an error.
//
// Parameters:
// - ctx: the context bounding the wait.
// - tx: the transaction to wait for.
//
// Returns:
// - *types.Receipt: the receipt with TxConfirmed or TxReverted status.
// - error: an error if the client is not initialized, ctx ends, or the receipt cannot be read.
func (e *evm) WaitTransactionConfirmation(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	client := e.getClient()
	if client == nil {
		return nil, errors.New("client not initialized")
	}

	if isWebsocket(e.config.RpcUrl) {
		receipt, err := e.waitTransactionConfirmationWS(ctx, client, tx)
		if err == nil || ctx.Err() != nil {
			return receipt, err
		}
		e.logger.WithField("txHash", tx.Hash).WithError(err).Warn("Header subscription failed, falling back to polling")
	}

	return e.waitTransactionConfirmationHTTP(ctx, client, tx)
}

// waitTransactionConfirmationWS waits for transaction confirmation using a new-head subscription.
func (e *evm) waitTransactionConfirmationWS(ctx context.Context, client Client, tx *types.Transaction) (*types.Receipt, error) {
	handler := &subscriptionHandler{
		headerChan: make(chan *ethtypes.Header, 16),
	}
	defer handler.close()

	sub, err := client.SubscribeNewHead(ctx, handler.headerChan)
	if err != nil {
		return nil, errors.Wrap(err, "failed to subscribe to new headers")
	}

	handler.Lock()
	handler.subscription = sub
	handler.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "confirmation wait ended")

		case err := <-sub.Err():
			return nil, errors.Wrap(err, "subscription error")

		case header := <-handler.headerChan:
			if header == nil {
				continue
			}

			receipt, done, err := e.checkReceipt(ctx, client, tx, header.Number.Uint64())
			if err != nil || done {
				return receipt, err
			}
		}
	}
}

// waitTransactionConfirmationHTTP waits for transaction confirmation using HTTP polling
func (e *evm) waitTransactionConfirmationHTTP(ctx context.Context, client Client, tx *types.Transaction) (*types.Receipt, error) {
	ticker := time.NewTicker(e.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "confirmation wait ended")

		case <-ticker.C:
			currentBlock, err := client.BlockNumber(ctx)
			if err != nil {
				e.logger.WithField("txHash", tx.Hash).WithError(err).Warn("Failed to get current block number")
				continue
			}

			receipt, done, err := e.checkReceipt(ctx, client, tx, currentBlock)
			if err != nil || done {
				return receipt, err
			}
		}
	}
}

// checkReceipt looks the receipt up and reports whether it has enough confirmations at currentBlock.
func (e *evm) checkReceipt(ctx context.Context, client Client, tx *types.Transaction, currentBlock uint64) (*types.Receipt, bool, error) {
	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(tx.Hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "failed to get transaction receipt")
	}

	if currentBlock < receipt.BlockNumber.Uint64()+e.config.WaitNBlocks {
		return nil, false, nil
	}

	result := toReceipt(receipt)
	e.logger.WithFields(logrus.Fields{
		"chain":       e.config.Name,
		"txHash":      result.TxHash,
		"blockNumber": result.BlockNumber,
		"status":      result.Status,
	}).Debug("Transaction mined")

	return result, true, nil
}

func toReceipt(receipt *ethtypes.Receipt) *types.Receipt {
	status := types.TxReverted
	if receipt.Status == ethtypes.ReceiptStatusSuccessful {
		status = types.TxConfirmed
	}

	return &types.Receipt{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Status:      status,
	}
}

func isWebsocket(rpcURL string) bool {
	return strings.HasPrefix(rpcURL, "wss://") || strings.HasPrefix(rpcURL, "ws://")
}
