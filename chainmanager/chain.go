package chainmanager

import (
	"context"
	"math/big"
	"sync"

	commonerrors "github.com/ClipFinance/faucet-relay/common/errors"
	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/ethereum/go-ethereum/common"
)

// ErrNotImplemented is returned when a capability was not provided to the builder.
var ErrNotImplemented = commonerrors.ErrNotImplemented

// Chain implements types.Chain with thread-safe access to its capabilities.
type Chain struct {
	config *types.ChainConfig // Chain configuration.

	mu        sync.RWMutex                // Guards every capability below.
	estimator types.GasEstimator          // Gas estimator implementation.
	fees      types.FeeDataProvider       // Fee data provider implementation.
	provider  types.BalanceProvider       // Balance provider implementation.
	sender    types.TransactionSender     // Transaction sender implementation.
	watcher   types.TransactionWatcher    // Transaction watcher implementation.
	contracts types.RelayerContractReader // Contract reader implementation.
	closer    func()                      // Releases the underlying connection.
}

// EstimateGas estimates transaction gas with thread-safe access.
//
// Parameters:
// - ctx: context for managing the lifecycle of the gas estimation.
// - to: the recipient address of the transaction.
// - value: the amount of value to be sent in the transaction.
// - data: the input data for the transaction.
//
// Returns:
// - uint64: the estimated gas amount.
// - error: ErrNotImplemented if no estimator was set, or the estimation error.
func (c *Chain) EstimateGas(ctx context.Context, to string, value *big.Int, data []byte) (uint64, error) {
	c.mu.RLock()
	estimator := c.estimator
	c.mu.RUnlock()

	if estimator == nil {
		return 0, ErrNotImplemented
	}
	return estimator.EstimateGas(ctx, to, value, data)
}

// GetFeeData returns the current fee market sample.
func (c *Chain) GetFeeData(ctx context.Context) (*types.FeeData, error) {
	c.mu.RLock()
	fees := c.fees
	c.mu.RUnlock()

	if fees == nil {
		return nil, ErrNotImplemented
	}
	return fees.GetFeeData(ctx)
}

// GetBalance returns the native balance of the address.
func (c *Chain) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	c.mu.RLock()
	provider := c.provider
	c.mu.RUnlock()

	if provider == nil {
		return nil, ErrNotImplemented
	}
	return provider.GetBalance(ctx, address)
}

// SendTransaction sends a relayer transaction with thread-safe access.
//
// Parameters:
// - ctx: context for managing the lifecycle of the submission.
// - request: the transaction request.
//
// Returns:
// - *types.Transaction: the accepted transaction.
// - error: ErrNotImplemented for read-only chains, or the submission error.
func (c *Chain) SendTransaction(ctx context.Context, request *types.TransactionRequest) (*types.Transaction, error) {
	c.mu.RLock()
	sender := c.sender
	c.mu.RUnlock()

	if sender == nil {
		return nil, ErrNotImplemented
	}
	return sender.SendTransaction(ctx, request)
}

// PendingNonce returns the relayer identity's next nonce.
func (c *Chain) PendingNonce(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	sender := c.sender
	c.mu.RUnlock()

	if sender == nil {
		return 0, ErrNotImplemented
	}
	return sender.PendingNonce(ctx)
}

// RelayerAddress returns the relayer identity address, empty for read-only chains.
func (c *Chain) RelayerAddress() string {
	c.mu.RLock()
	sender := c.sender
	c.mu.RUnlock()

	if sender == nil {
		return ""
	}
	return sender.RelayerAddress()
}

// WaitTransactionConfirmation waits for transaction confirmation with thread-safe access.
//
// Parameters:
// - ctx: context bounding the wait.
// - tx: the transaction to be confirmed.
//
// Returns:
// - *types.Receipt: the receipt once mined.
// - error: ErrNotImplemented if no watcher was set, or the wait error.
func (c *Chain) WaitTransactionConfirmation(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	c.mu.RLock()
	watcher := c.watcher
	c.mu.RUnlock()

	if watcher == nil {
		return nil, ErrNotImplemented
	}
	return watcher.WaitTransactionConfirmation(ctx, tx)
}

// TransactionStatus reports the current status of a transaction.
func (c *Chain) TransactionStatus(ctx context.Context, txHash string) (*types.TransactionStatusReport, error) {
	c.mu.RLock()
	watcher := c.watcher
	c.mu.RUnlock()

	if watcher == nil {
		return nil, ErrNotImplemented
	}
	return watcher.TransactionStatus(ctx, txHash)
}

// GetMessageHash returns the hash a claimant signs for the nonce.
func (c *Chain) GetMessageHash(ctx context.Context, claimant string, nonce *big.Int) (common.Hash, error) {
	c.mu.RLock()
	contracts := c.contracts
	c.mu.RUnlock()

	if contracts == nil {
		return common.Hash{}, ErrNotImplemented
	}
	return contracts.GetMessageHash(ctx, claimant, nonce)
}

// IsRelayerAuthorized reports whether the faucet accepts the relayer contract.
func (c *Chain) IsRelayerAuthorized(ctx context.Context) (bool, error) {
	c.mu.RLock()
	contracts := c.contracts
	c.mu.RUnlock()

	if contracts == nil {
		return false, ErrNotImplemented
	}
	return contracts.IsRelayerAuthorized(ctx)
}

// GetConfig returns chain configuration.
func (c *Chain) GetConfig() *types.ChainConfig {
	return c.config
}

// Close releases the underlying connection. It is safe to call more than once.
func (c *Chain) Close() {
	c.mu.Lock()
	closer := c.closer
	c.closer = nil
	c.mu.Unlock()

	if closer != nil {
		closer()
	}
}
