package chainmanager

import (
	"github.com/ClipFinance/faucet-relay/common/types"
)

// ChainBuilder is a builder pattern implementation for chain configuration.
// Capabilities that are not set make the corresponding Chain methods return ErrNotImplemented,
// which is how a read-only reference chain without a relayer key is assembled.
type ChainBuilder struct {
	config    *types.ChainConfig          // Chain configuration.
	estimator types.GasEstimator          // Gas estimator implementation.
	fees      types.FeeDataProvider       // Fee data provider implementation.
	provider  types.BalanceProvider       // Balance provider implementation.
	sender    types.TransactionSender     // Transaction sender implementation.
	watcher   types.TransactionWatcher    // Transaction watcher implementation.
	contracts types.RelayerContractReader // Contract reader implementation.
	closer    func()                      // Releases the underlying connection.
}

// NewChainBuilder creates a new chain builder instance.
//
// Parameters:
// - config: the chain configuration.
//
// Returns:
// - *ChainBuilder: a new ChainBuilder instance.
func NewChainBuilder(config *types.ChainConfig) *ChainBuilder {
	return &ChainBuilder{
		config: config,
	}
}

// WithGasEstimator sets gas estimator implementation.
func (b *ChainBuilder) WithGasEstimator(estimator types.GasEstimator) *ChainBuilder {
	b.estimator = estimator
	return b
}

// WithFeeDataProvider sets fee data provider implementation.
func (b *ChainBuilder) WithFeeDataProvider(fees types.FeeDataProvider) *ChainBuilder {
	b.fees = fees
	return b
}

// WithBalanceProvider sets balance provider implementation.
func (b *ChainBuilder) WithBalanceProvider(provider types.BalanceProvider) *ChainBuilder {
	b.provider = provider
	return b
}

// WithTransactionSender sets transaction sender implementation.
func (b *ChainBuilder) WithTransactionSender(sender types.TransactionSender) *ChainBuilder {
	b.sender = sender
	return b
}

// WithTransactionWatcher sets transaction watcher implementation.
func (b *ChainBuilder) WithTransactionWatcher(watcher types.TransactionWatcher) *ChainBuilder {
	b.watcher = watcher
	return b
}

// WithContractReader sets the faucet/relayer contract reader implementation.
func (b *ChainBuilder) WithContractReader(contracts types.RelayerContractReader) *ChainBuilder {
	b.contracts = contracts
	return b
}

// WithCloser sets the function releasing the chain's connection.
func (b *ChainBuilder) WithCloser(closer func()) *ChainBuilder {
	b.closer = closer
	return b
}

// Build creates a new chain instance with configured implementations.
//
// Returns:
// - types.Chain: a new Chain instance with the configured implementations.
func (b *ChainBuilder) Build() types.Chain {
	return &Chain{
		config:    b.config,
		estimator: b.estimator,
		fees:      b.fees,
		provider:  b.provider,
		sender:    b.sender,
		watcher:   b.watcher,
		contracts: b.contracts,
		closer:    b.closer,
	}
}
