package types

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ChainConfig holds the configuration for a specific chain implementation.
//
// Fields:
// - Name: the name of the chain.
// - ChainType: the type of the chain.
// - ChainID: the unique identifier for the chain.
// - RpcUrl: the URL for the chain's RPC endpoint.
// - WaitNBlocks: the number of blocks to wait for transaction confirmation.
// - PollInterval: the receipt polling interval used when the RPC endpoint is not a websocket.
// - HealthCheckInterval: the interval between connection health checks, zero for the default.
// - PrivateKey: the private key of the relayer identity. Empty for read-only chains.
// - RelayerContract: the address of the meta-transaction relayer contract.
// - FaucetContract: the address of the faucet contract the relayer calls into.
type ChainConfig struct {
	Name                string
	ChainType           ChainType
	ChainID             uint64
	RpcUrl              string
	WaitNBlocks         uint64
	PollInterval        time.Duration
	HealthCheckInterval time.Duration
	PrivateKey          string
	RelayerContract     string
	FaucetContract      string
}

// GasEstimator provides gas estimation functionality.
type GasEstimator interface {
	// EstimateGas estimates the gas required for a transaction sent by the relayer identity.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - to: the recipient address of the transaction.
	// - value: the amount of Ether to send with the transaction.
	// - data: the input data for the transaction.
	//
	// Returns:
	// - uint64: the estimated gas amount.
	// - error: an error if the gas estimation fails.
	EstimateGas(ctx context.Context, to string, value *big.Int, data []byte) (uint64, error)
}

// FeeDataProvider reports the live fee market of a chain.
type FeeDataProvider interface {
	// GetFeeData returns the latest base fee and the node's priority fee suggestion.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	//
	// Returns:
	// - *FeeData: the current fee market sample.
	// - error: an error if either component could not be obtained.
	GetFeeData(ctx context.Context) (*FeeData, error)
}

// BalanceProvider provides native balance lookups.
type BalanceProvider interface {
	// GetBalance returns the native balance of the address at the latest block.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - address: the hex address to look up.
	//
	// Returns:
	// - *big.Int: the balance in wei.
	// - error: an error if the lookup fails.
	GetBalance(ctx context.Context, address string) (*big.Int, error)
}

// TransactionSender provides transaction sending functionality for the relayer identity.
type TransactionSender interface {
	// SendTransaction signs and submits the request from the relayer identity.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - request: the transaction request. A nil Nonce lets the chain pick the pending nonce.
	//
	// Returns:
	// - *Transaction: the accepted transaction.
	// - error: an error if the transaction was not accepted by the node.
	SendTransaction(ctx context.Context, request *TransactionRequest) (*Transaction, error)

	// PendingNonce returns the next sequence number of the relayer identity, pending pool included.
	PendingNonce(ctx context.Context) (uint64, error)

	// RelayerAddress returns the relayer identity address, or an empty string for read-only chains.
	RelayerAddress() string
}

// TransactionWatcher provides transaction confirmation functionality.
type TransactionWatcher interface {
	// WaitTransactionConfirmation waits until the transaction is mined and has WaitNBlocks confirmations.
	//
	// Parameters:
	// - ctx: the context bounding the wait.
	// - tx: the transaction to wait for.
	//
	// Returns:
	// - *Receipt: the receipt once the transaction is confirmed or reverted.
	// - error: an error if the wait was cut short or the receipt could not be read.
	WaitTransactionConfirmation(ctx context.Context, tx *Transaction) (*Receipt, error)

	// TransactionStatus reports the current status of a transaction without waiting.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - txHash: the transaction hash.
	//
	// Returns:
	// - *TransactionStatusReport: the current status.
	// - error: an error if the node could not be queried.
	TransactionStatus(ctx context.Context, txHash string) (*TransactionStatusReport, error)
}

// RelayerContractReader provides read-only access to the faucet and relayer contracts.
type RelayerContractReader interface {
	// GetMessageHash returns the hash a claimant signs to authorize a claim with the given nonce.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - claimant: the claimant address.
	// - nonce: the claim nonce.
	//
	// Returns:
	// - common.Hash: the message hash computed by the relayer contract.
	// - error: an error if the contract call fails.
	GetMessageHash(ctx context.Context, claimant string, nonce *big.Int) (common.Hash, error)

	// IsRelayerAuthorized reports whether the faucet contract accepts calls from the relayer contract.
	IsRelayerAuthorized(ctx context.Context) (bool, error)
}

// Chain combines all chain-specific functionality.
type Chain interface {
	GasEstimator
	FeeDataProvider
	BalanceProvider
	TransactionSender
	TransactionWatcher
	RelayerContractReader

	// GetConfig returns the chain configuration.
	GetConfig() *ChainConfig
	// Close releases the node connection and stops the connection monitor.
	Close()
}

// ChainRegistry manages multiple chains.
type ChainRegistry interface {
	// Add creates a chain from the configuration and adds it to the registry.
	//
	// Parameters:
	// - ctx: the context for managing the chain lifetime.
	// - config: the configuration for the chain to add.
	//
	// Returns:
	// - error: an error if creating the chain fails or the chain already exists.
	Add(ctx context.Context, config *ChainConfig) error

	// Get retrieves a chain from the registry by its chain ID.
	//
	// Parameters:
	// - chainID: the unique identifier for the chain to retrieve.
	//
	// Returns:
	// - Chain: the retrieved chain instance, nil if absent.
	Get(chainID uint64) Chain

	// Remove closes and removes a chain from the registry by its chain ID.
	Remove(chainID uint64)

	// Close closes every chain in the registry.
	Close()
}
