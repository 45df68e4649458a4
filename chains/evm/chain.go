package evm

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ClipFinance/faucet-relay/chainmanager"
	"github.com/ClipFinance/faucet-relay/chains/evm/signer"
	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/ClipFinance/faucet-relay/connectionmonitor"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// defaultPollInterval is the receipt polling interval when the config does not set one.
	defaultPollInterval = time.Second
	// gasLimitBufferPercent is added on top of the node's gas estimate.
	gasLimitBufferPercent = 110
)

// Client is the subset of the go-ethereum client API the chain uses.
// Both *ethclient.Client and the simulated backend client satisfy it.
type Client interface {
	ethereum.ChainReader
	ethereum.ChainStateReader
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer1559
	ethereum.PendingStateReader
	ethereum.TransactionReader
	ethereum.TransactionSender

	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// evm represents the base EVM chain implementation.
type evm struct {
	config *types.ChainConfig // Chain configuration.
	logger *logrus.Logger     // Logger for logging events.

	// Protected fields with their own mutexes.
	clientMutex sync.RWMutex // Mutex for client.
	client      Client       // Ethereum client.
	closeClient func()       // Releases the client connection, nil for injected clients.

	signerMutex sync.RWMutex  // Mutex for signer.
	signer      signer.Signer // Relayer identity, nil for read-only chains.

	monitorMutex sync.RWMutex                        // Mutex for connection monitor.
	monitor      connectionmonitor.ConnectionMonitor // Connection monitor.
}

// NewEvmChain dials the RPC endpoint and creates a new EVM chain implementation.
//
// Parameters:
// - ctx: the context for managing the chain lifetime.
// - config: the chain configuration.
// - logger: the logger for logging events.
//
// Returns:
// - types.Chain: a new EVM chain instance.
// - error: an error if any issue occurs during creation.
func NewEvmChain(ctx context.Context, config *types.ChainConfig, logger *logrus.Logger) (types.Chain, error) {
	client, err := ethclient.DialContext(ctx, config.RpcUrl)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create client")
	}

	chain, err := newEvm(ctx, config, logger, client)
	if err != nil {
		client.Close()
		return nil, err
	}
	chain.closeClient = client.Close

	if err := chain.initMonitor(ctx); err != nil {
		chain.Close()
		return nil, errors.Wrap(err, "failed to init connection monitor")
	}

	return chain.build(), nil
}

// NewEvmChainFromClient creates a chain around an already connected client, such as the
// go-ethereum simulated backend. No connection monitor is started and Close leaves the client open.
//
// Parameters:
// - ctx: the context for managing the request.
// - config: the chain configuration. RpcUrl is only used to pick the confirmation mode.
// - logger: the logger for logging events.
// - client: the connected client.
//
// Returns:
// - types.Chain: a new EVM chain instance.
// - error: an error if the key is invalid or the node serves another chain.
func NewEvmChainFromClient(ctx context.Context, config *types.ChainConfig, logger *logrus.Logger, client Client) (types.Chain, error) {
	chain, err := newEvm(ctx, config, logger, client)
	if err != nil {
		return nil, err
	}
	return chain.build(), nil
}

// newEvm creates the chain around an existing client and verifies the remote chain id.
//
// Parameters:
// - ctx: the context for managing the request.
// - config: the chain configuration.
// - logger: the logger for logging events.
// - client: the node client.
//
// Returns:
// - *evm: the chain.
// - error: an error if the key is invalid or the node serves another chain.
func newEvm(ctx context.Context, config *types.ChainConfig, logger *logrus.Logger, client Client) (*evm, error) {
	remoteChainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chain id")
	}
	if !remoteChainID.IsUint64() || remoteChainID.Uint64() != config.ChainID {
		return nil, errors.Errorf("node serves chain %s, expected %d", remoteChainID, config.ChainID)
	}

	chain := &evm{
		config: config,
		logger: logger,
		client: client,
	}

	if config.PrivateKey != "" {
		s, err := signer.NewSignerFromHex(config.PrivateKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create signer")
		}

		chain.signerMutex.Lock()
		chain.signer = s
		chain.signerMutex.Unlock()
	}

	return chain, nil
}

// build assembles the thread-safe chain facade from the implemented capabilities.
func (e *evm) build() types.Chain {
	builder := chainmanager.NewChainBuilder(e.config).
		WithGasEstimator(e).
		WithFeeDataProvider(e).
		WithBalanceProvider(e).
		WithTransactionWatcher(e).
		WithContractReader(e).
		WithCloser(e.Close)

	if e.getSigner() != nil {
		builder.WithTransactionSender(e)
	}

	return builder.Build()
}

// Close should be called when the chain is no longer needed.
// It stops the connection monitor and closes the client.
func (e *evm) Close() {
	e.monitorMutex.Lock()
	if e.monitor != nil {
		e.monitor.Stop()
		e.monitor = nil
	}
	e.monitorMutex.Unlock()

	e.clientMutex.Lock()
	if e.closeClient != nil {
		e.closeClient()
		e.closeClient = nil
	}
	e.client = nil
	e.clientMutex.Unlock()
}

// RelayerAddress returns the relayer identity address, or an empty string for read-only chains.
func (e *evm) RelayerAddress() string {
	s := e.getSigner()
	if s == nil {
		return ""
	}
	return s.Address().Hex()
}

func (e *evm) getClient() Client {
	e.clientMutex.RLock()
	defer e.clientMutex.RUnlock()
	return e.client
}

func (e *evm) getSigner() signer.Signer {
	e.signerMutex.RLock()
	defer e.signerMutex.RUnlock()
	return e.signer
}

func (e *evm) pollInterval() time.Duration {
	if e.config.PollInterval > 0 {
		return e.config.PollInterval
	}
	return defaultPollInterval
}

func (e *evm) relayerAddress() (common.Address, error) {
	s := e.getSigner()
	if s == nil {
		return common.Address{}, errors.New("relayer identity not configured")
	}
	return s.Address(), nil
}
