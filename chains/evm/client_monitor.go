package evm

import (
	"context"

	"github.com/ClipFinance/faucet-relay/connectionmonitor"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// evmConnectionManager implements connectionmonitor.BlockchainClient for a dialed EVM chain.
type evmConnectionManager struct {
	chain *evm // Reference to the EVM chain instance.
}

// initMonitor starts the connection monitor for the EVM chain.
//
// Parameters:
// - ctx: the context for managing the monitor lifetime.
//
// Returns:
// - error: an error if there is an issue starting the connection monitor.
func (e *evm) initMonitor(ctx context.Context) error {
	e.monitorMutex.Lock()
	defer e.monitorMutex.Unlock()

	e.monitor = connectionmonitor.NewConnectionMonitorWithOptions(&evmConnectionManager{chain: e}, e.logger, e.config.Name, connectionmonitor.Options{
		Interval: e.config.HealthCheckInterval,
	})
	return e.monitor.Start(ctx)
}

// CheckConnection reads the latest block number to verify the node is reachable.
func (w *evmConnectionManager) CheckConnection(ctx context.Context) error {
	client := w.chain.getClient()
	if client == nil {
		return errors.New("client not initialized")
	}

	_, err := client.BlockNumber(ctx)
	return err
}

// Reconnect dials the RPC endpoint again and swaps the client in place.
// In-flight calls keep the old client until they return.
func (w *evmConnectionManager) Reconnect(ctx context.Context) error {
	client, err := ethclient.DialContext(ctx, w.chain.config.RpcUrl)
	if err != nil {
		return errors.Wrap(err, "failed to dial rpc")
	}

	w.chain.clientMutex.Lock()
	defer w.chain.clientMutex.Unlock()

	if w.chain.closeClient != nil {
		w.chain.closeClient()
	}
	w.chain.client = client
	w.chain.closeClient = client.Close

	return nil
}
