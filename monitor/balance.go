package monitor

import (
	"context"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultBalancePollPeriod is the relayer balance poll period when none is configured.
	DefaultBalancePollPeriod = time.Minute
	// balanceTimeout bounds a single balance lookup.
	balanceTimeout = 10 * time.Second
)

// DefaultLowBalance is the relayer balance under which a warning is logged, 0.1 ether.
var DefaultLowBalance = new(big.Int).Div(big.NewInt(params.Ether), big.NewInt(10))

// BalanceConfig defines the balance monitor configuration.
type BalanceConfig struct {
	ChainID    uint64        // Network of the relayer identity.
	Account    string        // Relayer identity address.
	PollPeriod time.Duration // Interval between balance polls.
	LowBalance *big.Int      // Warning threshold in wei.
}

// BalanceMonitor periodically reports the relayer identity's balance and warns when it runs low.
type BalanceMonitor struct {
	config   BalanceConfig
	provider types.BalanceProvider
	metrics  *Metrics
	logger   *logrus.Logger
	updateFn func(wei *big.Int) // overridable for testing

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewBalanceMonitor creates a balance monitor. Zero config values take the defaults.
//
// Parameters:
// - config: the monitor configuration.
// - provider: the balance provider of the faucet network.
// - metrics: the metrics the balance is exported to.
// - logger: the logger.
//
// Returns:
// - *BalanceMonitor: the monitor, not yet started.
func NewBalanceMonitor(config BalanceConfig, provider types.BalanceProvider, metrics *Metrics, logger *logrus.Logger) *BalanceMonitor {
	if config.PollPeriod <= 0 {
		config.PollPeriod = DefaultBalancePollPeriod
	}
	if config.LowBalance == nil {
		config.LowBalance = new(big.Int).Set(DefaultLowBalance)
	}

	b := &BalanceMonitor{
		config:   config,
		provider: provider,
		metrics:  metrics,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	b.updateFn = b.updateProm
	return b
}

// Start checks the balance once, then keeps polling in the background until Close.
func (b *BalanceMonitor) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		b.updateBalance(ctx)
		go b.monitor()
	})
}

// Close stops polling and waits for the poller to exit.
func (b *BalanceMonitor) Close() {
	b.stopOnce.Do(func() {
		close(b.stop)
	})

	started := true
	b.startOnce.Do(func() { started = false })
	if started {
		<-b.done
	}
}

func (b *BalanceMonitor) monitor() {
	defer close(b.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-b.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(b.config.PollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.updateBalance(ctx)
		}
	}
}

func (b *BalanceMonitor) updateBalance(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, balanceTimeout)
	defer cancel()

	balance, err := b.provider.GetBalance(ctx, b.config.Account)
	if err == nil && balance == nil {
		err = errors.New("empty balance")
	}
	if err != nil {
		b.logger.WithField("account", b.config.Account).WithError(err).Warn("Failed to get relayer balance")
		return
	}

	b.updateFn(balance)

	if balance.Cmp(b.config.LowBalance) < 0 {
		b.logger.WithFields(logrus.Fields{
			"account": b.config.Account,
			"balance": balance.String(),
			"min":     b.config.LowBalance.String(),
		}).Warn("Relayer balance is low, consider funding the relayer account")
	}
}

func (b *BalanceMonitor) updateProm(wei *big.Int) {
	if b.metrics == nil {
		return
	}
	b.metrics.setRelayerBalance(b.config.Account, strconv.FormatUint(b.config.ChainID, 10), wei)
}
