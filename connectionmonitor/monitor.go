package connectionmonitor

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// defaultHealthCheckInterval defines interval between connection health checks
	defaultHealthCheckInterval = 30 * time.Second
	// defaultReconnectDelay defines the pause between reconnection attempts
	defaultReconnectDelay = 5 * time.Second
	// defaultMaxReconnectAttempts defines maximum number of reconnection attempts
	defaultMaxReconnectAttempts = 3
)

// ConnectionMonitor represents connection state monitoring interface
type ConnectionMonitor interface {
	// Start starts connection monitoring
	Start(ctx context.Context) error
	// Stop stops connection monitoring
	Stop()
}

// BlockchainClient represents blockchain client interface
type BlockchainClient interface {
	// CheckConnection checks if connection is alive
	CheckConnection(ctx context.Context) error
	// Reconnect attempts to reconnect to blockchain node
	Reconnect(ctx context.Context) error
}

// StateListener is notified after every health check with whether the node is reachable.
type StateListener func(chainName string, connected bool)

// Options tunes the monitor. Zero values fall back to the defaults.
type Options struct {
	Interval       time.Duration // Interval between health checks.
	ReconnectDelay time.Duration // Pause between reconnection attempts.
	MaxAttempts    int           // Reconnection attempts per failed check.
	Listener       StateListener // Optional connection state listener.
}

var (
	listenerMutex sync.RWMutex
	listener      StateListener
)

// SetDefaultListener installs the listener used by monitors created without one.
func SetDefaultListener(l StateListener) {
	listenerMutex.Lock()
	listener = l
	listenerMutex.Unlock()
}

func defaultListener() StateListener {
	listenerMutex.RLock()
	defer listenerMutex.RUnlock()
	return listener
}

type connectionMonitor struct {
	client       BlockchainClient
	logger       *logrus.Logger
	chainName    string
	options      Options
	stopChan     chan struct{}
	done         chan struct{}
	isMonitoring bool
	monitorMutex sync.Mutex
}

// NewConnectionMonitor creates a new connection monitor instance with default options.
//
// Parameters:
// - client: the blockchain client to monitor.
// - logger: the logger for logging purposes.
// - chainName: the name of the blockchain chain.
//
// Returns:
// - ConnectionMonitor: the new connection monitor instance.
func NewConnectionMonitor(client BlockchainClient, logger *logrus.Logger, chainName string) ConnectionMonitor {
	return NewConnectionMonitorWithOptions(client, logger, chainName, Options{})
}

// NewConnectionMonitorWithOptions creates a new connection monitor instance.
//
// Parameters:
// - client: the blockchain client to monitor.
// - logger: the logger for logging purposes.
// - chainName: the name of the blockchain chain.
// - options: the monitor options.
//
// Returns:
// - ConnectionMonitor: the new connection monitor instance.
func NewConnectionMonitorWithOptions(client BlockchainClient, logger *logrus.Logger, chainName string, options Options) ConnectionMonitor {
	if options.Interval <= 0 {
		options.Interval = defaultHealthCheckInterval
	}
	if options.ReconnectDelay <= 0 {
		options.ReconnectDelay = defaultReconnectDelay
	}
	if options.MaxAttempts <= 0 {
		options.MaxAttempts = defaultMaxReconnectAttempts
	}
	if options.Listener == nil {
		options.Listener = defaultListener()
	}

	return &connectionMonitor{
		client:    client,
		logger:    logger,
		chainName: chainName,
		options:   options,
	}
}

// Start starts connection monitoring.
//
// Parameters:
// - ctx: the context for managing the monitor lifetime.
//
// Returns:
// - error: an error if the connection monitor is already running.
func (m *connectionMonitor) Start(ctx context.Context) error {
	m.monitorMutex.Lock()
	defer m.monitorMutex.Unlock()

	if m.isMonitoring {
		return errors.Errorf("connection monitor is already running for chain %s", m.chainName)
	}
	m.isMonitoring = true
	m.stopChan = make(chan struct{})
	m.done = make(chan struct{})

	go m.monitorConnection(ctx, m.stopChan, m.done)
	return nil
}

// Stop stops connection monitoring and waits for the loop to exit.
func (m *connectionMonitor) Stop() {
	m.monitorMutex.Lock()
	if !m.isMonitoring {
		m.monitorMutex.Unlock()
		return
	}
	close(m.stopChan)
	done := m.done
	m.isMonitoring = false
	m.monitorMutex.Unlock()

	<-done
}

// monitorConnection runs health checks until ctx ends or Stop is called.
func (m *connectionMonitor) monitorConnection(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.options.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.WithField("chain", m.chainName).Info("Connection monitoring stopped due to context cancellation")
			return

		case <-stop:
			m.logger.WithField("chain", m.chainName).Info("Connection monitoring stopped")
			return

		case <-ticker.C:
			err := m.checkAndReconnect(ctx, stop)
			if err != nil {
				m.logger.WithFields(logrus.Fields{
					"chain": m.chainName,
					"error": err,
				}).Error("Failed to check or reconnect")
			}
			if m.options.Listener != nil {
				m.options.Listener(m.chainName, err == nil)
			}
		}
	}
}

// checkAndReconnect checks the connection state and attempts to reconnect if needed.
//
// Parameters:
// - ctx: the context for managing the request.
// - stop: closed when the monitor is stopped.
//
// Returns:
// - error: an error if every reconnection attempt fails.
func (m *connectionMonitor) checkAndReconnect(ctx context.Context, stop <-chan struct{}) error {
	err := m.client.CheckConnection(ctx)
	if err == nil {
		m.logger.WithField("chain", m.chainName).Debug("Ping successful")
		return nil
	}

	m.logger.WithFields(logrus.Fields{
		"chain": m.chainName,
		"error": err,
	}).Warn("Connection check failed, attempting to reconnect")

	for attempt := 1; attempt <= m.options.MaxAttempts; attempt++ {
		err = m.client.Reconnect(ctx)
		if err == nil {
			m.logger.WithFields(logrus.Fields{
				"chain":   m.chainName,
				"attempt": attempt,
			}).Info("Client successfully reconnected")
			return nil
		}

		m.logger.WithFields(logrus.Fields{
			"chain":   m.chainName,
			"attempt": attempt,
			"error":   err,
		}).Error("Reconnection attempt failed")

		if attempt == m.options.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return errors.New("monitor stopped")
		case <-time.After(m.options.ReconnectDelay):
		}
	}

	return errors.Wrapf(err, "failed to reconnect to chain %s", m.chainName)
}
