// Package monitor exports relay, drip and relayer balance metrics to prometheus.
package monitor

import (
	"math/big"
	"net/http"

	commonerrors "github.com/ClipFinance/faucet-relay/common/errors"
	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// outcomeSuccess labels relay requests that were accepted for processing.
const outcomeSuccess = "Success"

// Metrics holds the service metrics on a private registry.
// It implements the relay and drip recorders.
type Metrics struct {
	registry *prometheus.Registry

	relayRequests        *prometheus.CounterVec
	confirmations        *prometheus.CounterVec
	maxFeePerGas         prometheus.Gauge
	maxPriorityFeePerGas prometheus.Gauge
	drips                *prometheus.CounterVec
	relayerBalance       *prometheus.GaugeVec
	connectionUp         *prometheus.GaugeVec
}

// NewMetrics creates the metrics and registers them together with the Go and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		relayRequests: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "faucet_relay_requests_total", Help: "Relay requests by outcome"},
			[]string{"outcome"},
		),
		confirmations: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "faucet_relay_confirmations_total", Help: "Background confirmation results by status"},
			[]string{"status"},
		),
		maxFeePerGas: factory.NewGauge(
			prometheus.GaugeOpts{Name: "faucet_relay_max_fee_per_gas_wei", Help: "Max fee per gas of the latest quote"},
		),
		maxPriorityFeePerGas: factory.NewGauge(
			prometheus.GaugeOpts{Name: "faucet_relay_max_priority_fee_per_gas_wei", Help: "Max priority fee per gas of the latest quote"},
		),
		drips: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "faucet_drips_total", Help: "Chat-intake drips by outcome"},
			[]string{"outcome"},
		),
		relayerBalance: factory.NewGaugeVec(
			prometheus.GaugeOpts{Name: "faucet_relayer_balance_wei", Help: "Native balance of the relayer identity"},
			[]string{"account", "chainID"},
		),
		connectionUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{Name: "faucet_chain_connection_up", Help: "1 when the last health check of the chain client succeeded"},
			[]string{"chain"},
		),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RelayOutcome counts a relay request. An empty kind is a success.
func (m *Metrics) RelayOutcome(kind commonerrors.Kind) {
	outcome := string(kind)
	if outcome == "" {
		outcome = outcomeSuccess
	}
	m.relayRequests.WithLabelValues(outcome).Inc()
}

// FeeQuote records the latest fee offer.
func (m *Metrics) FeeQuote(quote *types.FeeQuote) {
	if quote == nil {
		return
	}
	m.maxFeePerGas.Set(weiToFloat(quote.MaxFeePerGas))
	m.maxPriorityFeePerGas.Set(weiToFloat(quote.MaxPriorityFeePerGas))
}

// Confirmation counts a background confirmation result.
func (m *Metrics) Confirmation(status types.TransactionStatus) {
	m.confirmations.WithLabelValues(status.String()).Inc()
}

// DripOutcome counts a chat-intake drip.
func (m *Metrics) DripOutcome(outcome string) {
	m.drips.WithLabelValues(outcome).Inc()
}

// ConnectionState records the result of a chain client health check.
func (m *Metrics) ConnectionState(chainName string, connected bool) {
	value := 0.0
	if connected {
		value = 1
	}
	m.connectionUp.WithLabelValues(chainName).Set(value)
}

// RegisterQueueDepth exports the current length of the submission queue.
func (m *Metrics) RegisterQueueDepth(depth func() int) {
	promauto.With(m.registry).NewGaugeFunc(
		prometheus.GaugeOpts{Name: "faucet_submission_queue_depth", Help: "Submissions waiting for the relayer identity"},
		func() float64 { return float64(depth()) },
	)
}

func (m *Metrics) setRelayerBalance(account string, chainID string, wei *big.Int) {
	m.relayerBalance.WithLabelValues(account, chainID).Set(weiToFloat(wei))
}

func weiToFloat(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(wei).Float64()
	return f
}
