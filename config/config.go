// Package config loads the service configuration from a TOML file and the environment.
package config

import (
	"bytes"
	stderrors "errors"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/params"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Environment variables. Secrets are only read from the environment.
const (
	EnvPrivateKey       = "FAUCET_PRIVATE_KEY"
	EnvDatabaseURL      = "DATABASE_URL"
	EnvTelegramBotToken = "TELEGRAM_BOT_TOKEN"
	EnvPort             = "PORT"
	EnvLogLevel         = "LOG_LEVEL"
	EnvFaucetRpcUrl     = "FAUCET_RPC_URL"
	EnvReferenceRpcUrl  = "REFERENCE_RPC_URL"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a time.Duration written as a Go duration string, e.g. "5m".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ChainConfig describes one network connection.
type ChainConfig struct {
	Name         string   // Chain name used in logs and metrics.
	ChainID      uint64   // Expected chain id, verified against the node.
	RpcUrl       string   // HTTP(S) or WS(S) endpoint.
	WaitNBlocks  uint64   // Confirmations required before a receipt is final.
	PollInterval Duration // Receipt polling interval for HTTP endpoints.
}

// FaucetConfig describes the network the faucet and the relayer contract live on.
type FaucetConfig struct {
	ChainConfig
	RelayerContract string // Contract executing the meta-transactions.
	FaucetContract  string // Optional, used for the relayer authorization check.
	ExplorerURL     string // Transaction explorer prefix for chat replies, e.g. "https://sepolia.arbiscan.io/tx/".
}

// FeesConfig bounds the relayer's fee offers.
type FeesConfig struct {
	MaxFeePerGasGwei         float64 // Absolute cap on the fee per gas.
	MaxPriorityFeePerGasGwei float64 // Cap on the priority fee per gas.
	BufferMultiplier         float64 // Base fee multiplier, at least 1.0.
}

// AdmissionConfig configures the reference network balance check.
type AdmissionConfig struct {
	MinReferenceBalanceWei string // Claims at or below this balance are rejected.
}

// TimeoutsConfig bounds the relay path.
type TimeoutsConfig struct {
	Request      Duration // Guard, fee lookup and submission of one claim.
	Confirmation Duration // Background confirmation wait.
}

// QueueConfig sizes the submission queue.
type QueueConfig struct {
	Size             int
	BroadcastTimeout Duration // Bound on one broadcast once it left the queue, independent of the request.
}

// DripConfig configures the chat-intake drip.
type DripConfig struct {
	Enabled   bool
	AmountWei string   // Amount sent per drip.
	Cooldown  Duration // Per-identity claim window.
}

// MonitorConfig configures the relayer balance monitor and the connection monitor.
type MonitorConfig struct {
	BalancePollPeriod   Duration // Interval between relayer balance polls.
	LowBalanceWei       string   // Relayer balance under which a warning is logged.
	HealthCheckInterval Duration // Interval between chain client health checks.
}

// Config is the service configuration.
type Config struct {
	Port     string
	LogLevel string

	Faucet    FaucetConfig
	Reference ChainConfig
	Fees      FeesConfig
	Admission AdmissionConfig
	Timeouts  TimeoutsConfig
	Queue     QueueConfig
	Drip      DripConfig
	Monitor   MonitorConfig

	PrivateKey       string `toml:"-"`
	DatabaseURL      string `toml:"-"`
	TelegramBotToken string `toml:"-"`
}

// Default returns the configuration used for every option the file and the environment leave unset.
func Default() *Config {
	return &Config{
		Port:     "3001",
		LogLevel: "info",
		Faucet: FaucetConfig{
			ChainConfig: ChainConfig{
				Name:         "faucet",
				PollInterval: Duration(time.Second),
			},
		},
		Reference: ChainConfig{
			Name:         "reference",
			PollInterval: Duration(time.Second),
		},
		Fees: FeesConfig{
			MaxFeePerGasGwei:         100,
			MaxPriorityFeePerGasGwei: 5,
			BufferMultiplier:         1.2,
		},
		Admission: AdmissionConfig{
			MinReferenceBalanceWei: "0",
		},
		Timeouts: TimeoutsConfig{
			Request:      Duration(10 * time.Second),
			Confirmation: Duration(5 * time.Minute),
		},
		Queue: QueueConfig{
			Size:             64,
			BroadcastTimeout: Duration(30 * time.Second),
		},
		Drip: DripConfig{
			AmountWei: "10000000000000000",
			Cooldown:  Duration(24 * time.Hour),
		},
		Monitor: MonitorConfig{
			BalancePollPeriod:   Duration(time.Minute),
			LowBalanceWei:       "100000000000000000",
			HealthCheckInterval: Duration(30 * time.Second),
		},
	}
}

// Load reads the configuration.
//
// Parameters:
// - path: the TOML file, optional. Unknown keys are rejected.
//
// Returns:
// - *Config: the defaults overlaid by the file, then by the environment and an optional .env file.
// - error: an error if the file cannot be read or decoded, or the result is invalid.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if err := cfg.decode(raw); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "failed to load .env")
	}
	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(raw []byte) error {
	d := toml.NewDecoder(bytes.NewReader(raw))
	d.DisallowUnknownFields()

	if err := d.Decode(c); err != nil {
		return errors.Wrap(err, "failed to decode config toml")
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, target *string) {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			*target = strings.TrimSpace(value)
		}
	}

	set(EnvPrivateKey, &c.PrivateKey)
	set(EnvDatabaseURL, &c.DatabaseURL)
	set(EnvTelegramBotToken, &c.TelegramBotToken)
	set(EnvPort, &c.Port)
	set(EnvLogLevel, &c.LogLevel)
	set(EnvFaucetRpcUrl, &c.Faucet.RpcUrl)
	set(EnvReferenceRpcUrl, &c.Reference.RpcUrl)
}

// Validate reports every invalid option at once.
func (c *Config) Validate() error {
	var err error
	fail := func(format string, args ...any) {
		err = stderrors.Join(err, errors.Wrapf(ErrInvalidConfig, format, args...))
	}

	if port, convErr := strconv.Atoi(c.Port); convErr != nil || port <= 0 || port > 65535 {
		fail("Port %q is not a valid port", c.Port)
	}
	if c.PrivateKey == "" {
		fail("%s is required", EnvPrivateKey)
	}

	for _, chain := range []struct {
		section string
		config  ChainConfig
	}{{"Faucet", c.Faucet.ChainConfig}, {"Reference", c.Reference}} {
		if chain.config.ChainID == 0 {
			fail("%s.ChainID is required", chain.section)
		}
		if chain.config.RpcUrl == "" {
			fail("%s.RpcUrl is required", chain.section)
		}
	}
	if c.Faucet.ChainID != 0 && c.Faucet.ChainID == c.Reference.ChainID {
		fail("Reference.ChainID must differ from Faucet.ChainID")
	}

	if !isAddress(c.Faucet.RelayerContract) {
		fail("Faucet.RelayerContract %q is not an address", c.Faucet.RelayerContract)
	}
	if c.Faucet.FaucetContract != "" && !isAddress(c.Faucet.FaucetContract) {
		fail("Faucet.FaucetContract %q is not an address", c.Faucet.FaucetContract)
	}

	if c.Fees.MaxFeePerGasGwei <= 0 {
		fail("Fees.MaxFeePerGasGwei must be positive")
	}
	if c.Fees.MaxPriorityFeePerGasGwei < 0 || c.Fees.MaxPriorityFeePerGasGwei > c.Fees.MaxFeePerGasGwei {
		fail("Fees.MaxPriorityFeePerGasGwei must be between 0 and Fees.MaxFeePerGasGwei")
	}
	if c.Fees.BufferMultiplier < 1 {
		fail("Fees.BufferMultiplier must be at least 1.0")
	}

	if _, ok := parseWei(c.Admission.MinReferenceBalanceWei); !ok {
		fail("Admission.MinReferenceBalanceWei %q is not a wei amount", c.Admission.MinReferenceBalanceWei)
	}
	if _, ok := parseWei(c.Monitor.LowBalanceWei); !ok {
		fail("Monitor.LowBalanceWei %q is not a wei amount", c.Monitor.LowBalanceWei)
	}

	if c.Timeouts.Request <= 0 || c.Timeouts.Confirmation <= 0 {
		fail("Timeouts must be positive")
	}
	if c.Queue.Size <= 0 {
		fail("Queue.Size must be positive")
	}
	if c.Queue.BroadcastTimeout <= 0 {
		fail("Queue.BroadcastTimeout must be positive")
	}

	if c.Drip.Enabled {
		if amount, ok := parseWei(c.Drip.AmountWei); !ok || amount.Sign() == 0 {
			fail("Drip.AmountWei %q must be a positive wei amount", c.Drip.AmountWei)
		}
		if c.Drip.Cooldown <= 0 {
			fail("Drip.Cooldown must be positive")
		}
		if c.TelegramBotToken == "" {
			fail("%s is required when Drip is enabled", EnvTelegramBotToken)
		}
	}

	return err
}

// MaxFeePerGas returns the absolute fee cap in wei.
func (c *Config) MaxFeePerGas() *big.Int {
	return gweiToWei(c.Fees.MaxFeePerGasGwei)
}

// MaxPriorityFeePerGas returns the priority fee cap in wei.
func (c *Config) MaxPriorityFeePerGas() *big.Int {
	return gweiToWei(c.Fees.MaxPriorityFeePerGasGwei)
}

// MinReferenceBalance returns the admission threshold in wei.
func (c *Config) MinReferenceBalance() *big.Int {
	v, _ := parseWei(c.Admission.MinReferenceBalanceWei)
	return v
}

// DripAmount returns the drip amount in wei.
func (c *Config) DripAmount() *big.Int {
	v, _ := parseWei(c.Drip.AmountWei)
	return v
}

// LowBalance returns the relayer balance warning threshold in wei.
func (c *Config) LowBalance() *big.Int {
	v, _ := parseWei(c.Monitor.LowBalanceWei)
	return v
}

// FaucetChain returns the chain configuration of the faucet network, relayer identity included.
func (c *Config) FaucetChain() *types.ChainConfig {
	chain := c.Faucet.chainConfig(c.Monitor.HealthCheckInterval)
	chain.PrivateKey = c.PrivateKey
	chain.RelayerContract = c.Faucet.RelayerContract
	chain.FaucetContract = c.Faucet.FaucetContract
	return chain
}

// ReferenceChain returns the read-only chain configuration of the reference network.
func (c *Config) ReferenceChain() *types.ChainConfig {
	return c.Reference.chainConfig(c.Monitor.HealthCheckInterval)
}

func (c ChainConfig) chainConfig(healthCheck Duration) *types.ChainConfig {
	return &types.ChainConfig{
		Name:                c.Name,
		ChainType:           types.EVM,
		ChainID:             c.ChainID,
		RpcUrl:              c.RpcUrl,
		WaitNBlocks:         c.WaitNBlocks,
		PollInterval:        c.PollInterval.Duration(),
		HealthCheckInterval: healthCheck.Duration(),
	}
}

func parseWei(s string) (*big.Int, bool) {
	v, ok := math.ParseBig256(strings.TrimSpace(s))
	if !ok || v.Sign() < 0 {
		return new(big.Int), false
	}
	return v, true
}

func gweiToWei(gwei float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(params.GWei)).Int(nil)
	return wei
}

func isAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}
