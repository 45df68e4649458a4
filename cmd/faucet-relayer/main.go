// Command faucet-relayer serves the faucet meta-transaction relay and, when enabled, the chat drip bot.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClipFinance/faucet-relay/admission"
	"github.com/ClipFinance/faucet-relay/api"
	"github.com/ClipFinance/faucet-relay/chainmanager"
	"github.com/ClipFinance/faucet-relay/chains"
	"github.com/ClipFinance/faucet-relay/chains/evm"
	"github.com/ClipFinance/faucet-relay/chatbot"
	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/ClipFinance/faucet-relay/config"
	"github.com/ClipFinance/faucet-relay/connectionmonitor"
	"github.com/ClipFinance/faucet-relay/dbconfig"
	"github.com/ClipFinance/faucet-relay/drip"
	"github.com/ClipFinance/faucet-relay/feepolicy"
	"github.com/ClipFinance/faucet-relay/monitor"
	"github.com/ClipFinance/faucet-relay/relay"
	"github.com/ClipFinance/faucet-relay/txqueue"
	"github.com/ethereum/go-ethereum/common"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the TOML configuration file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Relayer stopped")
	}
	logger.Info("Relayer stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	metrics := monitor.NewMetrics()
	connectionmonitor.SetDefaultListener(metrics.ConnectionState)

	registry := chainmanager.NewChainRegistry(chains.NewChainFactory(), logger)
	defer registry.Close()

	faucetConfig := cfg.FaucetChain()
	referenceConfig := cfg.ReferenceChain()
	if err := registry.Add(ctx, faucetConfig); err != nil {
		return errors.Wrap(err, "failed to connect to the faucet network")
	}
	if err := registry.Add(ctx, referenceConfig); err != nil {
		return errors.Wrap(err, "failed to connect to the reference network")
	}
	faucet := registry.Get(faucetConfig.ChainID)
	reference := registry.Get(referenceConfig.ChainID)

	relayerAddress := faucet.RelayerAddress()
	logger.WithFields(logrus.Fields{
		"relayer":         relayerAddress,
		"relayerContract": faucetConfig.RelayerContract,
		"chainID":         faucetConfig.ChainID,
	}).Info("Relayer identity loaded")
	checkAuthorization(ctx, faucet, logger)

	policy, err := feepolicy.New(cfg.MaxFeePerGas(), cfg.MaxPriorityFeePerGas(), cfg.Fees.BufferMultiplier)
	if err != nil {
		return errors.Wrap(err, "failed to create fee policy")
	}

	queue := txqueue.New(faucet, cfg.Queue.Size, logger, txqueue.WithBroadcastTimeout(cfg.Queue.BroadcastTimeout.Duration()))
	if err := queue.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start submission queue")
	}
	defer queue.Close()
	metrics.RegisterQueueDepth(queue.Len)

	guard := admission.NewGuard(reference, cfg.MinReferenceBalance(), referenceConfig.Name, logger)

	engine, err := relay.NewEngine(relay.Config{
		RelayerContract:     common.HexToAddress(faucetConfig.RelayerContract),
		RequestTimeout:      cfg.Timeouts.Request.Duration(),
		ConfirmationTimeout: cfg.Timeouts.Confirmation.Duration(),
	}, relay.Dependencies{
		Guard:         guard,
		Policy:        policy,
		Fees:          faucet,
		Encode:        evm.EncodeExecuteMetaTransaction,
		Submitter:     queue,
		Watcher:       faucet,
		MessageHashes: faucet,
		Recorder:      metrics,
	}, logger)
	if err != nil {
		return errors.Wrap(err, "failed to create relay engine")
	}
	defer engine.Close()

	balances := monitor.NewBalanceMonitor(monitor.BalanceConfig{
		ChainID:    faucetConfig.ChainID,
		Account:    relayerAddress,
		PollPeriod: cfg.Monitor.BalancePollPeriod.Duration(),
		LowBalance: cfg.LowBalance(),
	}, faucet, metrics, logger)
	balances.Start(ctx)
	defer balances.Close()

	if cfg.Drip.Enabled {
		stopBot, err := startChatBot(ctx, cfg, faucet, policy, queue, metrics, logger)
		if err != nil {
			return err
		}
		defer stopBot()
	}

	server := api.NewServer(engine, logger,
		api.WithMetricsHandler(metrics.Handler()),
		api.WithHealthCheck(healthCheck(faucet, reference, relayerAddress)),
	)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(":" + cfg.Port)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down relayer")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to shut down HTTP server gracefully")
	}
	return nil
}

// checkAuthorization warns when the faucet contract does not accept calls from the relayer contract.
func checkAuthorization(ctx context.Context, faucet types.Chain, logger *logrus.Logger) {
	if faucet.GetConfig().FaucetContract == "" {
		return
	}

	authorized, err := faucet.IsRelayerAuthorized(ctx)
	switch {
	case err != nil:
		logger.WithError(err).Warn("Failed to check relayer authorization")
	case !authorized:
		logger.WithField("faucetContract", faucet.GetConfig().FaucetContract).
			Warn("Relayer contract is not authorized on the faucet contract, claims will revert")
	default:
		logger.Info("Relayer contract is authorized on the faucet contract")
	}
}

func healthCheck(faucet, reference types.Chain, relayerAddress string) api.HealthCheck {
	return func(ctx context.Context) error {
		if _, err := faucet.PendingNonce(ctx); err != nil {
			return errors.Wrap(err, "faucet network unavailable")
		}
		if _, err := reference.GetBalance(ctx, relayerAddress); err != nil {
			return errors.Wrap(err, "reference network unavailable")
		}
		return nil
	}
}

// startChatBot wires the drip service to the chat intake and returns the function stopping both.
func startChatBot(
	ctx context.Context,
	cfg *config.Config,
	faucet types.Chain,
	policy *feepolicy.Policy,
	queue *txqueue.Queue,
	metrics *monitor.Metrics,
	logger *logrus.Logger,
) (func(), error) {
	store, closeStore, err := openClaimStore(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}

	service, err := drip.NewService(drip.Config{
		ChainID:  cfg.Faucet.ChainID,
		From:     common.HexToAddress(faucet.RelayerAddress()),
		Amount:   cfg.DripAmount(),
		Cooldown: cfg.Drip.Cooldown.Duration(),
		Timeout:  cfg.Timeouts.Request.Duration(),
	}, store, faucet, policy, queue, logger, drip.WithRecorder(metrics))
	if err != nil {
		closeStore()
		return nil, errors.Wrap(err, "failed to create drip service")
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		closeStore()
		return nil, errors.Wrap(err, "failed to connect chat bot")
	}
	logger.WithField("bot", botAPI.Self.UserName).Info("Chat bot authorized")

	bot := chatbot.NewBot(botAPI, service, chatbot.Config{
		NetworkName: cfg.Faucet.Name,
		ChainID:     cfg.Faucet.ChainID,
		Amount:      service.Amount(),
		Cooldown:    service.Cooldown(),
		ExplorerURL: cfg.Faucet.ExplorerURL,
	}, logger)

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := botAPI.GetUpdatesChan(updateConfig)

	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.Run(ctx, updates)
	}()

	return func() {
		botAPI.StopReceivingUpdates()
		<-done
		service.Wait()
		closeStore()
	}, nil
}

// openClaimStore opens the drips table, or an in-memory store when no database is configured.
func openClaimStore(ctx context.Context, databaseURL string, logger *logrus.Logger) (drip.ClaimStore, func(), error) {
	if databaseURL == "" {
		logger.Warn("No database configured, drip cooldowns are kept in memory and reset on restart")
		return drip.NewMemoryStore(), func() {}, nil
	}

	db, err := dbconfig.NewDBConfig(databaseURL)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close database")
		}
	}

	if err := db.Ping(ctx); err != nil {
		closeDB()
		return nil, nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		closeDB()
		return nil, nil, err
	}
	logger.WithField("store", "postgres").Info("Drip claim store ready")

	return db, closeDB, nil
}

