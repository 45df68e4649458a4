// Package relay turns user-signed claim authorizations into relayer-paid transactions.
//
// A claim is reported as successful once the node accepts the transaction into its pool.
// That means "accepted for processing", not "confirmed": the confirmation is awaited in the
// background and only logged, and callers poll Status for the final outcome.
package relay

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ClipFinance/faucet-relay/admission"
	commonerrors "github.com/ClipFinance/faucet-relay/common/errors"
	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/ClipFinance/faucet-relay/txqueue"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultRequestTimeout bounds guard, fee lookup and submission of one claim.
	DefaultRequestTimeout = 10 * time.Second
	// DefaultConfirmationTimeout bounds the background confirmation wait.
	DefaultConfirmationTimeout = 5 * time.Minute
)

// ErrEngineClosed is returned by Relay after Close.
var ErrEngineClosed = errors.New("relay engine is closed")

// Guard admits or rejects a claimant before any gas is spent.
type Guard interface {
	Check(ctx context.Context, claimant common.Address) error
}

// FeePolicy turns a fee market sample into a bounded fee offer.
type FeePolicy interface {
	Quote(data *types.FeeData) (*types.FeeQuote, error)
}

// Submitter serializes submissions from the relayer identity.
type Submitter interface {
	Submit(ctx context.Context, request *types.TransactionRequest) (*types.Transaction, error)
}

// Encoder encodes the delegated contract call for a claim.
type Encoder func(claim *types.ClaimRequest) ([]byte, error)

// Recorder receives relay outcomes for metrics. All methods must be safe for concurrent use.
type Recorder interface {
	RelayOutcome(kind commonerrors.Kind)
	FeeQuote(quote *types.FeeQuote)
	Confirmation(status types.TransactionStatus)
}

// Config holds the relay engine settings.
type Config struct {
	RelayerContract     common.Address // Contract executing the meta-transactions.
	RequestTimeout      time.Duration  // Bound on the synchronous path.
	ConfirmationTimeout time.Duration  // Bound on the background confirmation wait.
}

// Dependencies are the collaborators of the relay engine. MessageHashes and Recorder are optional.
type Dependencies struct {
	Guard         Guard
	Policy        FeePolicy
	Fees          types.FeeDataProvider
	Encode        Encoder
	Submitter     Submitter
	Watcher       types.TransactionWatcher
	MessageHashes types.RelayerContractReader
	Recorder      Recorder
}

// Engine relays claims. It keeps no record of (claimant, nonce) pairs: replay protection
// belongs to the relayer contract, and a duplicate claim is forwarded and reverts on-chain.
type Engine struct {
	config Config
	deps   Dependencies
	logger *logrus.Logger

	ctx    context.Context // Parent of background confirmations, cancelled by Close.
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool // Set by Close, guards wg.Add.
}

// NewEngine creates a relay engine.
//
// Parameters:
// - config: the engine settings. Zero timeouts take the defaults.
// - deps: the collaborators.
// - logger: the logger.
//
// Returns:
// - *Engine: the engine.
// - error: an error if a required collaborator is missing.
func NewEngine(config Config, deps Dependencies, logger *logrus.Logger) (*Engine, error) {
	switch {
	case deps.Guard == nil:
		return nil, errors.New("admission guard is required")
	case deps.Policy == nil:
		return nil, errors.New("fee policy is required")
	case deps.Fees == nil:
		return nil, errors.New("fee data provider is required")
	case deps.Encode == nil:
		return nil, errors.New("call encoder is required")
	case deps.Submitter == nil:
		return nil, errors.New("submitter is required")
	case deps.Watcher == nil:
		return nil, errors.New("transaction watcher is required")
	}
	if config.RelayerContract == (common.Address{}) {
		return nil, errors.New("relayer contract address is required")
	}

	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.ConfirmationTimeout <= 0 {
		config.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		config: config,
		deps:   deps,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Relay runs one claim through the guard, the fee policy and the submission queue.
//
// Parameters:
// - ctx: the request context.
// - claim: the validated claim.
//
// Returns:
// - *types.RelayOutcome: {Success: true, TxHash} once the transaction is accepted for processing.
// - error: a commonerrors.RelayError of kind SpamSuspected, AdmissionUnavailable, FeeUnavailable,
// SubmissionFailed or SubmissionUnknown. KindInternal wrapping ErrEngineClosed after Close.
func (e *Engine) Relay(ctx context.Context, claim *types.ClaimRequest) (*types.RelayOutcome, error) {
	outcome, err := e.relay(ctx, claim)
	e.deps.Recorder.RelayOutcome(kindOf(err))
	return outcome, err
}

func (e *Engine) relay(ctx context.Context, claim *types.ClaimRequest) (*types.RelayOutcome, error) {
	if claim == nil || claim.Nonce == nil || len(claim.Signature) == 0 {
		return nil, commonerrors.New(commonerrors.KindBadRequest, ErrMissingParameters)
	}
	if e.isClosed() {
		return nil, commonerrors.New(commonerrors.KindInternal, ErrEngineClosed)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	logger := e.logger.WithFields(logrus.Fields{
		"claimant": claim.Claimant.Hex(),
		"nonce":    claim.Nonce.String(),
	})

	if err := e.deps.Guard.Check(ctx, claim.Claimant); err != nil {
		if errors.Is(err, admission.ErrSpamSuspected) {
			return nil, commonerrors.New(commonerrors.KindSpamSuspected, err)
		}
		return nil, commonerrors.New(commonerrors.KindAdmissionUnavailable, err)
	}

	feeData, err := e.deps.Fees.GetFeeData(ctx)
	if err != nil {
		logger.WithError(err).Warn("Fee data unavailable, refusing to submit")
		return nil, commonerrors.New(commonerrors.KindFeeUnavailable, errors.Wrap(err, "failed to get fee data"))
	}

	quote, err := e.deps.Policy.Quote(feeData)
	if err != nil {
		return nil, commonerrors.New(commonerrors.KindFeeUnavailable, errors.Wrap(err, "failed to compute fee quote"))
	}
	e.deps.Recorder.FeeQuote(quote)

	data, err := e.deps.Encode(claim)
	if err != nil {
		return nil, commonerrors.New(commonerrors.KindSubmissionFailed, errors.Wrap(err, "failed to encode relayed call"))
	}

	logger = logger.WithFields(logrus.Fields{
		"baseFee":              feeData.BaseFee.String(),
		"maxFeePerGas":         quote.MaxFeePerGas.String(),
		"maxPriorityFeePerGas": quote.MaxPriorityFeePerGas.String(),
	})

	tx, err := e.deps.Submitter.Submit(ctx, &types.TransactionRequest{
		To:    e.config.RelayerContract.Hex(),
		Value: new(big.Int),
		Data:  data,
		Fee:   quote,
	})
	var unknown *txqueue.SubmissionUnknownError
	switch {
	case errors.As(err, &unknown):
		logger = logger.WithField("relayerNonce", unknown.Nonce)
		logger.WithError(err).Error("Meta-transaction submission outcome unknown, requires operator attention")
		if !e.goBackground(func() { e.confirmLate(unknown, logger) }) {
			logger.Warn("Relay engine closed, late submission answer not awaited")
		}
		return nil, commonerrors.New(commonerrors.KindSubmissionUnknown, err)
	case err != nil:
		logger.WithError(err).Error("Failed to submit meta-transaction")
		return nil, commonerrors.New(commonerrors.KindSubmissionFailed, errors.Wrap(err, "transaction execution failed"))
	}

	logger.WithField("txHash", tx.Hash).Info("Meta-transaction accepted for processing")

	if !e.goBackground(func() { e.confirm(tx, logger) }) {
		logger.WithField("txHash", tx.Hash).Warn("Relay engine closed, confirmation not awaited")
	}

	return &types.RelayOutcome{Success: true, TxHash: tx.Hash}, nil
}

// goBackground runs fn tracked by Close. It reports false once the engine is closed.
func (e *Engine) goBackground(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
	return true
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// confirmLate follows a submission whose caller timed out during the broadcast.
func (e *Engine) confirmLate(unknown *txqueue.SubmissionUnknownError, logger *logrus.Entry) {
	ctx, cancel := context.WithTimeout(e.ctx, e.config.ConfirmationTimeout)
	defer cancel()

	tx, err := unknown.Wait(ctx)
	if err != nil {
		e.deps.Recorder.Confirmation(types.TxNeedsAttention)
		logger.WithError(err).WithField("status", types.TxNeedsAttention).
			Error("Late meta-transaction submission did not go through")
		return
	}

	logger.WithField("txHash", tx.Hash).Warn("Meta-transaction accepted after the request timed out")
	e.confirm(tx, logger)
}

// confirm waits for the receipt in the background and logs the terminal state. It never resubmits.
func (e *Engine) confirm(tx *types.Transaction, logger *logrus.Entry) {
	ctx, cancel := context.WithTimeout(e.ctx, e.config.ConfirmationTimeout)
	defer cancel()

	logger = logger.WithField("txHash", tx.Hash)

	receipt, err := e.deps.Watcher.WaitTransactionConfirmation(ctx, tx)
	if err != nil {
		e.deps.Recorder.Confirmation(types.TxNeedsAttention)
		logger.WithError(err).WithField("status", types.TxNeedsAttention).
			Error("Transaction neither confirmed nor failed in time, requires operator attention")
		return
	}

	e.deps.Recorder.Confirmation(receipt.Status)

	entry := logger.WithFields(logrus.Fields{
		"blockNumber": receipt.BlockNumber,
		"gasUsed":     receipt.GasUsed,
		"status":      receipt.Status,
	})
	if receipt.Status != types.TxConfirmed {
		entry.WithField("kind", commonerrors.KindOnChainReverted).Error("Meta-transaction reverted on-chain")
		return
	}

	entry.Infof("Transaction confirmed in block %d", receipt.BlockNumber)
}

// Status reports the current state of a relayed transaction.
//
// Parameters:
// - ctx: the request context.
// - txHash: the 0x-prefixed transaction hash.
//
// Returns:
// - *types.TransactionStatusReport: the status and block number if mined.
// - error: KindBadRequest for a malformed hash, KindInternal if the node cannot be queried.
func (e *Engine) Status(ctx context.Context, txHash string) (*types.TransactionStatusReport, error) {
	hash, err := ParseTxHash(txHash)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	report, err := e.deps.Watcher.TransactionStatus(ctx, hash.Hex())
	if err != nil {
		return nil, commonerrors.New(commonerrors.KindInternal, errors.Wrap(err, "failed to query transaction status"))
	}
	return report, nil
}

// MessageHash returns the hash the claimant must sign for the nonce, as computed by the relayer contract.
//
// Parameters:
// - ctx: the request context.
// - userAddress: the claimant address.
// - nonce: the nonce in decimal or 0x hex.
//
// Returns:
// - common.Hash: the message hash.
// - error: KindBadRequest for malformed input, KindInternal if the contract cannot be called.
func (e *Engine) MessageHash(ctx context.Context, userAddress, nonce string) (common.Hash, error) {
	claimant, err := ParseAddress(userAddress)
	if err != nil {
		return common.Hash{}, err
	}
	parsedNonce, err := ParseNonce(nonce)
	if err != nil {
		return common.Hash{}, err
	}
	if e.deps.MessageHashes == nil {
		return common.Hash{}, commonerrors.New(commonerrors.KindInternal, commonerrors.ErrNotImplemented)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	hash, err := e.deps.MessageHashes.GetMessageHash(ctx, claimant.Hex(), parsedNonce)
	if err != nil {
		return common.Hash{}, commonerrors.New(commonerrors.KindInternal, err)
	}
	return hash, nil
}

// Close abandons outstanding confirmation waits and blocks until their goroutines log and exit.
// Relay fails with ErrEngineClosed afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

// Wait blocks until every background confirmation has finished on its own.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func kindOf(err error) commonerrors.Kind {
	if err == nil {
		return ""
	}
	return commonerrors.KindOf(err)
}

type nopRecorder struct{}

func (nopRecorder) RelayOutcome(commonerrors.Kind) {}

func (nopRecorder) FeeQuote(*types.FeeQuote) {}

func (nopRecorder) Confirmation(types.TransactionStatus) {}
