// Package drip sends a fixed amount directly from the relayer identity to chat-intake users,
// at most once per identity per cooldown window.
package drip

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	commonerrors "github.com/ClipFinance/faucet-relay/common/errors"
	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/ClipFinance/faucet-relay/txqueue"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultCooldown is the per-identity claim window.
const DefaultCooldown = 24 * time.Hour

var (
	ErrMissingIdentity  = errors.New("missing identity")
	ErrInvalidRecipient = errors.New("invalid recipient address")
	ErrClaimStore       = errors.New("claim store unavailable")
)

// Drip outcomes reported to the Recorder.
const (
	OutcomeSent     = "sent"
	OutcomeCooldown = "cooldown"
	OutcomeInvalid  = "invalid"
	OutcomeFailed   = "failed"
	OutcomeUnknown  = "unknown"
)

// ClaimStore persists claims and enforces the cooldown atomically.
type ClaimStore interface {
	ReserveClaim(ctx context.Context, record *types.DripRecord, window time.Duration) (int64, error)
	CompleteClaim(ctx context.Context, id int64, txHash string) error
	ReleaseClaim(ctx context.Context, id int64) error
}

// FeePolicy turns a fee market sample into a bounded fee offer.
type FeePolicy interface {
	Quote(data *types.FeeData) (*types.FeeQuote, error)
}

// Submitter serializes submissions from the relayer identity.
type Submitter interface {
	Submit(ctx context.Context, request *types.TransactionRequest) (*types.Transaction, error)
}

// Recorder receives drip outcomes for metrics.
type Recorder interface {
	DripOutcome(outcome string)
}

// Config holds the drip settings.
type Config struct {
	ChainID  uint64         // Network the drips are sent on.
	From     common.Address // Relayer identity address.
	Amount   *big.Int       // Amount sent per drip in wei.
	Cooldown time.Duration  // Per-identity claim window.
	Timeout  time.Duration  // Bound on reservation, fee lookup and submission.
}

// Service performs chat-intake drips.
type Service struct {
	config    Config
	store     ClaimStore
	fees      types.FeeDataProvider
	policy    FeePolicy
	submitter Submitter
	recorder  Recorder
	logger    *logrus.Logger
	now       func() time.Time

	late sync.WaitGroup // Settlements of submissions whose caller timed out.
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithRecorder reports drip outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// NewService creates a drip service.
//
// Parameters:
// - config: the drip settings. A zero cooldown takes DefaultCooldown.
// - store: the claim store.
// - fees: the fee data provider of the faucet network.
// - policy: the fee policy shared with the relay path.
// - submitter: the relayer identity's submission queue.
// - logger: the logger.
// - opts: optional settings.
//
// Returns:
// - *Service: the service.
// - error: an error if the amount or the sender address is missing.
func NewService(config Config, store ClaimStore, fees types.FeeDataProvider, policy FeePolicy, submitter Submitter, logger *logrus.Logger, opts ...Option) (*Service, error) {
	if config.Amount == nil || config.Amount.Sign() <= 0 {
		return nil, errors.New("drip amount must be positive")
	}
	if config.From == (common.Address{}) {
		return nil, errors.New("relayer address is required")
	}
	if store == nil || fees == nil || policy == nil || submitter == nil {
		return nil, errors.New("drip service dependencies are required")
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCooldown
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	s := &Service{
		config:    config,
		store:     store,
		fees:      fees,
		policy:    policy,
		submitter: submitter,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Drip sends the configured amount to recipient on behalf of identity.
//
// Parameters:
// - ctx: the context for managing the request.
// - identity: the chat identity the cooldown is keyed by.
// - recipient: the recipient address, with or without 0x prefix.
//
// Returns:
// - *types.DripRecord: the recorded drip, including the transaction hash.
// - error: ErrMissingIdentity, ErrInvalidRecipient, a *commonerrors.CooldownError,
// or a fee or submission failure. On failure no claim is recorded, except when the submission
// outcome is unknown (txqueue.ErrSubmissionUnknown): the claim is kept until the late answer settles it.
func (s *Service) Drip(ctx context.Context, identity, recipient string) (*types.DripRecord, error) {
	record, err := s.drip(ctx, identity, recipient)
	s.record(err)
	return record, err
}

func (s *Service) drip(ctx context.Context, identity, recipient string) (*types.DripRecord, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, ErrMissingIdentity
	}

	to, err := parseRecipient(recipient)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	logger := s.logger.WithFields(logrus.Fields{
		"identity":  identity,
		"recipient": to.Hex(),
	})

	record := &types.DripRecord{
		ChainID:      s.config.ChainID,
		TokenAddress: common.Address{}.Hex(),
		From:         s.config.From.Hex(),
		To:           to.Hex(),
		Identity:     identity,
		Amount:       new(big.Int).Set(s.config.Amount),
		CreatedAt:    s.now().UTC(),
	}

	id, err := s.store.ReserveClaim(ctx, record, s.config.Cooldown)
	if err != nil {
		if errors.Is(err, commonerrors.ErrCooldownActive) {
			logger.Info("Drip refused, cooldown active")
			return nil, err
		}
		logger.WithError(err).Error("Failed to reserve claim")
		return nil, errors.Wrapf(ErrClaimStore, "failed to reserve claim: %v", err)
	}
	record.ID = id

	tx, err := s.send(ctx, to)
	var unknown *txqueue.SubmissionUnknownError
	if errors.As(err, &unknown) {
		logger = logger.WithFields(logrus.Fields{"claimID": id, "relayerNonce": unknown.Nonce})
		logger.WithError(err).Error("Drip submission outcome unknown, claim kept, requires operator attention")
		s.settleLate(ctx, id, unknown, logger)
		return nil, err
	}
	if err != nil {
		logger.WithError(err).Error("Failed to send drip")
		if releaseErr := s.store.ReleaseClaim(context.WithoutCancel(ctx), id); releaseErr != nil {
			logger.WithError(releaseErr).Error("Failed to release claim")
		}
		return nil, err
	}
	record.TxHash = tx.Hash

	if err := s.store.CompleteClaim(context.WithoutCancel(ctx), id, tx.Hash); err != nil {
		logger.WithError(err).WithField("txHash", tx.Hash).Error("Drip sent but not recorded")
	}

	logger.WithField("txHash", tx.Hash).Info("Drip sent")

	return record, nil
}

func (s *Service) send(ctx context.Context, to common.Address) (*types.Transaction, error) {
	feeData, err := s.fees.GetFeeData(ctx)
	if err != nil {
		return nil, commonerrors.New(commonerrors.KindFeeUnavailable, errors.Wrap(err, "failed to get fee data"))
	}

	quote, err := s.policy.Quote(feeData)
	if err != nil {
		return nil, commonerrors.New(commonerrors.KindFeeUnavailable, errors.Wrap(err, "failed to compute fee quote"))
	}

	tx, err := s.submitter.Submit(ctx, &types.TransactionRequest{
		To:    to.Hex(),
		Value: new(big.Int).Set(s.config.Amount),
		Fee:   quote,
	})
	if errors.Is(err, txqueue.ErrSubmissionUnknown) {
		return nil, commonerrors.New(commonerrors.KindSubmissionUnknown, errors.Wrap(err, "drip submission not answered in time"))
	}
	if err != nil {
		return nil, commonerrors.New(commonerrors.KindSubmissionFailed, errors.Wrap(err, "failed to submit drip"))
	}

	return tx, nil
}

// settleLate completes the kept claim once the node answers, or releases it on a definite rejection.
func (s *Service) settleLate(ctx context.Context, id int64, unknown *txqueue.SubmissionUnknownError, logger *logrus.Entry) {
	ctx = context.WithoutCancel(ctx)

	s.late.Add(1)
	go func() {
		defer s.late.Done()

		// The queue answers within its broadcast timeout.
		tx, err := unknown.Wait(ctx)
		if err != nil {
			logger.WithError(err).Warn("Late drip rejected by the node, releasing claim")
			if releaseErr := s.store.ReleaseClaim(ctx, id); releaseErr != nil {
				logger.WithError(releaseErr).Error("Failed to release claim")
			}
			return
		}

		logger = logger.WithField("txHash", tx.Hash)
		if err := s.store.CompleteClaim(ctx, id, tx.Hash); err != nil {
			logger.WithError(err).Error("Drip sent but not recorded")
			return
		}
		logger.Warn("Drip sent after the request timed out")
	}()
}

// Wait blocks until every late submission has been settled.
func (s *Service) Wait() {
	s.late.Wait()
}

func (s *Service) record(err error) {
	if s.recorder == nil {
		return
	}

	switch {
	case err == nil:
		s.recorder.DripOutcome(OutcomeSent)
	case errors.Is(err, commonerrors.ErrCooldownActive):
		s.recorder.DripOutcome(OutcomeCooldown)
	case errors.Is(err, ErrMissingIdentity), errors.Is(err, ErrInvalidRecipient):
		s.recorder.DripOutcome(OutcomeInvalid)
	case errors.Is(err, txqueue.ErrSubmissionUnknown):
		s.recorder.DripOutcome(OutcomeUnknown)
	default:
		s.recorder.DripOutcome(OutcomeFailed)
	}
}

// Amount returns the amount sent per drip.
func (s *Service) Amount() *big.Int {
	return new(big.Int).Set(s.config.Amount)
}

// Cooldown returns the per-identity claim window.
func (s *Service) Cooldown() time.Duration {
	return s.config.Cooldown
}

// CanClaim reports whether a claim at now is allowed after a previous claim at last.
func CanClaim(last, now time.Time, window time.Duration) bool {
	return now.Sub(last) >= window
}

func parseRecipient(recipient string) (common.Address, error) {
	recipient = strings.TrimSpace(recipient)
	if !common.IsHexAddress(recipient) {
		return common.Address{}, errors.Wrapf(ErrInvalidRecipient, "%q", recipient)
	}

	address := common.HexToAddress(recipient)
	if address == (common.Address{}) {
		return common.Address{}, errors.Wrap(ErrInvalidRecipient, "zero address")
	}

	return address, nil
}
