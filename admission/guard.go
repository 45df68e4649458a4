// Package admission rejects likely-abusive claims before any relayer gas is spent.
package admission

import (
	"context"
	"math/big"

	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSpamSuspected is returned when the claimant's reference balance is at or below the threshold.
	ErrSpamSuspected = errors.New("claimant balance on the reference network is too low")
	// ErrUnavailable is returned when the reference balance cannot be read.
	ErrUnavailable = errors.New("reference network balance unavailable")
)

// Guard requires claimants to hold more than a minimum balance on a reference network.
// It is a heuristic against automated draining, not a security boundary.
type Guard struct {
	reference  types.BalanceProvider // Balance lookups on the reference network.
	minBalance *big.Int              // Claims at or below this balance are rejected.
	network    string                // Reference network name for logs.
	logger     *logrus.Logger
}

// NewGuard creates an admission guard.
//
// Parameters:
// - reference: the reference network balance provider.
// - minBalance: the threshold in wei; a nil threshold is treated as zero.
// - network: the reference network name, used in logs.
// - logger: the logger.
//
// Returns:
// - *Guard: the guard.
func NewGuard(reference types.BalanceProvider, minBalance *big.Int, network string, logger *logrus.Logger) *Guard {
	threshold := new(big.Int)
	if minBalance != nil {
		threshold.Set(minBalance)
	}

	return &Guard{
		reference:  reference,
		minBalance: threshold,
		network:    network,
		logger:     logger,
	}
}

// Check admits or rejects the claimant.
//
// Parameters:
// - ctx: the context for managing the request.
// - claimant: the claimant address.
//
// Returns:
// - error: nil if admitted, ErrSpamSuspected if the balance is at or below the threshold,
// ErrUnavailable if the balance could not be read.
func (g *Guard) Check(ctx context.Context, claimant common.Address) error {
	balance, err := g.reference.GetBalance(ctx, claimant.Hex())
	if err != nil {
		g.logger.WithFields(logrus.Fields{
			"claimant": claimant.Hex(),
			"network":  g.network,
		}).WithError(err).Warn("Failed to read reference balance")
		return errors.Wrap(ErrUnavailable, err.Error())
	}

	if balance == nil || balance.Cmp(g.minBalance) <= 0 {
		g.logger.WithFields(logrus.Fields{
			"claimant": claimant.Hex(),
			"network":  g.network,
			"balance":  balance,
		}).Info("Claim rejected by admission guard")
		return ErrSpamSuspected
	}

	return nil
}

// MinBalance returns the admission threshold.
func (g *Guard) MinBalance() *big.Int {
	return new(big.Int).Set(g.minBalance)
}
