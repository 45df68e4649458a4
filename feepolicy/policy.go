// Package feepolicy turns a fee market sample into a bounded EIP-1559 fee offer.
package feepolicy

import (
	"math"
	"math/big"

	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/pkg/errors"
)

// bpsDenominator is the basis points scale of the buffer multiplier.
const bpsDenominator = 10_000

var (
	// ErrFeeUnavailable is returned when the fee sample is missing a component.
	ErrFeeUnavailable = errors.New("fee data unavailable")
	// ErrInvalidPolicy is returned for inconsistent policy limits.
	ErrInvalidPolicy = errors.New("invalid fee policy")
)

// Policy bounds the relayer's per-transaction fee offer.
type Policy struct {
	maxFeePerGas         *big.Int // Absolute cap on the fee per gas.
	maxPriorityFeePerGas *big.Int // Cap on the priority fee per gas.
	bufferBps            int64    // Base fee buffer multiplier in basis points.
}

// New creates a fee policy.
//
// Parameters:
// - maxFeePerGas: the absolute max fee per gas in wei.
// - maxPriorityFeePerGas: the max priority fee per gas in wei, not above maxFeePerGas.
// - bufferMultiplier: the base fee multiplier covering drift until inclusion, at least 1.0.
//
// Returns:
// - *Policy: the policy.
// - error: ErrInvalidPolicy if the limits are inconsistent.
func New(maxFeePerGas, maxPriorityFeePerGas *big.Int, bufferMultiplier float64) (*Policy, error) {
	if maxFeePerGas == nil || maxFeePerGas.Sign() <= 0 {
		return nil, errors.Wrap(ErrInvalidPolicy, "max fee per gas must be positive")
	}
	if maxPriorityFeePerGas == nil || maxPriorityFeePerGas.Sign() < 0 {
		return nil, errors.Wrap(ErrInvalidPolicy, "max priority fee per gas must not be negative")
	}
	if maxPriorityFeePerGas.Cmp(maxFeePerGas) > 0 {
		return nil, errors.Wrap(ErrInvalidPolicy, "max priority fee per gas exceeds max fee per gas")
	}
	if math.IsNaN(bufferMultiplier) || bufferMultiplier < 1 || bufferMultiplier > 100 {
		return nil, errors.Wrapf(ErrInvalidPolicy, "buffer multiplier %v out of range [1, 100]", bufferMultiplier)
	}

	return &Policy{
		maxFeePerGas:         new(big.Int).Set(maxFeePerGas),
		maxPriorityFeePerGas: new(big.Int).Set(maxPriorityFeePerGas),
		bufferBps:            int64(math.Round(bufferMultiplier * bpsDenominator)),
	}, nil
}

// Quote computes the fee offer for one transaction.
//
//	priority = min(suggested priority fee, max priority fee)
//	maxFee   = min(baseFee * buffer + priority, max fee)
//
// When the cap cuts maxFee below priority, the priority fee is lowered to maxFee.
//
// Parameters:
// - data: the fee market sample.
//
// Returns:
// - *types.FeeQuote: the bounded fee offer.
// - error: ErrFeeUnavailable if the sample is incomplete.
func (p *Policy) Quote(data *types.FeeData) (*types.FeeQuote, error) {
	if data == nil || data.BaseFee == nil || data.SuggestedPriorityFee == nil {
		return nil, ErrFeeUnavailable
	}
	if data.BaseFee.Sign() < 0 || data.SuggestedPriorityFee.Sign() < 0 {
		return nil, errors.Wrap(ErrFeeUnavailable, "negative fee data")
	}

	priority := minBig(data.SuggestedPriorityFee, p.maxPriorityFeePerGas)

	maxFee := new(big.Int).Mul(data.BaseFee, big.NewInt(p.bufferBps))
	maxFee.Div(maxFee, big.NewInt(bpsDenominator))
	maxFee.Add(maxFee, priority)
	maxFee = minBig(maxFee, p.maxFeePerGas)

	priority = minBig(priority, maxFee)

	return &types.FeeQuote{
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: priority,
	}, nil
}

// MaxFeePerGas returns the absolute cap.
func (p *Policy) MaxFeePerGas() *big.Int {
	return new(big.Int).Set(p.maxFeePerGas)
}

// MaxPriorityFeePerGas returns the priority fee cap.
func (p *Policy) MaxPriorityFeePerGas() *big.Int {
	return new(big.Int).Set(p.maxPriorityFeePerGas)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
