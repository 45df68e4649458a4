package relay

import (
	"math/big"
	"strings"

	commonerrors "github.com/ClipFinance/faucet-relay/common/errors"
	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// addressLength is the length of a 0x-prefixed hex address.
const addressLength = 2 + 2*common.AddressLength

var (
	ErrMissingParameters = errors.New("missing required parameters")
	ErrInvalidAddress    = errors.New("invalid user address format")
	ErrInvalidNonce      = errors.New("invalid nonce")
	ErrInvalidSignature  = errors.New("invalid signature format")
	ErrInvalidTxHash     = errors.New("invalid transaction hash")
)

// ParseClaimRequest validates the raw claim fields. Every failure is a BadRequest and
// happens before any network call.
//
// Parameters:
// - userAddress: the 0x-prefixed claimant address.
// - nonce: the nonce as a decimal or 0x-prefixed hex string.
// - signature: the 0x-prefixed 65-byte signature.
//
// Returns:
// - *types.ClaimRequest: the parsed claim.
// - error: a KindBadRequest error describing the first invalid field.
func ParseClaimRequest(userAddress, nonce, signature string) (*types.ClaimRequest, error) {
	userAddress = strings.TrimSpace(userAddress)
	nonce = strings.TrimSpace(nonce)
	signature = strings.TrimSpace(signature)

	if userAddress == "" || nonce == "" || signature == "" {
		return nil, commonerrors.New(commonerrors.KindBadRequest, ErrMissingParameters)
	}

	claimant, err := ParseAddress(userAddress)
	if err != nil {
		return nil, err
	}

	parsedNonce, err := ParseNonce(nonce)
	if err != nil {
		return nil, err
	}

	sig, err := parseSignature(signature)
	if err != nil {
		return nil, err
	}

	return &types.ClaimRequest{
		Claimant:  claimant,
		Nonce:     parsedNonce,
		Signature: sig,
	}, nil
}

// ParseAddress validates a 0x-prefixed, 42 character hex address.
func ParseAddress(address string) (common.Address, error) {
	if !strings.HasPrefix(address, "0x") || len(address) != addressLength || !common.IsHexAddress(address) {
		return common.Address{}, commonerrors.New(commonerrors.KindBadRequest, ErrInvalidAddress)
	}
	return common.HexToAddress(address), nil
}

// ParseNonce parses a non-negative uint256 written in decimal or 0x-prefixed hex.
func ParseNonce(nonce string) (*big.Int, error) {
	parsed, ok := math.ParseBig256(nonce)
	if !ok || parsed.Sign() < 0 {
		return nil, commonerrors.New(commonerrors.KindBadRequest, errors.Wrapf(ErrInvalidNonce, "%q", nonce))
	}
	return parsed, nil
}

// ParseTxHash validates a 0x-prefixed 32-byte transaction hash.
func ParseTxHash(txHash string) (common.Hash, error) {
	raw, err := hexutil.Decode(txHash)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, commonerrors.New(commonerrors.KindBadRequest, ErrInvalidTxHash)
	}
	return common.BytesToHash(raw), nil
}

func parseSignature(signature string) ([]byte, error) {
	if !strings.HasPrefix(signature, "0x") {
		return nil, commonerrors.New(commonerrors.KindBadRequest, ErrInvalidSignature)
	}

	raw, err := hexutil.Decode(signature)
	if err != nil {
		return nil, commonerrors.New(commonerrors.KindBadRequest, errors.Wrap(ErrInvalidSignature, "not hex"))
	}
	if len(raw) != crypto.SignatureLength {
		return nil, commonerrors.New(commonerrors.KindBadRequest, errors.Wrapf(ErrInvalidSignature, "expected %d bytes, got %d", crypto.SignatureLength, len(raw)))
	}

	return raw, nil
}
