package relay

import (
	"math/big"
	"strings"
	"testing"

	commonerrors "github.com/ClipFinance/faucet-relay/common/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	validAddress   = "0x5B38Da6a701c568545dCfcB03FcB875f56beddC4"
	validSignature = "0xabcdef0123"
)

func signatureHex(n int) string {
	return "0x" + strings.Repeat("1b", n)
}

func TestParseClaimRequest(t *testing.T) {
	claim, err := ParseClaimRequest(validAddress, "1717171717171", signatureHex(65))
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress(validAddress), claim.Claimant)
	assert.Equal(t, big.NewInt(1717171717171), claim.Nonce)
	assert.Len(t, claim.Signature, 65)
}

func TestParseClaimRequestHexNonce(t *testing.T) {
	claim, err := ParseClaimRequest(validAddress, "0x10", signatureHex(65))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(16), claim.Nonce)

	claim, err = ParseClaimRequest(validAddress, "0", signatureHex(65))
	require.NoError(t, err)
	assert.Zero(t, claim.Nonce.Sign())
}

func TestParseClaimRequestMalformed(t *testing.T) {
	cases := []struct {
		name      string
		address   string
		nonce     string
		signature string
		want      error
	}{
		{"missing address", "", "1", signatureHex(65), ErrMissingParameters},
		{"missing nonce", validAddress, "", signatureHex(65), ErrMissingParameters},
		{"missing signature", validAddress, "1", "", ErrMissingParameters},
		{"short address", "0x5B38Da6a701c568545dCfcB03FcB875f56bedd", "1", signatureHex(65), ErrInvalidAddress},
		{"address without prefix", "5B38Da6a701c568545dCfcB03FcB875f56beddC4", "1", signatureHex(65), ErrInvalidAddress},
		{"address not hex", "0x5B38Da6a701c568545dCfcB03FcB875f56beddZZ", "1", signatureHex(65), ErrInvalidAddress},
		{"negative nonce", validAddress, "-1", signatureHex(65), ErrInvalidNonce},
		{"fractional nonce", validAddress, "1.5", signatureHex(65), ErrInvalidNonce},
		{"nonce above uint256", validAddress, "0x1" + strings.Repeat("0", 64), signatureHex(65), ErrInvalidNonce},
		{"signature without prefix", validAddress, "1", strings.Repeat("1b", 65), ErrInvalidSignature},
		{"signature not hex", validAddress, "1", "0x" + strings.Repeat("zz", 65), ErrInvalidSignature},
		{"short signature", validAddress, "1", signatureHex(64), ErrInvalidSignature},
		{"long signature", validAddress, "1", signatureHex(66), ErrInvalidSignature},
		{"odd signature", validAddress, "1", validSignature + "0", ErrInvalidSignature},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claim, err := ParseClaimRequest(tc.address, tc.nonce, tc.signature)
			assert.Nil(t, claim)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, commonerrors.KindBadRequest, commonerrors.KindOf(err))
		})
	}
}

func TestParseTxHash(t *testing.T) {
	_, err := ParseTxHash("0x" + strings.Repeat("a", 64))
	require.NoError(t, err)

	for _, hash := range []string{"", "0x", "0x1234", strings.Repeat("a", 64), "0x" + strings.Repeat("g", 64)} {
		_, err := ParseTxHash(hash)
		assert.Equal(t, commonerrors.KindBadRequest, commonerrors.KindOf(err), hash)
	}
}
