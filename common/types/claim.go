package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ClaimRequest is a user-signed authorization for the relayer to call the faucet on the claimant's behalf.
// The nonce must be unique per claimant; the relayer contract enforces it, not the relay engine.
type ClaimRequest struct {
	Claimant  common.Address // Address that signed the authorization and receives the drip.
	Nonce     *big.Int       // Caller supplied replay-protection value.
	Signature []byte         // 65-byte ECDSA signature over the contract's message hash.
}

// FeeData is a fee market sample read from the chain.
type FeeData struct {
	BaseFee              *big.Int // Base fee of the latest block.
	SuggestedPriorityFee *big.Int // Node suggestion for the priority fee.
}

// FeeQuote is the bounded EIP-1559 fee offer for one transaction. It is never cached across requests.
type FeeQuote struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// RelayOutcome is returned once a relayed transaction is accepted for processing, not once it is confirmed.
type RelayOutcome struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DripRecord is the persisted record of a chat-intake drip.
//
// Fields:
// - ID: the claim row identifier.
// - ChainID: the network the drip was sent on.
// - TxHash: the hash of the transfer, empty while the claim is reserved.
// - TokenAddress: the token transferred, the zero address for the native currency.
// - From: the relayer address.
// - To: the recipient address.
// - Identity: the chat username the claim is rate-limited by.
// - Amount: the transferred amount in wei.
// - CreatedAt: the time the claim was made.
type DripRecord struct {
	ID           int64
	ChainID      uint64
	TxHash       string
	TokenAddress string
	From         string
	To           string
	Identity     string
	Amount       *big.Int
	CreatedAt    time.Time
}
