package types

import (
	"math/big"
	"time"
)

// TransactionRequest describes a transaction the relayer identity should send.
//
// Fields:
// - To: the recipient or contract address.
// - Value: the amount of wei to transfer, nil for zero.
// - Data: the call data, nil for a plain transfer.
// - Fee: the fee offer computed by the fee policy.
// - Nonce: the relayer sequence number to use, nil to use the pending nonce.
type TransactionRequest struct {
	To    string
	Value *big.Int
	Data  []byte
	Fee   *FeeQuote
	Nonce *uint64
}

// Transaction represents a transaction accepted into the node's pool.
//
// Fields:
// - Hash: the hash of the transaction.
// - From: the relayer address.
// - To: the address to which the transaction is sent.
// - Value: the transferred amount in wei, as a decimal string.
// - Nonce: the relayer sequence number consumed by the transaction.
// - ChainID: the unique identifier for the chain where the transaction was sent.
// - MaxFeePerGas: the fee cap of the transaction.
// - MaxPriorityFeePerGas: the tip cap of the transaction.
// - SubmittedAt: the time the node accepted the transaction.
type Transaction struct {
	Hash                 string
	From                 string
	To                   string
	Value                string
	Nonce                uint64
	ChainID              uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	SubmittedAt          time.Time
}

// Receipt is the outcome of a mined transaction.
type Receipt struct {
	TxHash      string            // Hash of the mined transaction.
	BlockNumber uint64            // Block the transaction was included in.
	GasUsed     uint64            // Gas consumed by the transaction.
	Status      TransactionStatus // TxConfirmed or TxReverted.
}

// TransactionStatusReport is the answer to a status query for a transaction hash.
type TransactionStatusReport struct {
	TxHash      string            `json:"txHash"`
	Status      TransactionStatus `json:"status"`
	BlockNumber uint64            `json:"blockNumber,omitempty"`
}
