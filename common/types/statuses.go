package types

// TransactionStatus is the lifecycle state of a relayer transaction.
type TransactionStatus string

const (
	// TxPending is the status of a transaction known to the node but not mined yet.
	TxPending TransactionStatus = "PENDING"
	// TxConfirmed is the status of a mined transaction whose execution succeeded.
	TxConfirmed TransactionStatus = "CONFIRMED"
	// TxReverted is the status of a mined transaction whose execution reverted.
	TxReverted TransactionStatus = "REVERTED"
	// TxNotFound is the status of a hash the node does not know about.
	TxNotFound TransactionStatus = "NOT_FOUND"
	// TxNeedsAttention is the status of a transaction that neither confirmed nor failed within the confirmation window.
	TxNeedsAttention TransactionStatus = "NEEDS_ATTENTION"
)

// String converts TransactionStatus to string representation.
func (s TransactionStatus) String() string {
	return string(s)
}

// IsFinal reports whether the status can no longer change.
func (s TransactionStatus) IsFinal() bool {
	return s == TxConfirmed || s == TxReverted
}
