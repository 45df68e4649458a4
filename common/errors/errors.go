package errors

import (
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrChainNotFound      = errors.New("chain not found")
	ErrInvalidChainID     = errors.New("invalid chain id")
	ErrDatabaseConnect    = errors.New("failed to connect to database")
	ErrInvalidConfig      = errors.New("invalid chain configuration")
	ErrChainExists        = errors.New("chain already exists in registry")
	ErrFactoryNotProvided = errors.New("chain factory not provided")
	ErrInvalidChainType   = errors.New("invalid chain type")
	ErrNotImplemented     = errors.New("functionality not implemented")
	ErrCooldownActive     = errors.New("claim cooldown active")
)

// CooldownError is returned when an identity claims again inside its cooldown window.
// It matches ErrCooldownActive with errors.Is.
type CooldownError struct {
	LastClaimAt time.Time // Time of the previous claim.
	NextClaimAt time.Time // Earliest time the next claim is accepted.
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: next claim at %s", ErrCooldownActive, e.NextClaimAt.UTC().Format(time.RFC3339))
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}

// Kind classifies a relay failure.
type Kind string

const (
	// KindBadRequest is a malformed or missing claim field. It never reaches the network.
	KindBadRequest Kind = "BadRequest"
	// KindSpamSuspected is an admission guard rejection. No gas is spent.
	KindSpamSuspected Kind = "SpamSuspected"
	// KindAdmissionUnavailable means the reference network balance could not be read.
	KindAdmissionUnavailable Kind = "AdmissionUnavailable"
	// KindFeeUnavailable means fee data could not be obtained. The relay fails closed.
	KindFeeUnavailable Kind = "FeeUnavailable"
	// KindSubmissionFailed means the node rejected the transaction before pool acceptance.
	KindSubmissionFailed Kind = "SubmissionFailed"
	// KindSubmissionUnknown means the request deadline passed while the node was still answering.
	// The transaction may have been accepted and needs operator attention, never a retry.
	KindSubmissionUnknown Kind = "SubmissionUnknown"
	// KindOnChainReverted is only discovered by the background confirmation.
	KindOnChainReverted Kind = "OnChainReverted"
	// KindInternal is anything not covered above.
	KindInternal Kind = "Internal"
)

// RelayError carries a Kind together with the underlying cause.
type RelayError struct {
	Kind Kind
	Err  error
}

// New wraps err with the given kind. A nil err yields nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &RelayError{Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *RelayError) Unwrap() error {
	return e.Err
}

// Cause returns the underlying cause for github.com/pkg/errors.Cause.
func (e *RelayError) Cause() error {
	return e.Err
}

// KindOf returns the Kind of the first RelayError in err's chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to the status code returned by the HTTP intake.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadRequest, KindSpamSuspected:
		return http.StatusBadRequest
	case KindAdmissionUnavailable, KindFeeUnavailable:
		return http.StatusServiceUnavailable
	case KindSubmissionUnknown:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
