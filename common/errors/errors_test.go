package errors

import (
	"net/http"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("insufficient funds for gas * price + value")
	err := errors.Wrap(New(KindSubmissionFailed, cause), "failed to relay claim")

	assert.Equal(t, KindSubmissionFailed, KindOf(err))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindInternal, KindOf(cause))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestNewNil(t *testing.T) {
	require.NoError(t, New(KindBadRequest, nil))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindBadRequest:           http.StatusBadRequest,
		KindSpamSuspected:        http.StatusBadRequest,
		KindAdmissionUnavailable: http.StatusServiceUnavailable,
		KindFeeUnavailable:       http.StatusServiceUnavailable,
		KindSubmissionFailed:     http.StatusInternalServerError,
		KindSubmissionUnknown:    http.StatusGatewayTimeout,
		KindInternal:             http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, kind.HTTPStatus(), kind)
	}
}

func TestCooldownError(t *testing.T) {
	last := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err := errors.Wrap(&CooldownError{LastClaimAt: last, NextClaimAt: last.Add(24 * time.Hour)}, "drip refused")

	assert.True(t, errors.Is(err, ErrCooldownActive))
	assert.Contains(t, err.Error(), "2024-05-02T12:00:00Z")

	var cooldown *CooldownError
	require.True(t, errors.As(err, &cooldown))
	assert.Equal(t, last, cooldown.LastClaimAt)
}
