package monitor

import (
	"io"
	"math/big"
	"net/http/httptest"
	"testing"

	commonerrors "github.com/ClipFinance/faucet-relay/common/errors"
	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayOutcome(t *testing.T) {
	m := NewMetrics()

	m.RelayOutcome("")
	m.RelayOutcome("")
	m.RelayOutcome(commonerrors.KindSpamSuspected)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.relayRequests.WithLabelValues(outcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.relayRequests.WithLabelValues(string(commonerrors.KindSpamSuspected))))
}

func TestFeeQuote(t *testing.T) {
	m := NewMetrics()

	m.FeeQuote(&types.FeeQuote{MaxFeePerGas: big.NewInt(3_200_000_000), MaxPriorityFeePerGas: big.NewInt(2_000_000_000)})
	m.FeeQuote(nil)

	assert.Equal(t, 3.2e9, testutil.ToFloat64(m.maxFeePerGas))
	assert.Equal(t, 2e9, testutil.ToFloat64(m.maxPriorityFeePerGas))
}

func TestConfirmationDripAndConnection(t *testing.T) {
	m := NewMetrics()

	m.Confirmation(types.TxConfirmed)
	m.Confirmation(types.TxNeedsAttention)
	m.DripOutcome("sent")
	m.ConnectionState("sepolia", true)
	m.ConnectionState("mainnet", false)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.confirmations.WithLabelValues("CONFIRMED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.confirmations.WithLabelValues("NEEDS_ATTENTION")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.drips.WithLabelValues("sent")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.connectionUp.WithLabelValues("sepolia")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.connectionUp.WithLabelValues("mainnet")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.RelayOutcome("")
	m.RegisterQueueDepth(func() int { return 3 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `faucet_relay_requests_total{outcome="Success"} 1`)
	assert.Contains(t, string(body), "faucet_submission_queue_depth 3")
}

func TestWeiToFloat(t *testing.T) {
	assert.Equal(t, float64(0), weiToFloat(nil))
	assert.Equal(t, 1e18, weiToFloat(big.NewInt(1_000_000_000_000_000_000)))
}
