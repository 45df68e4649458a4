package relay

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ClipFinance/faucet-relay/admission"
	commonerrors "github.com/ClipFinance/faucet-relay/common/errors"
	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/ClipFinance/faucet-relay/feepolicy"
	"github.com/ClipFinance/faucet-relay/txqueue"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var relayerContract = common.HexToAddress("0x00000000000000000000000000000000000FaC37")

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

type fakeBalances struct {
	mu       sync.Mutex
	balances map[string]*big.Int
	err      error
	calls    int
}

func (f *fakeBalances) GetBalance(_ context.Context, address string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if balance, ok := f.balances[address]; ok {
		return balance, nil
	}
	return new(big.Int), nil
}

type fakeFees struct {
	mu    sync.Mutex
	data  *types.FeeData
	err   error
	calls int
}

func (f *fakeFees) GetFeeData(context.Context) (*types.FeeData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	requests []*types.TransactionRequest
	err      error
	nonce    uint64
}

func (f *fakeSubmitter) Submit(_ context.Context, request *types.TransactionRequest) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request)
	if f.err != nil {
		return nil, f.err
	}
	nonce := f.nonce
	f.nonce++
	return &types.Transaction{
		Hash:                 common.BigToHash(big.NewInt(int64(nonce + 1))).Hex(),
		To:                   request.To,
		Nonce:                nonce,
		MaxFeePerGas:         request.Fee.MaxFeePerGas,
		MaxPriorityFeePerGas: request.Fee.MaxPriorityFeePerGas,
	}, nil
}

func (f *fakeSubmitter) submitted() []*types.TransactionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.TransactionRequest(nil), f.requests...)
}

// fakeWatcher answers confirmation waits with wait, or blocks until the context ends when wait is nil.
type fakeWatcher struct {
	wait   func(tx *types.Transaction) (*types.Receipt, error)
	status *types.TransactionStatusReport
	err    error
}

func (f *fakeWatcher) WaitTransactionConfirmation(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if f.wait != nil {
		return f.wait(tx)
	}
	<-ctx.Done()
	return nil, errors.Wrap(ctx.Err(), "confirmation wait ended")
}

func (f *fakeWatcher) TransactionStatus(_ context.Context, txHash string) (*types.TransactionStatusReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	report := *f.status
	report.TxHash = txHash
	return &report, nil
}

type fakeMessageHashes struct{}

func (fakeMessageHashes) GetMessageHash(_ context.Context, claimant string, nonce *big.Int) (common.Hash, error) {
	return common.BytesToHash(append(common.HexToAddress(claimant).Bytes(), nonce.Bytes()...)), nil
}

func (fakeMessageHashes) IsRelayerAuthorized(context.Context) (bool, error) {
	return true, nil
}

type fakeRecorder struct {
	mu            sync.Mutex
	outcomes      []commonerrors.Kind
	quotes        []*types.FeeQuote
	confirmations []types.TransactionStatus
}

func (f *fakeRecorder) RelayOutcome(kind commonerrors.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, kind)
}

func (f *fakeRecorder) FeeQuote(quote *types.FeeQuote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes = append(f.quotes, quote)
}

func (f *fakeRecorder) Confirmation(status types.TransactionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmations = append(f.confirmations, status)
}

type engineFixture struct {
	engine    *Engine
	balances  *fakeBalances
	fees      *fakeFees
	submitter *fakeSubmitter
	watcher   *fakeWatcher
	recorder  *fakeRecorder
	hook      *test.Hook
	encoded   atomic.Int32
}

func newEngineFixture(t *testing.T, confirmationTimeout time.Duration) *engineFixture {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := &engineFixture{
		balances: &fakeBalances{balances: map[string]*big.Int{
			common.HexToAddress(validAddress).Hex(): gwei(1_000_000_000),
		}},
		fees: &fakeFees{data: &types.FeeData{
			BaseFee:              gwei(1),
			SuggestedPriorityFee: gwei(2),
		}},
		submitter: &fakeSubmitter{},
		watcher: &fakeWatcher{wait: func(tx *types.Transaction) (*types.Receipt, error) {
			return &types.Receipt{TxHash: tx.Hash, BlockNumber: 42, GasUsed: 51_000, Status: types.TxConfirmed}, nil
		}},
		recorder: &fakeRecorder{},
		hook:     hook,
	}

	policy, err := feepolicy.New(gwei(100), gwei(2), 1.2)
	require.NoError(t, err)

	engine, err := NewEngine(Config{
		RelayerContract:     relayerContract,
		ConfirmationTimeout: confirmationTimeout,
	}, Dependencies{
		Guard:  admission.NewGuard(f.balances, gwei(1_000_000), "reference", logger),
		Policy: policy,
		Fees:   f.fees,
		Encode: func(claim *types.ClaimRequest) ([]byte, error) {
			f.encoded.Add(1)
			return claim.Signature, nil
		},
		Submitter:     f.submitter,
		Watcher:       f.watcher,
		MessageHashes: fakeMessageHashes{},
		Recorder:      f.recorder,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	f.engine = engine
	return f
}

func (f *engineFixture) hasMessage(message string) bool {
	for _, entry := range f.hook.AllEntries() {
		if entry.Message == message {
			return true
		}
	}
	return false
}

func (f *engineFixture) entry(message string) *logrus.Entry {
	for _, entry := range f.hook.AllEntries() {
		if entry.Message == message {
			return entry
		}
	}
	return nil
}

// slowSender answers each broadcast after delay, regardless of the caller's context.
type slowSender struct {
	delay time.Duration
	err   error

	mu   sync.Mutex
	sent int
}

func (s *slowSender) SendTransaction(_ context.Context, request *types.TransactionRequest) (*types.Transaction, error) {
	time.Sleep(s.delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.sent++
	return &types.Transaction{
		Hash:  common.BigToHash(big.NewInt(int64(*request.Nonce) + 100)).Hex(),
		To:    request.To,
		Nonce: *request.Nonce,
	}, nil
}

func (s *slowSender) PendingNonce(context.Context) (uint64, error) {
	return 7, nil
}

func (s *slowSender) broadcasts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// useSlowQueue routes the fixture's submissions through a real queue whose node answers after
// the request timeout.
func (f *engineFixture) useSlowQueue(t *testing.T, sender *slowSender) {
	t.Helper()

	logger, _ := test.NewNullLogger()
	queue := txqueue.New(sender, 4, logger)
	require.NoError(t, queue.Start(context.Background()))
	t.Cleanup(queue.Close)

	f.engine.deps.Submitter = queue
	f.engine.config.RequestTimeout = 50 * time.Millisecond
}

func claimFor(t *testing.T, nonce string) *types.ClaimRequest {
	t.Helper()
	claim, err := ParseClaimRequest(validAddress, nonce, signatureHex(65))
	require.NoError(t, err)
	return claim
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	logger, _ := test.NewNullLogger()

	_, err := NewEngine(Config{RelayerContract: relayerContract}, Dependencies{}, logger)
	assert.Error(t, err)

	f := newEngineFixture(t, time.Second)
	deps := f.engine.deps
	_, err = NewEngine(Config{}, deps, logger)
	assert.Error(t, err)

	engine, err := NewEngine(Config{RelayerContract: relayerContract}, deps, logger)
	require.NoError(t, err)
	defer engine.Close()
	assert.Equal(t, DefaultRequestTimeout, engine.config.RequestTimeout)
	assert.Equal(t, DefaultConfirmationTimeout, engine.config.ConfirmationTimeout)
}

func TestRelayConfirmed(t *testing.T) {
	f := newEngineFixture(t, time.Second)

	outcome, err := f.engine.Relay(context.Background(), claimFor(t, "1717171717171"))
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Regexp(t, "^0x[0-9a-f]{64}$", outcome.TxHash)

	f.engine.Wait()

	requests := f.submitter.submitted()
	require.Len(t, requests, 1)
	assert.Equal(t, relayerContract.Hex(), requests[0].To)
	assert.Zero(t, requests[0].Value.Sign())
	assert.Len(t, requests[0].Data, 65)
	assert.Nil(t, requests[0].Nonce)

	// 1 gwei * 1.2 + 2 gwei
	assert.Equal(t, big.NewInt(3_200_000_000), requests[0].Fee.MaxFeePerGas)
	assert.Equal(t, gwei(2), requests[0].Fee.MaxPriorityFeePerGas)

	assert.True(t, f.hasMessage("Meta-transaction accepted for processing"))
	assert.True(t, f.hasMessage("Transaction confirmed in block 42"))
	assert.Equal(t, []commonerrors.Kind{""}, f.recorder.outcomes)
	assert.Equal(t, []types.TransactionStatus{types.TxConfirmed}, f.recorder.confirmations)
	require.Len(t, f.recorder.quotes, 1)
}

func TestRelayMalformedClaimMakesNoCalls(t *testing.T) {
	f := newEngineFixture(t, time.Second)

	_, err := f.engine.Relay(context.Background(), &types.ClaimRequest{Claimant: common.HexToAddress(validAddress)})
	require.Error(t, err)
	assert.Equal(t, commonerrors.KindBadRequest, commonerrors.KindOf(err))

	assert.Zero(t, f.balances.calls)
	assert.Zero(t, f.fees.calls)
	assert.Empty(t, f.submitter.submitted())
}

func TestRelayLowBalanceIsSpam(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	claimant := "0x000000000000000000000000000000000000dEaD"
	f.balances.balances[common.HexToAddress(claimant).Hex()] = gwei(1_000_000)

	claim, err := ParseClaimRequest(claimant, "7", signatureHex(65))
	require.NoError(t, err)

	outcome, err := f.engine.Relay(context.Background(), claim)
	assert.Nil(t, outcome)
	require.Error(t, err)
	assert.Equal(t, commonerrors.KindSpamSuspected, commonerrors.KindOf(err))
	assert.Equal(t, 400, commonerrors.KindOf(err).HTTPStatus())

	assert.Zero(t, f.fees.calls)
	assert.Zero(t, f.encoded.Load())
	assert.Empty(t, f.submitter.submitted())
	assert.Equal(t, []commonerrors.Kind{commonerrors.KindSpamSuspected}, f.recorder.outcomes)
}

func TestRelayGuardUnavailable(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	f.balances.err = errors.New("connection refused")

	_, err := f.engine.Relay(context.Background(), claimFor(t, "1"))
	require.Error(t, err)
	assert.Equal(t, commonerrors.KindAdmissionUnavailable, commonerrors.KindOf(err))
	assert.Empty(t, f.submitter.submitted())
}

func TestRelayFeeUnavailableFailsClosed(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	f.fees.err = errors.New("rpc timeout")

	_, err := f.engine.Relay(context.Background(), claimFor(t, "1"))
	require.Error(t, err)
	assert.Equal(t, commonerrors.KindFeeUnavailable, commonerrors.KindOf(err))
	assert.Empty(t, f.submitter.submitted())

	f.fees.err = nil
	f.fees.data = &types.FeeData{SuggestedPriorityFee: gwei(1)}

	_, err = f.engine.Relay(context.Background(), claimFor(t, "2"))
	require.Error(t, err)
	assert.Equal(t, commonerrors.KindFeeUnavailable, commonerrors.KindOf(err))
	assert.Empty(t, f.submitter.submitted())
}

func TestRelayFeeCapped(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	f.fees.data = &types.FeeData{BaseFee: gwei(500), SuggestedPriorityFee: gwei(50)}

	_, err := f.engine.Relay(context.Background(), claimFor(t, "3"))
	require.NoError(t, err)
	f.engine.Wait()

	requests := f.submitter.submitted()
	require.Len(t, requests, 1)
	assert.Equal(t, gwei(100), requests[0].Fee.MaxFeePerGas)
	assert.Equal(t, gwei(2), requests[0].Fee.MaxPriorityFeePerGas)
}

func TestRelaySubmissionFailed(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	f.submitter.err = errors.New("insufficient funds for gas * price + value")

	_, err := f.engine.Relay(context.Background(), claimFor(t, "4"))
	require.Error(t, err)
	assert.Equal(t, commonerrors.KindSubmissionFailed, commonerrors.KindOf(err))
	assert.Equal(t, 500, commonerrors.KindOf(err).HTTPStatus())
	assert.True(t, f.hasMessage("Failed to submit meta-transaction"))
}

func TestRelayDuplicateNonceIsForwarded(t *testing.T) {
	f := newEngineFixture(t, time.Second)

	var mu sync.Mutex
	seen := 0
	f.watcher.wait = func(tx *types.Transaction) (*types.Receipt, error) {
		mu.Lock()
		defer mu.Unlock()
		seen++
		status := types.TxConfirmed
		if seen > 1 {
			status = types.TxReverted
		}
		return &types.Receipt{TxHash: tx.Hash, BlockNumber: uint64(40 + seen), Status: status}, nil
	}

	first, err := f.engine.Relay(context.Background(), claimFor(t, "99"))
	require.NoError(t, err)
	f.engine.Wait()

	second, err := f.engine.Relay(context.Background(), claimFor(t, "99"))
	require.NoError(t, err)
	f.engine.Wait()

	assert.NotEqual(t, first.TxHash, second.TxHash)
	assert.Len(t, f.submitter.submitted(), 2)
	assert.True(t, f.hasMessage("Meta-transaction reverted on-chain"))
	assert.ElementsMatch(t, []types.TransactionStatus{types.TxConfirmed, types.TxReverted}, f.recorder.confirmations)
}

func TestRelayConfirmationTimeout(t *testing.T) {
	f := newEngineFixture(t, 20*time.Millisecond)
	f.watcher.wait = nil

	outcome, err := f.engine.Relay(context.Background(), claimFor(t, "5"))
	require.NoError(t, err)
	assert.True(t, outcome.Success)

	f.engine.Wait()

	assert.True(t, f.hasMessage("Transaction neither confirmed nor failed in time, requires operator attention"))
	assert.Equal(t, []types.TransactionStatus{types.TxNeedsAttention}, f.recorder.confirmations)
}

func TestRelayConcurrentClaims(t *testing.T) {
	f := newEngineFixture(t, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Relay(context.Background(), claimFor(t, fmt.Sprint(i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	f.engine.Wait()

	assert.Len(t, f.submitter.submitted(), 20)
	assert.Len(t, f.recorder.confirmations, 20)
}

func TestCloseAbandonsPendingConfirmations(t *testing.T) {
	f := newEngineFixture(t, time.Hour)
	f.watcher.wait = nil

	_, err := f.engine.Relay(context.Background(), claimFor(t, "6"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		f.engine.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.True(t, f.hasMessage("Transaction neither confirmed nor failed in time, requires operator attention"))
}

func TestStatus(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	f.watcher.status = &types.TransactionStatusReport{Status: types.TxConfirmed, BlockNumber: 42}

	hash := common.BigToHash(big.NewInt(1)).Hex()
	report, err := f.engine.Status(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, hash, report.TxHash)
	assert.Equal(t, types.TxConfirmed, report.Status)
	assert.Equal(t, uint64(42), report.BlockNumber)

	_, err = f.engine.Status(context.Background(), "0x1234")
	assert.Equal(t, commonerrors.KindBadRequest, commonerrors.KindOf(err))

	f.watcher.err = errors.New("node down")
	_, err = f.engine.Status(context.Background(), hash)
	assert.Equal(t, commonerrors.KindInternal, commonerrors.KindOf(err))
}

func TestMessageHash(t *testing.T) {
	f := newEngineFixture(t, time.Second)

	hash, err := f.engine.MessageHash(context.Background(), validAddress, "0x10")
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)

	_, err = f.engine.MessageHash(context.Background(), "0x1234", "1")
	assert.Equal(t, commonerrors.KindBadRequest, commonerrors.KindOf(err))

	_, err = f.engine.MessageHash(context.Background(), validAddress, "-3")
	assert.Equal(t, commonerrors.KindBadRequest, commonerrors.KindOf(err))
}

func TestRelaySubmissionOutcomeUnknown(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	sender := &slowSender{delay: 200 * time.Millisecond}
	f.useSlowQueue(t, sender)

	outcome, err := f.engine.Relay(context.Background(), claimFor(t, "8"))
	assert.Nil(t, outcome)
	require.Error(t, err)
	assert.True(t, errors.Is(err, txqueue.ErrSubmissionUnknown))
	assert.Equal(t, commonerrors.KindSubmissionUnknown, commonerrors.KindOf(err))
	assert.Equal(t, 504, commonerrors.KindOf(err).HTTPStatus())
	assert.False(t, f.hasMessage("Failed to submit meta-transaction"))

	entry := f.entry("Meta-transaction submission outcome unknown, requires operator attention")
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, uint64(7), entry.Data["relayerNonce"])

	f.engine.Wait()

	assert.Equal(t, 1, sender.broadcasts())
	assert.True(t, f.hasMessage("Meta-transaction accepted after the request timed out"))
	assert.True(t, f.hasMessage("Transaction confirmed in block 42"))
	assert.Equal(t, []commonerrors.Kind{commonerrors.KindSubmissionUnknown}, f.recorder.outcomes)
	assert.Equal(t, []types.TransactionStatus{types.TxConfirmed}, f.recorder.confirmations)
}

func TestRelaySubmissionOutcomeUnknownThenRejected(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	sender := &slowSender{delay: 200 * time.Millisecond, err: errors.New("nonce too low")}
	f.useSlowQueue(t, sender)

	_, err := f.engine.Relay(context.Background(), claimFor(t, "9"))
	require.Error(t, err)
	assert.Equal(t, commonerrors.KindSubmissionUnknown, commonerrors.KindOf(err))

	f.engine.Wait()

	entry := f.entry("Late meta-transaction submission did not go through")
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Zero(t, sender.broadcasts())
	assert.Equal(t, []types.TransactionStatus{types.TxNeedsAttention}, f.recorder.confirmations)
}

func TestRelayAfterCloseIsRejected(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	f.engine.Close()

	outcome, err := f.engine.Relay(context.Background(), claimFor(t, "10"))
	assert.Nil(t, outcome)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEngineClosed))
	assert.Equal(t, commonerrors.KindInternal, commonerrors.KindOf(err))
	assert.Empty(t, f.submitter.submitted())
	assert.Zero(t, f.balances.calls)
}

func TestRelayConcurrentWithClose(t *testing.T) {
	f := newEngineFixture(t, time.Hour)
	f.watcher.wait = nil

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.engine.Relay(context.Background(), claimFor(t, fmt.Sprint(i)))
		}(i)
	}

	done := make(chan struct{})
	go func() {
		f.engine.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	wg.Wait()

	_, err := f.engine.Relay(context.Background(), claimFor(t, "21"))
	assert.True(t, errors.Is(err, ErrEngineClosed))
}
