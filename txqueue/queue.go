// Package txqueue serializes every transaction of the relayer identity through a single writer,
// so concurrent claims never reuse a sequence number.
package txqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultSize is the queue capacity used when the configuration does not set one.
	DefaultSize = 64
	// DefaultBroadcastTimeout bounds one nonce sync plus broadcast, independently of the caller.
	DefaultBroadcastTimeout = 30 * time.Second
)

var (
	// ErrQueueFull is returned when the queue buffer is full.
	ErrQueueFull = errors.New("submission queue is full")
	// ErrQueueClosed is returned for submissions after Close or before Start.
	ErrQueueClosed = errors.New("submission queue is not running")
	// ErrSubmissionUnknown is matched by SubmissionUnknownError.
	ErrSubmissionUnknown = errors.New("submission outcome unknown")
)

// SubmissionUnknownError is returned when the caller stopped waiting after the request was handed
// to the node. The transaction may still be accepted; Wait delivers the late answer.
type SubmissionUnknownError struct {
	Nonce uint64 // Sequence number assigned to the request.
	Err   error  // Why the caller stopped waiting.

	reply <-chan result
}

func (e *SubmissionUnknownError) Error() string {
	return fmt.Sprintf("%s: relayer nonce %d: %v", ErrSubmissionUnknown, e.Nonce, e.Err)
}

// Is matches ErrSubmissionUnknown.
func (e *SubmissionUnknownError) Is(target error) bool {
	return target == ErrSubmissionUnknown
}

// Unwrap returns the caller's context error.
func (e *SubmissionUnknownError) Unwrap() error {
	return e.Err
}

// Wait blocks until the broadcast goroutine answers or ctx ends. The answer is bounded by the
// queue's broadcast timeout.
//
// Returns:
// - *types.Transaction: the transaction if the node accepted it.
// - error: the node's rejection, or ctx's error.
func (e *SubmissionUnknownError) Wait(ctx context.Context) (*types.Transaction, error) {
	select {
	case res := <-e.reply:
		return res.tx, res.err
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "late submission answer not received")
	}
}

// Job states. The broadcast goroutine and the waiting caller race with compare-and-swap,
// the winner decides who reports the outcome.
const (
	jobPending int32 = iota
	jobAbandoned
	jobBroadcasting
	jobUnanswered
	jobDone
)

// Sender is the relayer identity's view of the chain.
type Sender interface {
	SendTransaction(ctx context.Context, request *types.TransactionRequest) (*types.Transaction, error)
	PendingNonce(ctx context.Context) (uint64, error)
}

type result struct {
	tx  *types.Transaction
	err error
}

type job struct {
	ctx     context.Context
	request *types.TransactionRequest
	reply   chan result
	state   atomic.Int32
	nonce   uint64 // Written before the state moves to jobBroadcasting.
}

// finish delivers res. A caller that stopped waiting only gets the answer through SubmissionUnknownError.Wait.
func (j *job) finish(from int32, res result) bool {
	if j.state.CompareAndSwap(from, jobDone) {
		j.reply <- res
		return true
	}
	if j.state.Load() == jobUnanswered {
		j.reply <- res
	}
	return false
}

// Queue owns the relayer identity's sequence counter. Only the broadcast goroutine touches it.
type Queue struct {
	sender  Sender
	logger  *logrus.Logger
	jobs    chan *job
	timeout time.Duration // Bound on one broadcast.

	mu      sync.RWMutex
	running bool
	stop    chan struct{}
	done    sync.WaitGroup

	nextNonce *uint64 // Next sequence number, nil until synced from the node.
}

// Option configures a Queue.
type Option func(*Queue)

// WithBroadcastTimeout bounds each broadcast, DefaultBroadcastTimeout if not positive.
func WithBroadcastTimeout(timeout time.Duration) Option {
	return func(q *Queue) {
		if timeout > 0 {
			q.timeout = timeout
		}
	}
}

// New creates a submission queue.
//
// Parameters:
// - sender: the relayer identity's transaction sender.
// - size: the number of submissions that may wait, DefaultSize if not positive.
// - logger: the logger.
// - opts: optional settings.
//
// Returns:
// - *Queue: the queue. Call Start before submitting.
func New(sender Sender, size int, logger *logrus.Logger, opts ...Option) *Queue {
	if size <= 0 {
		size = DefaultSize
	}

	q := &Queue{
		sender:  sender,
		logger:  logger,
		jobs:    make(chan *job, size),
		timeout: DefaultBroadcastTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the broadcast goroutine. Starting a running queue is an error.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return errors.New("submission queue already running")
	}
	q.running = true
	q.stop = make(chan struct{})

	q.done.Add(1)
	go q.broadcastLoop(ctx, q.stop)

	return nil
}

// Close stops the broadcast goroutine and fails every submission still waiting.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		q.done.Wait()
		return
	}
	q.running = false
	close(q.stop)
	q.mu.Unlock()

	q.done.Wait()
	q.drain()
}

// Len returns the number of submissions waiting for the broadcast goroutine.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Submit hands the request to the broadcast goroutine and waits for the node's answer.
// The request's Nonce is assigned by the queue. The broadcast itself is not cancelled by ctx.
//
// Parameters:
// - ctx: the context bounding the wait.
// - request: the transaction request.
//
// Returns:
// - *types.Transaction: the transaction accepted by the node.
// - error: ErrQueueFull, ErrQueueClosed, or the submission error. If ctx ends before the broadcast
// started, ctx's error; if it ends during the broadcast, a *SubmissionUnknownError.
func (q *Queue) Submit(ctx context.Context, request *types.TransactionRequest) (*types.Transaction, error) {
	j := &job{
		ctx:     ctx,
		request: request,
		reply:   make(chan result, 1),
	}

	q.mu.RLock()
	if !q.running {
		q.mu.RUnlock()
		return nil, ErrQueueClosed
	}
	select {
	case q.jobs <- j:
	default:
		q.mu.RUnlock()
		return nil, ErrQueueFull
	}
	q.mu.RUnlock()

	select {
	case res := <-j.reply:
		return res.tx, res.err
	case <-ctx.Done():
	}

	switch {
	case j.state.CompareAndSwap(jobPending, jobAbandoned):
		return nil, errors.Wrap(ctx.Err(), "submission not answered")
	case j.state.CompareAndSwap(jobBroadcasting, jobUnanswered):
		return nil, &SubmissionUnknownError{Nonce: j.nonce, Err: ctx.Err(), reply: j.reply}
	default:
		res := <-j.reply
		return res.tx, res.err
	}
}

func (q *Queue) broadcastLoop(ctx context.Context, stop <-chan struct{}) {
	defer q.done.Done()

	q.logger.Debug("broadcastLoop: started")
	for {
		select {
		case j := <-q.jobs:
			q.broadcast(j)

		case <-stop:
			q.logger.Debug("broadcastLoop: stopped")
			return

		case <-ctx.Done():
			q.logger.Debug("broadcastLoop: context done")
			q.mu.Lock()
			q.running = false
			q.mu.Unlock()
			q.drain()
			return
		}
	}
}

// broadcast assigns the next sequence number and sends the request on a context detached from the caller.
// Any failure drops the local counter so the next submission resyncs from the node.
func (q *Queue) broadcast(j *job) {
	if j.state.Load() == jobAbandoned {
		return
	}
	if err := j.ctx.Err(); err != nil {
		j.finish(jobPending, result{err: errors.Wrap(err, "submission abandoned before broadcast")})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), q.timeout)
	defer cancel()

	if q.nextNonce == nil {
		nonce, err := q.sender.PendingNonce(ctx)
		if err != nil {
			j.finish(jobPending, result{err: errors.Wrap(err, "failed to sync relayer nonce")})
			return
		}
		q.nextNonce = &nonce
	}

	nonce := *q.nextNonce
	j.nonce = nonce
	if !j.state.CompareAndSwap(jobPending, jobBroadcasting) {
		return
	}

	request := *j.request
	request.Nonce = &nonce

	logger := q.logger.WithFields(logrus.Fields{
		"nonce": nonce,
		"to":    request.To,
	})

	tx, err := q.sender.SendTransaction(ctx, &request)
	if err != nil {
		q.nextNonce = nil
		logger.WithError(err).Warn("Transaction failed to broadcast, resyncing relayer nonce")
		if !j.finish(jobBroadcasting, result{err: err}) {
			logger.WithError(err).Error("Late broadcast failure after the caller stopped waiting")
		}
		return
	}

	next := nonce + 1
	q.nextNonce = &next

	logger = logger.WithField("txHash", tx.Hash)
	logger.Info("Transaction broadcasted")
	if !j.finish(jobBroadcasting, result{tx: tx}) {
		logger.Error("Transaction broadcasted after the caller stopped waiting, requires operator attention")
	}
}

func (q *Queue) drain() {
	for {
		select {
		case j := <-q.jobs:
			j.finish(jobPending, result{err: ErrQueueClosed})
		default:
			return
		}
	}
}
