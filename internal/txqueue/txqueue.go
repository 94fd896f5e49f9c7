// Package txqueue serializes transaction submission against the backend
// runtime. The runtime only accepts a transaction whose nonce is the
// signer's expected next value, so all mutating commands funnel through one
// FIFO drained by a single permanent worker: at most one transaction is ever
// broadcast-but-unresolved, and futures resolve in submission order.
//
// Nonce tracking is an optimistic single-owner optimization: the tracked
// value advances on broadcast without waiting for confirmation. It is unsafe
// to run multiple queue instances against the same signing key.
package txqueue

import (
	"context"
	"sync"
	"time"

	"github.com/appchainio/agentd/internal/backend"
	"github.com/appchainio/agentd/internal/protocol"
	"github.com/appchainio/agentd/pkg/errors"
	"github.com/appchainio/agentd/pkg/logging"
	"github.com/appchainio/agentd/pkg/metrics"
)

// Task is one queued submission: the effect to broadcast, the originating
// request for logging and correlation, and a single-resolution result slot.
type Task struct {
	Effect    backend.Effect
	Request   *protocol.CommandRequest
	CreatedAt time.Time

	future *Future
}

// Future is the pending result of a submission. It resolves exactly once.
type Future struct {
	ch chan *protocol.CommandResponse
}

// Done returns a channel that receives the response exactly once.
func (f *Future) Done() <-chan *protocol.CommandResponse {
	return f.ch
}

// Wait blocks until the future resolves or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) (*protocol.CommandResponse, error) {
	select {
	case resp := <-f.ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) resolve(resp *protocol.CommandResponse) {
	// The buffer of 1 makes resolution non-blocking; worker flow guarantees
	// each future is resolved exactly once.
	f.ch <- resp
}

// EventSink receives transaction lifecycle notifications. Implementations
// must not block the worker for long.
type EventSink interface {
	TxConfirmed(tx *backend.SignedTx, status *backend.TxStatus)
	TxFailed(tx *backend.SignedTx, reason string)
}

// Options configures a Queue.
type Options struct {
	// TrackNonce enables optimistic local nonce tracking.
	TrackNonce bool
	// Depth caps the number of waiting tasks; 0 means unbounded. A
	// submission against a full queue resolves immediately with FAILURE.
	Depth int
	// PollInterval is the confirmation polling interval.
	PollInterval time.Duration
	// PollMaxRetries bounds confirmation polling attempts per transaction.
	PollMaxRetries int
	// OnProgress, if non-nil, is invoked before each confirmation poll retry.
	OnProgress func(task *Task, attempt int)
}

// DefaultOptions returns the default queue configuration.
func DefaultOptions() Options {
	return Options{
		TrackNonce:     true,
		Depth:          1024,
		PollInterval:   500 * time.Millisecond,
		PollMaxRetries: 20,
	}
}

// Queue is the process-wide transaction submission queue.
type Queue struct {
	runtime backend.Runtime
	logger  *logging.Logger
	metrics *metrics.Metrics
	events  EventSink
	opts    Options

	mu         sync.Mutex
	tasks      []*Task
	processing bool
	nonce      uint64
	nonceKnown bool
	closed     bool

	wake chan struct{}
	done chan struct{}
}

// New creates a queue. metrics and events may be nil.
func New(runtime backend.Runtime, logger *logging.Logger, m *metrics.Metrics, events EventSink, opts Options) *Queue {
	return &Queue{
		runtime: runtime,
		logger:  logger.WithField("component", "txqueue"),
		metrics: m,
		events:  events,
		opts:    opts,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start launches the single permanent worker. The worker runs until ctx is
// cancelled; remaining tasks are then resolved as failures.
func (q *Queue) Start(ctx context.Context) {
	go q.run(ctx)
}

// Wait blocks until the worker has exited after cancellation.
func (q *Queue) Wait() {
	<-q.done
}

// Depth reports the number of tasks waiting in the queue (excluding one
// being processed).
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Processing reports whether a task is currently in flight.
func (q *Queue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// TrackedNonce returns the tracked nonce and whether tracking has observed a
// broadcast yet.
func (q *Queue) TrackedNonce() (uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nonce, q.nonceKnown
}

// Submit appends a task to the queue tail and returns its unresolved future.
// Safe for concurrent callers; submission never blocks on processing.
func (q *Queue) Submit(effect backend.Effect, req *protocol.CommandRequest) *Future {
	future := &Future{ch: make(chan *protocol.CommandResponse, 1)}
	task := &Task{
		Effect:    effect,
		Request:   req,
		CreatedAt: time.Now(),
		future:    future,
	}

	q.mu.Lock()
	switch {
	case q.closed:
		q.mu.Unlock()
		future.resolve(protocol.Failure(errors.NewQueueError(errors.QueueErrClosed, "queue is shut down", nil)))
		return future
	case q.opts.Depth > 0 && len(q.tasks) >= q.opts.Depth:
		q.mu.Unlock()
		future.resolve(protocol.Failure(errors.NewQueueError(errors.QueueErrFull, "submission queue is full", nil)))
		return future
	}
	q.tasks = append(q.tasks, task)
	depth := len(q.tasks)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.SubmissionsTotal.Inc()
		q.metrics.QueueDepth.Set(float64(depth))
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return future
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	for {
		task, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				q.drain()
				return
			case <-q.wake:
				continue
			}
		}

		q.process(ctx, task)

		q.mu.Lock()
		q.processing = false
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			q.drain()
			return
		default:
		}
	}
}

func (q *Queue) pop() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	q.processing = true

	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.tasks)))
	}
	return task, true
}

// drain resolves all remaining tasks as failures and refuses new ones.
func (q *Queue) drain() {
	q.mu.Lock()
	q.closed = true
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	for _, task := range tasks {
		task.future.resolve(protocol.Failure(errors.NewQueueError(errors.QueueErrClosed, "queue is shut down", nil)))
	}
}

// process runs one task to resolution. A failing task resolves only its own
// future; the worker then advances to the next task.
func (q *Queue) process(ctx context.Context, task *Task) {
	log := q.logger
	if task.Request != nil {
		log = log.WithField("command", task.Request.Command).WithField("request_id", task.Request.ID)
	}

	var nonceHint *uint64
	q.mu.Lock()
	if q.opts.TrackNonce && q.nonceKnown {
		n := q.nonce
		nonceHint = &n
	}
	q.mu.Unlock()

	tx, err := q.runtime.Transaction(ctx, task.Effect, nonceHint)
	if err != nil {
		log.Error("failed to build transaction", "error", err)
		q.countBroadcast("build_failed")
		task.future.resolve(protocol.Failure(errors.NewQueueError(errors.QueueErrBuildFailed, "failed to build transaction", err)))
		return
	}

	if err := q.runtime.Send(ctx, tx); err != nil {
		log.Error("broadcast failed", "tx", tx.ID, "error", err)
		q.countBroadcast("failed")
		task.future.resolve(protocol.Failure(errors.NewQueueError(errors.QueueErrBroadcastFailed, "broadcast failed", err)))
		return
	}
	q.countBroadcast("ok")
	broadcastAt := time.Now()

	if q.opts.TrackNonce {
		// Optimistic advance: do not wait for confirmation.
		q.mu.Lock()
		q.nonce = tx.Nonce + 1
		q.nonceKnown = true
		q.mu.Unlock()
		if q.metrics != nil {
			q.metrics.TrackedNonce.Set(float64(tx.Nonce + 1))
		}
	}

	log.Debug("transaction broadcast", "tx", tx.ID, "nonce", tx.Nonce)

	onWaiting := func(attempt int) {
		log.Debug("awaiting confirmation", "tx", tx.ID, "attempt", attempt)
		if q.opts.OnProgress != nil {
			q.opts.OnProgress(task, attempt)
		}
	}

	status, err := q.runtime.PollStatus(ctx, tx.ID, onWaiting, q.opts.PollInterval, q.opts.PollMaxRetries)
	if err != nil || status == nil || !status.Terminal() {
		// Polling budget exhausted (or interrupted): the transaction is
		// broadcast but unconfirmed. PENDING is not an error; callers can
		// look the transaction up later by id.
		log.Info("transaction unconfirmed after polling", "tx", tx.ID)
		task.future.resolve(protocol.Pending(tx.ID))
		return
	}

	if q.metrics != nil {
		q.metrics.ConfirmLatency.Observe(time.Since(broadcastAt).Seconds())
	}

	if status.Code == backend.TxFailed {
		log.Warn("transaction failed", "tx", tx.ID, "reason", status.Message)
		if q.events != nil {
			q.events.TxFailed(tx, status.Message)
		}
		resp := protocol.Failuref("%s", status.Message)
		resp.TX = tx.ID
		task.future.resolve(resp)
		return
	}

	log.Info("transaction confirmed", "tx", tx.ID)
	if q.events != nil {
		q.events.TxConfirmed(tx, status)
	}
	resp := protocol.Success(status.Data)
	resp.TX = tx.ID
	task.future.resolve(resp)
}

func (q *Queue) countBroadcast(result string) {
	if q.metrics != nil {
		q.metrics.BroadcastCount.WithLabelValues(result).Inc()
	}
}
