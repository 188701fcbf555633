package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/toolchat/internal/types"
)

// laneSize is the number of runs a conversation may have waiting.
const laneSize = 100

// GenericFailure is sent to OnComplete when a run fails and no error
// formatter is set.
const GenericFailure = "Sorry, something went wrong processing your message."

// Queue manages per-conversation lanes with a global concurrency semaphore.
// Each conversation gets its own FIFO channel (lane) so that loops on the
// same conversation never overlap, while the semaphore limits the total
// number of concurrent run processors across all conversations.
type Queue struct {
	lanes     map[types.ConversationKey]chan *Run
	semaphore *semaphore.Weighted
	processor func(*Run) error
	retry     *RetryPolicy
	formatErr func(error) string
	logger    *slog.Logger
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent runs to execute
// simultaneously across all lanes. Runs are attempted once unless a retry
// policy is set.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[types.ConversationKey]chan *Run),
		semaphore: semaphore.NewWeighted(maxConcurrent),
		retry:     NoRetry(),
		formatErr: func(error) string { return GenericFailure },
		logger:    slog.Default().With("component", "queue"),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// processors to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for key, lane := range q.lanes {
		close(lane)
		delete(q.lanes, key)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Run to its conversation's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is full.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil || q.ctx.Err() != nil {
		return fmt.Errorf("queue not running")
	}

	lane, exists := q.lanes[run.Key]
	if !exists {
		lane = make(chan *Run, laneSize)
		q.lanes[run.Key] = lane
		q.wg.Add(1)
		go q.processLane(lane)
	}

	select {
	case lane <- run:
		return nil
	default:
		return fmt.Errorf("queue full for conversation %s", run.Key)
	}
}

// processLane drains a single lane, acquiring a semaphore slot before
// running the processor synchronously. This ensures strict FIFO ordering
// within a conversation while the semaphore limits cross-conversation
// parallelism.
func (q *Queue) processLane(lane chan *Run) {
	defer q.wg.Done()
	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				return
			}
			q.process(run)
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) process(run *Run) {
	if q.processor == nil {
		return
	}
	q.active.Add(1)
	defer q.active.Add(-1)

	ctx, cancel := context.WithCancel(q.ctx)
	defer cancel()
	if run.caller != nil {
		stop := context.AfterFunc(run.caller, cancel)
		defer stop()
	}

	now := time.Now()
	run.Ctx = ctx
	run.StartedAt = &now
	run.Status = RunStatusRunning

	err := q.retry.Execute(ctx, func() error {
		run.Attempts++
		err := q.processor(run)
		if err != nil && IsRetryable(err) && run.Attempts < q.retry.MaxAttempts {
			q.logger.Warn("run failed, retrying", "run_id", string(run.ID), "attempt", run.Attempts, "error", err)
		}
		return err
	})

	ended := time.Now()
	run.EndedAt = &ended
	if err == nil {
		run.Status = RunStatusComplete
		return
	}

	run.Status = RunStatusFailed
	run.Error = err
	q.logger.Error("run failed",
		"run_id", string(run.ID),
		"conversation", string(run.Key),
		"attempts", run.Attempts,
		"error", err,
	)
	switch {
	case run.OnError != nil:
		run.OnError(err)
	case run.OnComplete != nil:
		run.OnComplete(q.formatErr(err))
	}
}

// WaitIdle blocks until no runs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.processor = fn
}

// SetRetryPolicy sets how failed runs are retried.
func (q *Queue) SetRetryPolicy(p *RetryPolicy) {
	if p != nil {
		q.retry = p
	}
}

// SetErrorFormatter sets how a failure is rendered for OnComplete.
func (q *Queue) SetErrorFormatter(fn func(error) string) {
	if fn != nil {
		q.formatErr = fn
	}
}

// SetLogger sets the queue's logger.
func (q *Queue) SetLogger(logger *slog.Logger) {
	if logger != nil {
		q.logger = logger.With("component", "queue")
	}
}
