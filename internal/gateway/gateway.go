package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/toolchat/internal/types"
)

// Gateway orchestrates inbound events into runs. It wraps each event in a
// Run keyed by its conversation and enqueues the run for processing.
type Gateway struct {
	Queue *Queue

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRetryPolicy sets the whole-run retry policy.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(g *Gateway) { g.Queue.SetRetryPolicy(p) }
}

// WithErrorFormatter sets how failures are rendered for callers that only
// take a response string.
func WithErrorFormatter(fn func(error) string) Option {
	return func(g *Gateway) { g.Queue.SetErrorFormatter(fn) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.Queue.SetLogger(logger) }
}

// New creates a Gateway allowing maxConcurrent simultaneous runs. Values
// below 1 default to 2.
func New(maxConcurrent int64, opts ...Option) *Gateway {
	if maxConcurrent < 1 {
		maxConcurrent = 2
	}
	g := &Gateway{Queue: NewQueue(maxConcurrent)}
	for _, o := range opts {
		o(g)
	}
	return g
}

// SetProcessor sets the function invoked for each run.
func (g *Gateway) SetProcessor(fn func(*Run) error) {
	g.Queue.SetProcessor(fn)
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context and waits for the queue to drain.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithOnComplete sets a callback invoked when the run produces a final response.
func WithOnComplete(fn func(string)) RunOption {
	return func(r *Run) { r.OnComplete = fn }
}

// WithOnError sets a callback invoked when the run fails.
func WithOnError(fn func(error)) RunOption {
	return func(r *Run) { r.OnError = fn }
}

// HandleInbound wraps the event in a Run and enqueues it. Cancelling ctx
// cancels the run, whether it is still queued or already running.
func (g *Gateway) HandleInbound(ctx context.Context, event *types.InboundEvent, opts ...RunOption) error {
	if strings.TrimSpace(string(event.ConversationKey)) == "" {
		return fmt.Errorf("inbound event without conversation key")
	}
	run := NewRun(event)
	run.caller = ctx
	for _, opt := range opts {
		opt(run)
	}
	return g.Queue.Enqueue(run)
}

// Submit enqueues the event and waits for its outcome.
func (g *Gateway) Submit(ctx context.Context, event *types.InboundEvent) (string, error) {
	type outcome struct {
		response string
		err      error
	}
	done := make(chan outcome, 1)

	err := g.HandleInbound(ctx, event,
		WithOnComplete(func(resp string) { done <- outcome{response: resp} }),
		WithOnError(func(err error) { done <- outcome{err: err} }),
	)
	if err != nil {
		return "", err
	}

	select {
	case o := <-done:
		return o.response, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-g.ctx.Done():
		return "", fmt.Errorf("gateway stopped: %w", g.ctx.Err())
	}
}
