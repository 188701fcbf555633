package gateway

import (
	"context"
	"time"

	"github.com/user/toolchat/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks a single execution of an inbound event against a conversation.
type Run struct {
	ID        types.RunID
	Key       types.ConversationKey
	Event     *types.InboundEvent
	Status    RunStatus
	Attempts  int
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Error     error
	// Ctx is set by the queue before the processor is called. It ends when
	// the gateway stops or the submitter's context ends.
	Ctx context.Context

	// caller is the context the event was submitted with.
	caller context.Context

	// OnComplete receives the final answer.
	OnComplete func(response string)
	// OnError receives the error of a failed run. Without it, OnComplete
	// receives the queue's rendering of the error.
	OnError func(err error)
}

// NewRun creates a Run in the Queued state for the event's conversation.
func NewRun(event *types.InboundEvent) *Run {
	return &Run{
		ID:        types.NewRunID(),
		Key:       event.ConversationKey,
		Event:     event,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
	}
}

// Context returns Ctx, or context.Background when unset.
func (r *Run) Context() context.Context {
	if r.Ctx == nil {
		return context.Background()
	}
	return r.Ctx
}
