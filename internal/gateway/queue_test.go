package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/toolchat/internal/types"
	"github.com/user/toolchat/pkg/llm"
)

func TestQueueConcurrency(t *testing.T) {
	queue := NewQueue(2)
	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()

	var running int32
	var maxSeen int32
	var wg sync.WaitGroup

	queue.SetProcessor(func(run *Run) error {
		defer wg.Done()
		current := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if current <= old || atomic.CompareAndSwapInt32(&maxSeen, old, current) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	})

	for i := 0; i < 5; i++ {
		wg.Add(1)
		run := &Run{
			ID:     types.NewRunID(),
			Key:    types.ConversationKey(fmt.Sprintf("conversation-%d", i)),
			Status: RunStatusQueued,
		}
		if err := queue.Enqueue(run); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	if m := atomic.LoadInt32(&maxSeen); m > 2 {
		t.Errorf("expected max 2 concurrent, saw %d", m)
	}
}

func TestQueueSameConversationOrdering(t *testing.T) {
	queue := NewQueue(4)
	queue.Start(context.Background())
	defer queue.Stop()

	var mu sync.Mutex
	var order []string
	var overlapping atomic.Int32
	var overlapSeen atomic.Bool
	done := make(chan struct{})

	queue.SetProcessor(func(run *Run) error {
		if overlapping.Add(1) > 1 {
			overlapSeen.Store(true)
		}
		time.Sleep(10 * time.Millisecond)
		overlapping.Add(-1)

		mu.Lock()
		order = append(order, run.Event.Text)
		n := len(order)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		return nil
	})

	for i := 0; i < 3; i++ {
		event := &types.InboundEvent{ConversationKey: "same", Text: fmt.Sprint(i)}
		if err := queue.Enqueue(NewRun(event)); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for runs to process")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != fmt.Sprint(i) {
			t.Errorf("expected order[%d] = %d, got %s", i, i, v)
		}
	}
	if overlapSeen.Load() {
		t.Error("runs of one conversation overlapped")
	}
}

func TestQueueNoProcessor(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	// Enqueue without setting a processor -- should not panic
	if err := queue.Enqueue(NewRun(&types.InboundEvent{ConversationKey: "no-proc"})); err != nil {
		t.Fatal(err)
	}
	if !queue.WaitIdle(time.Second) {
		t.Error("expected idle queue")
	}
}

func TestQueueNotStarted(t *testing.T) {
	queue := NewQueue(1)
	if err := queue.Enqueue(NewRun(&types.InboundEvent{ConversationKey: "k"})); err == nil {
		t.Error("expected error enqueueing on a stopped queue")
	}
}

func TestQueueFailureCallbacks(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	queue.SetProcessor(func(run *Run) error { return errors.New("boom") })
	queue.SetErrorFormatter(func(err error) string { return "formatted: " + err.Error() })

	got := make(chan string, 1)
	run := NewRun(&types.InboundEvent{ConversationKey: "a"})
	run.OnComplete = func(resp string) { got <- resp }
	if err := queue.Enqueue(run); err != nil {
		t.Fatal(err)
	}
	select {
	case resp := <-got:
		if resp != "formatted: boom" {
			t.Errorf("got %q", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("OnComplete not called")
	}

	gotErr := make(chan error, 1)
	run = NewRun(&types.InboundEvent{ConversationKey: "b"})
	run.OnComplete = func(string) { t.Error("OnComplete must not be called when OnError is set") }
	run.OnError = func(err error) { gotErr <- err }
	if err := queue.Enqueue(run); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-gotErr:
		if err.Error() != "boom" {
			t.Errorf("got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnError not called")
	}
}

func TestQueueRetriesTemporaryFailures(t *testing.T) {
	queue := NewQueue(1)
	queue.SetRetryPolicy(&RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1})
	queue.Start(context.Background())
	defer queue.Stop()

	var calls atomic.Int32
	queue.SetProcessor(func(run *Run) error {
		if calls.Add(1) < 3 {
			return &llm.TransportError{Op: "send", StatusCode: 503, Err: errors.New("unavailable")}
		}
		run.OnComplete("ok")
		return nil
	})

	got := make(chan string, 1)
	run := NewRun(&types.InboundEvent{ConversationKey: "k"})
	run.OnComplete = func(resp string) { got <- resp }
	if err := queue.Enqueue(run); err != nil {
		t.Fatal(err)
	}
	select {
	case resp := <-got:
		if resp != "ok" {
			t.Errorf("got %q", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not complete")
	}
	if calls.Load() != 3 || run.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d calls / %d attempts", calls.Load(), run.Attempts)
	}
}
