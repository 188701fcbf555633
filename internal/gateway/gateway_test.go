package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/user/toolchat/internal/types"
)

func TestGatewaySubmit(t *testing.T) {
	gw := New(2)
	gw.SetProcessor(func(run *Run) error {
		run.OnComplete("echo: " + run.Event.Text)
		return nil
	})
	gw.Start(context.Background())
	defer gw.Stop()

	resp, err := gw.Submit(context.Background(), &types.InboundEvent{
		Source:          "test",
		ConversationKey: types.NewConversationKey("test", "123"),
		Text:            "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp != "echo: hello" {
		t.Errorf("got %q", resp)
	}
}

func TestGatewaySubmitError(t *testing.T) {
	gw := New(1)
	gw.SetProcessor(func(run *Run) error { return errors.New("model down") })
	gw.Start(context.Background())
	defer gw.Stop()

	_, err := gw.Submit(context.Background(), &types.InboundEvent{ConversationKey: "k", Text: "x"})
	if err == nil || err.Error() != "model down" {
		t.Fatalf("expected processor error, got %v", err)
	}
}

func TestGatewaySubmitContextTimeout(t *testing.T) {
	gw := New(1)
	gw.SetProcessor(func(run *Run) error {
		<-run.Context().Done()
		return run.Context().Err()
	})
	gw.Start(context.Background())
	defer gw.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := gw.Submit(ctx, &types.InboundEvent{ConversationKey: "k"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestGatewayCallerCancellationStopsRun(t *testing.T) {
	gw := New(1)
	cancelled := make(chan error, 1)
	gw.SetProcessor(func(run *Run) error {
		if run.Event.Text == "slow" {
			<-run.Context().Done()
			cancelled <- run.Context().Err()
			return run.Context().Err()
		}
		run.OnComplete("done")
		return nil
	})
	gw.Start(context.Background())
	defer gw.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := gw.Submit(ctx, &types.InboundEvent{ConversationKey: "k", Text: "slow"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	select {
	case err := <-cancelled:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("run context ended with %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run kept going after its caller went away")
	}

	resp, err := gw.Submit(context.Background(), &types.InboundEvent{ConversationKey: "k", Text: "next"})
	if err != nil || resp != "done" {
		t.Fatalf("lane blocked after cancellation: %q, %v", resp, err)
	}
}

func TestGatewayRequiresKey(t *testing.T) {
	gw := New(1)
	gw.Start(context.Background())
	defer gw.Stop()

	err := gw.HandleInbound(context.Background(), &types.InboundEvent{Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "conversation key") {
		t.Errorf("expected key error, got %v", err)
	}
}

func TestGatewayRoutesByConversation(t *testing.T) {
	gw := New(2)
	seen := make(chan types.ConversationKey, 2)
	gw.SetProcessor(func(run *Run) error {
		seen <- run.Key
		return nil
	})
	gw.Start(context.Background())
	defer gw.Stop()

	for _, key := range []string{"a", "b"} {
		if err := gw.HandleInbound(context.Background(), &types.InboundEvent{ConversationKey: types.NewConversationKey("test", key)}); err != nil {
			t.Fatal(err)
		}
	}
	got := map[types.ConversationKey]bool{}
	for i := 0; i < 2; i++ {
		select {
		case k := <-seen:
			got[k] = true
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
	if !got["test:a"] || !got["test:b"] {
		t.Errorf("unexpected keys %v", got)
	}
}
