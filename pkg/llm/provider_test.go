package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

// MockProvider is a test double that satisfies the Provider interface.
type MockProvider struct {
	SendFunc func(ctx context.Context, req *Request) (*AssistantTurn, error)
}

func (m *MockProvider) Send(ctx context.Context, req *Request) (*AssistantTurn, error) {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, req)
	}
	return &AssistantTurn{Content: "mock response", FinishReason: FinishStop}, nil
}

func TestProviderInterface(t *testing.T) {
	var provider Provider = &MockProvider{}
	turn, err := provider.Send(context.Background(), &Request{
		Conversation: Conversation{UserTurn{Content: "test"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if turn.Content == "" {
		t.Error("expected non-empty response")
	}
	if turn.Role() != RoleAssistant {
		t.Errorf("expected assistant role, got %q", turn.Role())
	}
}

func TestParseFinishReason(t *testing.T) {
	cases := map[string]FinishReason{
		"stop":           FinishStop,
		"end_turn":       FinishStop,
		"tool_calls":     FinishToolCalls,
		"function_call":  FinishToolCalls,
		"length":         FinishLength,
		"content_filter": FinishOther,
		"":               FinishOther,
	}
	for in, want := range cases {
		if got := ParseFinishReason(in); got != want {
			t.Errorf("ParseFinishReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConversationClone(t *testing.T) {
	orig := Conversation{UserTurn{Content: "a"}}
	clone := orig.Clone()
	clone = append(clone, UserTurn{Content: "b"})
	clone[0] = UserTurn{Content: "changed"}

	if len(orig) != 1 {
		t.Fatalf("expected original length 1, got %d", len(orig))
	}
	if orig[0].Text() != "a" {
		t.Errorf("expected original untouched, got %q", orig[0].Text())
	}
}

func TestRecordRejectsUnknownRole(t *testing.T) {
	_, err := Record{Role: "narrator", Content: "x"}.Turn()
	if err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestRecordRejectsToolTurnWithoutCallID(t *testing.T) {
	_, err := Record{Role: RoleTool, Content: "42"}.Turn()
	if err == nil {
		t.Fatal("expected error for tool turn without call id")
	}
}

func TestRecordsPreserveToolCalls(t *testing.T) {
	now := time.Now()
	conv := Conversation{
		UserTurn{Content: "price?"},
		AssistantTurn{
			ToolCalls:    []ToolCallRequest{{ID: "1", Name: "get_price", Arguments: `{"id":"bitcoin"}`}},
			FinishReason: FinishToolCalls,
			Usage:        &TokenUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		},
		ToolResultTurn{CallID: "1", Content: "50000"},
	}

	back, err := FromRecords(ToRecords(conv, now))
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(back))
	}
	at, ok := back[1].(AssistantTurn)
	if !ok {
		t.Fatalf("expected AssistantTurn, got %T", back[1])
	}
	if len(at.ToolCalls) != 1 || at.ToolCalls[0].Name != "get_price" {
		t.Errorf("tool calls not preserved: %+v", at.ToolCalls)
	}
	if at.Usage == nil || at.Usage.TotalTokens != 5 {
		t.Errorf("usage not preserved: %+v", at.Usage)
	}
	tr, ok := back[2].(ToolResultTurn)
	if !ok || tr.CallID != "1" {
		t.Errorf("expected tool result for call 1, got %#v", back[2])
	}
}

func TestTransportErrorTemporary(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{0, true},
		{401, false},
		{404, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		e := &TransportError{Op: "send", StatusCode: tc.status, Err: errors.New("x")}
		if got := e.Temporary(); got != tc.want {
			t.Errorf("status %d: Temporary() = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestTransportErrorUnwrapsContext(t *testing.T) {
	err := error(&TransportError{Op: "send", Err: context.DeadlineExceeded})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected TransportError to unwrap to DeadlineExceeded")
	}
	if !IsTransportError(err) {
		t.Error("expected IsTransportError to be true")
	}
}
