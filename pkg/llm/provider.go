package llm

import (
	"context"
	"time"
)

// Provider sends a conversation to a chat completion endpoint and returns the
// single assistant turn it produced.
//
// A successful turn always has non-empty Content or at least one ToolCall.
// Failures are *TransportError or *ProtocolViolation. Providers never retry;
// callers that want retries repeat the whole Send.
type Provider interface {
	Send(ctx context.Context, req *Request) (*AssistantTurn, error)
}

// Request is one call to a Provider.
type Request struct {
	// Model overrides the provider's default model when non-empty.
	Model        string
	Conversation Conversation
	// MaxTokens caps the completion; 0 means unlimited.
	MaxTokens  int
	Tools      []ToolDeclaration
	ToolChoice ToolChoice
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	// Referer and Title are sent as attribution headers when set.
	Referer string
	Title   string
	Timeout time.Duration
}
