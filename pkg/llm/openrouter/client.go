// Package openrouter implements llm.Provider for OpenRouter's
// OpenAI-compatible chat completions endpoint.
package openrouter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/user/toolchat/internal/httpkit"
	"github.com/user/toolchat/pkg/llm"
)

// DefaultBaseURL is OpenRouter's API root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// DefaultModel is used when neither the request nor the config names one.
const DefaultModel = "tngtech/deepseek-r1t2-chimera:free"

// Model is a model identifier with a display name.
type Model struct {
	ID   string
	Name string
}

// KnownModels lists the models offered for selection. Any other OpenRouter
// identifier is accepted as well.
var KnownModels = []Model{
	{ID: "tngtech/deepseek-r1t2-chimera:free", Name: "DeepSeek Chimera"},
	{ID: "amazon/nova-2-lite-v1:free", Name: "Amazon Nova Lite"},
	{ID: "google/gemma-3n-e4b-it:free", Name: "Google Gemma"},
}

// Client implements llm.Provider.
type Client struct {
	config *llm.Config
	api    *openai.Client
	logger *slog.Logger
}

var _ llm.Provider = (*Client)(nil)

// New creates a client. Empty BaseURL and Model fall back to the OpenRouter
// defaults; Referer and Title become the HTTP-Referer and X-Title headers.
func New(config *llm.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := *config
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	opts := []httpkit.ClientOption{
		httpkit.WithHeaders(map[string]string{
			"HTTP-Referer": cfg.Referer,
			"X-Title":      cfg.Title,
		}),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, httpkit.WithTimeout(cfg.Timeout))
	}

	apiConfig := openai.DefaultConfig(cfg.APIKey)
	apiConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	apiConfig.HTTPClient = httpkit.NewClient(opts...)

	return &Client{
		config: &cfg,
		api:    openai.NewClientWithConfig(apiConfig),
		logger: logger.With("component", "openrouter"),
	}
}

// Model returns the default model identifier.
func (c *Client) Model() string {
	return c.config.Model
}

// Send performs one chat completion call.
func (c *Client) Send(ctx context.Context, req *llm.Request) (*llm.AssistantTurn, error) {
	if len(req.Conversation) == 0 {
		return nil, llm.ErrEmptyConversation
	}

	model := req.Model
	if model == "" {
		model = c.config.Model
		c.logger.Debug("no model selected, using default", "model", model)
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}

	apiReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  toMessages(req.Conversation),
		MaxTokens: maxTokens,
		Tools:     toTools(req.Tools),
	}
	if req.ToolChoice != "" {
		apiReq.ToolChoice = string(req.ToolChoice)
	}

	resp, err := c.api.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, transportError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &llm.ProtocolViolation{Reason: "no choices in response"}
	}

	choice := resp.Choices[0]
	turn := &llm.AssistantTurn{
		Content:      choice.Message.Content,
		FinishReason: llm.ParseFinishReason(string(choice.FinishReason)),
	}
	for _, tc := range choice.Message.ToolCalls {
		turn.ToolCalls = append(turn.ToolCalls, llm.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if resp.Usage.TotalTokens > 0 {
		turn.Usage = &llm.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	if turn.Content == "" && len(turn.ToolCalls) == 0 {
		return nil, &llm.ProtocolViolation{
			Reason: fmt.Sprintf("empty assistant message (finish reason %q)", choice.FinishReason),
		}
	}

	c.logger.Debug("chat completion",
		"model", model,
		"finish_reason", turn.FinishReason,
		"tool_calls", len(turn.ToolCalls),
		"total_tokens", resp.Usage.TotalTokens,
	)
	return turn, nil
}

func toMessages(conv llm.Conversation) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(conv))
	for _, t := range conv {
		msg := openai.ChatCompletionMessage{
			Role:    string(t.Role()),
			Content: t.Text(),
		}
		switch v := t.(type) {
		case llm.AssistantTurn:
			msg.ToolCalls = toToolCalls(v.ToolCalls)
		case *llm.AssistantTurn:
			msg.ToolCalls = toToolCalls(v.ToolCalls)
		case llm.ToolResultTurn:
			msg.ToolCallID = v.CallID
		case *llm.ToolResultTurn:
			msg.ToolCallID = v.CallID
		}
		out = append(out, msg)
	}
	return out
}

func toToolCalls(calls []llm.ToolCallRequest) []openai.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]openai.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return out
}

func toTools(decls []llm.ToolDeclaration) []openai.Tool {
	if len(decls) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(decls))
	for _, d := range decls {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

// transportError classifies a go-openai failure, keeping the HTTP status
// when the library reports one.
func transportError(err error) error {
	te := &llm.TransportError{Op: "chat completion", Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		te.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		te.StatusCode = reqErr.HTTPStatusCode
	}
	return te
}
