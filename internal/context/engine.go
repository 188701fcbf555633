// Package context manages what the model sees: token accounting, the
// system prompt, and compaction of long histories.
package context

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/toolchat/pkg/llm"
)

// perTurnOverhead approximates the role and framing tokens of one message.
const perTurnOverhead = 4

// Engine counts tokens and renders the system prompt.
type Engine struct {
	tokenizer        *tiktoken.Tiktoken
	maxContextTokens int
	prompt           *template.Template
}

// New creates an engine. model selects the tokenizer; unknown models use
// cl100k_base. maxContextTokens <= 0 disables the token trigger of
// ShouldCompact.
func New(model string, maxContextTokens int) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	tmpl, err := template.New("system").Parse(DefaultPrompt)
	if err != nil {
		return nil, fmt.Errorf("parse system prompt: %w", err)
	}
	return &Engine{
		tokenizer:        enc,
		maxContextTokens: maxContextTokens,
		prompt:           tmpl,
	}, nil
}

// SetPromptTemplate replaces DefaultPrompt with a custom template using
// the PromptData fields.
func (e *Engine) SetPromptTemplate(text string) error {
	tmpl, err := template.New("system").Parse(text)
	if err != nil {
		return fmt.Errorf("parse system prompt: %w", err)
	}
	e.prompt = tmpl
	return nil
}

// CountText returns the token count of s.
func (e *Engine) CountText(s string) int {
	return len(e.tokenizer.Encode(s, nil, nil))
}

// CountTokens estimates the prompt size of conv.
func (e *Engine) CountTokens(conv llm.Conversation) int {
	total := 0
	for _, t := range conv {
		total += perTurnOverhead + e.CountText(t.Text())
		if at, ok := t.(llm.AssistantTurn); ok {
			for _, tc := range at.ToolCalls {
				total += e.CountText(tc.Name) + e.CountText(tc.Arguments)
			}
		}
	}
	return total
}

// ShouldCompact reports whether conv has reached threshold turns or
// exceeds the token budget.
func (e *Engine) ShouldCompact(conv llm.Conversation, threshold int) bool {
	if threshold > 0 && len(conv) >= threshold {
		return true
	}
	return e.maxContextTokens > 0 && e.CountTokens(conv) > e.maxContextTokens
}

// PromptData feeds the system prompt template.
type PromptData struct {
	Time   string
	Model  string
	Tools  []llm.ToolDeclaration
	Memory []string
}

// NewPromptData fills Time from now.
func NewPromptData(now time.Time, model string, tools []llm.ToolDeclaration, memory []string) PromptData {
	return PromptData{
		Time:   now.Format(time.RFC3339),
		Model:  model,
		Tools:  tools,
		Memory: memory,
	}
}

// SystemPrompt renders the prompt template.
func (e *Engine) SystemPrompt(data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := e.prompt.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return buf.String(), nil
}
