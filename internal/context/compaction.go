package context

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/toolchat/pkg/llm"
)

// SummaryMarker prefixes the synthetic turn that replaces compacted history.
const SummaryMarker = "[PRIOR CONVERSATION SUMMARY]: "

// DefaultSummaryMaxTokens caps the summarization call.
const DefaultSummaryMaxTokens = 500

const summaryTemplate = `Create a brief summary of the following conversation, keeping the key topics and important information.
The summary must be short (2-3 sentences) and contain only the most important points.

Conversation:
%s

Your summary:`

// Result is the outcome of a compaction.
type Result struct {
	// Summary is nil when nothing was compacted.
	Summary llm.Turn
	Recent  llm.Conversation
	// Compacted is the number of turns folded into Summary.
	Compacted int
	// Fallback is set when Summary was synthesized without the model.
	Fallback bool
}

// Conversation returns Summary followed by Recent.
func (r Result) Conversation() llm.Conversation {
	if r.Summary == nil {
		return r.Recent.Clone()
	}
	out := make(llm.Conversation, 0, len(r.Recent)+1)
	out = append(out, r.Summary)
	return append(out, r.Recent...)
}

// Compactor replaces the old prefix of a conversation with one summary turn.
type Compactor struct {
	provider  llm.Provider
	maxTokens int
	logger    *slog.Logger
}

// NewCompactor creates a Compactor that summarizes through provider.
// maxTokens <= 0 means DefaultSummaryMaxTokens.
func NewCompactor(provider llm.Provider, maxTokens int, logger *slog.Logger) *Compactor {
	if maxTokens <= 0 {
		maxTokens = DefaultSummaryMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{
		provider:  provider,
		maxTokens: maxTokens,
		logger:    logger.With("component", "compaction"),
	}
}

// Compact keeps the last window turns verbatim and folds everything before
// them into a single user turn. A conversation of at most window turns is
// returned unchanged. Compact never fails: if summarization does not
// produce text, a summary stating the number of compacted turns is used.
func (c *Compactor) Compact(ctx context.Context, model string, conv llm.Conversation, window int) llm.Conversation {
	return c.Split(ctx, model, conv, window).Conversation()
}

// Split is Compact with the pieces kept apart.
func (c *Compactor) Split(ctx context.Context, model string, conv llm.Conversation, window int) Result {
	if window < 0 {
		window = 0
	}
	if len(conv) <= window {
		return Result{Recent: conv.Clone()}
	}

	cut := len(conv) - window
	old, recent := conv[:cut], conv[cut:].Clone()

	summary, err := c.summarize(ctx, model, old)
	if err != nil {
		c.logger.Warn("summarization failed, using fallback", "turns", len(old), "error", err)
		return Result{
			Summary:   FallbackSummary(len(old)),
			Recent:    recent,
			Compacted: len(old),
			Fallback:  true,
		}
	}

	c.logger.Info("conversation compacted", "compacted", len(old), "kept", len(recent))
	return Result{
		Summary:   llm.UserTurn{Content: SummaryMarker + summary},
		Recent:    recent,
		Compacted: len(old),
	}
}

func (c *Compactor) summarize(ctx context.Context, model string, old llm.Conversation) (string, error) {
	if c.provider == nil {
		return "", fmt.Errorf("no provider configured")
	}
	turn, err := c.provider.Send(ctx, &llm.Request{
		Model:        model,
		Conversation: llm.Conversation{llm.UserTurn{Content: SummaryPrompt(old)}},
		MaxTokens:    c.maxTokens,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(turn.Content)
	if text == "" {
		return "", fmt.Errorf("empty summary")
	}
	return text, nil
}

// FallbackSummary is used when the model cannot summarize.
func FallbackSummary(n int) llm.UserTurn {
	return llm.UserTurn{Content: fmt.Sprintf("%s%d earlier turns were compacted", SummaryMarker, n)}
}

// SummaryPrompt renders turns as "Label: content" lines inside the
// summarization instructions.
func SummaryPrompt(turns llm.Conversation) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.Role().Label()+": "+renderContent(t))
	}
	return fmt.Sprintf(summaryTemplate, strings.Join(lines, "\n"))
}

func renderContent(t llm.Turn) string {
	if t.Text() != "" {
		return t.Text()
	}
	var calls []llm.ToolCallRequest
	switch v := t.(type) {
	case llm.AssistantTurn:
		calls = v.ToolCalls
	case *llm.AssistantTurn:
		calls = v.ToolCalls
	}
	if len(calls) == 0 {
		return ""
	}
	names := make([]string, len(calls))
	for i, tc := range calls {
		names[i] = tc.Name
	}
	return "[requested tools: " + strings.Join(names, ", ") + "]"
}
