package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	ctxengine "github.com/user/toolchat/internal/context"
	"github.com/user/toolchat/internal/gateway"
	"github.com/user/toolchat/internal/types"
	"github.com/user/toolchat/pkg/llm"
)

// Discoverer is implemented by tool registries that list their tools
// lazily. *tools.Registry satisfies it.
type Discoverer interface {
	EnsureDiscovered(ctx context.Context)
}

// FactSource supplies remembered facts for the system prompt.
type FactSource interface {
	Facts() ([]string, error)
}

// Config holds the per-request settings of a Runtime.
type Config struct {
	Model     string
	MaxTokens int

	Compaction       bool
	CompactThreshold int
	RecentWindow     int
}

// Runtime runs one request cycle per inbound message: load the stored
// conversation, append the user turn, run the loop, append the final
// answer, compact when due and save. Only user turns and final answers
// are stored; the tool exchange of a run is transient.
type Runtime struct {
	loop      *Loop
	tools     Invoker
	store     types.ConversationStore
	engine    *ctxengine.Engine
	compactor *ctxengine.Compactor
	facts     FactSource
	config    Config
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithFacts sets the source of remembered facts.
func WithFacts(f FactSource) Option {
	return func(rt *Runtime) { rt.facts = f }
}

// WithRuntimeLogger sets the runtime's logger.
func WithRuntimeLogger(logger *slog.Logger) Option {
	return func(rt *Runtime) {
		if logger != nil {
			rt.logger = logger.With("component", "runtime")
		}
	}
}

// New creates a Runtime. tools may be nil.
func New(
	loop *Loop,
	tools Invoker,
	store types.ConversationStore,
	engine *ctxengine.Engine,
	compactor *ctxengine.Compactor,
	cfg Config,
	opts ...Option,
) *Runtime {
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 10
	}
	if cfg.CompactThreshold <= 0 {
		cfg.CompactThreshold = 10
	}
	rt := &Runtime{
		loop:      loop,
		tools:     tools,
		store:     store,
		engine:    engine,
		compactor: compactor,
		config:    cfg,
		logger:    slog.Default().With("component", "runtime"),
		now:       time.Now,
	}
	for _, o := range opts {
		o(rt)
	}
	return rt
}

// Config returns the runtime's settings.
func (rt *Runtime) Config() Config {
	return rt.config
}

// Process answers text within the conversation named key.
func (rt *Runtime) Process(ctx context.Context, key types.ConversationKey, text string) (string, error) {
	if d, ok := rt.tools.(Discoverer); ok {
		d.EnsureDiscovered(ctx)
	}

	conv, err := rt.store.Load(ctx, key)
	if err != nil {
		return "", fmt.Errorf("load conversation: %w", err)
	}
	conv = append(conv, llm.UserTurn{Content: text})

	prompt, err := rt.systemPrompt()
	if err != nil {
		return "", err
	}

	res, err := rt.loop.Run(ctx, Request{
		Model:        rt.config.Model,
		Conversation: conv,
		SystemPrompt: prompt,
		MaxTokens:    rt.config.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	conv = append(conv, finalAnswer(res.Final))

	if rt.config.Compaction && rt.engine != nil && rt.engine.ShouldCompact(conv, rt.config.CompactThreshold) {
		conv = rt.compactor.Compact(ctx, rt.config.Model, conv, rt.config.RecentWindow)
	}

	if err := rt.store.Save(ctx, key, conv); err != nil {
		return "", fmt.Errorf("save conversation: %w", err)
	}

	rt.logger.Info("request complete",
		"conversation", string(key),
		"iterations", res.Iterations,
		"tool_calls", res.ToolCalls,
		"total_tokens", res.Usage.TotalTokens,
		"stored_turns", len(conv),
	)
	return res.Content, nil
}

// finalAnswer strips tool calls from the closing turn. A turn that ends
// for another reason (length, content filter) can carry calls that never
// ran, and stored calls must always be followed by their results.
func finalAnswer(t *llm.AssistantTurn) llm.AssistantTurn {
	return llm.AssistantTurn{
		Content:      t.Content,
		Usage:        t.Usage,
		FinishReason: t.FinishReason,
	}
}

// ProcessRun adapts Process to the gateway queue.
func (rt *Runtime) ProcessRun(run *gateway.Run) error {
	resp, err := rt.Process(run.Context(), run.Key, run.Event.Text)
	if err != nil {
		return err
	}
	if run.OnComplete != nil {
		run.OnComplete(resp)
	}
	return nil
}

// History returns the stored turns of key.
func (rt *Runtime) History(ctx context.Context, key types.ConversationKey) (llm.Conversation, error) {
	return rt.store.Load(ctx, key)
}

// Reset deletes the conversation named key.
func (rt *Runtime) Reset(ctx context.Context, key types.ConversationKey) error {
	return rt.store.Delete(ctx, key)
}

// Compact compacts key's stored history now, regardless of the trigger.
// It returns the number of turns folded into the summary.
func (rt *Runtime) Compact(ctx context.Context, key types.ConversationKey) (int, error) {
	conv, err := rt.store.Load(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("load conversation: %w", err)
	}
	res := rt.compactor.Split(ctx, rt.config.Model, conv, rt.config.RecentWindow)
	if res.Compacted == 0 {
		return 0, nil
	}
	if err := rt.store.Save(ctx, key, res.Conversation()); err != nil {
		return 0, fmt.Errorf("save conversation: %w", err)
	}
	return res.Compacted, nil
}

func (rt *Runtime) systemPrompt() (string, error) {
	if rt.engine == nil {
		return "", nil
	}
	var decls []llm.ToolDeclaration
	if rt.tools != nil {
		decls = rt.tools.Declarations()
	}
	var facts []string
	if rt.facts != nil {
		f, err := rt.facts.Facts()
		if err != nil {
			rt.logger.Warn("could not read memory", "error", err)
		}
		facts = f
	}
	prompt, err := rt.engine.SystemPrompt(ctxengine.NewPromptData(rt.now(), rt.config.Model, decls, facts))
	if err != nil {
		return "", fmt.Errorf("build system prompt: %w", err)
	}
	return prompt, nil
}
