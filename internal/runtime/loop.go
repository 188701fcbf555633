package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/toolchat/internal/tools"
	"github.com/user/toolchat/pkg/llm"
)

// Iteration bounds used by the two kinds of flow.
const (
	ChatIterations     = 10
	AnalysisIterations = 5
)

// Invoker executes tool calls by name. *tools.Registry satisfies it.
type Invoker interface {
	Declarations() []llm.ToolDeclaration
	Invoke(ctx context.Context, name, arguments string) (string, error)
}

// State is the loop's position in its state machine.
type State string

const (
	StateThinking      State = "thinking"
	StateToolExecuting State = "tool_executing"
	StateDone          State = "done"
	StateAborted       State = "aborted"
)

// Loop alternates between the chat provider and tool execution until the
// model answers without requesting tools or the iteration bound is hit.
// A Loop holds no per-run state and may be shared.
type Loop struct {
	provider      llm.Provider
	tools         Invoker
	maxIterations int
	concurrency   int
	logger        *slog.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithConcurrency sets how many tool calls of one batch may run at once.
// Values below 2 run the batch sequentially.
func WithConcurrency(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// WithLogger sets the loop's logger.
func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoop creates a loop bounded to maxIterations transport calls. invoker
// may be nil, in which case no tools are declared.
func NewLoop(provider llm.Provider, invoker Invoker, maxIterations int, opts ...LoopOption) *Loop {
	if maxIterations <= 0 {
		maxIterations = ChatIterations
	}
	l := &Loop{
		provider:      provider,
		tools:         invoker,
		maxIterations: maxIterations,
		concurrency:   1,
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	l.logger = l.logger.With("component", "loop")
	return l
}

// MaxIterations returns the loop's bound.
func (l *Loop) MaxIterations() int {
	return l.maxIterations
}

// Request is the input of one loop run.
type Request struct {
	Model        string
	Conversation llm.Conversation
	// SystemPrompt, when set, is prepended as a system turn.
	SystemPrompt string
	// MaxTokens caps each completion; zero means unlimited.
	MaxTokens int
}

// Result is the outcome of a run. On failure it still carries the
// transcript accumulated up to the failure.
type Result struct {
	Content      string
	Final        *llm.AssistantTurn
	Conversation llm.Conversation
	Iterations   int
	ToolCalls    int
	Usage        llm.TokenUsage
	State        State
}

// Run executes the loop on a private copy of req.Conversation.
func (l *Loop) Run(ctx context.Context, req Request) (*Result, error) {
	conv := make(llm.Conversation, 0, len(req.Conversation)+1)
	if req.SystemPrompt != "" {
		conv = append(conv, llm.SystemTurn{Content: req.SystemPrompt})
	}
	conv = append(conv, req.Conversation...)

	var decls []llm.ToolDeclaration
	if l.tools != nil {
		decls = l.tools.Declarations()
	}
	var choice llm.ToolChoice
	if len(decls) > 0 {
		choice = llm.ToolChoiceAuto
	}

	res := &Result{State: StateThinking}
	log := l.logger.With("model", req.Model)
	transition := func(to State) {
		log.Debug("loop state", "from", res.State, "to", to, "iteration", res.Iterations)
		res.State = to
	}
	fail := func(err error) (*Result, error) {
		transition(StateAborted)
		res.Conversation = conv
		return res, err
	}

	for res.Iterations < l.maxIterations {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		res.Iterations++
		start := time.Now()
		turn, err := l.provider.Send(ctx, &llm.Request{
			Model:        req.Model,
			Conversation: conv.Clone(),
			MaxTokens:    req.MaxTokens,
			Tools:        decls,
			ToolChoice:   choice,
		})
		if err != nil {
			log.Warn("transport call failed", "iteration", res.Iterations, "error", err)
			return fail(fmt.Errorf("send (iteration %d): %w", res.Iterations, err))
		}
		res.Usage.Add(turn.Usage)
		conv = append(conv, *turn)

		log.Info("transport call",
			"iteration", res.Iterations,
			"finish_reason", turn.FinishReason,
			"tool_calls", len(turn.ToolCalls),
			"elapsed", time.Since(start),
		)

		if turn.FinishReason != llm.FinishToolCalls {
			transition(StateDone)
			res.Content = turn.Content
			res.Final = turn
			res.Conversation = conv
			return res, nil
		}

		if len(turn.ToolCalls) == 0 {
			return fail(&llm.ProtocolViolation{Reason: "finish reason tool_calls without any tool calls"})
		}

		transition(StateToolExecuting)
		results, err := l.executeBatch(ctx, turn.ToolCalls)
		for _, r := range results {
			conv = append(conv, r)
		}
		res.ToolCalls += len(results)
		if err != nil {
			return fail(err)
		}
		transition(StateThinking)
	}

	log.Warn("iteration bound reached", "limit", l.maxIterations)
	return fail(&MaxIterationsError{Limit: l.maxIterations})
}

// executeBatch runs one batch of tool calls and returns their results in
// request order. If ctx ends mid-batch, the results of the calls that did
// finish are returned, still in request order, together with ctx's error.
func (l *Loop) executeBatch(ctx context.Context, calls []llm.ToolCallRequest) ([]llm.ToolResultTurn, error) {
	slots := make([]*llm.ToolResultTurn, len(calls))

	g := new(errgroup.Group)
	g.SetLimit(l.concurrency)
	for i, call := range calls {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			content := l.invoke(ctx, call)
			slots[i] = &llm.ToolResultTurn{CallID: call.ID, Content: content}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]llm.ToolResultTurn, 0, len(calls))
	for _, s := range slots {
		if s != nil {
			out = append(out, *s)
		}
	}
	if err := ctx.Err(); err != nil {
		l.logger.Warn("tool batch cancelled", "requested", len(calls), "completed", len(out))
		return out, err
	}
	return out, nil
}

func (l *Loop) invoke(ctx context.Context, call llm.ToolCallRequest) string {
	if l.tools == nil {
		return tools.ErrorPrefix + (&tools.ToolNotFoundError{Name: call.Name}).Error()
	}

	start := time.Now()
	result, err := l.tools.Invoke(ctx, call.Name, call.Arguments)
	failed := err != nil
	if failed {
		result = tools.ErrorPrefix + err.Error()
	}
	l.logger.Info("tool invoked",
		"tool", call.Name,
		"call_id", call.ID,
		"error", failed,
		"elapsed", time.Since(start),
	)
	return result
}
