// Package monitor runs scheduled price checks: the model fetches and
// analyzes the current price through its tools, the reading is stored,
// an optional report tool is called and a short notification is sent.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/user/toolchat/internal/runtime"
	"github.com/user/toolchat/internal/tools"
	"github.com/user/toolchat/internal/types"
	"github.com/user/toolchat/pkg/llm"
)

const (
	// DefaultReportTool is the file provider's report tool.
	DefaultReportTool = "save_bitcoin_report"
	// DefaultMaxTokens caps each completion of an analysis.
	DefaultMaxTokens = 500

	// noAnalysis stands in for an empty final answer.
	noAnalysis = "No analysis generated"
	// summaryRunes is how much of the analysis a notification carries.
	summaryRunes = 50
)

// ErrCheckRunning is returned when a check of the same watch is already
// in progress.
var ErrCheckRunning = errors.New("check already running")

// ToolSet is the tool registry as the monitor uses it. *tools.Registry
// satisfies it.
type ToolSet interface {
	runtime.Invoker
	Owner(name string) (string, bool)
}

// Notifier delivers a message to a conversation key. *delivery.Registry
// satisfies it.
type Notifier interface {
	Deliver(ctx context.Context, key, message string) error
}

// RunRecorder stores the outcome of each check. *state.WatchStore
// satisfies it.
type RunRecorder interface {
	RecordRun(name string, at time.Time, err error) error
}

// Config holds the analysis settings.
type Config struct {
	Model      string
	MaxTokens  int
	ReportTool string
}

// Monitor performs price checks for watches.
type Monitor struct {
	loop     *runtime.Loop
	tools    ToolSet
	history  types.PriceHistory
	feed     PriceSource
	notifier Notifier
	recorder RunRecorder
	config   Config
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running map[string]*sync.Mutex
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithNotifier sets where summaries are delivered.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// WithRecorder sets where check outcomes are recorded.
func WithRecorder(r RunRecorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger.With("component", "monitor")
		}
	}
}

// New creates a Monitor. The loop should be bounded to
// runtime.AnalysisIterations and use toolSet as its invoker.
func New(loop *runtime.Loop, toolSet ToolSet, history types.PriceHistory, feed PriceSource, cfg Config, opts ...Option) *Monitor {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	m := &Monitor{
		loop:    loop,
		tools:   toolSet,
		history: history,
		feed:    feed,
		config:  cfg,
		logger:  slog.Default().With("component", "monitor"),
		now:     time.Now,
		running: make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetNotifier sets where summaries are delivered. Call it before the
// first check.
func (m *Monitor) SetNotifier(n Notifier) {
	m.notifier = n
}

func (m *Monitor) lockFor(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.running[name]
	if !ok {
		l = &sync.Mutex{}
		m.running[name] = l
	}
	return l
}

// Check runs one price check for w and returns the stored reading.
// Checks of the same watch never overlap; a concurrent call returns
// ErrCheckRunning.
func (m *Monitor) Check(ctx context.Context, w *types.Watch) (*types.PriceReading, error) {
	lock := m.lockFor(w.Name)
	if !lock.TryLock() {
		return nil, ErrCheckRunning
	}
	defer lock.Unlock()

	reading, err := m.check(ctx, w)
	if m.recorder != nil {
		if rerr := m.recorder.RecordRun(w.Name, m.now(), err); rerr != nil {
			m.logger.Warn("could not record watch run", "watch", w.Name, "error", rerr)
		}
	}
	return reading, err
}

// Handle is a scheduler handler. Failures are logged and the next tick
// proceeds.
func (m *Monitor) Handle(ctx context.Context, w *types.Watch) {
	if _, err := m.Check(ctx, w); err != nil {
		if errors.Is(err, ErrCheckRunning) {
			m.logger.Debug("check skipped, previous still running", "watch", w.Name)
			return
		}
		m.logger.Error("price check failed", "watch", w.Name, "asset", w.Asset, "error", err)
	}
}

func (m *Monitor) check(ctx context.Context, w *types.Watch) (*types.PriceReading, error) {
	log := m.logger.With("watch", w.Name, "asset", w.Asset)
	start := m.now()

	previous, err := m.history.Latest(ctx, w.Asset)
	if err != nil {
		log.Warn("could not load previous reading", "error", err)
		previous = nil
	}

	res, err := m.loop.Run(ctx, runtime.Request{
		Model:        m.config.Model,
		SystemPrompt: AnalysisPrompt(w.Asset, previous),
		Conversation: llm.Conversation{llm.UserTurn{Content: UserPrompt(w.Asset)}},
		MaxTokens:    m.config.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", w.Asset, err)
	}
	analysis := strings.TrimSpace(res.Content)
	if analysis == "" {
		analysis = noAnalysis
	}

	var price float64
	if m.feed != nil {
		quote, err := m.feed.Price(ctx, w.Asset)
		if err != nil {
			log.Warn("price feed failed, storing zero price", "error", err)
		} else {
			price = quote.Price
		}
	}

	reading := &types.PriceReading{
		Asset:    w.Asset,
		Price:    price,
		Analysis: analysis,
		At:       m.now(),
	}
	if err := m.history.Append(ctx, reading); err != nil {
		return nil, fmt.Errorf("store reading: %w", err)
	}

	m.saveReport(ctx, log, reading, previous)

	if w.NotifyKey != "" && m.notifier != nil {
		if err := m.notifier.Deliver(ctx, w.NotifyKey, Summary(w.Asset, price, analysis)); err != nil {
			log.Warn("notification failed", "key", w.NotifyKey, "error", err)
		}
	}

	log.Info("price check complete",
		"price", price,
		"iterations", res.Iterations,
		"tool_calls", res.ToolCalls,
		"elapsed", m.now().Sub(start),
	)
	return reading, nil
}

func (m *Monitor) saveReport(ctx context.Context, log *slog.Logger, r *types.PriceReading, previous *types.PriceReading) {
	name := m.config.ReportTool
	if name == "" || m.tools == nil {
		return
	}
	if _, ok := m.tools.Owner(name); !ok {
		log.Debug("report tool not available", "tool", name)
		return
	}

	args := map[string]any{"content": r.Analysis, "price": r.Price}
	if previous != nil {
		args["previous_price"] = previous.Price
	}
	raw, err := json.Marshal(args)
	if err != nil {
		log.Warn("encode report arguments", "error", err)
		return
	}

	result, err := m.tools.Invoke(ctx, name, string(raw))
	switch {
	case err != nil:
		log.Warn("report failed", "tool", name, "error", err)
	case strings.HasPrefix(result, tools.ErrorPrefix):
		log.Warn("report failed", "tool", name, "result", result)
	default:
		log.Debug("report saved", "tool", name, "result", result)
	}
}

// AnalysisPrompt is the system turn of an analysis.
func AnalysisPrompt(asset string, previous *types.PriceReading) string {
	prev := "This is the first price check; there is no previous data."
	if previous != nil {
		prev = fmt.Sprintf("Previous stored price: $%s (time: %s)",
			formatPrice(previous.Price), previous.At.Local().Format("15:04:05"))
	}
	return fmt.Sprintf(`You are an assistant monitoring the %[1]s price.
You have access to tools that return information about crypto assets.
Use a tool such as get_asset_by_id with id=%[2]q to get the current %[1]s price.

%[3]s

Your task:
1. Get the current %[1]s price through a tool.
2. Compare it with the previous value.
3. Give a short analysis (2-3 sentences):
   - how the price changed (up, down or unchanged)
   - how significant the change is, in dollars and percent
   - whether the change deserves attention`, asset, asset, prev)
}

// UserPrompt is the user turn of an analysis.
func UserPrompt(asset string) string {
	return fmt.Sprintf("Check the current %s price and compare it with the previous value.", asset)
}

// Summary renders the notification text:
// "<ASSET>: $<price> - <first 50 characters of analysis>...".
func Summary(asset string, price float64, analysis string) string {
	runes := []rune(analysis)
	if len(runes) > summaryRunes {
		runes = runes[:summaryRunes]
	}
	return fmt.Sprintf("%s: $%s - %s...", strings.ToUpper(asset), formatPrice(price), string(runes))
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
