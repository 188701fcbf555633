package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	ctxengine "github.com/user/toolchat/internal/context"
	"github.com/user/toolchat/internal/config"
	"github.com/user/toolchat/internal/mcp"
	"github.com/user/toolchat/internal/monitor"
	"github.com/user/toolchat/internal/runtime"
	"github.com/user/toolchat/internal/state"
	"github.com/user/toolchat/internal/tools"
	"github.com/user/toolchat/internal/tools/builtin"
	"github.com/user/toolchat/internal/types"
	"github.com/user/toolchat/pkg/llm"
	"github.com/user/toolchat/pkg/llm/openrouter"
)

// app holds the components shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider *openrouter.Client
	registry *tools.Registry
	mcp      []*mcp.Provider
	memory   *builtin.Memory

	conversations types.ConversationStore
	prices        types.PriceHistory
	watches       *state.WatchStore
	sqlite        *state.SQLiteStore

	engine  *ctxengine.Engine
	runtime *runtime.Runtime
	monitor *monitor.Monitor
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}

	switch cfg.Storage.Driver {
	case "", "file":
		a.conversations = state.NewFileConversationStore(cfg.DataDir)
		a.prices = state.NewFilePriceHistory(cfg.DataDir)
	case "sqlite":
		db, err := state.OpenSQLite(filepath.Join(cfg.DataDir, "toolchat.db"))
		if err != nil {
			return nil, err
		}
		a.sqlite = db
		a.conversations = db
		a.prices = db
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Storage.Driver)
	}
	a.watches = state.NewWatchStore(filepath.Join(cfg.DataDir, "watches.json"))

	a.provider = openrouter.New(&llm.Config{
		BaseURL:   cfg.LLM.BaseURL,
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Referer:   cfg.LLM.Referer,
		Title:     cfg.LLM.Title,
		Timeout:   seconds(cfg.LLM.TimeoutSeconds),
	}, logger)

	a.registry = tools.NewRegistry(logger, tools.WithDiscoveryTimeout(seconds(cfg.Tools.DiscoveryTimeoutSeconds)))
	for _, p := range cfg.Tools.Providers {
		if p.Disabled {
			continue
		}
		mp := mcp.NewHTTPProvider(p.Name, mcp.HTTPConfig{
			URL:     p.URL,
			Headers: p.Headers,
			Timeout: seconds(p.TimeoutSeconds),
			Logger:  logger,
		})
		a.mcp = append(a.mcp, mp)
		a.registry.Register(mp)
	}
	a.memory = builtin.NewMemory(filepath.Join(cfg.DataDir, "memory.md"))
	if cfg.Tools.Builtin {
		a.registry.Register(builtin.NewDefault(a.memory))
	}

	engine, err := ctxengine.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens)
	if err != nil {
		return nil, fmt.Errorf("create context engine: %w", err)
	}
	a.engine = engine
	compactor := ctxengine.NewCompactor(a.provider, cfg.Compaction.SummaryMaxTokens, logger)

	chatLoop := runtime.NewLoop(a.provider, a.registry, cfg.Tools.MaxIterations,
		runtime.WithConcurrency(cfg.Tools.Concurrency), runtime.WithLogger(logger))
	a.runtime = runtime.New(chatLoop, a.registry, a.conversations, engine, compactor, runtime.Config{
		Model:            cfg.LLM.Model,
		MaxTokens:        cfg.LLM.MaxTokens,
		Compaction:       cfg.Compaction.Enabled,
		CompactThreshold: cfg.Compaction.Threshold,
		RecentWindow:     cfg.Compaction.RecentWindow,
	}, runtime.WithFacts(a.memory), runtime.WithRuntimeLogger(logger))

	model := cfg.Monitor.Model
	if model == "" {
		model = cfg.LLM.Model
	}
	analysisLoop := runtime.NewLoop(a.provider, a.registry, runtime.AnalysisIterations, runtime.WithLogger(logger))
	a.monitor = monitor.New(analysisLoop, a.registry, a.prices,
		monitor.NewPriceFeed(cfg.Monitor.PriceFeedURL, seconds(cfg.LLM.TimeoutSeconds)),
		monitor.Config{Model: model, MaxTokens: cfg.Monitor.MaxTokens, ReportTool: cfg.Monitor.ReportTool},
		monitor.WithRecorder(a.watches), monitor.WithLogger(logger))

	return a, nil
}

// discover lists the tools of every provider once.
func (a *app) discover(ctx context.Context) {
	entries := a.registry.Discover(ctx)
	for id, err := range a.registry.Failures() {
		a.logger.Warn("tool provider unavailable", "provider", id, "error", err)
	}
	a.logger.Debug("tools discovered", "count", len(entries))
}

func (a *app) close() {
	for _, p := range a.mcp {
		if err := p.Close(); err != nil {
			a.logger.Debug("close mcp provider", "provider", p.ID(), "error", err)
		}
	}
	if a.sqlite != nil {
		a.sqlite.Close()
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// mustApp builds the app for a command or exits.
func mustApp() *app {
	cfg := loadConfig()
	logger := setupLogging(cfg)
	a, err := newApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return a
}
