package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/toolchat/pkg/llm"
)

// DefaultDiscoveryTimeout bounds each provider's tools/list during Discover.
const DefaultDiscoveryTimeout = 15 * time.Second

// DefaultRetryInterval is the minimum time between discoveries that
// EnsureDiscovered repeats because a provider failed.
const DefaultRetryInterval = 30 * time.Second

// ErrorPrefix starts the text returned for a failed provider call.
const ErrorPrefix = "Error: "

// Registry composes providers behind a single dispatch-by-name facade.
//
// Discover builds a fresh catalog and swaps it in whole, so Invoke always
// sees either the old or the new binding table. When two providers
// declare the same tool name, the provider registered first owns it.
type Registry struct {
	logger        *slog.Logger
	timeout       time.Duration
	retryInterval time.Duration
	now           func() time.Time

	mu            sync.RWMutex
	providers     []Provider
	catalog       *catalog
	discovered    bool
	lastDiscovery time.Time
}

type catalog struct {
	entries  []Entry
	owners   map[string]Provider
	failures map[string]error
}

// Option configures a Registry.
type Option func(*Registry)

// WithDiscoveryTimeout sets the per-provider listing timeout.
func WithDiscoveryTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRetryInterval sets how long EnsureDiscovered waits before listing
// again after a provider failed.
func WithRetryInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.retryInterval = d
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:        logger.With("component", "tools"),
		timeout:       DefaultDiscoveryTimeout,
		retryInterval: DefaultRetryInterval,
		now:           time.Now,
		catalog:       &catalog{owners: map[string]Provider{}, failures: map[string]error{}},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register appends a provider. Registration order decides name conflicts
// and declaration order. It takes effect on the next Discover.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
}

// Providers returns the registered providers in registration order.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Discover lists every provider concurrently and replaces the catalog. A
// provider that fails contributes no tools; its error is kept for
// Failures. The returned entries are in declaration order.
func (r *Registry) Discover(ctx context.Context) []Entry {
	providers := r.Providers()

	listed := make([][]Descriptor, len(providers))
	errs := make([]error, len(providers))

	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			descs, err := p.ListTools(lctx)
			if err != nil {
				errs[i] = err
				return nil
			}
			listed[i] = descs
			return nil
		})
	}
	_ = g.Wait()

	next := &catalog{
		owners:   make(map[string]Provider),
		failures: make(map[string]error),
	}
	for i, p := range providers {
		if errs[i] != nil {
			next.failures[p.ID()] = errs[i]
			r.logger.Warn("tool discovery failed", "provider", p.ID(), "error", errs[i])
			continue
		}
		for _, d := range listed[i] {
			if owner, taken := next.owners[d.Name]; taken {
				r.logger.Warn("duplicate tool name, keeping first provider",
					"tool", d.Name, "owner", owner.ID(), "ignored", p.ID())
				continue
			}
			next.owners[d.Name] = p
			next.entries = append(next.entries, Entry{ProviderID: p.ID(), Descriptor: d})
		}
		r.logger.Debug("tools discovered", "provider", p.ID(), "count", len(listed[i]))
	}

	r.mu.Lock()
	r.catalog = next
	r.discovered = true
	r.lastDiscovery = r.now()
	r.mu.Unlock()

	r.logger.Info("tool discovery complete",
		"providers", len(providers),
		"tools", len(next.entries),
		"failed", len(next.failures),
	)

	out := make([]Entry, len(next.entries))
	copy(out, next.entries)
	return out
}

// EnsureDiscovered runs Discover if it has never run, or if the last run
// had failed providers and the retry interval has passed since. Once a
// catalog exists, concurrent callers start at most one retry per interval.
func (r *Registry) EnsureDiscovered(ctx context.Context) {
	r.mu.Lock()
	due := !r.discovered ||
		(len(r.catalog.failures) > 0 && r.now().Sub(r.lastDiscovery) >= r.retryInterval)
	if due && r.discovered {
		r.lastDiscovery = r.now()
		r.logger.Info("retrying tool discovery", "failed", len(r.catalog.failures))
	}
	r.mu.Unlock()
	if due {
		r.Discover(ctx)
	}
}

// Entries returns the current catalog in declaration order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.catalog.entries))
	copy(out, r.catalog.entries)
	return out
}

// Failures returns the discovery error of each provider that failed in
// the last Discover, keyed by provider id.
func (r *Registry) Failures() map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]error, len(r.catalog.failures))
	for k, v := range r.catalog.failures {
		out[k] = v
	}
	return out
}

// Owner returns the id of the provider that owns name.
func (r *Registry) Owner(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.catalog.owners[name]
	if !ok {
		return "", false
	}
	return p.ID(), true
}

// Declarations converts the catalog to the model's tool format. The order
// is stable for an unchanged catalog.
func (r *Registry) Declarations() []llm.ToolDeclaration {
	entries := r.Entries()
	out := make([]llm.ToolDeclaration, 0, len(entries))
	for _, e := range entries {
		schema := e.Descriptor.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, llm.ToolDeclaration{
			Name:        e.Descriptor.Name,
			Description: e.Descriptor.Description,
			Parameters:  schema,
		})
	}
	return out
}

// Invoke calls the tool called name. Arguments that do not decode to an
// object are replaced by an empty object. A provider failure is returned
// as text starting with ErrorPrefix and a nil error, so the caller can
// hand it to the model; only an unknown name is an error.
func (r *Registry) Invoke(ctx context.Context, name, arguments string) (string, error) {
	r.mu.RLock()
	p, ok := r.catalog.owners[name]
	r.mu.RUnlock()
	if !ok {
		return "", &ToolNotFoundError{Name: name}
	}

	args, valid := ParseArguments(arguments)
	if !valid {
		r.logger.Warn("malformed tool arguments, using empty object",
			"tool", name, "arguments", truncate(arguments, 200))
	}

	start := time.Now()
	result, err := p.CallTool(ctx, name, args)
	if err != nil {
		r.logger.Warn("tool call failed",
			"tool", name, "provider", p.ID(), "error", err, "elapsed", time.Since(start))
		return ErrorPrefix + err.Error(), nil
	}
	r.logger.Debug("tool call complete",
		"tool", name, "provider", p.ID(), "result_len", len(result), "elapsed", time.Since(start))
	return result, nil
}

// Describe renders the catalog as "- name: description" lines.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, e := range r.Entries() {
		fmt.Fprintf(&b, "- %s: %s\n", e.Descriptor.Name, e.Descriptor.Description)
	}
	return b.String()
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
