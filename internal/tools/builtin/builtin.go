// Package builtin provides tools that run in-process: fetching a web page
// as markdown and a small persistent memory. They are exposed through a
// tools.Provider so the registry treats them like any remote provider.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/user/toolchat/internal/tools"
)

// ProviderID is the id the builtin provider registers under.
const ProviderID = "builtin"

// Tool is an executable in-process tool.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Provider serves a fixed set of Tools.
type Provider struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

var _ tools.Provider = (*Provider)(nil)

// NewProvider creates a provider holding ts, in order.
func NewProvider(ts ...Tool) *Provider {
	p := &Provider{tools: make(map[string]Tool)}
	for _, t := range ts {
		p.Add(t)
	}
	return p
}

// NewDefault returns read_url plus the memory tools backed by mem.
func NewDefault(mem *Memory) *Provider {
	return NewProvider(
		NewReadURL(),
		NewMemorySave(mem),
		NewMemoryList(mem),
		NewMemoryDelete(mem),
	)
}

// Add registers t, replacing any tool with the same name in place.
func (p *Provider) Add(t Tool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tools[t.Name()]; !ok {
		p.order = append(p.order, t.Name())
	}
	p.tools[t.Name()] = t
}

func (p *Provider) ID() string { return ProviderID }

// ListTools returns every tool in the order it was added.
func (p *Provider) ListTools(_ context.Context) ([]tools.Descriptor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]tools.Descriptor, 0, len(p.order))
	for _, name := range p.order {
		t := p.tools[name]
		var schema map[string]any
		if err := json.Unmarshal(t.Parameters(), &schema); err != nil {
			return nil, fmt.Errorf("schema of %s: %w", name, err)
		}
		out = append(out, tools.Descriptor{
			Name:        name,
			Description: t.Description(),
			InputSchema: schema,
		})
	}
	return out, nil
}

// CallTool runs the named tool with args re-encoded as JSON.
func (p *Provider) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	p.mu.RLock()
	t, ok := p.tools[name]
	p.mu.RUnlock()
	if !ok {
		return "", &tools.ToolNotFoundError{Name: name}
	}
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode args: %w", err)
	}
	return t.Execute(ctx, raw)
}
