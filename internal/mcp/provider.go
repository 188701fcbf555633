package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/user/toolchat/internal/tools"
	"github.com/user/toolchat/pkg/llm"
)

// Provider exposes an MCP server as a tools.Provider. The handshake runs
// lazily on first use and is retried on the next call if it fails. A 404
// means the server no longer knows the session (it restarted), so the
// session is dropped and the call is repeated once after a new handshake.
type Provider struct {
	client *Client

	mu          sync.Mutex
	initialized bool
}

var _ tools.Provider = (*Provider)(nil)

// NewProvider wraps client.
func NewProvider(client *Client) *Provider {
	return &Provider{client: client}
}

// NewHTTPProvider builds a provider backed by an HTTPTransport.
func NewHTTPProvider(name string, cfg HTTPConfig) *Provider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Logger = logger.With("mcp_server", name)
	return NewProvider(NewClient(name, NewHTTPTransport(cfg), logger))
}

// ID returns the configured server name.
func (p *Provider) ID() string {
	return p.client.Name()
}

// Client returns the underlying client.
func (p *Provider) Client() *Client {
	return p.client
}

// ListTools initializes the session if needed and lists the server's tools.
func (p *Provider) ListTools(ctx context.Context) ([]tools.Descriptor, error) {
	var defs []ToolDefinition
	err := p.withSession(ctx, func() error {
		var err error
		defs, err = p.client.ListTools(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]tools.Descriptor, 0, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			continue
		}
		out = append(out, tools.Descriptor{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return out, nil
}

// CallTool initializes the session if needed and calls the tool.
func (p *Provider) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	var out string
	err := p.withSession(ctx, func() error {
		var err error
		out, err = p.client.CallTool(ctx, name, args)
		return err
	})
	return out, err
}

// Close closes the client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Ping runs the handshake if needed and checks the server answers.
func (p *Provider) Ping(ctx context.Context) error {
	return p.withSession(ctx, func() error {
		return p.client.Ping(ctx)
	})
}

func (p *Provider) ensureInitialized(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}
	if err := p.client.Initialize(ctx); err != nil {
		return err
	}
	p.initialized = true
	return nil
}

func (p *Provider) withSession(ctx context.Context, fn func() error) error {
	if err := p.ensureInitialized(ctx); err != nil {
		return err
	}
	err := fn()
	if !sessionExpired(err) {
		return err
	}
	p.client.logger.Info("MCP session expired, reinitializing", "error", err)
	p.reset()
	if err := p.ensureInitialized(ctx); err != nil {
		return err
	}
	return fn()
}

func (p *Provider) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = false
	p.client.ResetSession()
}

func sessionExpired(err error) bool {
	var te *llm.TransportError
	return errors.As(err, &te) && te.StatusCode == http.StatusNotFound
}
