// Package tools discovers tools from a set of providers and routes calls
// to the provider that owns each tool name.
package tools

import "context"

// Descriptor describes one tool as declared by its provider.
type Descriptor struct {
	Name        string
	Description string
	// InputSchema is the JSON schema of the arguments object. It is passed
	// through untouched; validation is the provider's job.
	InputSchema map[string]any
}

// Provider is a source of tools: an MCP server or an in-process set.
type Provider interface {
	// ID names the provider in logs and failure reports.
	ID() string
	ListTools(ctx context.Context) ([]Descriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Entry binds a discovered tool to the provider that owns it.
type Entry struct {
	ProviderID string
	Descriptor Descriptor
}
