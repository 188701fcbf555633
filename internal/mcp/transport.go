package mcp

import "context"

// Transport delivers JSON-RPC messages to one MCP server.
type Transport interface {
	// Send delivers req and returns the decoded response.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify delivers a notification. Only the delivery status is checked.
	Notify(ctx context.Context, notif *Notification) error

	// Close releases resources held by the transport.
	Close() error
}
