// Package mcp is a client for tool providers that speak the Model Context
// Protocol: JSON-RPC 2.0 carried over HTTP POST. Responses may come back as
// a plain JSON body or as a single server-sent event frame, and a session
// id handed out by the server is echoed on every later request.
//
// Only the client side is implemented. Provider adapts a Client to the
// tools.Provider interface so the registry can route calls to it.
package mcp
