package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/user/toolchat/internal/httpkit"
	"github.com/user/toolchat/pkg/llm"
)

// SessionHeader carries the server-assigned session id.
const SessionHeader = "Mcp-Session-Id"

// sessionHeaders are checked in order when a response assigns a session.
var sessionHeaders = []string{SessionHeader, "mcp-session-id", "X-Session-Id"}

const maxResponseBody = 10 << 20

// HTTPConfig configures an HTTPTransport.
type HTTPConfig struct {
	// URL is the MCP endpoint every message is POSTed to.
	URL string

	// Headers are sent with every request, e.g. Authorization.
	Headers map[string]string

	// Timeout bounds each request. Zero means httpkit's default.
	Timeout time.Duration

	Logger *slog.Logger
}

// HTTPTransport sends each JSON-RPC message as an HTTP POST.
type HTTPTransport struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.RWMutex
	sessionID string
}

// NewHTTPTransport creates a transport for cfg.URL.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts []httpkit.ClientOption
	if cfg.Timeout > 0 {
		opts = append(opts, httpkit.WithTimeout(cfg.Timeout))
	}

	return &HTTPTransport{
		url:        cfg.URL,
		headers:    cfg.Headers,
		httpClient: httpkit.NewClient(opts...),
		logger:     logger,
	}
}

// SessionID returns the session id captured from the last response that
// carried one.
func (t *HTTPTransport) SessionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID
}

// ResetSession forgets the captured session id, so the next request is
// sent without one.
func (t *HTTPTransport) ResetSession() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionID = ""
}

// Send POSTs req and decodes the response, which may be plain JSON or an
// SSE frame.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	op := "mcp " + req.Method

	httpResp, err := t.post(ctx, req)
	if err != nil {
		return nil, &llm.TransportError{Op: op, Err: err}
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	t.captureSession(httpResp.Header)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 4096)
		return nil, &llm.TransportError{
			Op:         op,
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("server returned: %s", errBody),
		}
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, &llm.TransportError{Op: op, Err: fmt.Errorf("read response body: %w", err)}
	}

	payload, err := extractPayload(body)
	if err != nil {
		return nil, &llm.TransportError{Op: op, Err: err}
	}

	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, &llm.TransportError{Op: op, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	return &resp, nil
}

// Notify POSTs a notification. Any 2xx status is accepted.
func (t *HTTPTransport) Notify(ctx context.Context, notif *Notification) error {
	op := "mcp " + notif.Method

	httpResp, err := t.post(ctx, notif)
	if err != nil {
		return &llm.TransportError{Op: op, Err: err}
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	t.captureSession(httpResp.Header)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 4096)
		return &llm.TransportError{
			Op:         op,
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("server returned: %s", errBody),
		}
	}
	return nil
}

// Close is a no-op; connections belong to the shared transport pool.
func (t *HTTPTransport) Close() error {
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, msg any) (*http.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	if sid := t.SessionID(); sid != "" {
		httpReq.Header.Set(SessionHeader, sid)
	}

	return t.httpClient.Do(httpReq)
}

func (t *HTTPTransport) captureSession(h http.Header) {
	for _, name := range sessionHeaders {
		sid := h.Get(name)
		if sid == "" {
			continue
		}
		t.mu.Lock()
		if t.sessionID != sid {
			t.logger.Debug("MCP session assigned", "url", t.url, "session_id", sid)
		}
		t.sessionID = sid
		t.mu.Unlock()
		return
	}
}

var errNoSSEData = errors.New("event stream carried no data frame")

// extractPayload returns the JSON document in body. When the body is an
// event stream the first "data: " line is used.
func extractPayload(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty response body")
	}
	if trimmed[0] == '{' || trimmed[0] == '[' || !bytes.Contains(trimmed, []byte("data:")) {
		return trimmed, nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseBody)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			return []byte(strings.TrimPrefix(data, " ")), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event stream: %w", err)
	}
	return nil, errNoSSEData
}
