// Package webhook serves the HTTP API: health, ad-hoc chat, watch triggers
// and read-only views of conversations, tools and prices.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/user/toolchat/internal/monitor"
	"github.com/user/toolchat/internal/runtime"
	"github.com/user/toolchat/internal/state"
	"github.com/user/toolchat/internal/tools"
	"github.com/user/toolchat/internal/types"
	"github.com/user/toolchat/pkg/llm"
)

const defaultPriceLimit = 50

// ChatHandler answers a prompt within the given conversation.
type ChatHandler func(ctx context.Context, key types.ConversationKey, prompt string) (string, error)

// Checker runs one price check. *monitor.Monitor satisfies it.
type Checker interface {
	Check(ctx context.Context, w *types.Watch) (*types.PriceReading, error)
}

// ToolCatalog lists discovered tools. *tools.Registry satisfies it.
type ToolCatalog interface {
	Entries() []tools.Entry
}

// Server is the HTTP handler.
type Server struct {
	handler       ChatHandler
	watches       *state.WatchStore
	checker       Checker
	conversations types.ConversationStore
	prices        types.PriceHistory
	tools         ToolCatalog
	logger        *slog.Logger
	mux           *http.ServeMux
}

// Option configures optional collaborators. Endpoints whose collaborator
// is missing answer 503.
type Option func(*Server)

func WithWatches(store *state.WatchStore, checker Checker) Option {
	return func(s *Server) {
		s.watches = store
		s.checker = checker
	}
}

func WithConversations(store types.ConversationStore) Option {
	return func(s *Server) { s.conversations = store }
}

func WithPrices(history types.PriceHistory) Option {
	return func(s *Server) { s.prices = history }
}

func WithTools(catalog ToolCatalog) Option {
	return func(s *Server) { s.tools = catalog }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a Server that answers POST /webhook with handler.
func NewServer(handler ChatHandler, opts ...Option) *Server {
	s := &Server{
		handler: handler,
		logger:  slog.Default(),
		mux:     http.NewServeMux(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "webhook")

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /webhook", s.handleAdHoc)
	s.mux.HandleFunc("POST /webhook/{name}", s.handleWatch)
	s.mux.HandleFunc("GET /api/conversations", s.handleConversations)
	s.mux.HandleFunc("GET /api/conversations/{key}/turns", s.handleTurns)
	s.mux.HandleFunc("GET /api/tools", s.handleTools)
	s.mux.HandleFunc("GET /api/prices/{asset}", s.handlePrices)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// adHocRequest is the JSON body for POST /webhook.
type adHocRequest struct {
	Prompt          string `json:"prompt"`
	ConversationKey string `json:"conversation_key"`
}

func (s *Server) handleAdHoc(w http.ResponseWriter, r *http.Request) {
	var req adHocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Prompt == "" || req.ConversationKey == "" {
		writeError(w, http.StatusBadRequest, "prompt and conversation_key are required")
		return
	}

	resp, err := s.handler(r.Context(), types.ConversationKey(req.ConversationKey), req.Prompt)
	if err != nil {
		s.logger.Error("ad-hoc request failed", "key", req.ConversationKey, "error", err)
		writeError(w, statusFor(err), runtime.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": resp})
}

// statusFor maps a run error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case llm.IsTransportError(err), llm.IsProtocolViolation(err):
		return http.StatusBadGateway
	case runtime.IsMaxIterations(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	if s.watches == nil || s.checker == nil {
		writeError(w, http.StatusServiceUnavailable, "monitor not configured")
		return
	}
	name := r.PathValue("name")
	watch, err := s.watches.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "watch not found")
		return
	}
	if !watch.Enabled {
		writeError(w, http.StatusForbidden, "watch is disabled")
		return
	}

	reading, err := s.checker.Check(r.Context(), watch)
	switch {
	case errors.Is(err, monitor.ErrCheckRunning):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error("watch check failed", "watch", name, "error", err)
		writeError(w, statusFor(err), runtime.UserMessage(err))
	default:
		writeJSON(w, http.StatusOK, reading)
	}
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if s.conversations == nil {
		writeError(w, http.StatusServiceUnavailable, "conversation store not configured")
		return
	}
	list, err := s.conversations.List(r.Context())
	if err != nil {
		s.logger.Error("list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if list == nil {
		list = []*types.ConversationIndex{}
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	writeJSON(w, http.StatusOK, list)
}

type turnView struct {
	Role         llm.Role              `json:"role"`
	Content      string                `json:"content,omitempty"`
	ToolCalls    []llm.ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID   string                `json:"tool_call_id,omitempty"`
	FinishReason llm.FinishReason      `json:"finish_reason,omitempty"`
}

func (s *Server) handleTurns(w http.ResponseWriter, r *http.Request) {
	if s.conversations == nil {
		writeError(w, http.StatusServiceUnavailable, "conversation store not configured")
		return
	}
	key := types.ConversationKey(r.PathValue("key"))
	conv, err := s.conversations.Load(r.Context(), key)
	if err != nil {
		s.logger.Error("load conversation", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]turnView, 0, len(conv))
	for _, t := range conv {
		rec := llm.ToRecord(t, time.Time{})
		out = append(out, turnView{
			Role:         rec.Role,
			Content:      rec.Content,
			ToolCalls:    rec.ToolCalls,
			ToolCallID:   rec.ToolCallID,
			FinishReason: rec.FinishReason,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type toolView struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Provider    string         `json:"provider"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.tools == nil {
		writeError(w, http.StatusServiceUnavailable, "tools not configured")
		return
	}
	entries := s.tools.Entries()
	out := make([]toolView, 0, len(entries))
	for _, e := range entries {
		out = append(out, toolView{
			Name:        e.Descriptor.Name,
			Description: e.Descriptor.Description,
			Provider:    e.ProviderID,
			InputSchema: e.Descriptor.InputSchema,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		writeError(w, http.StatusServiceUnavailable, "price history not configured")
		return
	}
	limit := defaultPriceLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	asset := r.PathValue("asset")
	readings, err := s.prices.Recent(r.Context(), asset, limit)
	if err != nil {
		s.logger.Error("recent prices", "asset", asset, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if readings == nil {
		readings = []*types.PriceReading{}
	}
	writeJSON(w, http.StatusOK, readings)
}
