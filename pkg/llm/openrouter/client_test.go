package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/user/toolchat/pkg/llm"
)

func newTestClient(url string) *Client {
	return New(&llm.Config{
		BaseURL: url,
		APIKey:  "test-key",
		Model:   "google/gemma-3n-e4b-it:free",
		Referer: "https://example.com/toolchat",
		Title:   "toolchat-test",
		Timeout: 2 * time.Second,
	}, nil)
}

func writeCompletion(w http.ResponseWriter, message map[string]any, finish string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":     "gen-1",
		"object": "chat.completion",
		"choices": []map[string]any{
			{"index": 0, "message": message, "finish_reason": finish},
		},
		"usage": map[string]any{
			"prompt_tokens":     10,
			"completion_tokens": 5,
			"total_tokens":      15,
		},
	})
}

func TestSend_TextResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected path /chat/completions, got %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("missing or invalid auth header")
		}
		if r.Header.Get("HTTP-Referer") != "https://example.com/toolchat" {
			t.Errorf("expected HTTP-Referer header, got %q", r.Header.Get("HTTP-Referer"))
		}
		if r.Header.Get("X-Title") != "toolchat-test" {
			t.Errorf("expected X-Title header, got %q", r.Header.Get("X-Title"))
		}
		writeCompletion(w, map[string]any{"role": "assistant", "content": "hello"}, "stop")
	}))
	defer server.Close()

	turn, err := newTestClient(server.URL).Send(context.Background(), &llm.Request{
		Conversation: llm.Conversation{llm.UserTurn{Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if turn.Content != "hello" {
		t.Errorf("expected 'hello', got %q", turn.Content)
	}
	if turn.FinishReason != llm.FinishStop {
		t.Errorf("expected stop, got %q", turn.FinishReason)
	}
	if turn.Usage == nil || turn.Usage.PromptTokens != 10 || turn.Usage.CompletionTokens != 5 || turn.Usage.TotalTokens != 15 {
		t.Errorf("unexpected usage %+v", turn.Usage)
	}
}

func TestSend_RequestFormat(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		writeCompletion(w, map[string]any{"role": "assistant", "content": "ok"}, "stop")
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Send(context.Background(), &llm.Request{
		Model: "amazon/nova-2-lite-v1:free",
		Conversation: llm.Conversation{
			llm.SystemTurn{Content: "be brief"},
			llm.UserTurn{Content: "price?"},
			llm.AssistantTurn{ToolCalls: []llm.ToolCallRequest{{ID: "c1", Name: "get_price", Arguments: `{"id":"bitcoin"}`}}},
			llm.ToolResultTurn{CallID: "c1", Content: "50000"},
		},
		Tools: []llm.ToolDeclaration{{
			Name:        "get_price",
			Description: "Get a price",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		}},
		ToolChoice: llm.ToolChoiceAuto,
	})
	if err != nil {
		t.Fatal(err)
	}

	if body["model"] != "amazon/nova-2-lite-v1:free" {
		t.Errorf("expected request model, got %v", body["model"])
	}
	if _, ok := body["max_tokens"]; ok {
		t.Errorf("max_tokens must be omitted when unlimited, got %v", body["max_tokens"])
	}
	if body["tool_choice"] != "auto" {
		t.Errorf("expected tool_choice auto, got %v", body["tool_choice"])
	}

	messages, ok := body["messages"].([]any)
	if !ok || len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %v", body["messages"])
	}
	assistant := messages[2].(map[string]any)
	calls, ok := assistant["tool_calls"].([]any)
	if !ok || len(calls) != 1 {
		t.Fatalf("expected 1 tool call on assistant message, got %v", assistant["tool_calls"])
	}
	tool := messages[3].(map[string]any)
	if tool["role"] != "tool" || tool["tool_call_id"] != "c1" {
		t.Errorf("expected tool message answering c1, got %v", tool)
	}

	tools, ok := body["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("expected 1 tool declaration, got %v", body["tools"])
	}
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	if fn["name"] != "get_price" {
		t.Errorf("expected get_price declaration, got %v", fn["name"])
	}
}

func TestSend_ToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(w, map[string]any{
			"role": "assistant",
			"tool_calls": []map[string]any{
				{"id": "1", "type": "function", "function": map[string]any{"name": "get_price", "arguments": "{}"}},
				{"id": "2", "type": "function", "function": map[string]any{"name": "get_time", "arguments": "not json"}},
			},
		}, "tool_calls")
	}))
	defer server.Close()

	turn, err := newTestClient(server.URL).Send(context.Background(), &llm.Request{
		Conversation: llm.Conversation{llm.UserTurn{Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if turn.FinishReason != llm.FinishToolCalls {
		t.Errorf("expected tool_calls, got %q", turn.FinishReason)
	}
	if len(turn.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(turn.ToolCalls))
	}
	if turn.ToolCalls[1].Arguments != "not json" {
		t.Errorf("arguments must be passed through untouched, got %q", turn.ToolCalls[1].Arguments)
	}
}

func TestSend_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","code":401}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Send(context.Background(), &llm.Request{
		Conversation: llm.Conversation{llm.UserTurn{Content: "hi"}},
	})
	var te *llm.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", te.StatusCode)
	}
	if te.Temporary() {
		t.Error("401 must not be temporary")
	}
}

func TestSend_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": [`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Send(context.Background(), &llm.Request{
		Conversation: llm.Conversation{llm.UserTurn{Content: "hi"}},
	})
	if !llm.IsTransportError(err) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestSend_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Send(context.Background(), &llm.Request{
		Conversation: llm.Conversation{llm.UserTurn{Content: "hi"}},
	})
	if !llm.IsProtocolViolation(err) {
		t.Fatalf("expected ProtocolViolation, got %v", err)
	}
}

func TestSend_EmptyMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(w, map[string]any{"role": "assistant", "content": ""}, "length")
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Send(context.Background(), &llm.Request{
		Conversation: llm.Conversation{llm.UserTurn{Content: "hi"}},
	})
	if !llm.IsProtocolViolation(err) {
		t.Fatalf("expected ProtocolViolation, got %v", err)
	}
}

func TestSend_EmptyConversation(t *testing.T) {
	_, err := newTestClient("http://127.0.0.1:1").Send(context.Background(), &llm.Request{})
	if !errors.Is(err, llm.ErrEmptyConversation) {
		t.Fatalf("expected ErrEmptyConversation, got %v", err)
	}
}

func TestSend_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		writeCompletion(w, map[string]any{"role": "assistant", "content": "late"}, "stop")
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "k", Timeout: 50 * time.Millisecond}, nil)
	_, err := client.Send(context.Background(), &llm.Request{
		Conversation: llm.Conversation{llm.UserTurn{Content: "hi"}},
	})
	if !llm.IsTransportError(err) {
		t.Fatalf("expected TransportError on timeout, got %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New(&llm.Config{APIKey: "k"}, nil)
	if c.Model() != DefaultModel {
		t.Errorf("expected default model %q, got %q", DefaultModel, c.Model())
	}
	if c.config.BaseURL != DefaultBaseURL {
		t.Errorf("expected default base URL, got %q", c.config.BaseURL)
	}
}
