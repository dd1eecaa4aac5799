package litellm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Strob0t/projectchat/internal/config"
	"github.com/Strob0t/projectchat/internal/domain/conversation"
	"github.com/Strob0t/projectchat/internal/domain/tool"
	"github.com/Strob0t/projectchat/internal/port/completion"
	"github.com/Strob0t/projectchat/internal/resilience"
)

// chatServer serves canned chat completion responses and records request bodies.
type chatServer struct {
	t        *testing.T
	status   int
	body     string
	delay    time.Duration
	requests []map[string]any
}

func (s *chatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/chat/completions" {
		s.t.Errorf("unexpected path: %s", r.URL.Path)
	}
	data, _ := io.ReadAll(r.Body)
	var req map[string]any
	_ = json.Unmarshal(data, &req)
	s.requests = append(s.requests, req)

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-r.Context().Done():
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if s.status != 0 {
		w.WriteHeader(s.status)
	}
	_, _ = w.Write([]byte(s.body))
}

func newTestGateway(t *testing.T, s *chatServer, breaker *resilience.Breaker) *Gateway {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return NewGateway(config.LiteLLM{
		URL:            srv.URL,
		MasterKey:      "sk-test",
		Model:          "openai/gpt-4o-mini",
		RequestTimeout: 2 * time.Second,
	}, breaker)
}

const textResponse = `{
  "id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
  "choices": [{"index": 0, "finish_reason": "stop",
    "message": {"role": "assistant", "content": "Hello there"}}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
}`

const toolCallResponse = `{
  "id": "chatcmpl-2", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
  "choices": [{"index": 0, "finish_reason": "tool_calls",
    "message": {"role": "assistant", "content": null, "tool_calls": [
      {"id": "call_a", "type": "function", "function": {"name": "rename_project", "arguments": "{\"newName\":\"Atlas\"}"}},
      {"id": "call_b", "type": "function", "function": {"name": "get_project_details", "arguments": ""}},
      {"id": "call_c", "type": "function", "function": {"name": "rename_project", "arguments": "{broken"}}
    ]}}],
  "usage": {"prompt_tokens": 20, "completion_tokens": 9, "total_tokens": 29}
}`

var renameTool = tool.Definition{
	Name:        "rename_project",
	Description: "Rename the project",
	Schema: tool.Schema{
		Properties: map[string]tool.Property{"newName": {Type: tool.TypeString}},
		Required:   []string{"newName"},
	},
}

func TestCompleteText(t *testing.T) {
	s := &chatServer{t: t, body: textResponse}
	g := newTestGateway(t, s, nil)

	turn, err := g.Complete(context.Background(), completion.Request{
		SystemPrompt: "You manage project X.",
		History:      []conversation.Message{{Role: conversation.RoleUser, Content: "hi"}},
		Tools:        []tool.Definition{renameTool},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if turn.Kind != completion.TurnText || turn.Content != "Hello there" {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	if turn.TokensIn != 12 || turn.TokensOut != 3 || turn.Model != "gpt-4o-mini" {
		t.Fatalf("usage not mapped: %+v", turn)
	}

	req := s.requests[0]
	if req["model"] != "openai/gpt-4o-mini" {
		t.Errorf("expected configured model, got %v", req["model"])
	}
	msgs := req["messages"].([]any)
	if len(msgs) != 2 || msgs[0].(map[string]any)["role"] != "system" {
		t.Fatalf("expected system + user message, got %v", msgs)
	}
	tools := req["tools"].([]any)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	if fn["name"] != "rename_project" {
		t.Errorf("expected tool rename_project, got %v", fn["name"])
	}
	params := fn["parameters"].(map[string]any)
	if params["type"] != "object" {
		t.Errorf("expected object schema, got %v", params)
	}
}

func TestCompleteToolCalls(t *testing.T) {
	s := &chatServer{t: t, body: toolCallResponse}
	g := newTestGateway(t, s, nil)

	turn, err := g.Complete(context.Background(), completion.Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if turn.Kind != completion.TurnToolCalls || len(turn.Calls) != 3 {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	if turn.Calls[0].ID != "call_a" || string(turn.Calls[0].Arguments) != `{"newName":"Atlas"}` {
		t.Errorf("call 0 mismatch: %+v", turn.Calls[0])
	}
	if string(turn.Calls[1].Arguments) != `{}` {
		t.Errorf("empty arguments should become {}, got %s", turn.Calls[1].Arguments)
	}
	if !json.Valid(turn.Calls[2].Arguments) {
		t.Errorf("malformed arguments must stay serializable, got %s", turn.Calls[2].Arguments)
	}
	if _, ok := s.requests[0]["tools"]; ok {
		t.Error("empty catalog should not send tools")
	}
}

func TestHistoryMapping(t *testing.T) {
	s := &chatServer{t: t, body: textResponse}
	g := newTestGateway(t, s, nil)

	batch, _ := conversation.EncodeToolCalls([]conversation.ToolCall{
		{ID: "c1", Name: "rename_project", Arguments: json.RawMessage(`{"newName":"Atlas"}`)},
	})
	history := []conversation.Message{
		{Role: conversation.RoleUser, Content: "rename it"},
		{Role: conversation.RoleAssistant, Content: string(batch), ToolCalls: batch},
		{Role: conversation.RoleTool, Content: `{"status":"success"}`, ToolCallID: "c1", ToolName: "rename_project"},
	}
	if _, err := g.Complete(context.Background(), completion.Request{History: history}); err != nil {
		t.Fatal(err)
	}

	msgs := s.requests[0]["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages without system prompt, got %d", len(msgs))
	}
	assistant := msgs[1].(map[string]any)
	calls := assistant["tool_calls"].([]any)
	call := calls[0].(map[string]any)
	if call["id"] != "c1" {
		t.Errorf("expected call id c1, got %v", call["id"])
	}
	toolMsg := msgs[2].(map[string]any)
	if toolMsg["role"] != "tool" || toolMsg["tool_call_id"] != "c1" {
		t.Errorf("tool message not correlated: %v", toolMsg)
	}
}

func TestHistoryMappingAnswersUnfinishedBatches(t *testing.T) {
	s := &chatServer{t: t, body: textResponse}
	g := newTestGateway(t, s, nil)

	batch, _ := conversation.EncodeToolCalls([]conversation.ToolCall{
		{ID: "c1", Name: "get_project_details", Arguments: json.RawMessage(`{}`)},
		{ID: "c2", Name: "get_project_details", Arguments: json.RawMessage(`{}`)},
	})
	interrupted, _ := conversation.EncodeToolCalls([]conversation.ToolCall{
		{ID: "c3", Name: "get_project_details", Arguments: json.RawMessage(`{}`)},
	})
	history := []conversation.Message{
		{Role: conversation.RoleUser, Content: "details"},
		{Role: conversation.RoleAssistant, Content: string(batch), ToolCalls: batch},
		{Role: conversation.RoleTool, Content: `{"status":"success"}`, ToolCallID: "c2", ToolName: "get_project_details"},
		{Role: conversation.RoleUser, Content: "again"},
		{Role: conversation.RoleAssistant, Content: string(interrupted), ToolCalls: interrupted},
	}
	if _, err := g.Complete(context.Background(), completion.Request{History: history}); err != nil {
		t.Fatal(err)
	}

	msgs := s.requests[0]["messages"].([]any)
	type row struct{ role, callID, content string }
	want := []row{
		{"user", "", "details"},
		{"assistant", "", ""},
		{"tool", "c2", `{"status":"success"}`},
		{"tool", "c1", missingResult},
		{"user", "", "again"},
		{"assistant", "", ""},
		{"tool", "c3", missingResult},
	}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d: %v", len(want), len(msgs), msgs)
	}
	for i, w := range want {
		m := msgs[i].(map[string]any)
		if m["role"] != w.role {
			t.Errorf("message %d role %v, want %s", i, m["role"], w.role)
		}
		if w.callID == "" {
			continue
		}
		if m["tool_call_id"] != w.callID || m["content"] != w.content {
			t.Errorf("message %d = %v, want %+v", i, m, w)
		}
	}
}

func TestCompleteErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limit", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, completion.ErrRateLimit},
		{"upstream 500", http.StatusInternalServerError, `{"error":{"message":"boom"}}`, completion.ErrUnavailable},
		{"gateway timeout", http.StatusGatewayTimeout, `{"error":{"message":"late"}}`, completion.ErrTimeout},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad"}}`, completion.ErrProtocol},
		{"no choices", http.StatusOK, `{"id":"x","object":"chat.completion","choices":[]}`, completion.ErrProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, &chatServer{t: t, status: tt.status, body: tt.body}, nil)
			_, err := g.Complete(context.Background(), completion.Request{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCompleteTimeout(t *testing.T) {
	s := &chatServer{t: t, body: textResponse, delay: time.Second}
	srv := httptest.NewServer(s)
	defer srv.Close()

	g := NewGateway(config.LiteLLM{URL: srv.URL, Model: "m", RequestTimeout: 50 * time.Millisecond}, nil)
	_, err := g.Complete(context.Background(), completion.Request{})
	if !errors.Is(err, completion.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !completion.IsRetriable(err) {
		t.Fatal("timeout should be retriable")
	}
}

func TestBreakerIgnoresRateLimits(t *testing.T) {
	breaker := resilience.NewBreaker(1, time.Minute)
	g := newTestGateway(t, &chatServer{t: t, status: http.StatusTooManyRequests, body: `{"error":{"message":"x"}}`}, breaker)

	for range 3 {
		_, err := g.Complete(context.Background(), completion.Request{})
		if !errors.Is(err, completion.ErrRateLimit) {
			t.Fatalf("expected ErrRateLimit, got %v", err)
		}
	}
	if breaker.State() != "closed" {
		t.Fatalf("rate limits must not open the breaker, got %s", breaker.State())
	}
}

func TestBreakerOpensOnUnavailable(t *testing.T) {
	breaker := resilience.NewBreaker(1, time.Minute)
	s := &chatServer{t: t, status: http.StatusBadGateway, body: `{"error":{"message":"x"}}`}
	g := newTestGateway(t, s, breaker)

	if _, err := g.Complete(context.Background(), completion.Request{}); !errors.Is(err, completion.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	_, err := g.Complete(context.Background(), completion.Request{})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if len(s.requests) != 1 {
		t.Fatalf("open circuit must not reach upstream, got %d requests", len(s.requests))
	}
}

func TestRawArguments(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "{}"},
		{"  ", "{}"},
		{`{"a":1}`, `{"a":1}`},
		{`{broken`, `"{broken"`},
	}
	for _, tt := range tests {
		if got := string(rawArguments(tt.in)); got != tt.want {
			t.Errorf("rawArguments(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
