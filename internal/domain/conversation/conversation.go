// Package conversation defines the project-scoped message log.
package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/projectchat/internal/domain"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// MaxContentLength bounds a single user submission.
const MaxContentLength = 32000

// Message represents a single entry in a project's conversation.
// Position is assigned by the store at append time and orders the transcript.
type Message struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	Position   int64           `json:"position"`
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	TokensIn   int             `json:"tokens_in,omitempty"`
	TokensOut  int             `json:"tokens_out,omitempty"`
	Model      string          `json:"model,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ToolCall is one tool invocation requested by the model. A batch of them is
// embedded in the assistant message that announced the intent.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// SendMessageRequest is the request body for submitting a user message.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// Validate rejects empty or oversized submissions.
func (r SendMessageRequest) Validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("content is required: %w", domain.ErrValidation)
	}
	if len(r.Content) > MaxContentLength {
		return fmt.Errorf("content exceeds %d characters: %w", MaxContentLength, domain.ErrValidation)
	}
	return nil
}

// IsToolCallIntent reports whether m is an assistant message carrying a call batch.
func (m *Message) IsToolCallIntent() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// DecodeToolCalls parses the embedded call batch of an assistant message.
func (m *Message) DecodeToolCalls() ([]ToolCall, error) {
	if len(m.ToolCalls) == 0 {
		return nil, nil
	}
	var calls []ToolCall
	if err := json.Unmarshal(m.ToolCalls, &calls); err != nil {
		return nil, fmt.Errorf("decode tool calls of message %s: %w", m.ID, err)
	}
	return calls, nil
}

// EncodeToolCalls serializes a call batch for embedding in an assistant message.
func EncodeToolCalls(calls []ToolCall) (json.RawMessage, error) {
	data, err := json.Marshal(calls)
	if err != nil {
		return nil, fmt.Errorf("encode tool calls: %w", err)
	}
	return data, nil
}
