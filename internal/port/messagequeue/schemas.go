package messagequeue

import "time"

// MessageAppendedPayload is the schema for conversations.*.messages events.
type MessageAppendedPayload struct {
	MessageID  string    `json:"message_id"`
	ProjectID  string    `json:"project_id"`
	Position   int64     `json:"position"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
