package ws

// AG-UI event type constants emitted by the conversation orchestrator.
const (
	AGUIRunStarted  = "agui.run_started"
	AGUIRunFinished = "agui.run_finished"
	AGUITextMessage = "agui.text_message"
	AGUIToolCall    = "agui.tool_call"
	AGUIToolResult  = "agui.tool_result"
)

// Run statuses carried by AGUIRunFinishedEvent.
const (
	RunCompleted = "completed"
	RunFallback  = "fallback"
	RunFailed    = "failed"
)

// AGUIRunStartedEvent signals that a submitted message is being processed.
type AGUIRunStartedEvent struct {
	RunID     string `json:"run_id"`
	ThreadID  string `json:"thread_id"` // project ID
	AgentName string `json:"agent_name,omitempty"`
}

// AGUIRunFinishedEvent signals that a run has settled.
type AGUIRunFinishedEvent struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// AGUITextMessageEvent carries the assistant reply.
type AGUITextMessageEvent struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id"`
	Role     string `json:"role"`
	Content  string `json:"content"`
}

// AGUIToolCallEvent signals a tool invocation requested by the model.
type AGUIToolCallEvent struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id"`
	CallID   string `json:"call_id"`
	Name     string `json:"name"`
	Args     string `json:"args"` // JSON-encoded arguments
}

// AGUIToolResultEvent carries the result of a tool invocation.
type AGUIToolResultEvent struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id"`
	CallID   string `json:"call_id"`
	Result   string `json:"result"` // JSON-encoded tool.Result
	Error    string `json:"error,omitempty"`
}

// Thread implements threaded so the hub can scope delivery to one project.
func (e AGUIRunStartedEvent) Thread() string  { return e.ThreadID }
func (e AGUIRunFinishedEvent) Thread() string { return e.ThreadID }
func (e AGUITextMessageEvent) Thread() string { return e.ThreadID }
func (e AGUIToolCallEvent) Thread() string    { return e.ThreadID }
func (e AGUIToolResultEvent) Thread() string  { return e.ThreadID }
