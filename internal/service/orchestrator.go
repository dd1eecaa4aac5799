package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	cfotel "github.com/Strob0t/projectchat/internal/adapter/otel"
	"github.com/Strob0t/projectchat/internal/adapter/ws"
	"github.com/Strob0t/projectchat/internal/domain/conversation"
	"github.com/Strob0t/projectchat/internal/domain/tool"
	"github.com/Strob0t/projectchat/internal/logger"
	"github.com/Strob0t/projectchat/internal/port/completion"
	"github.com/Strob0t/projectchat/internal/resilience"
)

// Orchestrator states of one submit.
const (
	StateAwaitingUserInput       = "awaiting_user_input"
	StateAwaitingCompletion      = "awaiting_completion"
	StateAwaitingToolResult      = "awaiting_tool_result"
	StateAwaitingFinalCompletion = "awaiting_final_completion"
	StateSettled                 = "settled"
)

// Turn outcomes recorded in metrics.
const (
	outcomeText     = "text"
	outcomeTool     = "tool"
	outcomeFallback = "fallback"
	outcomeError    = "error"
)

// turn is the working state of one SubmitMessage call.
type turn struct {
	svc       *ConversationService
	projectID string
	runID     string
	state     string
	rounds    int // executed tool batches
}

func (t *turn) enter(ctx context.Context, state string) {
	t.state = state
	slog.DebugContext(ctx, "orchestrator state", "state", state, "run_id", t.runID, "round", t.rounds)
	cfotel.StateEvent(ctx, state)
}

// SubmitMessage appends the user message, drives the completion and tool
// round trips, and returns the final assistant message. Every intermediate
// message is persisted. Tool failures become tool-role results; store and
// gateway errors are returned, with earlier appends left committed.
func (s *ConversationService) SubmitMessage(ctx context.Context, projectID string, req conversation.SendMessageRequest) (_ *conversation.Message, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx = logger.WithProjectID(ctx, projectID)
	unlock, err := s.locks.Lock(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx, span := cfotel.StartSubmitSpan(ctx, projectID)
	defer func() { cfotel.EndSpan(span, err) }()

	t := &turn{svc: s, projectID: projectID, runID: uuid.NewString()}
	t.enter(ctx, StateAwaitingUserInput)

	// Resolve the project before the first append so a missing project has no side effect.
	if _, err := s.projects.Get(ctx, projectID); err != nil {
		return nil, err
	}

	s.hub.BroadcastEvent(ctx, ws.AGUIRunStarted, ws.AGUIRunStartedEvent{
		RunID:     t.runID,
		ThreadID:  projectID,
		AgentName: "assistant",
	})

	msg, outcome, err := t.run(ctx, req.Content)
	if err != nil {
		s.metrics.RecordTurn(ctx, outcomeError)
		slog.ErrorContext(ctx, "submit message failed", "run_id", t.runID, "state", t.state, "error", err)
		s.hub.BroadcastEvent(ctx, ws.AGUIRunFinished, ws.AGUIRunFinishedEvent{
			RunID:    t.runID,
			ThreadID: projectID,
			Status:   ws.RunFailed,
			Error:    err.Error(),
		})
		return nil, err
	}

	s.metrics.RecordTurn(ctx, outcome)
	s.hub.BroadcastEvent(ctx, ws.AGUITextMessage, ws.AGUITextMessageEvent{
		RunID:    t.runID,
		ThreadID: projectID,
		Role:     conversation.RoleAssistant,
		Content:  msg.Content,
	})
	status := ws.RunCompleted
	if outcome == outcomeFallback {
		status = ws.RunFallback
	}
	s.hub.BroadcastEvent(ctx, ws.AGUIRunFinished, ws.AGUIRunFinishedEvent{
		RunID:    t.runID,
		ThreadID: projectID,
		Status:   status,
	})
	return msg, nil
}

func (t *turn) run(ctx context.Context, content string) (*conversation.Message, string, error) {
	s := t.svc

	if _, err := s.append(ctx, &conversation.Message{
		ProjectID: t.projectID,
		Role:      conversation.RoleUser,
		Content:   content,
	}); err != nil {
		return nil, "", err
	}

	t.enter(ctx, StateAwaitingCompletion)
	res, err := t.complete(ctx)
	if err != nil {
		return nil, "", err
	}

	for {
		if res.Kind != completion.TurnToolCalls || len(res.Calls) == 0 {
			msg, err := s.append(ctx, &conversation.Message{
				ProjectID: t.projectID,
				Role:      conversation.RoleAssistant,
				Content:   res.Content,
				Model:     res.Model,
				TokensIn:  res.TokensIn,
				TokensOut: res.TokensOut,
			})
			if err != nil {
				return nil, "", err
			}
			t.enter(ctx, StateSettled)
			if t.rounds > 0 {
				return msg, outcomeTool, nil
			}
			return msg, outcomeText, nil
		}

		if t.rounds >= s.cfg.MaxToolRounds {
			// The unexecuted batch is dropped so no intent is left without results.
			slog.WarnContext(ctx, "tool round limit reached, answering with fallback",
				"run_id", t.runID, "rounds", t.rounds, "dropped_calls", len(res.Calls))
			msg, err := s.append(ctx, &conversation.Message{
				ProjectID: t.projectID,
				Role:      conversation.RoleAssistant,
				Content:   s.cfg.FallbackMessage,
			})
			if err != nil {
				return nil, "", err
			}
			t.enter(ctx, StateSettled)
			return msg, outcomeFallback, nil
		}

		t.enter(ctx, StateAwaitingToolResult)
		calls := t.assignCallIDs(res.Calls)
		if err := t.recordIntent(ctx, res, calls); err != nil {
			return nil, "", err
		}
		// Once the intent is committed every call gets its result row, even if
		// the caller goes away mid-batch.
		detached := context.WithoutCancel(ctx)
		results := t.executeBatch(detached, calls)
		for i, c := range calls {
			if _, err := s.append(detached, &conversation.Message{
				ProjectID:  t.projectID,
				Role:       conversation.RoleTool,
				Content:    results[i],
				ToolCallID: c.ID,
				ToolName:   c.Name,
			}); err != nil {
				return nil, "", err
			}
		}
		t.rounds++

		t.enter(ctx, StateAwaitingFinalCompletion)
		res, err = t.complete(ctx)
		if err != nil {
			return nil, "", err
		}
	}
}

// complete reads the full history and calls the gateway once.
func (t *turn) complete(ctx context.Context) (*completion.Turn, error) {
	s := t.svc

	p, err := s.projects.Get(ctx, t.projectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	history, err := s.store.ListMessages(ctx, t.projectID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	ctx, span := cfotel.StartCompletionSpan(ctx, t.rounds)
	start := time.Now()
	res, err := s.gateway.Complete(ctx, completion.Request{
		SystemPrompt: s.buildSystemPrompt(p),
		History:      history,
		Tools:        s.tools.Catalog(),
	})
	s.metrics.RecordCompletion(ctx, time.Since(start), gatewayErrorKind(err))
	cfotel.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}
	slog.DebugContext(ctx, "completion turn", "run_id", t.runID, "kind", res.Kind.String(), "calls", len(res.Calls))
	return res, nil
}

// assignCallIDs gives every call a unique identifier within the batch so
// results can reference it. Arguments that are not JSON are kept as a JSON
// string; the registry rejects them as invalid arguments.
func (t *turn) assignCallIDs(in []conversation.ToolCall) []conversation.ToolCall {
	calls := make([]conversation.ToolCall, len(in))
	seen := make(map[string]bool, len(in))
	for i, c := range in {
		if c.ID == "" || seen[c.ID] {
			c.ID = t.svc.newCallID()
		}
		seen[c.ID] = true
		switch {
		case len(bytes.TrimSpace(c.Arguments)) == 0:
			c.Arguments = json.RawMessage("{}")
		case !json.Valid(c.Arguments):
			quoted, _ := json.Marshal(string(c.Arguments))
			c.Arguments = quoted
		}
		calls[i] = c
	}
	return calls
}

// recordIntent persists the assistant message announcing the batch. Content
// carries the serialized batch as well, so a plain-text replay shows the intent.
func (t *turn) recordIntent(ctx context.Context, res *completion.Turn, calls []conversation.ToolCall) error {
	encoded, err := conversation.EncodeToolCalls(calls)
	if err != nil {
		return err
	}
	_, err = t.svc.append(ctx, &conversation.Message{
		ProjectID: t.projectID,
		Role:      conversation.RoleAssistant,
		Content:   string(encoded),
		ToolCalls: encoded,
		Model:     res.Model,
		TokensIn:  res.TokensIn,
		TokensOut: res.TokensOut,
	})
	return err
}

// executeBatch runs every call at most once, concurrently, and returns the
// serialized results in batch order.
func (t *turn) executeBatch(ctx context.Context, calls []conversation.ToolCall) []string {
	results := make([]string, len(calls))

	var g errgroup.Group
	g.SetLimit(t.svc.cfg.MaxParallelTools)
	for i, c := range calls {
		g.Go(func() error {
			results[i] = t.executeCall(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (t *turn) executeCall(ctx context.Context, c conversation.ToolCall) string {
	s := t.svc
	ctx, span := cfotel.StartToolCallSpan(ctx, c.ID, c.Name)

	s.hub.BroadcastEvent(ctx, ws.AGUIToolCall, ws.AGUIToolCallEvent{
		RunID:    t.runID,
		ThreadID: t.projectID,
		CallID:   c.ID,
		Name:     c.Name,
		Args:     string(c.Arguments),
	})

	var (
		res     tool.Result
		execErr error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("%s: %w: panic: %v", c.Name, tool.ErrToolExecution, r)
			}
		}()
		res, execErr = s.tools.Execute(ctx, c.Name, c.Arguments, t.projectID)
	}()

	if execErr != nil {
		slog.WarnContext(ctx, "tool call failed", "run_id", t.runID, "tool", c.Name, "call_id", c.ID, "error", execErr)
		res = tool.Failure(execErr)
	} else {
		slog.InfoContext(ctx, "tool call executed", "run_id", t.runID, "tool", c.Name, "call_id", c.ID)
	}
	s.metrics.RecordToolCall(ctx, c.Name, res.Status)
	cfotel.EndSpan(span, execErr)

	encoded, err := res.Encode()
	if err != nil {
		encoded = `{"status":"error","message":"unencodable tool result"}`
	}

	ev := ws.AGUIToolResultEvent{
		RunID:    t.runID,
		ThreadID: t.projectID,
		CallID:   c.ID,
		Result:   encoded,
	}
	if execErr != nil {
		ev.Error = execErr.Error()
	}
	s.hub.BroadcastEvent(ctx, ws.AGUIToolResult, ev)
	return encoded
}

// gatewayErrorKind labels a gateway failure for metrics. nil yields "".
func gatewayErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, completion.ErrTimeout):
		return "timeout"
	case errors.Is(err, completion.ErrRateLimit):
		return "rate_limit"
	case errors.Is(err, completion.ErrProtocol):
		return "protocol"
	case errors.Is(err, completion.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "other"
}
