// Package completion defines the port to the remote language-model service.
package completion

import (
	"context"
	"errors"

	"github.com/Strob0t/projectchat/internal/domain/conversation"
	"github.com/Strob0t/projectchat/internal/domain/tool"
	"github.com/Strob0t/projectchat/internal/resilience"
)

// Gateway errors. Timeout, rate limit and unavailability are recoverable by
// retrying the submit; a protocol error is fatal to the turn.
var (
	// ErrTimeout is returned when the remote call exceeded its deadline.
	ErrTimeout = errors.New("completion gateway timeout")
	// ErrRateLimit is returned when the remote service throttled the call.
	ErrRateLimit = errors.New("completion gateway rate limited")
	// ErrProtocol is returned for malformed or unparseable remote responses.
	ErrProtocol = errors.New("completion gateway protocol error")
	// ErrUnavailable is returned when the remote service could not be reached
	// or answered with a server error.
	ErrUnavailable = errors.New("completion gateway unavailable")
)

// TurnKind tags a completion turn.
type TurnKind int

const (
	// TurnText is a plain natural-language reply.
	TurnText TurnKind = iota
	// TurnToolCalls is a request to execute one or more tools.
	TurnToolCalls
)

func (k TurnKind) String() string {
	switch k {
	case TurnText:
		return "text"
	case TurnToolCalls:
		return "tool_calls"
	}
	return "unknown"
}

// Request is one completion call: the full ordered history plus the tool catalog.
// The gateway keeps no session between calls.
type Request struct {
	SystemPrompt string
	History      []conversation.Message
	Tools        []tool.Definition
}

// Turn is the single structured result of a completion call.
// Content is set for TurnText, Calls for TurnToolCalls.
type Turn struct {
	Kind      TurnKind
	Content   string
	Calls     []conversation.ToolCall
	Model     string
	TokensIn  int
	TokensOut int
}

// Text builds a text turn.
func Text(content string) *Turn {
	return &Turn{Kind: TurnText, Content: content}
}

// ToolCalls builds a tool-call turn.
func ToolCalls(calls ...conversation.ToolCall) *Turn {
	return &Turn{Kind: TurnToolCalls, Calls: calls}
}

// Gateway sends history and catalog to the model and returns one turn.
type Gateway interface {
	Complete(ctx context.Context, req Request) (*Turn, error)
}

// IsRetriable reports whether err is a gateway failure the caller may retry
// with backoff: a timeout, a rate limit, an unreachable upstream, or an open circuit.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, resilience.ErrCircuitOpen)
}
