package litellm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/Strob0t/projectchat/internal/config"
	"github.com/Strob0t/projectchat/internal/domain/conversation"
	"github.com/Strob0t/projectchat/internal/domain/tool"
	"github.com/Strob0t/projectchat/internal/port/completion"
	"github.com/Strob0t/projectchat/internal/resilience"
)

var _ completion.Gateway = (*Gateway)(nil)

// Gateway implements completion.Gateway against the LiteLLM proxy's
// OpenAI-compatible chat completions endpoint.
type Gateway struct {
	client  openai.Client
	model   string
	timeout time.Duration
	breaker *resilience.Breaker
}

// NewGateway creates a gateway for the given proxy config. The client never
// retries on its own; extra options (e.g. an instrumented HTTP client) are
// appended after the defaults.
func NewGateway(cfg config.LiteLLM, breaker *resilience.Breaker, opts ...option.RequestOption) *Gateway {
	options := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(cfg.URL, "/") + "/v1/"),
		option.WithMaxRetries(0),
	}
	if cfg.MasterKey != "" {
		options = append(options, option.WithAPIKey(cfg.MasterKey))
	}
	options = append(options, opts...)

	if breaker != nil {
		breaker.CountOnly(func(err error) bool {
			return errors.Is(err, completion.ErrTimeout) || errors.Is(err, completion.ErrUnavailable)
		})
	}

	return &Gateway{
		client:  openai.NewClient(options...),
		model:   cfg.Model,
		timeout: cfg.RequestTimeout,
		breaker: breaker,
	}
}

// Complete sends the full history and catalog and returns one structured turn.
func (g *Gateway) Complete(ctx context.Context, req completion.Request) (*completion.Turn, error) {
	params := openai.ChatCompletionNewParams{
		Model:    g.model,
		Messages: toMessages(req.SystemPrompt, req.History),
	}
	if len(req.Tools) > 0 {
		params.Tools = toTools(req.Tools)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var resp *openai.ChatCompletion
	call := func() error {
		var err error
		resp, err = g.client.Chat.Completions.New(ctx, params)
		return classify(err)
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	return toTurn(resp)
}

// missingResult stands in for a tool result that was never stored, so an
// interrupted batch does not poison every later request for the project.
const missingResult = `{"status":"error","message":"no result recorded"}`

// toMessages maps the stored transcript onto the OpenAI message shape. Every
// tool call announced by an assistant message is answered before the next
// non-tool message.
func toMessages(systemPrompt string, history []conversation.Message) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(systemPrompt))
	}

	var pending []string // call ids still waiting for a tool message
	answered := map[string]bool{}
	flush := func() {
		for _, id := range pending {
			if !answered[id] {
				msgs = append(msgs, openai.ToolMessage(missingResult, id))
			}
		}
		pending = nil
		clear(answered)
	}

	for i := range history {
		m := &history[i]
		if m.Role != conversation.RoleTool {
			flush()
		}
		switch m.Role {
		case conversation.RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case conversation.RoleAssistant:
			if m.IsToolCallIntent() {
				calls, err := m.DecodeToolCalls()
				if err == nil {
					msgs = append(msgs, openai.ChatCompletionMessageParamUnion{
						OfAssistant: &openai.ChatCompletionAssistantMessageParam{ToolCalls: toToolCallParams(calls)},
					})
					for _, c := range calls {
						pending = append(pending, c.ID)
					}
					continue
				}
			}
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case conversation.RoleTool:
			answered[m.ToolCallID] = true
			msgs = append(msgs, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	flush()
	return msgs
}

func toToolCallParams(calls []conversation.ToolCall) []openai.ChatCompletionMessageToolCallUnionParam {
	out := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(calls))
	for _, c := range calls {
		out = append(out, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: c.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      c.Name,
					Arguments: string(c.Arguments),
				},
			},
		})
	}
	return out
}

func toTools(defs []tool.Definition) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for i := range defs {
		d := &defs[i]
		out = append(out, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        d.Name,
					Description: openai.String(d.Description),
					Parameters:  openai.FunctionParameters(d.Schema.JSONSchema()),
				},
			},
		})
	}
	return out
}

// toTurn converts the first choice into a completion.Turn.
func toTurn(resp *openai.ChatCompletion) (*completion.Turn, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: no choices: %w", completion.ErrProtocol)
	}
	msg := resp.Choices[0].Message

	var turn *completion.Turn
	if len(msg.ToolCalls) > 0 {
		calls := make([]conversation.ToolCall, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			if tc.Function.Name == "" {
				return nil, fmt.Errorf("chat completion: tool call %q without function name: %w", tc.ID, completion.ErrProtocol)
			}
			calls = append(calls, conversation.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: rawArguments(tc.Function.Arguments),
			})
		}
		turn = completion.ToolCalls(calls...)
	} else {
		turn = completion.Text(msg.Content)
	}

	turn.Model = resp.Model
	turn.TokensIn = int(resp.Usage.PromptTokens)
	turn.TokensOut = int(resp.Usage.CompletionTokens)
	return turn, nil
}

// rawArguments keeps well-formed argument JSON as-is. Anything else is carried
// as a JSON string so the batch stays serializable and the registry rejects it
// as invalid arguments.
func rawArguments(s string) json.RawMessage {
	if strings.TrimSpace(s) == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}

// classify maps transport and API failures onto the gateway error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch code := apiErr.StatusCode; {
		case code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", completion.ErrRateLimit, err)
		case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %w", completion.ErrTimeout, err)
		case code >= 500, code == http.StatusUnauthorized, code == http.StatusForbidden:
			return fmt.Errorf("%w: %w", completion.ErrUnavailable, err)
		default:
			return fmt.Errorf("%w: %w", completion.ErrProtocol, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", completion.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", completion.ErrTimeout, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %w", completion.ErrProtocol, err)
	}

	return fmt.Errorf("%w: %w", completion.ErrUnavailable, err)
}
