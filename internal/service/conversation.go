package service

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/google/uuid"

	cfotel "github.com/Strob0t/projectchat/internal/adapter/otel"
	"github.com/Strob0t/projectchat/internal/config"
	"github.com/Strob0t/projectchat/internal/domain/conversation"
	"github.com/Strob0t/projectchat/internal/domain/project"
	"github.com/Strob0t/projectchat/internal/logger"
	"github.com/Strob0t/projectchat/internal/port/broadcast"
	"github.com/Strob0t/projectchat/internal/port/completion"
	"github.com/Strob0t/projectchat/internal/port/database"
	"github.com/Strob0t/projectchat/internal/port/messagequeue"
)

//go:embed templates/conversation_system.tmpl
var conversationSystemTmpl string

// conversationTmpl is the parsed built-in system prompt template.
var conversationTmpl = template.Must(template.New("conversation_system").Parse(conversationSystemTmpl))

// conversationPromptData carries project context into the system prompt template.
type conversationPromptData struct {
	ProjectName        string
	ProjectDescription string
	Tools              []string
}

// ConversationService runs the tool-calling conversation of a project.
type ConversationService struct {
	store     database.ConversationStore
	projects  *ProjectService
	gateway   completion.Gateway
	tools     *ToolRegistry
	hub       broadcast.Broadcaster
	publisher messagequeue.Publisher
	metrics   *cfotel.Metrics
	cfg       config.Orchestrator
	prompt    *template.Template
	locks     *keyedMutex
	newCallID func() string
}

// NewConversationService creates a new ConversationService. A nil hub
// discards events.
func NewConversationService(
	store database.ConversationStore,
	projects *ProjectService,
	gateway completion.Gateway,
	tools *ToolRegistry,
	hub broadcast.Broadcaster,
	cfg config.Orchestrator,
) *ConversationService {
	if hub == nil {
		hub = broadcast.Nop{}
	}
	if cfg.MaxToolRounds < 1 {
		cfg.MaxToolRounds = 1
	}
	if cfg.MaxParallelTools < 1 {
		cfg.MaxParallelTools = 1
	}
	if cfg.FallbackMessage == "" {
		cfg.FallbackMessage = config.DefaultFallbackMessage
	}

	prompt := conversationTmpl
	if cfg.SystemPrompt != "" {
		custom, err := template.New("custom_system").Parse(cfg.SystemPrompt)
		if err != nil {
			slog.Error("conversation: invalid custom system prompt, using built-in", "error", err)
		} else {
			prompt = custom
		}
	}

	return &ConversationService{
		store:     store,
		projects:  projects,
		gateway:   gateway,
		tools:     tools,
		hub:       hub,
		cfg:       cfg,
		prompt:    prompt,
		locks:     newKeyedMutex(),
		newCallID: func() string { return "call_" + uuid.NewString() },
	}
}

// SetPublisher enables message-appended events on the queue.
func (s *ConversationService) SetPublisher(p messagequeue.Publisher) {
	s.publisher = p
}

// SetMetrics enables turn, tool and gateway metrics.
func (s *ConversationService) SetMetrics(m *cfotel.Metrics) {
	s.metrics = m
}

// ListMessages returns the ordered transcript of a project.
func (s *ConversationService) ListMessages(ctx context.Context, projectID string) ([]conversation.Message, error) {
	if _, err := s.projects.Get(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, projectID)
}

// buildSystemPrompt renders the system prompt for p. A render failure falls
// back to a one-line prompt.
func (s *ConversationService) buildSystemPrompt(p *project.Project) string {
	data := conversationPromptData{
		ProjectName:        p.Name,
		ProjectDescription: p.Description,
	}
	for _, d := range s.tools.Catalog() {
		data.Tools = append(data.Tools, d.Name+": "+d.Description)
	}

	var buf bytes.Buffer
	if err := s.prompt.Execute(&buf, data); err != nil {
		slog.Error("conversation: failed to render system prompt template", "error", err)
		return fmt.Sprintf("You are the assistant of the project %q.", p.Name)
	}
	return buf.String()
}

// append persists m and emits the message-appended event.
func (s *ConversationService) append(ctx context.Context, m *conversation.Message) (*conversation.Message, error) {
	saved, err := s.store.AppendMessage(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("append %s message: %w", m.Role, err)
	}
	s.publish(ctx, saved)
	return saved, nil
}

// publish is best effort: the transcript is already committed.
func (s *ConversationService) publish(ctx context.Context, m *conversation.Message) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(messagequeue.MessageAppendedPayload{
		MessageID:  m.ID,
		ProjectID:  m.ProjectID,
		Position:   m.Position,
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		ToolName:   m.ToolName,
		RequestID:  logger.RequestID(ctx),
		CreatedAt:  m.CreatedAt,
	})
	if err != nil {
		slog.ErrorContext(ctx, "marshal message event", "message_id", m.ID, "error", err)
		return
	}
	subject := messagequeue.MessageSubject(m.ProjectID)
	if err := s.publisher.PublishDedup(ctx, subject, data, m.ID); err != nil {
		slog.WarnContext(ctx, "publish message event failed", "subject", subject, "message_id", m.ID, "error", err)
	}
}
