package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Strob0t/projectchat/internal/domain/conversation"
	"github.com/Strob0t/projectchat/internal/domain/project"
	"github.com/Strob0t/projectchat/internal/port/completion"
)

const describePrompt = "Generate a short, creative, one-paragraph description for a project named %q."

// GenerateDescription asks the model for a project description and stores it.
// The exchange is not part of the conversation transcript.
func (s *ConversationService) GenerateDescription(ctx context.Context, projectID string) (*project.Project, error) {
	p, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	res, err := s.gateway.Complete(ctx, completion.Request{
		History: []conversation.Message{{
			ProjectID: projectID,
			Role:      conversation.RoleUser,
			Content:   fmt.Sprintf(describePrompt, p.Name),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("generate description: %w", err)
	}
	desc := strings.TrimSpace(res.Content)
	if res.Kind != completion.TurnText || desc == "" {
		return nil, fmt.Errorf("generate description: empty reply: %w", completion.ErrProtocol)
	}
	// Keep within the stored limit rather than rejecting a verbose model.
	if len(desc) > project.MaxDescriptionLength {
		desc = strings.ToValidUTF8(desc[:project.MaxDescriptionLength], "")
	}
	return s.projects.Update(ctx, projectID, project.UpdateRequest{Description: &desc})
}
