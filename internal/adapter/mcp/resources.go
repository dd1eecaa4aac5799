package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	transcriptURIPrefix = "projectchat://projects/"
	transcriptURISuffix = "/messages"
)

// registerResources registers the transcript resource template.
func (s *Server) registerResources() {
	if s.deps.Transcripts == nil {
		return
	}
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			transcriptURIPrefix+"{project_id}"+transcriptURISuffix,
			"Conversation transcript",
			mcplib.WithTemplateDescription("Ordered messages of a project conversation"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleTranscriptResource,
	)
}

func (s *Server) handleTranscriptResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	projectID, err := projectFromURI(req.Params.URI)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, projectID); err != nil {
		return nil, err
	}
	msgs, err := s.deps.Transcripts.ListMessages(ctx, projectID)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func projectFromURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, transcriptURIPrefix) || !strings.HasSuffix(uri, transcriptURISuffix) {
		return "", fmt.Errorf("unsupported resource uri %q", uri)
	}
	id := strings.TrimSuffix(strings.TrimPrefix(uri, transcriptURIPrefix), transcriptURISuffix)
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("unsupported resource uri %q", uri)
	}
	return id, nil
}
