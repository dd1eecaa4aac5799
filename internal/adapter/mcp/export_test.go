package mcp

import (
	"context"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

var ProjectFromURI = projectFromURI

func (s *Server) ReadTranscript(ctx context.Context, uri string) ([]mcplib.ResourceContents, error) {
	var req mcplib.ReadResourceRequest
	req.Params.URI = uri
	return s.handleTranscriptResource(ctx, req)
}
