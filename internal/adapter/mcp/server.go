// Package mcp exposes the project tool registry over the Model Context Protocol,
// so external agents can run the same tools the conversation model uses.
package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/projectchat/internal/domain/conversation"
	"github.com/Strob0t/projectchat/internal/domain/project"
	"github.com/Strob0t/projectchat/internal/domain/tool"
)

// ToolRunner is the registry surface the server needs.
type ToolRunner interface {
	Catalog() []tool.Definition
	Execute(ctx context.Context, name string, args json.RawMessage, projectID string) (tool.Result, error)
}

// ProjectAuthorizer resolves a project on behalf of its owner.
type ProjectAuthorizer interface {
	GetOwned(ctx context.Context, id, ownerID string) (*project.Project, error)
}

// TranscriptReader lists the conversation of a project.
type TranscriptReader interface {
	ListMessages(ctx context.Context, projectID string) ([]conversation.Message, error)
}

// ServerConfig holds MCP server configuration.
type ServerConfig struct {
	Name    string
	Version string
}

// ServerDeps holds the dependencies the MCP server needs.
// UserID resolves the calling user from a request context.
type ServerDeps struct {
	Tools       ToolRunner
	Projects    ProjectAuthorizer
	Transcripts TranscriptReader
	UserID      func(ctx context.Context) string
}

// Server wraps an MCP server with the registry tools and transcript resources.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
}

// NewServer creates an MCP server and registers tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{cfg: cfg, deps: deps}
	s.mcpServer = mcpserver.NewMCPServer(
		cfg.Name,
		cfg.Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithRecovery(),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server, mainly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the streamable-HTTP handler to mount on the router.
// The caller identity is taken from the HTTP request context.
func (s *Server) Handler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithStateLess(true),
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if s.deps.UserID == nil {
				return ctx
			}
			return withCaller(ctx, s.deps.UserID(r.Context()))
		}),
	)
}

type callerKey struct{}

func withCaller(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, callerKey{}, userID)
}

func (s *Server) caller(ctx context.Context) string {
	if id, ok := ctx.Value(callerKey{}).(string); ok && id != "" {
		return id
	}
	if s.deps.UserID != nil {
		return s.deps.UserID(ctx)
	}
	return ""
}
