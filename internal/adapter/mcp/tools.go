package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/projectchat/internal/domain/tool"
)

// projectIDArg is added to every registry tool; the model-facing catalog
// gets the project from the conversation instead.
const projectIDArg = "project_id"

// registerTools registers one MCP tool per registry definition.
func (s *Server) registerTools() {
	if s.deps.Tools == nil {
		return
	}
	catalog := s.deps.Tools.Catalog()
	tools := make([]mcpserver.ServerTool, 0, len(catalog))
	for i := range catalog {
		st, err := s.serverTool(catalog[i])
		if err != nil {
			slog.Error("mcp: skipping tool", "tool", catalog[i].Name, "error", err)
			continue
		}
		tools = append(tools, st)
	}
	s.mcpServer.AddTools(tools...)
}

func (s *Server) serverTool(def tool.Definition) (mcpserver.ServerTool, error) {
	schema := def.Schema.JSONSchema()
	props, _ := schema["properties"].(map[string]any)
	props[projectIDArg] = map[string]any{
		"type":        tool.TypeString,
		"description": "ID of the project the tool acts on",
	}
	required, _ := schema["required"].([]string)
	schema["required"] = append([]string{projectIDArg}, required...)

	raw, err := json.Marshal(schema)
	if err != nil {
		return mcpserver.ServerTool{}, fmt.Errorf("marshal schema: %w", err)
	}
	name := def.Name
	return mcpserver.ServerTool{
		Tool: mcplib.NewToolWithRawSchema(name, def.Description, raw),
		Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
			return s.handleTool(ctx, name, req)
		},
	}, nil
}

func (s *Server) handleTool(ctx context.Context, name string, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	projectID, ok := args[projectIDArg].(string)
	if !ok || projectID == "" {
		return mcplib.NewToolResultError("project_id is required"), nil
	}
	if err := s.authorize(ctx, projectID); err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("project %s", projectID), err), nil
	}

	rest := make(map[string]any, len(args))
	for k, v := range args {
		if k != projectIDArg {
			rest[k] = v
		}
	}
	payload, err := json.Marshal(rest)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal arguments", err), nil
	}

	res, execErr := s.deps.Tools.Execute(ctx, name, payload, projectID)
	if execErr != nil {
		res = tool.Failure(execErr)
	}
	encoded, err := res.Encode()
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to encode result", err), nil
	}
	slog.InfoContext(ctx, "mcp tool call", "tool", name, "project_id", projectID, "status", res.Status)
	if execErr != nil {
		return mcplib.NewToolResultError(encoded), nil
	}
	return mcplib.NewToolResultText(encoded), nil
}

// authorize checks that the caller owns projectID. Without a project
// authorizer every project is reachable.
func (s *Server) authorize(ctx context.Context, projectID string) error {
	if s.deps.Projects == nil {
		return nil
	}
	_, err := s.deps.Projects.GetOwned(ctx, projectID, s.caller(ctx))
	return err
}
