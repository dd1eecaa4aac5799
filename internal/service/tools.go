package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Strob0t/projectchat/internal/domain/project"
	"github.com/Strob0t/projectchat/internal/domain/tool"
)

// Built-in tool names.
const (
	ToolRenameProject            = "rename_project"
	ToolUpdateProjectDescription = "update_project_description"
	ToolGetProjectDetails        = "get_project_details"
)

// ToolRegistry is the immutable, process-wide tool catalog keyed by name.
type ToolRegistry struct {
	defs    map[string]tool.Definition
	catalog []tool.Definition
}

// NewToolRegistry builds a registry from defs. Names must be unique and
// every definition needs an executor.
func NewToolRegistry(defs ...tool.Definition) (*ToolRegistry, error) {
	r := &ToolRegistry{defs: make(map[string]tool.Definition, len(defs))}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("tool registry: definition without name")
		}
		if d.Execute == nil {
			return nil, fmt.Errorf("tool registry: %s has no executor", d.Name)
		}
		if _, dup := r.defs[d.Name]; dup {
			return nil, fmt.Errorf("tool registry: duplicate tool %q", d.Name)
		}
		r.defs[d.Name] = d
		r.catalog = append(r.catalog, d)
	}
	sort.Slice(r.catalog, func(i, j int) bool { return r.catalog[i].Name < r.catalog[j].Name })
	return r, nil
}

// NewProjectToolRegistry registers the project tools backed by projects.
func NewProjectToolRegistry(projects *ProjectService) *ToolRegistry {
	r, err := NewToolRegistry(ProjectTools(projects)...)
	if err != nil {
		// Static definitions; only a programming error gets here.
		panic(err)
	}
	return r
}

// Catalog returns the definitions sorted by name.
func (r *ToolRegistry) Catalog() []tool.Definition {
	out := make([]tool.Definition, len(r.catalog))
	copy(out, r.catalog)
	return out
}

// Lookup returns the definition registered under name.
func (r *ToolRegistry) Lookup(name string) (tool.Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Execute validates args against the schema of name and runs its executor
// once for projectID.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage, projectID string) (tool.Result, error) {
	def, ok := r.defs[name]
	if !ok {
		return tool.Result{}, tool.ErrUnknownTool
	}
	parsed, err := def.Schema.Parse(args)
	if err != nil {
		return tool.Result{}, err
	}
	res, err := def.Execute(ctx, projectID, parsed)
	if err != nil {
		return tool.Result{}, fmt.Errorf("%s: %w: %w", name, tool.ErrToolExecution, err)
	}
	if res.Status == "" {
		res.Status = tool.StatusSuccess
	}
	return res, nil
}

// ProjectTools returns the tool definitions that act on project state.
func ProjectTools(projects *ProjectService) []tool.Definition {
	return []tool.Definition{
		{
			Name:        ToolRenameProject,
			Description: "Renames the current project to a new name provided by the user.",
			Schema: tool.Schema{
				Properties: map[string]tool.Property{
					"newName": {Type: tool.TypeString, Description: "The new name for the project."},
				},
				Required: []string{"newName"},
			},
			Execute: func(ctx context.Context, projectID string, args tool.Arguments) (tool.Result, error) {
				previous, p, err := projects.Rename(ctx, projectID, args.String("newName"))
				if err != nil {
					return tool.Result{}, err
				}
				return tool.Success(map[string]any{
					"newName":      p.Name,
					"previousName": previous,
				}), nil
			},
		},
		{
			Name:        ToolUpdateProjectDescription,
			Description: "Replaces the description of the current project.",
			Schema: tool.Schema{
				Properties: map[string]tool.Property{
					"description": {Type: tool.TypeString, Description: "The new project description."},
				},
				Required: []string{"description"},
			},
			Execute: func(ctx context.Context, projectID string, args tool.Arguments) (tool.Result, error) {
				desc := args.String("description")
				p, err := projects.Update(ctx, projectID, project.UpdateRequest{Description: &desc})
				if err != nil {
					return tool.Result{}, err
				}
				return tool.Success(map[string]any{"description": p.Description}), nil
			},
		},
		{
			Name:        ToolGetProjectDetails,
			Description: "Returns the current name, description and last update time of the project.",
			Schema:      tool.Schema{Properties: map[string]tool.Property{}},
			Execute: func(ctx context.Context, projectID string, _ tool.Arguments) (tool.Result, error) {
				p, err := projects.Get(ctx, projectID)
				if err != nil {
					return tool.Result{}, err
				}
				return tool.Success(map[string]any{
					"name":        p.Name,
					"description": p.Description,
					"updatedAt":   p.UpdatedAt.UTC().Format(time.RFC3339),
				}), nil
			},
		},
	}
}
