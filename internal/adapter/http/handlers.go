package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Strob0t/projectchat/internal/adapter/litellm"
	"github.com/Strob0t/projectchat/internal/domain/conversation"
	"github.com/Strob0t/projectchat/internal/domain/project"
	"github.com/Strob0t/projectchat/internal/middleware"
	"github.com/Strob0t/projectchat/internal/service"
)

const defaultMaxRequestBodySize = 1 << 20 // 1 MB

// ModelLister lists the models configured on the LiteLLM proxy.
type ModelLister interface {
	ListModels(ctx context.Context) ([]litellm.Model, error)
}

// Check is a named readiness probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Limits bounds request handling.
type Limits struct {
	MaxRequestBodySize int64
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Projects      *service.ProjectService
	Conversations *service.ConversationService
	Tools         *service.ToolRegistry
	LiteLLM       ModelLister
	Checks        []Check
	Limits        Limits
}

func (h *Handlers) bodyLimit() int64 {
	if h.Limits.MaxRequestBodySize > 0 {
		return h.Limits.MaxRequestBodySize
	}
	return defaultMaxRequestBodySize
}

// ownedProject loads a project on behalf of the calling user.
func (h *Handlers) ownedProject(ctx context.Context, id string) (*project.Project, error) {
	return h.Projects.GetOwned(ctx, id, middleware.UserIDFromContext(ctx))
}

// --- Projects ---

// ListProjects handles GET /api/v1/projects
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	handleList(func(ctx context.Context) ([]project.Project, error) {
		return h.Projects.List(ctx, middleware.UserIDFromContext(ctx))
	})(w, r)
}

// CreateProject handles POST /api/v1/projects
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	handleCreate(h.bodyLimit(), func(ctx context.Context, req *project.CreateRequest) (*project.Project, error) {
		req.OwnerID = middleware.UserIDFromContext(ctx)
		return h.Projects.Create(ctx, *req)
	})(w, r)
}

// GetProject handles GET /api/v1/projects/{id}
func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	handleGet(h.ownedProject, "project not found")(w, r)
}

// UpdateProject handles PUT /api/v1/projects/{id}
func (h *Handlers) UpdateProject(w http.ResponseWriter, r *http.Request) {
	handleUpdate(h.bodyLimit(), func(ctx context.Context, id string, req project.UpdateRequest) (*project.Project, error) {
		if _, err := h.ownedProject(ctx, id); err != nil {
			return nil, err
		}
		return h.Projects.Update(ctx, id, req)
	}, "project not found")(w, r)
}

// DeleteProject handles DELETE /api/v1/projects/{id}
func (h *Handlers) DeleteProject(w http.ResponseWriter, r *http.Request) {
	handleDelete(func(ctx context.Context, id string) error {
		if _, err := h.ownedProject(ctx, id); err != nil {
			return err
		}
		return h.Projects.Delete(ctx, id)
	}, "project not found")(w, r)
}

// GenerateDescription handles POST /api/v1/projects/{id}/generate-description
func (h *Handlers) GenerateDescription(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if _, err := h.ownedProject(r.Context(), id); err != nil {
		writeDomainError(w, r, err, "project not found")
		return
	}
	p, err := h.Conversations.GenerateDescription(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Conversation ---

// ListMessages handles GET /api/v1/projects/{id}/messages
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	handleListByID(func(ctx context.Context, id string) ([]conversation.Message, error) {
		if _, err := h.ownedProject(ctx, id); err != nil {
			return nil, err
		}
		return h.Conversations.ListMessages(ctx, id)
	}, "project not found")(w, r)
}

// SendMessage handles POST /api/v1/projects/{id}/messages. It runs a full
// turn and responds with the final assistant message.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	handleCreateByID(h.bodyLimit(), func(ctx context.Context, id string, req conversation.SendMessageRequest) (*conversation.Message, error) {
		if _, err := h.ownedProject(ctx, id); err != nil {
			return nil, err
		}
		return h.Conversations.SubmitMessage(ctx, id, req)
	}, "project not found")(w, r)
}

// --- Catalog ---

type toolView struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ListTools handles GET /api/v1/tools
func (h *Handlers) ListTools(w http.ResponseWriter, _ *http.Request) {
	catalog := h.Tools.Catalog()
	views := make([]toolView, 0, len(catalog))
	for i := range catalog {
		views = append(views, toolView{
			Name:        catalog[i].Name,
			Description: catalog[i].Description,
			Parameters:  catalog[i].Schema.JSONSchema(),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// ListLLMModels handles GET /api/v1/llm/models
func (h *Handlers) ListLLMModels(w http.ResponseWriter, r *http.Request) {
	if h.LiteLLM == nil {
		writeError(w, http.StatusServiceUnavailable, "LLM admin client not configured")
		return
	}
	models, err := h.LiteLLM.ListModels(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "litellm unavailable", "error", err)
		writeError(w, http.StatusBadGateway, "LLM service unavailable")
		return
	}
	if models == nil {
		models = []litellm.Model{}
	}
	writeJSON(w, http.StatusOK, models)
}

// --- Health ---

// Health handles GET /health (liveness).
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready. Every check runs; any failure yields 503.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(h.Checks))
	for _, c := range h.Checks {
		if err := c.Probe(ctx); err != nil {
			slog.WarnContext(ctx, "readiness check failed", "check", c.Name, "error", err)
			checks[c.Name] = "unavailable"
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}
