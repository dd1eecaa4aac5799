package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouteOptions carries the optional surfaces mounted next to the REST API.
// Nil fields are skipped.
type RouteOptions struct {
	// Idempotency wraps POST /projects/{id}/messages.
	Idempotency func(http.Handler) http.Handler
	// WebSocket serves the AG-UI event stream on /ws.
	WebSocket http.HandlerFunc
	// MCP serves the Model Context Protocol endpoint on /mcp.
	MCP http.Handler
}

// MountRoutes registers all routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Ready)

	if opts.WebSocket != nil {
		r.Get("/ws", opts.WebSocket)
	}
	if opts.MCP != nil {
		r.Handle("/mcp", opts.MCP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Projects
		r.Get("/projects", h.ListProjects)
		r.Post("/projects", h.CreateProject)
		r.Get("/projects/{id}", h.GetProject)
		r.Put("/projects/{id}", h.UpdateProject)
		r.Delete("/projects/{id}", h.DeleteProject)
		r.Post("/projects/{id}/generate-description", h.GenerateDescription)

		// Conversation (one per project)
		r.Get("/projects/{id}/messages", h.ListMessages)
		if opts.Idempotency != nil {
			r.With(opts.Idempotency).Post("/projects/{id}/messages", h.SendMessage)
		} else {
			r.Post("/projects/{id}/messages", h.SendMessage)
		}

		// Catalog
		r.Get("/tools", h.ListTools)
		r.Get("/llm/models", h.ListLLMModels)
	})
}
