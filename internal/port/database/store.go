// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/Strob0t/projectchat/internal/domain/conversation"
	"github.com/Strob0t/projectchat/internal/domain/project"
)

// ProjectStore persists project records. It owns their transactional integrity.
type ProjectStore interface {
	ListProjects(ctx context.Context, ownerID string) ([]project.Project, error)
	GetProject(ctx context.Context, id string) (*project.Project, error)
	CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error)
	// UpdateProject writes p if p.Version matches the stored version and bumps it.
	// A version mismatch returns domain.ErrConflict.
	UpdateProject(ctx context.Context, p *project.Project) error
	// DeleteProject removes the project and, by cascade, its conversation.
	DeleteProject(ctx context.Context, id string) error
}

// ConversationStore is the durable, ordered message log per project.
type ConversationStore interface {
	// AppendMessage persists m and returns it with the store-assigned ID,
	// Position and CreatedAt. Position is strictly greater than every prior
	// position in the conversation. Storage failures wrap domain.ErrPersistence.
	AppendMessage(ctx context.Context, m *conversation.Message) (*conversation.Message, error)

	// ListMessages returns every message of the conversation in append order.
	// An empty conversation yields an empty slice.
	ListMessages(ctx context.Context, projectID string) ([]conversation.Message, error)
}

// Store is the port interface for database operations.
type Store interface {
	ProjectStore
	ConversationStore

	// Ping reports whether the backing database is reachable.
	Ping(ctx context.Context) error
}
