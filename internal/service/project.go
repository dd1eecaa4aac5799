// Package service implements business logic on top of ports.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/projectchat/internal/domain"
	"github.com/Strob0t/projectchat/internal/domain/project"
	"github.com/Strob0t/projectchat/internal/port/cache"
	"github.com/Strob0t/projectchat/internal/port/database"
)

// maxUpdateAttempts bounds the optimistic-lock retry loop of Update.
const maxUpdateAttempts = 3

// ProjectService handles project business logic. Reads go through the cache,
// writes invalidate it.
type ProjectService struct {
	store    database.ProjectStore
	cache    cache.Cache
	cacheTTL time.Duration
}

// NewProjectService creates a new ProjectService. A nil cache disables caching.
func NewProjectService(store database.ProjectStore, c cache.Cache, cacheTTL time.Duration) *ProjectService {
	if c == nil {
		c = cache.Nop{}
	}
	return &ProjectService{store: store, cache: c, cacheTTL: cacheTTL}
}

func projectCacheKey(id string) string { return "project:" + id }

// List returns the projects owned by ownerID.
func (s *ProjectService) List(ctx context.Context, ownerID string) ([]project.Project, error) {
	return s.store.ListProjects(ctx, ownerID)
}

// Get returns a project by ID.
func (s *ProjectService) Get(ctx context.Context, id string) (*project.Project, error) {
	key := projectCacheKey(id)
	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var p project.Project
		if err := json.Unmarshal(data, &p); err == nil {
			return &p, nil
		}
		slog.Warn("project cache: corrupt entry", "project_id", id)
	}

	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, p)
	return p, nil
}

// GetOwned returns the project if ownerID owns it, domain.ErrForbidden otherwise.
func (s *ProjectService) GetOwned(ctx context.Context, id, ownerID string) (*project.Project, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, fmt.Errorf("project %s: %w", id, domain.ErrForbidden)
	}
	return p, nil
}

// Create creates a new project after validating the request.
func (s *ProjectService) Create(ctx context.Context, req project.CreateRequest) (*project.Project, error) {
	if err := project.ValidateCreateRequest(req); err != nil {
		return nil, err
	}
	return s.store.CreateProject(ctx, req)
}

// Update applies partial updates to a project. A concurrent write is retried
// against the fresh version a bounded number of times.
func (s *ProjectService) Update(ctx context.Context, id string, req project.UpdateRequest) (*project.Project, error) {
	if err := project.ValidateUpdateRequest(req); err != nil {
		return nil, err
	}

	var lastErr error
	for range maxUpdateAttempts {
		// Read through the store so the version is current.
		p, err := s.store.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		if req.Name != nil {
			p.Name = *req.Name
		}
		if req.Description != nil {
			p.Description = *req.Description
		}

		err = s.store.UpdateProject(ctx, p)
		if err == nil {
			s.forget(ctx, id)
			return p, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		lastErr = err
		slog.Debug("project update conflict, retrying", "project_id", id)
	}
	return nil, lastErr
}

// Rename changes the project name and returns the previous and updated project.
func (s *ProjectService) Rename(ctx context.Context, id, newName string) (previous string, updated *project.Project, err error) {
	before, err := s.store.GetProject(ctx, id)
	if err != nil {
		return "", nil, err
	}
	updated, err = s.Update(ctx, id, project.UpdateRequest{Name: &newName})
	if err != nil {
		return "", nil, err
	}
	return before.Name, updated, nil
}

// Delete removes a project and, by cascade, its conversation.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.forget(ctx, id)
	return nil
}

func (s *ProjectService) remember(ctx context.Context, p *project.Project) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, projectCacheKey(p.ID), data, s.cacheTTL); err != nil {
		slog.Debug("project cache set failed", "project_id", p.ID, "error", err)
	}
}

func (s *ProjectService) forget(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, projectCacheKey(id)); err != nil {
		slog.Warn("project cache invalidation failed", "project_id", id, "error", err)
	}
}
