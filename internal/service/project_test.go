package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/projectchat/internal/domain"
	"github.com/Strob0t/projectchat/internal/domain/conversation"
	"github.com/Strob0t/projectchat/internal/domain/project"
	"github.com/Strob0t/projectchat/internal/port/cache"
	"github.com/Strob0t/projectchat/internal/port/database"
)

// Ensure mockStore implements database.Store at compile time.
var _ database.Store = (*mockStore)(nil)

// mockStore is a minimal in-memory implementation of database.Store for testing.
type mockStore struct {
	mu       sync.Mutex
	projects map[string]*project.Project
	messages map[string][]conversation.Message
	nextID   int

	// Error hooks; set these to inject failures.
	getProjectErr    error
	updateProjectErr error
	conflictsLeft    int // UpdateProject reports ErrConflict this many times
	appendErr        error
	appendFailAfter  int // fail appends once this many have succeeded (0 = never)
	listErr          error
	honourCtx        bool // AppendMessage fails once ctx is done, like a real driver

	appends int
}

func newMockStore(projects ...project.Project) *mockStore {
	m := &mockStore{
		projects: make(map[string]*project.Project),
		messages: make(map[string][]conversation.Message),
	}
	for i := range projects {
		p := projects[i]
		if p.Version == 0 {
			p.Version = 1
		}
		m.projects[p.ID] = &p
	}
	return m
}

func (m *mockStore) Ping(context.Context) error { return nil }

func (m *mockStore) ListProjects(_ context.Context, ownerID string) ([]project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []project.Project{}
	for _, p := range m.projects {
		if p.OwnerID == ownerID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockStore) GetProject(_ context.Context, id string) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getProjectErr != nil {
		return nil, m.getProjectErr
	}
	p, ok := m.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) CreateProject(_ context.Context, req project.CreateRequest) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p := &project.Project{
		ID:          fmt.Sprintf("proj-%d", m.nextID),
		OwnerID:     req.OwnerID,
		Name:        req.Name,
		Description: req.Description,
		Version:     1,
	}
	m.projects[p.ID] = p
	cp := *p
	return &cp, nil
}

func (m *mockStore) UpdateProject(_ context.Context, p *project.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateProjectErr != nil {
		return m.updateProjectErr
	}
	stored, ok := m.projects[p.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		stored.Version++
		return domain.ErrConflict
	}
	if stored.Version != p.Version {
		return domain.ErrConflict
	}
	p.Version++
	p.UpdatedAt = time.Now()
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *mockStore) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.projects, id)
	delete(m.messages, id)
	return nil
}

func (m *mockStore) AppendMessage(ctx context.Context, msg *conversation.Message) (*conversation.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.honourCtx && ctx.Err() != nil {
		return nil, fmt.Errorf("insert message: %w: %w", domain.ErrPersistence, ctx.Err())
	}
	if m.appendErr != nil && (m.appendFailAfter == 0 || m.appends >= m.appendFailAfter) {
		return nil, m.appendErr
	}
	if _, ok := m.projects[msg.ProjectID]; !ok {
		return nil, fmt.Errorf("append message: %w", domain.ErrNotFound)
	}
	m.appends++
	saved := *msg
	saved.ID = fmt.Sprintf("msg-%d", m.appends)
	saved.Position = int64(len(m.messages[msg.ProjectID]) + 1)
	saved.CreatedAt = time.Now()
	m.messages[msg.ProjectID] = append(m.messages[msg.ProjectID], saved)
	return &saved, nil
}

func (m *mockStore) ListMessages(_ context.Context, projectID string) ([]conversation.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]conversation.Message, len(m.messages[projectID]))
	copy(out, m.messages[projectID])
	return out, nil
}

func (m *mockStore) transcript(projectID string) []conversation.Message {
	msgs, _ := m.ListMessages(context.Background(), projectID)
	return msgs
}

// mapCache is an in-memory cache.Cache that counts operations.
type mapCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	hits    int
	deletes int
}

var _ cache.Cache = (*mapCache)(nil)

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.data, key)
	return nil
}

func TestProjectServiceCreate(t *testing.T) {
	svc := NewProjectService(newMockStore(), nil, time.Minute)

	p, err := svc.Create(context.Background(), project.CreateRequest{OwnerID: "u1", Name: "Apollo"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Apollo" || p.OwnerID != "u1" {
		t.Fatalf("unexpected project %+v", p)
	}

	_, err = svc.Create(context.Background(), project.CreateRequest{OwnerID: "u1", Name: " "})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestProjectServiceGetOwned(t *testing.T) {
	store := newMockStore(project.Project{ID: "p1", OwnerID: "u1", Name: "Apollo"})
	svc := NewProjectService(store, nil, time.Minute)
	ctx := context.Background()

	if _, err := svc.GetOwned(ctx, "p1", "u1"); err != nil {
		t.Fatalf("owner should have access: %v", err)
	}
	if _, err := svc.GetOwned(ctx, "p1", "u2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.GetOwned(ctx, "missing", "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProjectServiceGetUsesCache(t *testing.T) {
	store := newMockStore(project.Project{ID: "p1", OwnerID: "u1", Name: "Apollo"})
	c := newMapCache()
	svc := NewProjectService(store, c, time.Minute)
	ctx := context.Background()

	if _, err := svc.Get(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	// A store failure is invisible while the entry is cached.
	store.getProjectErr = errors.New("db down")
	p, err := svc.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("expected cached read, got %v", err)
	}
	if p.Name != "Apollo" || c.hits != 1 {
		t.Fatalf("expected one cache hit, got %d (%+v)", c.hits, p)
	}
}

func TestProjectServiceUpdateInvalidatesCache(t *testing.T) {
	store := newMockStore(project.Project{ID: "p1", OwnerID: "u1", Name: "Apollo"})
	c := newMapCache()
	svc := NewProjectService(store, c, time.Minute)
	ctx := context.Background()

	if _, err := svc.Get(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	name := "Atlas"
	if _, err := svc.Update(ctx, "p1", project.UpdateRequest{Name: &name}); err != nil {
		t.Fatal(err)
	}
	if c.deletes != 1 {
		t.Fatalf("expected cache invalidation, got %d deletes", c.deletes)
	}
	p, err := svc.Get(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Atlas" {
		t.Fatalf("expected fresh name Atlas, got %q", p.Name)
	}
}

func TestProjectServiceUpdateRetriesConflict(t *testing.T) {
	tests := []struct {
		name      string
		conflicts int
		wantErr   error
	}{
		{"no conflict", 0, nil},
		{"one conflict retried", 1, nil},
		{"conflicts exhaust retries", maxUpdateAttempts, domain.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore(project.Project{ID: "p1", OwnerID: "u1", Name: "Apollo"})
			store.conflictsLeft = tt.conflicts
			svc := NewProjectService(store, nil, time.Minute)

			desc := "new"
			_, err := svc.Update(context.Background(), "p1", project.UpdateRequest{Description: &desc})
			if !errors.Is(err, tt.wantErr) && (err != nil || tt.wantErr != nil) {
				t.Fatalf("Update() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestProjectServiceUpdateValidation(t *testing.T) {
	store := newMockStore(project.Project{ID: "p1", OwnerID: "u1", Name: "Apollo"})
	svc := NewProjectService(store, nil, time.Minute)

	empty := ""
	_, err := svc.Update(context.Background(), "p1", project.UpdateRequest{Name: &empty})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if store.projects["p1"].Version != 1 {
		t.Fatal("invalid update must not write")
	}
}

func TestProjectServiceRename(t *testing.T) {
	store := newMockStore(project.Project{ID: "p1", OwnerID: "u1", Name: "Apollo"})
	svc := NewProjectService(store, nil, time.Minute)

	prev, p, err := svc.Rename(context.Background(), "p1", "Atlas")
	if err != nil {
		t.Fatal(err)
	}
	if prev != "Apollo" || p.Name != "Atlas" {
		t.Fatalf("unexpected rename result prev=%q name=%q", prev, p.Name)
	}
}

func TestProjectServiceDelete(t *testing.T) {
	store := newMockStore(project.Project{ID: "p1", OwnerID: "u1", Name: "Apollo"})
	c := newMapCache()
	svc := NewProjectService(store, c, time.Minute)
	ctx := context.Background()

	if _, err := svc.Get(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, "p1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := svc.Delete(ctx, "p1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestProjectServiceList(t *testing.T) {
	store := newMockStore(
		project.Project{ID: "p1", OwnerID: "u1", Name: "A"},
		project.Project{ID: "p2", OwnerID: "u2", Name: "B"},
	)
	svc := NewProjectService(store, nil, time.Minute)

	got, err := svc.List(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "p1" {
		t.Fatalf("expected only p1, got %+v", got)
	}
}
