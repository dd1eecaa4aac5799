package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/projectchat/internal/domain"
	"github.com/Strob0t/projectchat/internal/domain/project"
	"github.com/Strob0t/projectchat/internal/port/database"
)

var _ database.Store = (*Store)(nil)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Projects ---

const projectColumns = `id, owner_id, name, description, version, created_at, updated_at`

func (s *Store) ListProjects(ctx context.Context, ownerID string) ([]project.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []project.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return orEmpty(projects), nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)

	p, err := scanProject(row)
	if err != nil {
		return nil, notFoundWrap(err, "get project %s", id)
	}
	return &p, nil
}

func (s *Store) CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO projects (owner_id, name, description)
		 VALUES ($1, $2, $3)
		 RETURNING `+projectColumns,
		req.OwnerID, req.Name, req.Description)

	p, err := scanProject(row)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return &p, nil
}

func (s *Store) UpdateProject(ctx context.Context, p *project.Project) error {
	row := s.pool.QueryRow(ctx,
		`UPDATE projects SET name = $2, description = $3, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $4
		 RETURNING version, updated_at`,
		p.ID, p.Name, p.Description, p.Version)

	if err := row.Scan(&p.Version, &p.UpdatedAt); err != nil {
		err = notFoundWrap(err, "update project %s", p.ID)
		if !isNotFound(err) {
			return err
		}
		// Zero rows: either the project is gone or its version moved on.
		if _, getErr := s.GetProject(ctx, p.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("update project %s: %w", p.ID, domain.ErrConflict)
	}
	return nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete project %s", id)
}

func scanProject(row scannable) (project.Project, error) {
	var p project.Project
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
