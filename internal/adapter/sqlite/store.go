package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/projectchat/internal/domain"
	"github.com/Strob0t/projectchat/internal/domain/conversation"
	"github.com/Strob0t/projectchat/internal/domain/project"
)

// Timestamps are stored as RFC 3339 text so ordering by column is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type scannable interface {
	Scan(dest ...any) error
}

func now() string { return time.Now().UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// --- Projects ---

const projectColumns = `id, owner_id, name, description, version, created_at, updated_at`

func (s *Store) ListProjects(ctx context.Context, ownerID string) ([]project.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w: %w", domain.ErrPersistence, err)
	}
	defer func() { _ = rows.Close() }()

	projects := []project.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w: %w", domain.ErrPersistence, err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list projects: %w: %w", domain.ErrPersistence, err)
	}
	return projects, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get project %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get project %s: %w: %w", id, domain.ErrPersistence, err)
	}
	return &p, nil
}

func (s *Store) CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error) {
	ts := now()
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, owner_id, name, description, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)`,
		id, req.OwnerID, req.Name, req.Description, ts, ts); err != nil {
		return nil, fmt.Errorf("create project: %w: %w", domain.ErrPersistence, err)
	}
	return s.GetProject(ctx, id)
}

func (s *Store) UpdateProject(ctx context.Context, p *project.Project) error {
	ts := now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, description = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		p.Name, p.Description, ts, p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("update project %s: %w: %w", p.ID, domain.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update project %s: %w: %w", p.ID, domain.ErrPersistence, err)
	}
	if n == 0 {
		if _, err := s.GetProject(ctx, p.ID); err != nil {
			return err
		}
		return fmt.Errorf("update project %s: %w", p.ID, domain.ErrConflict)
	}
	p.Version++
	p.UpdatedAt, _ = parseTime(ts)
	return nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project %s: %w: %w", id, domain.ErrPersistence, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete project %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanProject(row scannable) (project.Project, error) {
	var (
		p                    project.Project
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Version, &createdAt, &updatedAt); err != nil {
		return p, err
	}
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return p, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return p, err
	}
	return p, nil
}

// --- Conversation log ---

const messageColumns = `id, project_id, position, role, content, tool_calls, tool_call_id, tool_name,
	tokens_in, tokens_out, model, created_at`

func (s *Store) AppendMessage(ctx context.Context, m *conversation.Message) (*conversation.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append message: begin: %w: %w", domain.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id = ?`, m.ProjectID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("append message to %s: %w", m.ProjectID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("append message to %s: %w: %w", m.ProjectID, domain.ErrPersistence, err)
	}

	id := uuid.NewString()
	var toolCalls any
	if len(m.ToolCalls) > 0 {
		toolCalls = string(m.ToolCalls)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_messages
		   (id, project_id, position, role, content, tool_calls, tool_call_id, tool_name, tokens_in, tokens_out, model, created_at)
		 VALUES (?, ?,
		   (SELECT COALESCE(MAX(position), 0) + 1 FROM conversation_messages WHERE project_id = ?),
		   ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, m.ProjectID, m.ProjectID, m.Role, m.Content, toolCalls, m.ToolCallID, m.ToolName,
		m.TokensIn, m.TokensOut, m.Model, now()); err != nil {
		return nil, fmt.Errorf("append message to %s: %w: %w", m.ProjectID, domain.ErrPersistence, err)
	}

	created, err := scanMessage(tx.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM conversation_messages WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("append message: read back: %w: %w", domain.ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append message: commit: %w: %w", domain.ErrPersistence, err)
	}
	return &created, nil
}

func (s *Store) ListMessages(ctx context.Context, projectID string) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM conversation_messages WHERE project_id = ? ORDER BY position ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list messages %s: %w: %w", projectID, domain.ErrPersistence, err)
	}
	defer func() { _ = rows.Close() }()

	msgs := []conversation.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w: %w", domain.ErrPersistence, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages %s: %w: %w", projectID, domain.ErrPersistence, err)
	}
	return msgs, nil
}

func scanMessage(row scannable) (conversation.Message, error) {
	var (
		m         conversation.Message
		toolCalls sql.NullString
		createdAt string
	)
	if err := row.Scan(&m.ID, &m.ProjectID, &m.Position, &m.Role, &m.Content, &toolCalls,
		&m.ToolCallID, &m.ToolName, &m.TokensIn, &m.TokensOut, &m.Model, &createdAt); err != nil {
		return m, err
	}
	if toolCalls.Valid && toolCalls.String != "" {
		m.ToolCalls = []byte(toolCalls.String)
	}
	var err error
	m.CreatedAt, err = parseTime(createdAt)
	return m, err
}
