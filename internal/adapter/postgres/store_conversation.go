package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/projectchat/internal/domain"
	"github.com/Strob0t/projectchat/internal/domain/conversation"
)

const messageColumns = `id, project_id, position, role, content, tool_calls, tool_call_id, tool_name,
	tokens_in, tokens_out, model, created_at`

// AppendMessage assigns the next position under a per-conversation advisory
// lock, so concurrent appends to one project serialize and never collide.
func (s *Store) AppendMessage(ctx context.Context, m *conversation.Message) (*conversation.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, persistenceWrap(err, "append message: begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, m.ProjectID); err != nil {
		return nil, persistenceWrap(err, "append message: lock conversation %s", m.ProjectID)
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO conversation_messages
		   (project_id, position, role, content, tool_calls, tool_call_id, tool_name, tokens_in, tokens_out, model)
		 VALUES ($1,
		   (SELECT COALESCE(MAX(position), 0) + 1 FROM conversation_messages WHERE project_id = $1),
		   $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+messageColumns,
		m.ProjectID, m.Role, m.Content, nullJSON(m.ToolCalls), m.ToolCallID, m.ToolName,
		m.TokensIn, m.TokensOut, m.Model)

	created, err := scanMessage(row)
	if err != nil {
		return nil, persistenceWrap(err, "append message to %s", m.ProjectID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, persistenceWrap(err, "append message: commit")
	}
	return &created, nil
}

// ListMessages returns the conversation in position order.
func (s *Store) ListMessages(ctx context.Context, projectID string) ([]conversation.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+`
		 FROM conversation_messages WHERE project_id = $1 ORDER BY position ASC`, projectID)
	if err != nil {
		return nil, listWrap(err, projectID)
	}
	defer rows.Close()

	var msgs []conversation.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, persistenceWrap(err, "scan message")
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, listWrap(err, projectID)
	}
	return orEmpty(msgs), nil
}

// listWrap treats a malformed project ID as an empty conversation rather
// than a storage fault.
func listWrap(err error, projectID string) error {
	if hasCode(err, codeInvalidTextRep) {
		return fmt.Errorf("list messages %s: %w", projectID, domain.ErrNotFound)
	}
	return persistenceWrap(err, "list messages %s", projectID)
}

func scanMessage(row scannable) (conversation.Message, error) {
	var (
		m         conversation.Message
		toolCalls []byte
	)
	err := row.Scan(&m.ID, &m.ProjectID, &m.Position, &m.Role, &m.Content, &toolCalls,
		&m.ToolCallID, &m.ToolName, &m.TokensIn, &m.TokensOut, &m.Model, &m.CreatedAt)
	if err != nil {
		return m, err
	}
	if len(toolCalls) > 0 {
		m.ToolCalls = toolCalls
	}
	return m, nil
}

// nullJSON stores an absent call batch as SQL NULL.
func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}
