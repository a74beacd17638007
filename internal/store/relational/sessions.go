package relational

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

const sessionColumns = `id, agent_type, user_id, project, status, start_time,
	end_time, reason, context, placeholder`

// UpsertSession applies session_start semantics: create active, or
// reactivate and fill in fields a placeholder was missing. start_time is
// only set on first insert.
func (s *Store) UpsertSession(ctx context.Context, sess *knowledge.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, agent_type, user_id, project, status,
			start_time, reason, context, placeholder)
		VALUES ($1, $2, $3, $4, 'active', $5, '', $6, FALSE)
		ON CONFLICT (id) DO UPDATE SET
			agent_type = CASE WHEN EXCLUDED.agent_type <> '' THEN EXCLUDED.agent_type ELSE sessions.agent_type END,
			user_id = CASE WHEN EXCLUDED.user_id <> '' THEN EXCLUDED.user_id ELSE sessions.user_id END,
			project = CASE WHEN EXCLUDED.project <> '' THEN EXCLUDED.project ELSE sessions.project END,
			status = 'active',
			end_time = NULL,
			context = sessions.context || EXCLUDED.context,
			placeholder = FALSE`,
		sess.ID, sess.AgentType, sess.UserID, sess.Project, sess.StartTime,
		orEmptyMap(sess.Context))
	if err != nil {
		return writeErr(fmt.Errorf("upsert session: %w", err))
	}
	return nil
}

// EnsureSession creates a placeholder so action and message writes never
// fail on an unknown session id. No-op when the session exists.
func (s *Store) EnsureSession(ctx context.Context, sessionID, project string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, project, status, start_time, context, placeholder)
		VALUES ($1, $2, 'active', $3, '{}', TRUE)
		ON CONFLICT (id) DO NOTHING`,
		sessionID, project, now)
	if err != nil {
		return writeErr(fmt.Errorf("ensure session: %w", err))
	}
	return nil
}

// EndSession closes a session once. Repeated ends keep the first end_time
// and status; the returned bool reports whether this call performed the
// close, so callers enqueue the session export exactly once.
func (s *Store) EndSession(ctx context.Context, sessionID string, endTime time.Time, status knowledge.SessionStatus, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET end_time = $2, status = $3, reason = $4
		WHERE id = $1 AND end_time IS NULL`,
		sessionID, endTime, string(status), reason)
	if err != nil {
		return false, writeErr(fmt.Errorf("end session: %w", err))
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("%w: session %s", knowledge.ErrNotFound, sessionID)
	}
	return false, nil
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*knowledge.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", knowledge.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions filtered by project and/or status, newest
// first. Empty filters match everything.
func (s *Store) ListSessions(ctx context.Context, project string, status knowledge.SessionStatus, limit int) ([]knowledge.Session, error) {
	sql := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`
	var args []any
	if project != "" {
		args = append(args, project)
		sql += fmt.Sprintf(` AND project = $%d`, len(args))
	}
	if status != "" {
		args = append(args, string(status))
		sql += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	sql += ` ORDER BY start_time DESC`
	if limit > 0 {
		args = append(args, limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []knowledge.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ListActiveSessions returns active sessions, optionally only those
// started before a cutoff (crash sweeps use the cutoff).
func (s *Store) ListActiveSessions(ctx context.Context, startedBefore *time.Time) ([]knowledge.Session, error) {
	sql := `SELECT ` + sessionColumns + ` FROM sessions WHERE status = 'active'`
	var args []any
	if startedBefore != nil {
		args = append(args, *startedBefore)
		sql += ` AND start_time < $1`
	}
	sql += ` ORDER BY start_time`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []knowledge.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// InsertAction appends one action. The session must exist; intake creates
// a placeholder first.
func (s *Store) InsertAction(ctx context.Context, a *knowledge.Action) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO actions (id, session_id, action_type, description, details,
			files_affected, success, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.SessionID, a.ActionType, a.Description, orEmptyMap(a.Details),
		orEmpty(a.FilesAffected), a.Success, a.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: action %s", knowledge.ErrConflict, a.ID)
		}
		return writeErr(fmt.Errorf("insert action: %w", err))
	}
	return nil
}

// InsertMessage appends one conversation message.
func (s *Store) InsertMessage(ctx context.Context, m *knowledge.ConversationMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_messages (id, session_id, role, content, action_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.SessionID, string(m.Role), m.Content, m.ActionID, m.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: message %s", knowledge.ErrConflict, m.ID)
		}
		return writeErr(fmt.Errorf("insert message: %w", err))
	}
	return nil
}

// InsertSnippet appends one extracted code snippet.
func (s *Store) InsertSnippet(ctx context.Context, sn *knowledge.CodeSnippet) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO code_snippets (id, session_id, language, code, source_message_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		sn.ID, sn.SessionID, sn.Language, sn.Code, sn.SourceMessageID, sn.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: snippet %s", knowledge.ErrConflict, sn.ID)
		}
		return writeErr(fmt.Errorf("insert snippet: %w", err))
	}
	return nil
}

// ListSessionMessages returns a session's messages in chronological order.
func (s *Store) ListSessionMessages(ctx context.Context, sessionID string) ([]knowledge.ConversationMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content, action_id, created_at
		FROM conversation_messages WHERE session_id = $1 ORDER BY created_at, id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []knowledge.ConversationMessage
	for rows.Next() {
		var m knowledge.ConversationMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.ActionID, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// ListSessionActions returns a session's actions in chronological order.
func (s *Store) ListSessionActions(ctx context.Context, sessionID string) ([]knowledge.Action, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, action_type, description, details, files_affected,
			success, created_at
		FROM actions WHERE session_id = $1 ORDER BY created_at, id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var actions []knowledge.Action
	for rows.Next() {
		var a knowledge.Action
		if err := rows.Scan(&a.ID, &a.SessionID, &a.ActionType, &a.Description,
			&a.Details, &a.FilesAffected, &a.Success, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, nil
}

// ListSessionSnippets returns a session's code snippets, newest last.
func (s *Store) ListSessionSnippets(ctx context.Context, sessionID string) ([]knowledge.CodeSnippet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, language, code, source_message_id, created_at
		FROM code_snippets WHERE session_id = $1 ORDER BY created_at, id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list snippets: %w", err)
	}
	defer rows.Close()

	var snippets []knowledge.CodeSnippet
	for rows.Next() {
		var sn knowledge.CodeSnippet
		if err := rows.Scan(&sn.ID, &sn.SessionID, &sn.Language, &sn.Code,
			&sn.SourceMessageID, &sn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snippet: %w", err)
		}
		snippets = append(snippets, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snippets: %w", err)
	}
	return snippets, nil
}

func scanSession(row pgx.Row) (*knowledge.Session, error) {
	var sess knowledge.Session
	err := row.Scan(&sess.ID, &sess.AgentType, &sess.UserID, &sess.Project,
		&sess.Status, &sess.StartTime, &sess.EndTime, &sess.Reason,
		&sess.Context, &sess.Placeholder)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
