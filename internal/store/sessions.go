package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Persona methods
func (s *SQLiteStore) CreatePersona(ctx context.Context, p *Persona) error {
	if p.Name == "" || p.SystemPrompt == "" {
		return NewDomainErrorWithCause(ErrCodeValidation, "persona name and system prompt are required", ErrMissingField)
	}
	p.ID = uuid.NewString()
	p.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO personas (id, name, system_prompt, created_at) VALUES (?, ?, ?, ?)",
		p.ID, p.Name, p.SystemPrompt, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert persona: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPersona(ctx context.Context, id string) (*Persona, error) {
	var p Persona
	var created string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, system_prompt, created_at FROM personas WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.SystemPrompt, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPersonaNotFound
		}
		return nil, fmt.Errorf("failed to get persona: %w", err)
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) ListPersonas(ctx context.Context) ([]Persona, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, system_prompt, created_at FROM personas ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query personas: %w", err)
	}
	defer rows.Close()

	var personas []Persona
	for rows.Next() {
		var p Persona
		var created string
		if err := rows.Scan(&p.ID, &p.Name, &p.SystemPrompt, &created); err != nil {
			return nil, fmt.Errorf("failed to scan persona row: %w", err)
		}
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		personas = append(personas, p)
	}
	return personas, rows.Err()
}

// Session methods
const sessionColumns = "id, title, persona_id, context_summary, date_from, date_to, created_at, updated_at"

func (s *SQLiteStore) CreateSession(ctx context.Context, title, personaID *string) (*ChatSession, error) {
	now := time.Now().UTC()
	sess := &ChatSession{
		ID:        uuid.NewString(),
		Title:     title,
		PersonaID: personaID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO chat_sessions (id, title, persona_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		sess.ID, title, personaID, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to insert chat session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*ChatSession, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM chat_sessions WHERE id = ?", id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get chat session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sessionColumns+" FROM chat_sessions ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query chat sessions: %w", err)
	}
	defer rows.Close()

	var sessions []ChatSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat session row: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session together with its messages and their references.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM message_references WHERE message_id IN (SELECT id FROM chat_messages WHERE session_id = ?)", id); err != nil {
		return fmt.Errorf("failed to delete message references: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chat_messages WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM chat_sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete chat session: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrSessionNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateSessionTitle(ctx context.Context, id, title string) error {
	return s.updateSession(ctx, "title = ?", title, id)
}

// UpdateSessionSummary stores the rolling summary; an empty summary clears it.
func (s *SQLiteStore) UpdateSessionSummary(ctx context.Context, id, summary string) error {
	var v any = summary
	if summary == "" {
		v = nil
	}
	return s.updateSession(ctx, "context_summary = ?", v, id)
}

// SetSessionFilter stores the session date filter; nil bounds clear it.
func (s *SQLiteStore) SetSessionFilter(ctx context.Context, id string, from, to *time.Time) error {
	if from != nil && to != nil && from.After(*to) {
		return ErrInvalidDateRange
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE chat_sessions SET date_from = ?, date_to = ?, updated_at = ? WHERE id = ?",
		nullableTime(from), nullableTime(to), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update session filter: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) updateSession(ctx context.Context, set string, value any, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE chat_sessions SET "+set+", updated_at = ? WHERE id = ?",
		value, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update chat session: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func scanSession(r rowScanner) (*ChatSession, error) {
	var sess ChatSession
	var title, personaID, summary, from, to sql.NullString
	var created, updated string
	if err := r.Scan(&sess.ID, &title, &personaID, &summary, &from, &to, &created, &updated); err != nil {
		return nil, err
	}
	sess.Title = nullableString(title)
	sess.PersonaID = nullableString(personaID)
	sess.ContextSummary = nullableString(summary)

	var err error
	if sess.DateFrom, err = scanNullableTime(from); err != nil {
		return nil, err
	}
	if sess.DateTo, err = scanNullableTime(to); err != nil {
		return nil, err
	}
	if sess.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Message methods

// AddMessage persists msg and its references in one transaction and touches the session.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg *ChatMessage) error {
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return ErrInvalidRole
	}
	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.TokenCount == 0 {
		msg.TokenCount = EstimateTokens(msg.Content)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE chat_sessions SET updated_at = ? WHERE id = ?", formatTime(msg.CreatedAt), msg.SessionID)
	if err != nil {
		return fmt.Errorf("failed to touch chat session: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrSessionNotFound
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO chat_messages (id, session_id, role, content, token_count, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.TokenCount, formatTime(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}

	if len(msg.References) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO message_references (message_id, position, entry_id, chunk_index, score, title, snippet, entry_date)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare reference insert: %w", err)
		}
		defer stmt.Close()
		for i, ref := range msg.References {
			var chunkIndex any
			if ref.ChunkIndex != nil {
				chunkIndex = *ref.ChunkIndex
			}
			if _, err := stmt.ExecContext(ctx, msg.ID, i, ref.EntryID, chunkIndex, ref.Score, ref.Title, ref.Snippet, formatTime(ref.EntryDate)); err != nil {
				return fmt.Errorf("failed to insert reference %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

// ListMessages returns the messages of a session in chronological order with their references.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, session_id, role, content, token_count, created_at
        FROM chat_messages
        WHERE session_id = ?
        ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []ChatMessage
	index := make(map[string]int)
	for rows.Next() {
		var msg ChatMessage
		var created string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.TokenCount, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if msg.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		index[msg.ID] = len(messages)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if len(messages) == 0 {
		return messages, nil
	}
	if err := s.attachReferences(ctx, sessionID, messages, index); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *SQLiteStore) attachReferences(ctx context.Context, sessionID string, messages []ChatMessage, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
        SELECT r.message_id, r.entry_id, r.chunk_index, r.score, r.title, r.snippet, r.entry_date
        FROM message_references r
        JOIN chat_messages m ON m.id = r.message_id
        WHERE m.session_id = ?
        ORDER BY r.message_id, r.position`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to query message references: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, date string
		var ref EntryReference
		var chunkIndex sql.NullInt64
		if err := rows.Scan(&messageID, &ref.EntryID, &chunkIndex, &ref.Score, &ref.Title, &ref.Snippet, &date); err != nil {
			return fmt.Errorf("failed to scan reference row: %w", err)
		}
		if chunkIndex.Valid {
			ci := int(chunkIndex.Int64)
			ref.ChunkIndex = &ci
		}
		if ref.EntryDate, err = parseTime(date); err != nil {
			return err
		}
		if i, ok := index[messageID]; ok {
			messages[i].References = append(messages[i].References, ref)
		}
	}
	return rows.Err()
}
