// Package state persists chat sessions and messages in a local SQLite
// database.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/chatdb/internal/types"
)

var ErrNotFound = errors.New("session not found")

const createTables = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_messages(session_id);
`

// Store implements types.SessionStore over a SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates the database file (and parent directory) if needed and runs
// the schema migration.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if _, err := db.Exec(createTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) CreateSession(ctx context.Context, title string) (*types.Session, error) {
	if title == "" {
		title = "Chat Session"
	}
	sess := &types.Session{
		ID:        types.NewSessionID(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, title, created_at) VALUES (?, ?, ?)`,
		string(sess.ID), sess.Title, sess.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id types.SessionID) (*types.Session, error) {
	sess := &types.Session{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT title, created_at FROM chat_sessions WHERE id = ?`, string(id),
	).Scan(&sess.Title, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at FROM chat_sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*types.Session{}
	for rows.Next() {
		sess := &types.Session{}
		var id string
		if err := rows.Scan(&id, &sess.Title, &sess.CreatedAt); err != nil {
			return nil, err
		}
		sess.ID = types.SessionID(id)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and its messages.
func (s *Store) DeleteSession(ctx context.Context, id types.SessionID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, sessionID types.SessionID, role types.Role, content string) (*types.Message, error) {
	msg := &types.Message{
		ID:        types.NewMessageID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(msg.ID), string(sessionID), string(role), content, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID types.SessionID) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM chat_messages WHERE session_id = ? ORDER BY created_at ASC`,
		string(sessionID))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []*types.Message{}
	for rows.Next() {
		msg := &types.Message{SessionID: sessionID}
		var id, role string
		if err := rows.Scan(&id, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.ID = types.MessageID(id)
		msg.Role = types.Role(role)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
