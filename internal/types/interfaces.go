package types

import "context"

// SessionStore persists sessions and their messages. The orchestrator appends
// turns through this interface; it does not own storage or lifecycle.
type SessionStore interface {
	CreateSession(ctx context.Context, title string) (*Session, error)
	GetSession(ctx context.Context, id SessionID) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)
	DeleteSession(ctx context.Context, id SessionID) error
	AppendMessage(ctx context.Context, sessionID SessionID, role Role, content string) (*Message, error)
	ListMessages(ctx context.Context, sessionID SessionID) ([]*Message, error)
}
