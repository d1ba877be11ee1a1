package types

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session is one chat conversation against a connected database.
type Session struct {
	ID        SessionID `json:"session_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a single turn within a session.
type Message struct {
	ID        MessageID `json:"message_id"`
	SessionID SessionID `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
}

// Result is the tabular outcome of a query: column names plus rows of
// JSON-safe values. Document queries are flattened into the same shape.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}
