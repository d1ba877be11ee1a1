package types

import "github.com/google/uuid"

type ConnectionID string
type SessionID string
type MessageID string
type EntryID string

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.New().String())
}

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewEntryID() EntryID {
	return EntryID(uuid.New().String())
}
