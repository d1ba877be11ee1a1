package orchestrator

import (
	"encoding/json"
	"fmt"
)

// EventKind is the closed vocabulary of stream events.
type EventKind string

const (
	EventStart          EventKind = "start"
	EventCacheHit       EventKind = "cache_hit"
	EventAgentStarted   EventKind = "agent_started"
	EventLLMProcessing  EventKind = "llm_processing"
	EventGeneratedSQL   EventKind = "generated_sql"
	EventGeneratedFilter EventKind = "generated_filter"
	EventExecutingSQL   EventKind = "executing_sql"
	EventExecutingQuery EventKind = "executing_query"
	EventResult         EventKind = "result"
	EventConversation   EventKind = "conversation"
	EventAgentError     EventKind = "agent_error"
	EventError          EventKind = "error"
	EventSQLError       EventKind = "sql_error"
	EventQueryError     EventKind = "query_error"
	EventEnd            EventKind = "end"
)

// Event is one progress update in a request's stream. Events are produced in
// strict temporal order and never mutated after emission.
type Event interface {
	Kind() EventKind
}

type Start struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
}

type CacheHit struct {
	Similarity float64 `json:"similarity"`
}

type AgentStarted struct {
	Mode string `json:"mode"`
}

type LLMProcessing struct {
	Message string `json:"message"`
}

type GeneratedSQL struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation,omitempty"`
}

type GeneratedFilter struct {
	Collection  string         `json:"collection,omitempty"`
	Operation   string         `json:"operation,omitempty"`
	Filter      map[string]any `json:"filter"`
	Explanation string         `json:"explanation,omitempty"`
}

type ExecutingSQL struct {
	Message string `json:"message"`
}

type ExecutingQuery struct {
	Message string `json:"message"`
}

// ResultData is the tabular payload of a result event.
type ResultData struct {
	Columns     []string `json:"columns"`
	Rows        [][]any  `json:"rows"`
	Explanation string   `json:"explanation,omitempty"`
}

type Result struct {
	Data ResultData `json:"data"`
}

type Conversation struct {
	Message string `json:"message"`
}

type AgentError struct {
	Message string `json:"message"`
}

type Error struct {
	Message string `json:"message"`
}

type SQLError struct {
	Message string `json:"message"`
}

type QueryError struct {
	Message string `json:"message"`
}

type End struct{}

func (Start) Kind() EventKind           { return EventStart }
func (CacheHit) Kind() EventKind        { return EventCacheHit }
func (AgentStarted) Kind() EventKind    { return EventAgentStarted }
func (LLMProcessing) Kind() EventKind   { return EventLLMProcessing }
func (GeneratedSQL) Kind() EventKind    { return EventGeneratedSQL }
func (GeneratedFilter) Kind() EventKind { return EventGeneratedFilter }
func (ExecutingSQL) Kind() EventKind    { return EventExecutingSQL }
func (ExecutingQuery) Kind() EventKind  { return EventExecutingQuery }
func (Result) Kind() EventKind          { return EventResult }
func (Conversation) Kind() EventKind    { return EventConversation }
func (AgentError) Kind() EventKind      { return EventAgentError }
func (Error) Kind() EventKind           { return EventError }
func (SQLError) Kind() EventKind        { return EventSQLError }
func (QueryError) Kind() EventKind      { return EventQueryError }
func (End) Kind() EventKind             { return EventEnd }

// isErrorKind reports whether the event terminates the request in failure.
func isErrorKind(k EventKind) bool {
	switch k {
	case EventAgentError, EventError, EventSQLError, EventQueryError:
		return true
	}
	return false
}

// MarshalEvent renders an event to its wire form: the variant's fields plus
// the "event" discriminator, as one JSON object. This is the only
// serialization path to the wire.
func MarshalEvent(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Kind(), err)
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s event: %w", ev.Kind(), err)
	}
	fields["event"] = string(ev.Kind())
	return json.Marshal(fields)
}
