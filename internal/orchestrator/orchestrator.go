// Package orchestrator drives one chat query from free text to a streamed
// answer: cache lookup, generation (iterative or single-shot), execution, and
// the ordered progress events in between.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/chatdb/internal/cache"
	"github.com/user/chatdb/internal/connreg"
	"github.com/user/chatdb/internal/types"
	"github.com/user/chatdb/pkg/llm"
)

// Mode selects the generation pipeline for a request.
type Mode string

const (
	ModeReact  Mode = "react"
	ModeDirect Mode = "direct"
)

// rowLimit caps how many rows or documents a generated query may return.
const rowLimit = 100

// HandleSource hands out pooled database handles by connection identifier,
// together with the db-context fingerprint used to partition the cache.
type HandleSource interface {
	Get(id types.ConnectionID) (connreg.Handle, string, error)
}

// SchemaClipper bounds schema context to the generation model's input budget.
// Implemented by prompt.Engine.
type SchemaClipper interface {
	ClipSchema(schema string) string
}

// Sink receives stream events as they are produced. A non-nil error tells the
// orchestrator the consumer is gone and in-flight work should be abandoned.
type Sink func(Event) error

// Request is one chat query against a registered connection.
type Request struct {
	ConnectionID types.ConnectionID
	SessionID    types.SessionID
	Message      string
	Mode         Mode
}

// Options bounds the orchestrator's resource usage.
type Options struct {
	// MaxSteps caps the iterative agent loop; exceeding it is terminal.
	MaxSteps int
	// RequestTimeout bounds total per-request processing wall-clock time.
	RequestTimeout time.Duration
	// MaxConcurrent caps generation/execution pipelines across all requests.
	MaxConcurrent int64
}

// Orchestrator is the per-request state machine. It is safe for concurrent
// use; each Run call is an independent unit of work.
type Orchestrator struct {
	conns    HandleSource
	cache    *cache.Store
	sessions types.SessionStore
	provider llm.Provider
	prompts  SchemaClipper
	sem      *semaphore.Weighted
	maxSteps int
	timeout  time.Duration
}

// New wires an Orchestrator to its collaborators.
func New(conns HandleSource, store *cache.Store, sessions types.SessionStore, provider llm.Provider, prompts SchemaClipper, opts Options) *Orchestrator {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 10
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Minute
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	return &Orchestrator{
		conns:    conns,
		cache:    store,
		sessions: sessions,
		provider: provider,
		prompts:  prompts,
		sem:      semaphore.NewWeighted(opts.MaxConcurrent),
		maxSteps: opts.MaxSteps,
		timeout:  opts.RequestTimeout,
	}
}

// stream wraps a Sink so the state machine can emit without checking the
// consumer on every call. Once the sink reports failure the stream is dead
// and further emits are dropped.
type stream struct {
	sink Sink
	dead bool
}

func (s *stream) emit(ev Event) bool {
	if s.dead {
		return false
	}
	if err := s.sink(ev); err != nil {
		s.dead = true
		return false
	}
	return true
}

// Run drives one request through the state machine. Exactly one start and one
// end event bracket the stream regardless of outcome; on failure exactly one
// error-kind event is emitted in place of result.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink Sink) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	s := &stream{sink: sink}
	s.emit(Start{SessionID: string(req.SessionID), Mode: string(req.Mode)})
	o.process(ctx, req, s)
	s.emit(End{})
}

func (o *Orchestrator) process(ctx context.Context, req Request, s *stream) {
	if _, err := o.sessions.AppendMessage(ctx, req.SessionID, types.RoleUser, req.Message); err != nil {
		s.emit(Error{Message: fmt.Sprintf("persist message: %v", err)})
		return
	}

	handle, fingerprint, err := o.conns.Get(req.ConnectionID)
	if err != nil {
		s.emit(Error{Message: fmt.Sprintf("connection unavailable: %v", err)})
		return
	}

	tokens := cache.Normalize(req.Message)
	if hit, ok := o.cache.Lookup(tokens, fingerprint); ok {
		o.cache.RecordHit(hit.Entry)
		s.emit(CacheHit{Similarity: hit.Similarity})
		data := ResultData{
			Columns:     hit.Entry.Result.Columns,
			Rows:        hit.Entry.Result.Rows,
			Explanation: hit.Entry.Explanation,
		}
		o.appendAssistant(ctx, req.SessionID, data)
		s.emit(Result{Data: data})
		return
	}

	// Generation and execution are the expensive part; cap how many run at
	// once across all requests.
	if err := o.sem.Acquire(ctx, 1); err != nil {
		s.emit(Error{Message: "request canceled while waiting for capacity"})
		return
	}
	defer o.sem.Release(1)

	switch req.Mode {
	case ModeDirect:
		o.runDirect(ctx, req, handle, fingerprint, tokens, s)
	default:
		o.runReact(ctx, req, handle, fingerprint, tokens, s)
	}
}

// finishData caches the answered query, persists the assistant turn, and
// emits the result event.
func (o *Orchestrator) finishData(ctx context.Context, req Request, fingerprint string, tokens map[string]bool, payload, explanation string, result *types.Result, s *stream) {
	o.cache.Insert(tokens, fingerprint, payload, explanation, result)
	data := ResultData{Columns: result.Columns, Rows: result.Rows, Explanation: explanation}
	o.appendAssistant(ctx, req.SessionID, data)
	s.emit(Result{Data: data})
}

// finishConversation persists a non-data reply and emits the conversation
// event. Conversational answers are not cached: they carry no query payload.
func (o *Orchestrator) finishConversation(ctx context.Context, req Request, message string, s *stream) {
	if _, err := o.sessions.AppendMessage(ctx, req.SessionID, types.RoleAssistant, message); err != nil {
		slog.Warn("persist assistant message failed", "session_id", string(req.SessionID), "error", err)
	}
	s.emit(Conversation{Message: message})
}

func (o *Orchestrator) appendAssistant(ctx context.Context, sessionID types.SessionID, data ResultData) {
	content, err := json.Marshal(data)
	if err != nil {
		slog.Warn("marshal assistant result failed", "session_id", string(sessionID), "error", err)
		return
	}
	if _, err := o.sessions.AppendMessage(ctx, sessionID, types.RoleAssistant, string(content)); err != nil {
		slog.Warn("persist assistant message failed", "session_id", string(sessionID), "error", err)
	}
}

// dialect maps a relational kind to the name used in generation prompts.
func dialect(kind connreg.Kind) string {
	switch kind {
	case connreg.KindPostgres:
		return "postgresql"
	case connreg.KindSQLite:
		return "sqlite"
	default:
		return "sql"
	}
}
