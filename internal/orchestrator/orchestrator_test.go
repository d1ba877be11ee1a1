package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/chatdb/internal/cache"
	"github.com/user/chatdb/internal/connreg"
	"github.com/user/chatdb/internal/types"
	"github.com/user/chatdb/pkg/llm"
)

// fakeProvider replays a scripted sequence of responses.
type fakeProvider struct {
	mu        sync.Mutex
	responses []*llm.Response
	err       error
	calls     int
}

func (p *fakeProvider) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &llm.Response{Content: "done"}, nil
	}
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp, nil
}

// fakeRelational is an in-memory Relational handle.
type fakeRelational struct {
	schema   string
	tables   []string
	result   *types.Result
	queryErr error
	lastSQL  string
}

func (f *fakeRelational) Kind() connreg.Kind                   { return connreg.KindSQLite }
func (f *fakeRelational) Ping(ctx context.Context) error       { return nil }
func (f *fakeRelational) Close()                               {}
func (f *fakeRelational) Schema(ctx context.Context) (string, error) {
	return f.schema, nil
}
func (f *fakeRelational) Tables(ctx context.Context) ([]string, error) {
	return f.tables, nil
}
func (f *fakeRelational) Describe(ctx context.Context, table string) (string, error) {
	return table + "(id INTEGER, name TEXT)", nil
}
func (f *fakeRelational) Query(ctx context.Context, sql string) (*types.Result, error) {
	f.lastSQL = sql
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.result, nil
}

// fakeDocument is an in-memory Document handle.
type fakeDocument struct {
	schema      string
	collections []string
	result      *types.Result
	count       int64
	queryErr    error
}

func (f *fakeDocument) Kind() connreg.Kind             { return connreg.KindMongo }
func (f *fakeDocument) Ping(ctx context.Context) error { return nil }
func (f *fakeDocument) Close()                         {}
func (f *fakeDocument) Schema(ctx context.Context) (string, error) {
	return f.schema, nil
}
func (f *fakeDocument) Collections(ctx context.Context) ([]string, error) {
	return f.collections, nil
}
func (f *fakeDocument) Sample(ctx context.Context, collection string) (string, error) {
	return collection + ": {name: string}", nil
}
func (f *fakeDocument) Find(ctx context.Context, collection string, filter map[string]any, limit int64) (*types.Result, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.result, nil
}
func (f *fakeDocument) Count(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	if f.queryErr != nil {
		return 0, f.queryErr
	}
	return f.count, nil
}

// fakeSource hands out a single handle regardless of identifier.
type fakeSource struct {
	handle connreg.Handle
	err    error
}

func (f *fakeSource) Get(id types.ConnectionID) (connreg.Handle, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.handle, "test:fingerprint", nil
}

// memStore is an in-memory SessionStore.
type memStore struct {
	mu       sync.Mutex
	sessions map[types.SessionID]*types.Session
	messages map[types.SessionID][]*types.Message
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[types.SessionID]*types.Session),
		messages: make(map[types.SessionID][]*types.Message),
	}
}

func (m *memStore) CreateSession(ctx context.Context, title string) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := &types.Session{ID: types.NewSessionID(), Title: title, CreatedAt: time.Now()}
	m.sessions[sess.ID] = sess
	return sess, nil
}

func (m *memStore) GetSession(ctx context.Context, id types.SessionID) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, errors.New("session not found")
	}
	return sess, nil
}

func (m *memStore) ListSessions(ctx context.Context) ([]*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) DeleteSession(ctx context.Context, id types.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.messages, id)
	return nil
}

func (m *memStore) AppendMessage(ctx context.Context, sessionID types.SessionID, role types.Role, content string) (*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &types.Message{ID: types.NewMessageID(), SessionID: sessionID, Role: role, Content: content, CreatedAt: time.Now()}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return msg, nil
}

func (m *memStore) ListMessages(ctx context.Context, sessionID types.SessionID) ([]*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[sessionID], nil
}

// noopClipper passes schema through untouched.
type noopClipper struct{}

func (noopClipper) ClipSchema(schema string) string { return schema }

func collect() (Sink, *[]Event) {
	events := &[]Event{}
	return func(ev Event) error {
		*events = append(*events, ev)
		return nil
	}, events
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind()
	}
	return out
}

func assertKinds(t *testing.T, events []Event, want ...EventKind) {
	t.Helper()
	got := kinds(events)
	if len(got) != len(want) {
		t.Fatalf("event kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event kinds = %v, want %v", got, want)
		}
	}
}

func assertBracketed(t *testing.T, events []Event) {
	t.Helper()
	if len(events) < 2 {
		t.Fatalf("stream too short: %v", kinds(events))
	}
	starts, ends := 0, 0
	for _, ev := range events {
		switch ev.Kind() {
		case EventStart:
			starts++
		case EventEnd:
			ends++
		}
	}
	if starts != 1 || ends != 1 {
		t.Fatalf("start/end counts = %d/%d, want 1/1 (%v)", starts, ends, kinds(events))
	}
	if events[0].Kind() != EventStart || events[len(events)-1].Kind() != EventEnd {
		t.Fatalf("stream not bracketed: %v", kinds(events))
	}
}

func directiveJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func newTestOrchestrator(provider llm.Provider, handle connreg.Handle, store *cache.Store) (*Orchestrator, *memStore) {
	if store == nil {
		store = cache.New(0.9, time.Hour)
	}
	sessions := newMemStore()
	o := New(&fakeSource{handle: handle}, store, sessions, provider, noopClipper{}, Options{MaxSteps: 3})
	return o, sessions
}

func run(o *Orchestrator, mode Mode, message string) []Event {
	sink, events := collect()
	o.Run(context.Background(), Request{
		ConnectionID: "conn-1",
		SessionID:    "sess-1",
		Message:      message,
		Mode:         mode,
	}, sink)
	return *events
}

func TestDirectSQLQuery(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{
		Content: directiveJSON(t, map[string]any{
			"type":        "database_query",
			"sql":         "SELECT name FROM users LIMIT 100",
			"explanation": "All user names",
		}),
	}}}
	handle := &fakeRelational{
		schema: "users(id, name)",
		result: &types.Result{Columns: []string{"name"}, Rows: [][]any{{"ada"}, {"grace"}}},
	}
	o, sessions := newTestOrchestrator(provider, handle, nil)

	events := run(o, ModeDirect, "show me all user names")
	assertBracketed(t, events)
	assertKinds(t, events,
		EventStart, EventLLMProcessing, EventGeneratedSQL, EventExecutingSQL, EventResult, EventEnd)

	gen := events[2].(GeneratedSQL)
	if gen.SQL != "SELECT name FROM users LIMIT 100" {
		t.Errorf("generated sql = %q", gen.SQL)
	}
	res := events[4].(Result)
	if len(res.Data.Rows) != 2 || res.Data.Explanation != "All user names" {
		t.Errorf("result = %+v", res.Data)
	}

	// Both turns are persisted: the question and the tabular answer.
	messages, _ := sessions.ListMessages(context.Background(), "sess-1")
	if len(messages) != 2 || messages[0].Role != types.RoleUser || messages[1].Role != types.RoleAssistant {
		t.Errorf("persisted messages = %+v", messages)
	}
}

func TestDirectConversation(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{
		Content: directiveJSON(t, map[string]any{"type": "conversation", "response": "Hello! Ask me about your data."}),
	}}}
	o, _ := newTestOrchestrator(provider, &fakeRelational{schema: "users(id)"}, nil)

	events := run(o, ModeDirect, "hello there")
	assertKinds(t, events, EventStart, EventLLMProcessing, EventConversation, EventEnd)
	if msg := events[2].(Conversation).Message; msg != "Hello! Ask me about your data." {
		t.Errorf("conversation message = %q", msg)
	}
}

func TestDirectUnparseableOutputFallsBackToConversation(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{Content: "I can't produce JSON today."}}}
	o, _ := newTestOrchestrator(provider, &fakeRelational{schema: "users(id)"}, nil)

	events := run(o, ModeDirect, "hello")
	assertKinds(t, events, EventStart, EventLLMProcessing, EventConversation, EventEnd)
}

func TestDirectSQLError(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{
		Content: directiveJSON(t, map[string]any{"type": "database_query", "sql": "SELECT nope"}),
	}}}
	handle := &fakeRelational{schema: "users(id)", queryErr: errors.New("no such column: nope")}
	o, _ := newTestOrchestrator(provider, handle, nil)

	events := run(o, ModeDirect, "broken question")
	assertBracketed(t, events)
	assertKinds(t, events,
		EventStart, EventLLMProcessing, EventGeneratedSQL, EventExecutingSQL, EventSQLError, EventEnd)
	if msg := events[4].(SQLError).Message; !strings.Contains(msg, "no such column") {
		t.Errorf("sql_error message = %q", msg)
	}
}

func TestDirectMongoFind(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{
		Content: directiveJSON(t, map[string]any{
			"type":       "database_query",
			"collection": "movies",
			"operation":  "find",
			"filter":     map[string]any{"year": 1999},
		}),
	}}}
	handle := &fakeDocument{
		schema:      "movies",
		collections: []string{"movies", "reviews"},
		result:      &types.Result{Columns: []string{"title"}, Rows: [][]any{{"The Matrix"}}},
	}
	o, _ := newTestOrchestrator(provider, handle, nil)

	events := run(o, ModeDirect, "movies from 1999")
	assertKinds(t, events,
		EventStart, EventLLMProcessing, EventGeneratedFilter, EventExecutingQuery, EventResult, EventEnd)

	gen := events[2].(GeneratedFilter)
	if gen.Collection != "movies" || gen.Operation != "find" {
		t.Errorf("generated filter = %+v", gen)
	}
}

func TestDirectMongoUnknownCollection(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{
		Content: directiveJSON(t, map[string]any{
			"type": "database_query", "collection": "ghosts", "operation": "find",
		}),
	}}}
	handle := &fakeDocument{schema: "movies", collections: []string{"movies"}}
	o, _ := newTestOrchestrator(provider, handle, nil)

	events := run(o, ModeDirect, "list ghosts")
	assertKinds(t, events, EventStart, EventLLMProcessing, EventError, EventEnd)
	if msg := events[2].(Error).Message; !strings.Contains(msg, "ghosts") || !strings.Contains(msg, "movies") {
		t.Errorf("error message = %q", msg)
	}
}

func TestCacheHitShortCircuits(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{
		Content: directiveJSON(t, map[string]any{
			"type": "database_query", "sql": "SELECT name FROM users", "explanation": "names",
		}),
	}}}
	handle := &fakeRelational{
		schema: "users(id, name)",
		result: &types.Result{Columns: []string{"name"}, Rows: [][]any{{"ada"}}},
	}
	store := cache.New(0.9, time.Hour)
	o, _ := newTestOrchestrator(provider, handle, store)

	run(o, ModeDirect, "show me all user names")
	if provider.calls != 1 {
		t.Fatalf("first request made %d generation calls, want 1", provider.calls)
	}

	events := run(o, ModeDirect, "Show me ALL user names")
	assertKinds(t, events, EventStart, EventCacheHit, EventResult, EventEnd)
	if provider.calls != 1 {
		t.Errorf("cache hit still called the provider (%d calls)", provider.calls)
	}

	hit := events[1].(CacheHit)
	if hit.Similarity < 0.9 {
		t.Errorf("similarity = %v, want >= threshold", hit.Similarity)
	}
	res := events[2].(Result)
	if len(res.Data.Rows) != 1 || res.Data.Explanation != "names" {
		t.Errorf("cached result = %+v", res.Data)
	}
}

func TestConnectionUnavailable(t *testing.T) {
	o := New(&fakeSource{err: connreg.ErrNotFound}, cache.New(0.9, time.Hour), newMemStore(), &fakeProvider{}, noopClipper{}, Options{})

	events := run(o, ModeDirect, "anything")
	assertKinds(t, events, EventStart, EventError, EventEnd)
}

func TestProviderFailure(t *testing.T) {
	provider := &fakeProvider{err: errors.New("upstream unavailable")}
	o, _ := newTestOrchestrator(provider, &fakeRelational{schema: "users(id)"}, nil)

	events := run(o, ModeDirect, "anything")
	assertBracketed(t, events)
	last := events[len(events)-2]
	if last.Kind() != EventError {
		t.Errorf("penultimate event = %s, want error", last.Kind())
	}
}

func toolCall(t *testing.T, name string, args any) llm.ToolCall {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	return llm.ToolCall{ID: "call-1", Type: "function", Function: llm.FunctionCall{Name: name, Arguments: raw}}
}

func TestReactSQLFlow(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall(t, "list_tables", map[string]any{})}},
		{ToolCalls: []llm.ToolCall{toolCall(t, "run_sql", map[string]any{"sql": "SELECT COUNT(*) FROM users"})}},
		{Content: "There are 2 users."},
	}}
	handle := &fakeRelational{
		schema: "users(id, name)",
		tables: []string{"users"},
		result: &types.Result{Columns: []string{"count"}, Rows: [][]any{{2}}},
	}
	o, _ := newTestOrchestrator(provider, handle, nil)

	events := run(o, ModeReact, "how many users are there")
	assertBracketed(t, events)
	assertKinds(t, events,
		EventStart, EventAgentStarted,
		EventLLMProcessing, EventLLMProcessing, EventLLMProcessing,
		EventGeneratedSQL, EventExecutingSQL, EventResult, EventEnd)

	if mode := events[1].(AgentStarted).Mode; mode != "sql" {
		t.Errorf("agent mode = %q, want sql", mode)
	}
	if sql := events[5].(GeneratedSQL).SQL; sql != "SELECT COUNT(*) FROM users" {
		t.Errorf("generated sql = %q", sql)
	}
	if handle.lastSQL != "SELECT COUNT(*) FROM users" {
		t.Errorf("executed sql = %q", handle.lastSQL)
	}
}

func TestReactSQLExecutionError(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall(t, "run_sql", map[string]any{"sql": "SELECT bogus"})}},
		{Content: "That query failed."},
	}}
	handle := &fakeRelational{schema: "users(id)", queryErr: errors.New("no such column: bogus")}
	o, _ := newTestOrchestrator(provider, handle, nil)

	events := run(o, ModeReact, "bad question")
	assertBracketed(t, events)
	got := kinds(events)
	if got[len(got)-2] != EventSQLError {
		t.Errorf("penultimate event = %s, want sql_error (%v)", got[len(got)-2], got)
	}
}

func TestReactStepExhaustion(t *testing.T) {
	// The model keeps asking for the table list and never finalizes.
	provider := &fakeProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall(t, "list_tables", map[string]any{})}},
	}}
	handle := &fakeRelational{schema: "users(id)", tables: []string{"users"}}
	o, _ := newTestOrchestrator(provider, handle, nil)

	events := run(o, ModeReact, "loop forever")
	assertBracketed(t, events)
	got := kinds(events)
	if got[len(got)-2] != EventAgentError {
		t.Errorf("penultimate event = %s, want agent_error (%v)", got[len(got)-2], got)
	}
	if provider.calls != 3 {
		t.Errorf("provider calls = %d, want MaxSteps (3)", provider.calls)
	}
	if msg := events[len(events)-2].(AgentError).Message; !strings.Contains(msg, "3 steps") {
		t.Errorf("agent_error message = %q", msg)
	}
}

func TestReactMongoCount(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall(t, "run_count", map[string]any{"collection": "movies", "filter": map[string]any{}})}},
		{Content: "There are 42 movies."},
	}}
	handle := &fakeDocument{schema: "movies", collections: []string{"movies"}, count: 42}
	o, _ := newTestOrchestrator(provider, handle, nil)

	events := run(o, ModeReact, "how many movies")
	assertBracketed(t, events)
	assertKinds(t, events,
		EventStart, EventAgentStarted,
		EventLLMProcessing, EventLLMProcessing,
		EventGeneratedFilter, EventExecutingQuery, EventResult, EventEnd)

	if mode := events[1].(AgentStarted).Mode; mode != "mongo" {
		t.Errorf("agent mode = %q, want mongo", mode)
	}
	res := events[6].(Result)
	if len(res.Data.Rows) != 1 || fmt.Sprint(res.Data.Rows[0][0]) != "42" {
		t.Errorf("count result = %+v", res.Data)
	}
}

func TestReactConversationalAnswer(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{Content: "I can help you query this database."}}}
	o, _ := newTestOrchestrator(provider, &fakeRelational{schema: "users(id)"}, nil)

	events := run(o, ModeReact, "what can you do")
	assertKinds(t, events,
		EventStart, EventAgentStarted, EventLLMProcessing, EventConversation, EventEnd)
}

func TestDeadSinkStopsStream(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{
		Content: directiveJSON(t, map[string]any{"type": "database_query", "sql": "SELECT 1"}),
	}}}
	handle := &fakeRelational{
		schema: "users(id)",
		result: &types.Result{Columns: []string{"1"}, Rows: [][]any{{1}}},
	}
	o, _ := newTestOrchestrator(provider, handle, nil)

	var events []Event
	sink := func(ev Event) error {
		if len(events) >= 2 {
			return errors.New("client went away")
		}
		events = append(events, ev)
		return nil
	}
	o.Run(context.Background(), Request{ConnectionID: "c", SessionID: "s", Message: "q", Mode: ModeDirect}, sink)

	if len(events) != 2 {
		t.Errorf("events after disconnect = %v", kinds(events))
	}
}
