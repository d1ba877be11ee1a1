package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/user/chatdb/internal/connreg"
	"github.com/user/chatdb/internal/prompt"
	"github.com/user/chatdb/internal/types"
	"github.com/user/chatdb/pkg/llm"
)

// directive is the JSON shape direct mode asks the model to produce: either a
// query to execute or a conversational reply.
type directive struct {
	Type        string         `json:"type"`
	SQL         string         `json:"sql"`
	Collection  string         `json:"collection"`
	Operation   string         `json:"operation"`
	Filter      map[string]any `json:"filter"`
	Explanation string         `json:"explanation"`
	Response    string         `json:"response"`
}

// parseDirective extracts the first JSON object from the model's output.
// Models occasionally wrap the JSON in prose.
func parseDirective(content string) (*directive, bool) {
	raw := content
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			raw = content[start : end+1]
		}
	}
	var d directive
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, false
	}
	return &d, true
}

// runDirect makes exactly one generation call and either executes the
// returned query or relays the conversational reply.
func (o *Orchestrator) runDirect(ctx context.Context, req Request, handle connreg.Handle, fingerprint string, tokens map[string]bool, s *stream) {
	schema, err := handle.Schema(ctx)
	if err != nil {
		s.emit(Error{Message: fmt.Sprintf("inspect schema: %v", err)})
		return
	}
	schema = o.prompts.ClipSchema(schema)

	var system string
	switch handle.(type) {
	case connreg.Relational:
		system = prompt.DirectSQL(schema, dialect(handle.Kind()))
	case connreg.Document:
		system = prompt.DirectMongo(schema)
	default:
		s.emit(Error{Message: "unsupported connection type"})
		return
	}

	s.emit(LLMProcessing{Message: "Generating response..."})
	resp, err := o.provider.Complete(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: req.Message},
	}, nil)
	if err != nil {
		s.emit(Error{Message: fmt.Sprintf("generation failed: %v", err)})
		return
	}

	d, ok := parseDirective(resp.Content)
	if !ok {
		// Unparseable output is treated as a conversational reply.
		o.finishConversation(ctx, req, resp.Content, s)
		return
	}

	switch d.Type {
	case "database_query":
		switch h := handle.(type) {
		case connreg.Relational:
			o.directSQL(ctx, req, h, fingerprint, tokens, d, s)
		case connreg.Document:
			o.directMongo(ctx, req, h, fingerprint, tokens, d, s)
		}
	case "conversation":
		if d.Response == "" {
			d.Response = "I'm here to help with your database."
		}
		o.finishConversation(ctx, req, d.Response, s)
	default:
		s.emit(Error{Message: fmt.Sprintf("unknown response type %q", d.Type)})
	}
}

func (o *Orchestrator) directSQL(ctx context.Context, req Request, h connreg.Relational, fingerprint string, tokens map[string]bool, d *directive, s *stream) {
	if d.SQL == "" {
		s.emit(Error{Message: "no SQL generated from question"})
		return
	}
	s.emit(GeneratedSQL{SQL: d.SQL, Explanation: d.Explanation})
	s.emit(ExecutingSQL{Message: "Executing query..."})

	result, err := h.Query(ctx, d.SQL)
	if err != nil {
		s.emit(SQLError{Message: fmt.Sprintf("SQL execution error: %v", err)})
		return
	}
	o.finishData(ctx, req, fingerprint, tokens, d.SQL, d.Explanation, result, s)
}

func (o *Orchestrator) directMongo(ctx context.Context, req Request, h connreg.Document, fingerprint string, tokens map[string]bool, d *directive, s *stream) {
	if d.Collection == "" {
		s.emit(Error{Message: "no collection generated from question"})
		return
	}
	if d.Filter == nil {
		d.Filter = map[string]any{}
	}
	if d.Operation == "" {
		d.Operation = "find"
	}

	collections, err := h.Collections(ctx)
	if err != nil {
		s.emit(Error{Message: fmt.Sprintf("list collections: %v", err)})
		return
	}
	if !slices.Contains(collections, d.Collection) {
		s.emit(Error{Message: fmt.Sprintf("collection %q not found. Available: %s", d.Collection, strings.Join(collections, ", "))})
		return
	}

	s.emit(GeneratedFilter{
		Collection:  d.Collection,
		Operation:   d.Operation,
		Filter:      d.Filter,
		Explanation: d.Explanation,
	})
	s.emit(ExecutingQuery{Message: fmt.Sprintf("Executing %s on %s...", d.Operation, d.Collection)})

	var result *types.Result
	switch d.Operation {
	case "count":
		count, err := h.Count(ctx, d.Collection, d.Filter)
		if err != nil {
			s.emit(QueryError{Message: fmt.Sprintf("query execution error: %v", err)})
			return
		}
		result = &types.Result{Columns: []string{"count"}, Rows: [][]any{{count}}}
	default:
		result, err = h.Find(ctx, d.Collection, d.Filter, rowLimit)
		if err != nil {
			s.emit(QueryError{Message: fmt.Sprintf("query execution error: %v", err)})
			return
		}
	}

	payload, _ := json.Marshal(map[string]any{
		"collection": d.Collection,
		"operation":  d.Operation,
		"filter":     d.Filter,
	})
	o.finishData(ctx, req, fingerprint, tokens, string(payload), d.Explanation, result, s)
}
