package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/chatdb/internal/connreg"
	"github.com/user/chatdb/internal/prompt"
	"github.com/user/chatdb/internal/types"
	"github.com/user/chatdb/pkg/llm"
)

// runReact drives the bounded iterative agent loop: each step the model may
// inspect schema, run a query, or finalize. Exhausting the step budget is a
// terminal agent error, never a retry.
func (o *Orchestrator) runReact(ctx context.Context, req Request, handle connreg.Handle, fingerprint string, tokens map[string]bool, s *stream) {
	switch h := handle.(type) {
	case connreg.Relational:
		s.emit(AgentStarted{Mode: "sql"})
		o.reactSQL(ctx, req, h, fingerprint, tokens, s)
	case connreg.Document:
		s.emit(AgentStarted{Mode: "mongo"})
		o.reactMongo(ctx, req, h, fingerprint, tokens, s)
	default:
		s.emit(Error{Message: "unsupported connection type"})
	}
}

func jsonSchema(v string) json.RawMessage {
	return json.RawMessage(v)
}

var sqlTools = []llm.Tool{
	{Type: "function", Function: llm.Function{
		Name:        "list_tables",
		Description: "List all available SQL tables. Use this first to see what data is available.",
		Parameters:  jsonSchema(`{"type":"object","properties":{}}`),
	}},
	{Type: "function", Function: llm.Function{
		Name:        "describe_table",
		Description: "Describe the columns and types for a given table.",
		Parameters:  jsonSchema(`{"type":"object","properties":{"table":{"type":"string"}},"required":["table"]}`),
	}},
	{Type: "function", Function: llm.Function{
		Name:        "run_sql",
		Description: "Execute a SQL query and return results as JSON with 'columns' and 'rows'.",
		Parameters:  jsonSchema(`{"type":"object","properties":{"sql":{"type":"string"}},"required":["sql"]}`),
	}},
}

var mongoTools = []llm.Tool{
	{Type: "function", Function: llm.Function{
		Name:        "list_collections",
		Description: "List all collections in the database.",
		Parameters:  jsonSchema(`{"type":"object","properties":{}}`),
	}},
	{Type: "function", Function: llm.Function{
		Name:        "sample_collection",
		Description: "Summarize the fields of a collection from a few sample documents.",
		Parameters:  jsonSchema(`{"type":"object","properties":{"collection":{"type":"string"}},"required":["collection"]}`),
	}},
	{Type: "function", Function: llm.Function{
		Name:        "run_find",
		Description: "Run a find with a MongoDB filter and return matching documents as columns and rows.",
		Parameters:  jsonSchema(`{"type":"object","properties":{"collection":{"type":"string"},"filter":{"type":"object"}},"required":["collection","filter"]}`),
	}},
	{Type: "function", Function: llm.Function{
		Name:        "run_count",
		Description: "Count documents matching a MongoDB filter.",
		Parameters:  jsonSchema(`{"type":"object","properties":{"collection":{"type":"string"},"filter":{"type":"object"}},"required":["collection","filter"]}`),
	}},
}

// sqlAttempt records the most recent run_sql tool execution.
type sqlAttempt struct {
	sql    string
	result *types.Result
	err    error
}

func (o *Orchestrator) reactSQL(ctx context.Context, req Request, h connreg.Relational, fingerprint string, tokens map[string]bool, s *stream) {
	schema, err := h.Schema(ctx)
	if err != nil {
		s.emit(AgentError{Message: fmt.Sprintf("inspect schema: %v", err)})
		return
	}

	messages := []llm.Message{
		{Role: "system", Content: prompt.ReactSQL(o.prompts.ClipSchema(schema), dialect(h.Kind()))},
		{Role: "user", Content: req.Message},
	}

	var attempt sqlAttempt
	for step := 0; step < o.maxSteps; step++ {
		if s.dead {
			return
		}
		s.emit(LLMProcessing{Message: fmt.Sprintf("Reasoning (step %d)...", step+1)})

		resp, err := o.provider.Complete(ctx, messages, sqlTools)
		if err != nil {
			s.emit(AgentError{Message: fmt.Sprintf("generation failed: %v", err)})
			return
		}

		if len(resp.ToolCalls) == 0 {
			// Model finalized without ever producing a query.
			if attempt.sql == "" {
				if resp.Content != "" {
					o.finishConversation(ctx, req, resp.Content, s)
				} else {
					s.emit(AgentError{Message: "agent finished without producing a query"})
				}
				return
			}
			o.emitSQLOutcome(ctx, req, fingerprint, tokens, attempt, s)
			return
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content, Tools: resp.ToolCalls})
		for _, tc := range resp.ToolCalls {
			output := o.execSQLTool(ctx, h, tc, &attempt)
			messages = append(messages, llm.Message{Role: "tool", Content: output, Tools: []llm.ToolCall{tc}})
		}
	}

	s.emit(AgentError{Message: fmt.Sprintf("agent exceeded %d steps without an answer", o.maxSteps)})
}

// emitSQLOutcome replays the final query's generation and execution as
// ordered events, then finishes with result or sql_error.
func (o *Orchestrator) emitSQLOutcome(ctx context.Context, req Request, fingerprint string, tokens map[string]bool, attempt sqlAttempt, s *stream) {
	s.emit(GeneratedSQL{SQL: attempt.sql})
	s.emit(ExecutingSQL{Message: "Executing query..."})
	if attempt.err != nil {
		s.emit(SQLError{Message: attempt.err.Error()})
		return
	}
	o.finishData(ctx, req, fingerprint, tokens, attempt.sql, "", attempt.result, s)
}

func (o *Orchestrator) execSQLTool(ctx context.Context, h connreg.Relational, tc llm.ToolCall, attempt *sqlAttempt) string {
	switch tc.Function.Name {
	case "list_tables":
		tables, err := h.Tables(ctx)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return strings.Join(tables, ", ")

	case "describe_table":
		var args struct {
			Table string `json:"table"`
		}
		if err := json.Unmarshal(tc.Function.Arguments, &args); err != nil || args.Table == "" {
			return "error: describe_table requires a table name"
		}
		desc, err := h.Describe(ctx, args.Table)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return desc

	case "run_sql":
		var args struct {
			SQL string `json:"sql"`
		}
		if err := json.Unmarshal(tc.Function.Arguments, &args); err != nil || args.SQL == "" {
			return "error: run_sql requires a sql string"
		}
		result, err := h.Query(ctx, args.SQL)
		*attempt = sqlAttempt{sql: args.SQL, result: result, err: err}
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		out, _ := json.Marshal(result)
		return string(out)

	default:
		return fmt.Sprintf("error: unknown tool %q", tc.Function.Name)
	}
}

// mongoAttempt records the most recent run_find/run_count tool execution.
type mongoAttempt struct {
	collection string
	operation  string
	filter     map[string]any
	result     *types.Result
	err        error
}

func (o *Orchestrator) reactMongo(ctx context.Context, req Request, h connreg.Document, fingerprint string, tokens map[string]bool, s *stream) {
	schema, err := h.Schema(ctx)
	if err != nil {
		s.emit(AgentError{Message: fmt.Sprintf("inspect schema: %v", err)})
		return
	}

	messages := []llm.Message{
		{Role: "system", Content: prompt.ReactMongo(o.prompts.ClipSchema(schema))},
		{Role: "user", Content: req.Message},
	}

	var attempt mongoAttempt
	for step := 0; step < o.maxSteps; step++ {
		if s.dead {
			return
		}
		s.emit(LLMProcessing{Message: fmt.Sprintf("Reasoning (step %d)...", step+1)})

		resp, err := o.provider.Complete(ctx, messages, mongoTools)
		if err != nil {
			s.emit(AgentError{Message: fmt.Sprintf("generation failed: %v", err)})
			return
		}

		if len(resp.ToolCalls) == 0 {
			if attempt.operation == "" {
				if resp.Content != "" {
					o.finishConversation(ctx, req, resp.Content, s)
				} else {
					s.emit(AgentError{Message: "agent finished without producing a query"})
				}
				return
			}
			o.emitMongoOutcome(ctx, req, fingerprint, tokens, attempt, s)
			return
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content, Tools: resp.ToolCalls})
		for _, tc := range resp.ToolCalls {
			output := o.execMongoTool(ctx, h, tc, &attempt)
			messages = append(messages, llm.Message{Role: "tool", Content: output, Tools: []llm.ToolCall{tc}})
		}
	}

	s.emit(AgentError{Message: fmt.Sprintf("agent exceeded %d steps without an answer", o.maxSteps)})
}

func (o *Orchestrator) emitMongoOutcome(ctx context.Context, req Request, fingerprint string, tokens map[string]bool, attempt mongoAttempt, s *stream) {
	s.emit(GeneratedFilter{
		Collection: attempt.collection,
		Operation:  attempt.operation,
		Filter:     attempt.filter,
	})
	s.emit(ExecutingQuery{Message: fmt.Sprintf("Executing %s on %s...", attempt.operation, attempt.collection)})
	if attempt.err != nil {
		s.emit(QueryError{Message: attempt.err.Error()})
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"collection": attempt.collection,
		"operation":  attempt.operation,
		"filter":     attempt.filter,
	})
	o.finishData(ctx, req, fingerprint, tokens, string(payload), "", attempt.result, s)
}

func (o *Orchestrator) execMongoTool(ctx context.Context, h connreg.Document, tc llm.ToolCall, attempt *mongoAttempt) string {
	switch tc.Function.Name {
	case "list_collections":
		names, err := h.Collections(ctx)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return strings.Join(names, ", ")

	case "sample_collection":
		var args struct {
			Collection string `json:"collection"`
		}
		if err := json.Unmarshal(tc.Function.Arguments, &args); err != nil || args.Collection == "" {
			return "error: sample_collection requires a collection name"
		}
		summary, err := h.Sample(ctx, args.Collection)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return summary

	case "run_find":
		var args struct {
			Collection string         `json:"collection"`
			Filter     map[string]any `json:"filter"`
		}
		if err := json.Unmarshal(tc.Function.Arguments, &args); err != nil || args.Collection == "" {
			return "error: run_find requires a collection and filter"
		}
		if args.Filter == nil {
			args.Filter = map[string]any{}
		}
		result, err := h.Find(ctx, args.Collection, args.Filter, rowLimit)
		*attempt = mongoAttempt{collection: args.Collection, operation: "find", filter: args.Filter, result: result, err: err}
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		out, _ := json.Marshal(result)
		return string(out)

	case "run_count":
		var args struct {
			Collection string         `json:"collection"`
			Filter     map[string]any `json:"filter"`
		}
		if err := json.Unmarshal(tc.Function.Arguments, &args); err != nil || args.Collection == "" {
			return "error: run_count requires a collection and filter"
		}
		if args.Filter == nil {
			args.Filter = map[string]any{}
		}
		count, err := h.Count(ctx, args.Collection, args.Filter)
		var result *types.Result
		if err == nil {
			result = &types.Result{Columns: []string{"count"}, Rows: [][]any{{count}}}
		}
		*attempt = mongoAttempt{collection: args.Collection, operation: "count", filter: args.Filter, result: result, err: err}
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return fmt.Sprintf("%d", count)

	default:
		return fmt.Sprintf("error: unknown tool %q", tc.Function.Name)
	}
}
