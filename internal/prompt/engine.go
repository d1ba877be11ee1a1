// Package prompt assembles token-budgeted generation prompts from database
// schema context.
package prompt

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Engine clips schema context to fit a model's input budget.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
}

// schemaShare is the fraction of the input budget schema context may occupy;
// the rest is left for instructions, conversation, and tool traffic.
const schemaShare = 0.5

// New creates an engine for the given model. maxTokens is the model's context
// window; reserve is held back for the model's response.
func New(model string, maxTokens, reserve int) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Engine{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
	}, nil
}

// CountTokens returns the token count for a string.
func (e *Engine) CountTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

// ClipSchema truncates schema text to its share of the input budget. Large
// databases produce schema dumps that would otherwise crowd out everything
// else in the prompt.
func (e *Engine) ClipSchema(schema string) string {
	budget := int(float64(e.maxTokens-e.reserve) * schemaShare)
	if budget <= 0 {
		return schema
	}
	tokens := e.tokenizer.Encode(schema, nil, nil)
	if len(tokens) <= budget {
		return schema
	}
	return e.tokenizer.Decode(tokens[:budget]) + "\n[schema truncated]"
}
