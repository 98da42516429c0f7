// Package prompt assembles token-budgeted model input for a chat turn.
package prompt

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
)

// Tokenizer counts tokens in text.
type Tokenizer interface {
	Count(text string) int
}

type tiktokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t tiktokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// NewTiktoken returns the tokenizer for model (e.g. "gpt-4"), falling back to
// cl100k_base for unknown models.
func NewTiktoken(model string) (Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return tiktokenizer{enc: enc}, nil
}

// WordTokenizer approximates tokens by whitespace-separated words.
type WordTokenizer struct{}

func (WordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

// Engine fits rendered templates into a model's context window.
type Engine struct {
	tokenizer Tokenizer
	maxTokens int
	reserve   int
}

// New creates an engine with the specified token budget.
// maxTokens is the model's context window size.
// reserve is the number of tokens to reserve for the model's response.
func New(tokenizer Tokenizer, maxTokens, reserve int) *Engine {
	if tokenizer == nil {
		tokenizer = WordTokenizer{}
	}
	return &Engine{
		tokenizer: tokenizer,
		maxTokens: maxTokens,
		reserve:   reserve,
	}
}

// Count returns the token count for a string.
func (e *Engine) Count(text string) int {
	return e.tokenizer.Count(text)
}

// CountMessages returns the token count of messages including tool calls.
func (e *Engine) CountMessages(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += e.messageTokens(m)
	}
	return total
}

func (e *Engine) messageTokens(m llm.Message) int {
	n := e.Count(m.Content)
	for _, tc := range m.Tools {
		n += e.Count(tc.Function.Name)
		n += e.Count(string(tc.Function.Arguments))
	}
	return n
}

// Build renders tmpl and drops the oldest history messages until system
// messages, history, input and scratch fit into the budget. System messages,
// input and scratch are never dropped.
func (e *Engine) Build(tmpl *Template, system []string, history []llm.Message, input string, scratch []llm.Message) []llm.Message {
	budget := e.maxTokens - e.reserve
	if e.maxTokens <= 0 {
		return tmpl.Render(system, history, input, scratch)
	}

	fixed := e.Count(input)
	for _, s := range system {
		fixed += e.Count(s)
	}
	if tmpl.Scratchpad {
		fixed += e.CountMessages(scratch)
	}

	remaining := budget - fixed
	start := len(history)
	for start > 0 {
		n := e.messageTokens(history[start-1])
		if n > remaining {
			break
		}
		remaining -= n
		start--
	}
	return tmpl.Render(system, history[start:], input, scratch)
}

// FromHistory converts stored messages into model messages.
func FromHistory(messages []*types.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Type {
		case types.MessageHuman:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case types.MessageAI:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		}
	}
	return out
}
