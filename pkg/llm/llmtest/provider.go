// Package llmtest provides scripted llm.Provider doubles for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/user/parley/pkg/llm"
)

// Reply is one scripted model answer.
type Reply struct {
	// Chunks are streamed as separate deltas. When empty, Content is only
	// available through the final response.
	Chunks    []string
	Content   string
	ToolCalls []llm.ToolCall
	Usage     llm.Usage
	Err       error
}

// Provider replays Replies in order, one per call. The last reply repeats.
type Provider struct {
	// NoStream makes Stream return llm.ErrStreamingUnsupported.
	NoStream bool

	mu      sync.Mutex
	replies []Reply
	calls   [][]llm.Message
	tools   [][]llm.ToolDefinition
}

// New creates a provider that answers with replies.
func New(replies ...Reply) *Provider {
	return &Provider{replies: replies}
}

// Text is shorthand for a provider streaming one answer in the given chunks.
func Text(chunks ...string) *Provider {
	content := ""
	for _, c := range chunks {
		content += c
	}
	return New(Reply{Chunks: chunks, Content: content})
}

func (p *Provider) next(messages []llm.Message, tools []llm.ToolDefinition) Reply {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, append([]llm.Message(nil), messages...))
	p.tools = append(p.tools, tools)
	if len(p.replies) == 0 {
		return Reply{}
	}
	r := p.replies[0]
	if len(p.replies) > 1 {
		p.replies = p.replies[1:]
	}
	return r
}

// Complete returns the next reply as a full response.
func (p *Provider) Complete(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := p.next(messages, tools)
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.Response{Content: r.Content, ToolCalls: r.ToolCalls, Usage: r.Usage}, nil
}

// Stream emits the next reply's chunks, then its tool calls, usage and the
// final response.
func (p *Provider) Stream(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (<-chan llm.Delta, error) {
	if p.NoStream {
		return nil, llm.ErrStreamingUnsupported
	}
	r := p.next(messages, tools)
	if r.Err != nil {
		return nil, r.Err
	}

	ch := make(chan llm.Delta)
	go func() {
		defer close(ch)
		send := func(d llm.Delta) bool {
			select {
			case ch <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, c := range r.Chunks {
			if !send(llm.Delta{Content: c}) {
				return
			}
		}
		if len(r.ToolCalls) > 0 && !send(llm.Delta{ToolCalls: r.ToolCalls}) {
			return
		}
		usage := r.Usage
		if !send(llm.Delta{Usage: &usage}) {
			return
		}
		send(llm.Delta{Final: &llm.Response{Content: r.Content, ToolCalls: r.ToolCalls}})
	}()
	return ch, nil
}

// Calls returns the message lists the provider was called with.
func (p *Provider) Calls() [][]llm.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]llm.Message(nil), p.calls...)
}

// Tools returns the tool definitions offered on each call.
func (p *Provider) Tools() [][]llm.ToolDefinition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]llm.ToolDefinition(nil), p.tools...)
}
