package chat

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/user/parley/internal/cache"
	"github.com/user/parley/internal/prompt"
	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
)

// Status is the lifecycle state of a turn.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusErrored   Status = "errored"
	StatusCancelled Status = "cancelled"
)

// History gives interceptors access to the conversation thread of a turn.
type History interface {
	// Messages returns the prior thread, oldest first, without the current input.
	Messages(ctx context.Context) ([]*types.Message, error)
	// AddSources attaches sources to the answer being produced.
	AddSources(sources ...types.Source)
}

// Prompter asks the user questions while a turn runs.
type Prompter interface {
	Confirm(ctx context.Context, text string) (bool, error)
	Input(ctx context.Context, text string) (string, error)
}

// TokenUsage is filled by execution with the tokens a turn consumed.
type TokenUsage struct {
	TokenCount int
	LLM        string
	Model      string
}

// SummaryConfig controls how the conversation title is derived.
type SummaryConfig struct {
	Prompt        string
	HistoryLength int
}

// Turn is the state threaded through the chain for one request. It belongs to
// the goroutine running the chain; only Emit, Observe and Answer may be used
// from other goroutines.
type Turn struct {
	ID            types.TurnID
	Conversation  *types.Conversation
	Configuration *types.Configuration
	User          *types.User
	Input         string
	EditMessageID int64
	Files         []types.File

	Model          string
	Models         *llm.Models
	Prompt         *prompt.Template
	SystemMessages []string
	Tools          []llm.Tool
	History        History
	TokenUsage     *TokenUsage
	Summary        SummaryConfig
	UI             Prompter
	Cache          *cache.TTL

	stream *Stream

	mu        sync.Mutex
	observers []func(Event)
	answer    strings.Builder
	status    Status
	errored   bool
}

// NewTurn creates a turn that publishes to stream. Its cache keeps entries for
// cacheTTL, or cache.DefaultTTL when zero.
func NewTurn(stream *Stream, cacheTTL time.Duration) *Turn {
	return &Turn{
		ID:     types.NewTurnID(),
		Models: llm.NewModels(),
		Cache:  cache.New(cacheTTL),
		stream: stream,
		status: StatusCreated,
	}
}

// Emit publishes ev and notifies observers. Chunk text accumulates into Answer.
func (t *Turn) Emit(ev Event) {
	t.mu.Lock()
	switch e := ev.(type) {
	case Chunk:
		t.answer.WriteString(TextOf(e))
		if t.status == StatusRunning {
			t.status = StatusStreaming
		}
	case ErrorEvent:
		t.errored = true
	}
	observers := slices.Clone(t.observers)
	t.mu.Unlock()

	for _, fn := range observers {
		fn(ev)
	}
	t.stream.Publish(ev)
}

// Observe registers fn to see every event emitted after the call.
func (t *Turn) Observe(fn func(Event)) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// Answer returns the text of all chunks emitted so far.
func (t *Turn) Answer() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.answer.String()
}

// Cancel asks the turn to stop.
func (t *Turn) Cancel() {
	t.stream.Cancel()
}

// Status reports the lifecycle state.
func (t *Turn) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Turn) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// finish moves the turn into its terminal state.
func (t *Turn) finish(ctx context.Context, err error) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case ctx.Err() != nil:
		t.status = StatusCancelled
	case err != nil || t.errored:
		t.status = StatusErrored
	default:
		t.status = StatusCompleted
	}
	return t.status
}

// TokenCount returns the recorded usage, or zero.
func (t *Turn) TokenCount() int {
	if t.TokenUsage == nil {
		return 0
	}
	return t.TokenUsage.TokenCount
}

// HistoryMessages returns the thread, or nothing when no history is attached.
func (t *Turn) HistoryMessages(ctx context.Context) ([]*types.Message, error) {
	if t.History == nil {
		return nil, nil
	}
	return t.History.Messages(ctx)
}
