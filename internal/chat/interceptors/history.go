package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/types"
)

// History persists the human message before the rest of the pipeline runs and
// the answer after it succeeds. The answer carries the tools, debug output and
// sources seen during the turn.
type History struct {
	messages types.MessageStore
	now      func() time.Time
	logger   *slog.Logger
}

func NewHistory(messages types.MessageStore, now func() time.Time, logger *slog.Logger) *History {
	if now == nil {
		now = time.Now
	}
	return &History{messages: messages, now: now, logger: logger}
}

func (*History) Order() int { return OrderHistory }

func (h *History) Invoke(ctx context.Context, turn *chat.Turn, next chat.Next) error {
	t := &thread{turn: turn, store: h.messages}
	if err := t.open(ctx, h.now()); err != nil {
		h.logger.Error("failed to store message in history", "conversation", turn.Conversation.ID, "error", err)
	}
	turn.History = t
	turn.Observe(t.observe)

	if err := next(ctx, turn); err != nil {
		return err
	}

	if err := t.close(ctx, h.now()); err != nil {
		h.logger.Error("failed to store answer in history", "conversation", turn.Conversation.ID, "error", err)
	}
	return nil
}

type thread struct {
	turn  *chat.Turn
	store types.MessageStore

	mu       sync.Mutex
	parentID int64
	prior    []*types.Message
	tools    []types.ToolUse
	debug    []string
	sources  []types.Source
}

// open resolves the parent, loads the thread up to it and saves the input.
func (t *thread) open(ctx context.Context, now time.Time) error {
	conversationID := t.turn.Conversation.ID

	if t.turn.EditMessageID > 0 {
		edited, err := t.store.Get(ctx, conversationID, t.turn.EditMessageID)
		if err != nil {
			return fmt.Errorf("load edited message %d: %w", t.turn.EditMessageID, err)
		}
		t.parentID = edited.ParentID
	} else {
		last, err := t.store.Last(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("load last message: %w", err)
		}
		if last != nil {
			t.parentID = last.ID
		}
	}

	if t.parentID > 0 {
		prior, err := t.store.Thread(ctx, conversationID, t.parentID)
		if err != nil {
			return fmt.Errorf("load thread: %w", err)
		}
		t.prior = prior
	}

	msg := &types.Message{
		ConversationID: conversationID,
		ParentID:       t.parentID,
		Type:           types.MessageHuman,
		Content:        t.turn.Input,
		Files:          t.turn.Files,
		CreatedAt:      now,
	}
	if err := t.store.Save(ctx, msg); err != nil {
		return fmt.Errorf("save human message: %w", err)
	}
	t.mu.Lock()
	t.parentID = msg.ID
	t.mu.Unlock()
	t.turn.Emit(chat.Saved{MessageID: msg.ID, MessageType: types.MessageHuman})
	return nil
}

func (t *thread) close(ctx context.Context, now time.Time) error {
	t.mu.Lock()
	msg := &types.Message{
		ConversationID: t.turn.Conversation.ID,
		ParentID:       t.parentID,
		Type:           types.MessageAI,
		Content:        t.turn.Answer(),
		Tools:          slices.Clone(t.tools),
		Debug:          slices.Clone(t.debug),
		Sources:        slices.Clone(t.sources),
		CreatedAt:      now,
	}
	t.mu.Unlock()

	if len(msg.Sources) > 0 {
		refs := make([]types.Source, len(msg.Sources))
		for i, s := range msg.Sources {
			s.Content = ""
			refs[i] = s
		}
		t.turn.Emit(chat.Sources{Content: refs})
	}

	if err := t.store.Save(ctx, msg); err != nil {
		return fmt.Errorf("save ai message: %w", err)
	}
	t.mu.Lock()
	t.parentID = msg.ID
	t.mu.Unlock()
	t.turn.Emit(chat.Saved{MessageID: msg.ID, MessageType: types.MessageAI})
	return nil
}

func (t *thread) observe(ev chat.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e := ev.(type) {
	case chat.ToolStart:
		t.tools = append(t.tools, types.ToolUse{Name: e.Tool.Name, DisplayName: e.Tool.DisplayName})
	case chat.Debug:
		t.debug = append(t.debug, e.Content)
	}
}

func (t *thread) Messages(context.Context) ([]*types.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.prior), nil
}

func (t *thread) AddSources(sources ...types.Source) {
	t.mu.Lock()
	t.sources = append(t.sources, sources...)
	t.mu.Unlock()
}
