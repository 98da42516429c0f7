package interceptors

import (
	"context"
	"log/slog"

	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/types"
)

// Model picks the model of the turn. A pinned model that is still available
// wins; otherwise the first registered model is chosen and pinned on the
// conversation once the turn succeeds.
type Model struct {
	conversations types.ConversationStore
	logger        *slog.Logger
}

func NewModel(conversations types.ConversationStore, logger *slog.Logger) *Model {
	return &Model{conversations: conversations, logger: logger}
}

func (*Model) Order() int { return OrderModel }

func (m *Model) Invoke(ctx context.Context, turn *chat.Turn, next chat.Next) error {
	name := turn.Model
	if name == "" {
		name = turn.Conversation.LLM
	}
	if _, ok := turn.Models.Get(name); ok {
		turn.Model = name
		return next(ctx, turn)
	}

	first, ok := turn.Models.First()
	if !ok {
		turn.Model = ""
		return next(ctx, turn)
	}
	turn.Model = first.Name

	if err := next(ctx, turn); err != nil {
		return err
	}
	if m.conversations == nil {
		return nil
	}
	if err := m.conversations.Update(ctx, turn.Conversation.ID, turn.User, types.ConversationUpdate{LLM: &first.Name}); err != nil {
		m.logger.Warn("failed to pin conversation model", "conversation", turn.Conversation.ID, "llm", first.Name, "error", err)
		return nil
	}
	turn.Conversation.LLM = first.Name
	return nil
}
