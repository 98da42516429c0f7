package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/executor"
	"github.com/user/parley/internal/types"
)

// Delegate hands turns of configurations with an executor endpoint to that
// service and translates its answer into events. The rest of the chain is
// skipped for those turns.
type Delegate struct {
	client        *executor.Client
	conversations types.ConversationStore
	logger        *slog.Logger
}

func NewDelegate(client *executor.Client, conversations types.ConversationStore, logger *slog.Logger) *Delegate {
	return &Delegate{client: client, conversations: conversations, logger: logger}
}

func (*Delegate) Order() int { return OrderDelegate }

func (d *Delegate) Invoke(ctx context.Context, turn *chat.Turn, next chat.Next) error {
	configuration := turn.Configuration
	if configuration.ExecutorEndpoint == "" {
		return next(ctx, turn)
	}

	req, err := d.request(ctx, turn)
	if err != nil {
		return err
	}
	resp, err := d.client.Answer(ctx, configuration.ExecutorEndpoint, configuration.ExecutorHeaders, req)
	if err != nil {
		return fmt.Errorf("call executor: %w", err)
	}

	if resp.Debug != "" {
		turn.Emit(chat.Debug{Content: resp.Debug})
	}
	if resp.Summary != "" {
		d.rename(ctx, turn, resp.Summary)
	}
	if resp.Result != nil {
		turn.Emit(chat.Chunk{Content: []chat.ContentPart{chat.TextPart(resp.Result.Content)}})
	}
	return nil
}

func (d *Delegate) request(ctx context.Context, turn *chat.Turn) (*executor.AnswerRequest, error) {
	history, err := turn.HistoryMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	user := turn.User
	req := &executor.AnswerRequest{
		History: make([]executor.HistoryMessage, 0, len(turn.SystemMessages)+len(history)),
		Prompt:  turn.Input,
		Context: maps.Clone(turn.Conversation.Context),
		User: executor.User{
			ID:    user.ID,
			Name:  user.Name,
			Email: user.Email,
			Roles: append([]string{}, user.Roles...),
		},
	}
	for _, s := range turn.SystemMessages {
		req.History = append(req.History, executor.HistoryMessage{Content: s, Type: "system"})
	}
	for _, m := range history {
		req.History = append(req.History, executor.HistoryMessage{Content: m.Content, Type: string(m.Type)})
	}
	return req, nil
}

func (d *Delegate) rename(ctx context.Context, turn *chat.Turn, name string) {
	if d.conversations != nil {
		err := d.conversations.Update(ctx, turn.Conversation.ID, turn.User, types.ConversationUpdate{Name: &name})
		if err != nil {
			d.logger.Error("failed to rename conversation", "conversation", turn.Conversation.ID, "error", err)
			return
		}
	}
	turn.Emit(chat.Summary{Content: name})
}
