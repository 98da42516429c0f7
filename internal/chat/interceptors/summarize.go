package interceptors

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/texts"
	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
)

// DefaultSummaryPrompt asks for a headline of the conversation. {content} is
// replaced with the recent user messages.
const DefaultSummaryPrompt = "Summarize the following content ALWAYS in the same language as the content as short as possible in not more than 3 words. Write it as if it is Headline of an Article. Dont't use new lines: <CONTENT>{content}</CONTENT>"

const defaultSummaryHistory = 5

// Summarizer names the conversation while the turn executes, unless the user
// named it. Failures are logged and never fail the turn.
type Summarizer struct {
	conversations types.ConversationStore
	texts         texts.Texts
	timeout       time.Duration
	logger        *slog.Logger
}

func NewSummarizer(conversations types.ConversationStore, t texts.Texts, timeout time.Duration, logger *slog.Logger) *Summarizer {
	if timeout <= 0 {
		timeout = DefaultSummaryTimeout
	}
	return &Summarizer{conversations: conversations, texts: t.WithDefaults(), timeout: timeout, logger: logger}
}

func (*Summarizer) Order() int { return OrderSummarize }

func (s *Summarizer) Invoke(ctx context.Context, turn *chat.Turn, next chat.Next) error {
	var g errgroup.Group
	g.Go(func() error {
		s.update(ctx, turn)
		return nil
	})
	err := next(ctx, turn)
	g.Wait()
	return err
}

func (s *Summarizer) update(ctx context.Context, turn *chat.Turn) {
	conversation, err := s.conversations.Get(ctx, turn.Conversation.ID, turn.User)
	if err != nil {
		s.logger.Error("failed to load conversation for summary", "conversation", turn.Conversation.ID, "error", err)
		return
	}
	if conversation.NameSetManually {
		return
	}

	name, ok := s.name(ctx, turn)
	if !ok {
		return
	}
	manual := false
	if err := s.conversations.Update(ctx, conversation.ID, turn.User, types.ConversationUpdate{Name: &name, NameSetManually: &manual}); err != nil {
		s.logger.Error("failed to update conversation summary", "conversation", conversation.ID, "error", err)
		return
	}
	turn.Emit(chat.Summary{Content: name})
}

// name asks the turn's model for a title. It reports false when the turn has
// no model to ask.
func (s *Summarizer) name(ctx context.Context, turn *chat.Turn) (string, bool) {
	model, ok := turn.Models.Get(turn.Model)
	if !ok {
		return "", false
	}

	content, err := s.userMessages(ctx, turn)
	if err != nil {
		s.logger.Error("failed to read history for summary", "turn", turn.ID, "error", err)
		return s.texts.NoSummary, true
	}
	template := turn.Summary.Prompt
	if template == "" {
		template = DefaultSummaryPrompt
	}
	input := strings.ReplaceAll(template, "{content}", strings.Join(content, " "))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := model.Provider.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: input}}, nil)
	if err != nil {
		s.logger.Error("failed to get conversation summary", "turn", turn.ID, "error", err)
		return s.texts.NoSummary, true
	}
	name := strings.TrimSpace(resp.Content)
	if name == "" {
		return s.texts.NoSummary, true
	}
	return name, true
}

// userMessages returns the input followed by earlier user messages, newest
// first, limited to the configured history length.
func (s *Summarizer) userMessages(ctx context.Context, turn *chat.Turn) ([]string, error) {
	history, err := turn.HistoryMessages(ctx)
	if err != nil {
		return nil, err
	}
	limit := turn.Summary.HistoryLength
	if limit <= 0 {
		limit = defaultSummaryHistory
	}

	out := []string{turn.Input}
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		if history[i].Type == types.MessageHuman {
			out = append(out, history[i].Content)
		}
	}
	return out, nil
}
