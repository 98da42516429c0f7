package interceptors

import (
	"context"

	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/prompt"
)

// Prompt provides the default template when no extension built one.
type Prompt struct{}

func NewPrompt() *Prompt { return &Prompt{} }

func (*Prompt) Order() int { return OrderPrompt }

func (*Prompt) Invoke(ctx context.Context, turn *chat.Turn, next chat.Next) error {
	if turn.Prompt == nil {
		turn.Prompt = prompt.Default(turn.SystemMessages, len(turn.Tools) > 0)
	}
	return next(ctx, turn)
}
