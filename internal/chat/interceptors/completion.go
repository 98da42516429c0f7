package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/texts"
)

// Completion wraps the whole pipeline and emits the completed event on every
// exit path. Unclassified failures and panics become a generic error event.
type Completion struct {
	texts  texts.Texts
	logger *slog.Logger
}

func NewCompletion(t texts.Texts, logger *slog.Logger) *Completion {
	return &Completion{texts: t.WithDefaults(), logger: logger}
}

func (*Completion) Order() int { return OrderCompletion }

func (c *Completion) Invoke(ctx context.Context, turn *chat.Turn, next chat.Next) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			c.logger.Error("chat pipeline failed", "turn", turn.ID, "error", err)
			turn.Emit(chat.ErrorEvent{Message: c.texts.Internal})
		}
		turn.Emit(chat.Completed{Metadata: chat.Metadata{TokenCount: turn.TokenCount()}})
		err = nil
	}()
	return next(ctx, turn)
}
