package interceptors

import (
	"context"
	"errors"
	"log/slog"

	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/texts"
	"github.com/user/parley/pkg/llm"
)

// Exception turns pipeline failures into a user-safe error event. Chat errors
// keep their message; known provider failures get a dedicated text and
// everything else the generic one.
type Exception struct {
	texts  texts.Texts
	logger *slog.Logger
}

func NewException(t texts.Texts, logger *slog.Logger) *Exception {
	return &Exception{texts: t.WithDefaults(), logger: logger}
}

func (*Exception) Order() int { return OrderException }

func (x *Exception) Invoke(ctx context.Context, turn *chat.Turn, next chat.Next) error {
	err := next(ctx, turn)
	if err == nil || ctx.Err() != nil {
		return err
	}
	x.logger.Error("pipeline error", "turn", turn.ID, "error", err)
	turn.Emit(chat.ErrorEvent{Message: x.message(err)})
	return nil
}

func (x *Exception) message(err error) string {
	if ce, ok := chat.AsError(err); ok {
		return ce.Message
	}
	switch {
	case errors.Is(err, llm.ErrContextLength):
		return x.texts.ContextLength
	case errors.Is(err, llm.ErrContentFilter):
		return x.texts.ContentFilter
	case errors.Is(err, llm.ErrToolFailed):
		return x.texts.FailedToolUse
	}
	return x.texts.Internal
}
