package interceptors

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/types"
)

// Usage records the tokens a successful turn consumed. Storage failures are
// logged and never fail the turn.
type Usage struct {
	usage  types.UsageStore
	now    func() time.Time
	logger *slog.Logger
}

func NewUsage(usage types.UsageStore, now func() time.Time, logger *slog.Logger) *Usage {
	if now == nil {
		now = time.Now
	}
	return &Usage{usage: usage, now: now, logger: logger}
}

func (*Usage) Order() int { return OrderUsage }

func (u *Usage) Invoke(ctx context.Context, turn *chat.Turn, next chat.Next) error {
	if err := next(ctx, turn); err != nil {
		return err
	}
	if turn.TokenUsage == nil {
		return nil
	}

	event := &types.UsageEvent{
		Date:      u.now(),
		Counter:   TokenCounter,
		Key:       turn.TokenUsage.LLM,
		SubKey:    turn.TokenUsage.Model,
		Count:     int64(turn.TokenUsage.TokenCount),
		UserGroup: turn.User.Group,
		UserID:    turn.User.ID,
	}
	if err := u.usage.Track(ctx, event); err != nil {
		u.logger.Error("failed to update usage data", "turn", turn.ID, "error", err)
	}
	return nil
}
