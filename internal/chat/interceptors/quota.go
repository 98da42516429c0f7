package interceptors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/texts"
	"github.com/user/parley/internal/types"
)

// TokenCounter is the usage counter the pipeline records and limits.
const TokenCounter = "token_usage"

// Quota fails the turn before it runs when the user's group has used up its
// monthly token budget, either in total or for this user.
type Quota struct {
	groups types.UserGroupStore
	usage  types.UsageStore
	texts  texts.Texts
	now    func() time.Time
}

func NewQuota(groups types.UserGroupStore, usage types.UsageStore, t texts.Texts, now func() time.Time) *Quota {
	if now == nil {
		now = time.Now
	}
	return &Quota{groups: groups, usage: usage, texts: t.WithDefaults(), now: now}
}

func (*Quota) Order() int { return OrderQuota }

func (q *Quota) Invoke(ctx context.Context, turn *chat.Turn, next chat.Next) error {
	user := turn.User
	switch user.Group {
	case "", types.GroupAdmin, types.GroupDefault:
		return next(ctx, turn)
	}

	group, err := q.groups.Get(ctx, user.Group)
	if errors.Is(err, types.ErrNotFound) {
		return next(ctx, turn)
	}
	if err != nil {
		return fmt.Errorf("load user group %s: %w", user.Group, err)
	}
	if group.MonthlyTokens <= 0 && group.MonthlyUserTokens <= 0 {
		return next(ctx, turn)
	}

	now := q.now()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	filter := types.UsageFilter{Counter: TokenCounter, From: from, To: from.AddDate(0, 1, 0)}

	if group.MonthlyTokens > 0 {
		f := filter
		f.UserGroup = user.Group
		used, err := q.usage.Sum(ctx, f)
		if err != nil {
			return fmt.Errorf("sum group usage: %w", err)
		}
		if used >= group.MonthlyTokens {
			return chat.NewError(chat.CodeRateLimited, q.texts.GroupQuota)
		}
	}

	if group.MonthlyUserTokens > 0 {
		f := filter
		f.UserID = user.ID
		used, err := q.usage.Sum(ctx, f)
		if err != nil {
			return fmt.Errorf("sum user usage: %w", err)
		}
		if used >= group.MonthlyUserTokens {
			return chat.NewError(chat.CodeRateLimited, q.texts.UserQuota)
		}
	}

	return next(ctx, turn)
}
