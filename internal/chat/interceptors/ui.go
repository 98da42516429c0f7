package interceptors

import (
	"context"

	"github.com/user/parley/internal/callback"
	"github.com/user/parley/internal/chat"
)

// UI attaches a chat.Prompter that asks questions through ui events and waits for
// the answers on the callback service.
type UI struct {
	callbacks *callback.Service
}

func NewUI(callbacks *callback.Service) *UI {
	return &UI{callbacks: callbacks}
}

func (*UI) Order() int { return OrderUI }

func (u *UI) Invoke(ctx context.Context, turn *chat.Turn, next chat.Next) error {
	turn.UI = &callbackUI{turn: turn, callbacks: u.callbacks}
	return next(ctx, turn)
}

var _ chat.Prompter = (*callbackUI)(nil)

type callbackUI struct {
	turn      *chat.Turn
	callbacks *callback.Service
}

func (u *callbackUI) Confirm(ctx context.Context, text string) (bool, error) {
	res, err := u.ask(ctx, callback.KindBoolean, text)
	if err != nil {
		return false, err
	}
	return res.Bool(), nil
}

func (u *callbackUI) Input(ctx context.Context, text string) (string, error) {
	res, err := u.ask(ctx, callback.KindString, text)
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}

func (u *callbackUI) ask(ctx context.Context, kind callback.Kind, text string) (callback.Result, error) {
	req := u.callbacks.Request(kind)
	u.turn.Emit(chat.UI{Request: chat.UIRequest{ID: req.ID, Text: text, Type: kind}})

	res, err := req.Wait(ctx)
	if err != nil {
		u.callbacks.Forget(req.ID)
		return callback.Result{}, err
	}
	return res, nil
}
