package extensions

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/texts"
	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
)

// OrderConfirm runs after every tool was added and the prompt was built.
const OrderConfirm = 495

// ConfirmTools asks the user before the model may run a tool.
type ConfirmTools struct {
	texts texts.Texts
}

func NewConfirmTools(t texts.Texts) *ConfirmTools {
	return &ConfirmTools{texts: t.WithDefaults()}
}

func (*ConfirmTools) Spec() Spec {
	return Spec{
		Type:        "confirm-tools",
		Title:       "Confirm tool use",
		Description: "Asks the user before a tool runs. Without a list every tool is confirmed.",
		Schema: `{
			"type": "object",
			"properties": {
				"tools": {"type": "array", "items": {"type": "string"}}
			}
		}`,
	}
}

func (c *ConfirmTools) Interceptors(ctx context.Context, user *types.User, userArgs, configuredArgs map[string]any) ([]chat.Interceptor, error) {
	var values struct {
		Tools []string `json:"tools"`
	}
	if err := decode(configuredArgs, &values); err != nil {
		return nil, fmt.Errorf("decode confirm-tools values: %w", err)
	}
	return []chat.Interceptor{
		chat.NewInterceptor("confirm-tools", OrderConfirm, func(ctx context.Context, turn *chat.Turn, next chat.Next) error {
			if turn.UI != nil {
				for i, tool := range turn.Tools {
					if len(values.Tools) == 0 || slices.Contains(values.Tools, tool.Name()) {
						turn.Tools[i] = &confirmedTool{Tool: tool, turn: turn, texts: c.texts}
					}
				}
			}
			return next(ctx, turn)
		}),
	}, nil
}

type confirmedTool struct {
	llm.Tool
	turn  *chat.Turn
	texts texts.Texts
}

func (t *confirmedTool) DisplayName() string { return llm.DisplayName(t.Tool) }

func (t *confirmedTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	ok, err := t.turn.UI.Confirm(ctx, fmt.Sprintf(t.texts.ConfirmToolPrompt, t.DisplayName()))
	if err != nil {
		return "", err
	}
	if !ok {
		return t.texts.ToolDeclined, nil
	}
	return t.Tool.Execute(ctx, args)
}
