package extensions

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/types"
)

// OrderOptions is where option-only extensions adjust the turn.
const OrderOptions = -10

// SystemPrompt appends a system message to every turn.
type SystemPrompt struct{}

func (SystemPrompt) Spec() Spec {
	return Spec{
		Type:        "system-prompt",
		Title:       "System prompt",
		Description: "Adds instructions for the model. Supports {{.Date}}, {{.UserName}} and {{.UserEmail}}.",
		Schema: `{
			"type": "object",
			"properties": {"text": {"type": "string", "minLength": 1}},
			"required": ["text"]
		}`,
	}
}

func (SystemPrompt) Interceptors(ctx context.Context, user *types.User, userArgs, configuredArgs map[string]any) ([]chat.Interceptor, error) {
	var values struct {
		Text string `json:"text"`
	}
	if err := decode(configuredArgs, &values); err != nil {
		return nil, fmt.Errorf("decode system-prompt values: %w", err)
	}
	text := strings.TrimSpace(values.Text)
	return []chat.Interceptor{
		chat.NewInterceptor("system-prompt", OrderOptions, func(ctx context.Context, turn *chat.Turn, next chat.Next) error {
			if text != "" {
				turn.SystemMessages = append(turn.SystemMessages, text)
			}
			return next(ctx, turn)
		}),
	}, nil
}

// Summary configures how conversation titles are generated.
type Summary struct{}

func (Summary) Spec() Spec {
	return Spec{
		Type:        "summary",
		Title:       "Conversation title",
		Description: "Prompt and history length used to name conversations. {content} is replaced with recent user messages.",
		Schema: `{
			"type": "object",
			"properties": {
				"prompt": {"type": "string"},
				"history_length": {"type": "integer", "minimum": 1}
			}
		}`,
	}
}

func (Summary) Interceptors(ctx context.Context, user *types.User, userArgs, configuredArgs map[string]any) ([]chat.Interceptor, error) {
	var values struct {
		Prompt        string `json:"prompt"`
		HistoryLength int    `json:"history_length"`
	}
	if err := decode(configuredArgs, &values); err != nil {
		return nil, fmt.Errorf("decode summary values: %w", err)
	}
	return []chat.Interceptor{
		chat.NewInterceptor("summary", OrderOptions, func(ctx context.Context, turn *chat.Turn, next chat.Next) error {
			turn.Summary = chat.SummaryConfig{Prompt: values.Prompt, HistoryLength: values.HistoryLength}
			return next(ctx, turn)
		}),
	}, nil
}
