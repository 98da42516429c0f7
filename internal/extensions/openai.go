package extensions

import (
	"context"
	"fmt"

	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
	"github.com/user/parley/pkg/llm/openai"
)

// OrderModels places model registration ahead of every built-in stage.
const OrderModels = -50

// ProviderFactory creates a provider from connection settings.
type ProviderFactory func(config *llm.Config) llm.Provider

// OpenAI registers an OpenAI-compatible model on the turn.
type OpenAI struct {
	newProvider ProviderFactory
}

// NewOpenAI creates the extension type. A nil factory uses the go-openai client.
func NewOpenAI(factory ProviderFactory) *OpenAI {
	if factory == nil {
		factory = func(config *llm.Config) llm.Provider { return openai.New(config) }
	}
	return &OpenAI{newProvider: factory}
}

type openAIValues struct {
	Name        string  `json:"name"`
	Model       string  `json:"model"`
	BaseURL     string  `json:"base_url"`
	APIKey      string  `json:"api_key"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
}

func (*OpenAI) Spec() Spec {
	return Spec{
		Type:        "openai",
		Title:       "OpenAI compatible model",
		Description: "Chat model served by an OpenAI compatible API.",
		Schema: `{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"model": {"type": "string", "minLength": 1},
				"base_url": {"type": "string"},
				"api_key": {"type": "string"},
				"max_tokens": {"type": "integer", "minimum": 0},
				"temperature": {"type": "number", "minimum": 0, "maximum": 2}
			},
			"required": ["model"]
		}`,
	}
}

func (o *OpenAI) Interceptors(ctx context.Context, user *types.User, userArgs, configuredArgs map[string]any) ([]chat.Interceptor, error) {
	var values openAIValues
	if err := decode(configuredArgs, &values); err != nil {
		return nil, fmt.Errorf("decode openai values: %w", err)
	}
	name := values.Name
	if name == "" {
		name = values.Model + "@openai"
	}
	model := llm.Model{
		Name:  name,
		Model: values.Model,
		Provider: o.newProvider(&llm.Config{
			BaseURL:     values.BaseURL,
			APIKey:      values.APIKey,
			Model:       values.Model,
			MaxTokens:   values.MaxTokens,
			Temperature: values.Temperature,
		}),
	}
	return []chat.Interceptor{
		chat.NewInterceptor("openai", OrderModels, func(ctx context.Context, turn *chat.Turn, next chat.Next) error {
			turn.Models.Add(model)
			return next(ctx, turn)
		}),
	}, nil
}
