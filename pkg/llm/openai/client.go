package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/user/parley/pkg/llm"
)

// Client implements the llm.Provider interface for OpenAI-compatible APIs.
type Client struct {
	config *llm.Config
	api    *goopenai.Client
}

// New creates a new OpenAI-compatible client with the given configuration.
func New(config *llm.Config) *Client {
	cfg := goopenai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	return &Client{
		config: config,
		api:    goopenai.NewClientWithConfig(cfg),
	}
}

func (c *Client) request(messages []llm.Message, tools []llm.ToolDefinition) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    make([]goopenai.ChatCompletionMessage, len(messages)),
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}
	for i, msg := range messages {
		rm := goopenai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == llm.RoleTool && len(msg.Tools) > 0 {
			rm.ToolCallID = msg.Tools[0].ID
		} else {
			for _, tc := range msg.Tools {
				rm.ToolCalls = append(rm.ToolCalls, goopenai.ToolCall{
					ID:   tc.ID,
					Type: goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: string(tc.Function.Arguments),
					},
				})
			}
		}
		req.Messages[i] = rm
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return req
}

func convertToolCalls(calls []goopenai.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, llm.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: llm.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: []byte(tc.Function.Arguments),
			},
		})
	}
	return out
}

// Complete sends a chat completion request and returns the full response.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Response, error) {
	resp, err := c.api.CreateChatCompletion(ctx, c.request(messages, tools))
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := resp.Choices[0]
	if choice.FinishReason == goopenai.FinishReasonContentFilter {
		return nil, llm.ErrContentFilter
	}
	return &llm.Response{
		Content:   choice.Message.Content,
		ToolCalls: convertToolCalls(choice.Message.ToolCalls),
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// Stream sends a streaming chat completion request. Text deltas are forwarded as
// they arrive; tool call fragments are accumulated by index and delivered once the
// stream finishes.
func (c *Client) Stream(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (<-chan llm.Delta, error) {
	req := c.request(messages, tools)
	req.Stream = true
	req.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}

	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, classify(err)
	}

	ch := make(chan llm.Delta)
	go func() {
		defer close(ch)
		defer stream.Close()

		send := func(d llm.Delta) bool {
			select {
			case ch <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		pending := make(map[int]*goopenai.ToolCall)
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				if calls := assemble(pending); len(calls) > 0 {
					send(llm.Delta{ToolCalls: calls})
				}
				return
			}
			if err != nil {
				send(llm.Delta{Err: classify(err)})
				return
			}

			if resp.Usage != nil {
				if !send(llm.Delta{Usage: &llm.Usage{
					InputTokens:  resp.Usage.PromptTokens,
					OutputTokens: resp.Usage.CompletionTokens,
					TotalTokens:  resp.Usage.TotalTokens,
				}}) {
					return
				}
			}
			if len(resp.Choices) == 0 {
				continue
			}

			choice := resp.Choices[0]
			if choice.FinishReason == goopenai.FinishReasonContentFilter {
				send(llm.Delta{Err: llm.ErrContentFilter})
				return
			}
			if choice.Delta.Content != "" {
				if !send(llm.Delta{Content: choice.Delta.Content}) {
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				call, ok := pending[index]
				if !ok {
					call = &goopenai.ToolCall{}
					pending[index] = call
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Function.Name = tc.Function.Name
				}
				call.Function.Arguments += tc.Function.Arguments
			}
		}
	}()

	return ch, nil
}

func assemble(pending map[int]*goopenai.ToolCall) []llm.ToolCall {
	indexes := make([]int, 0, len(pending))
	for i := range pending {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	calls := make([]goopenai.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		if pending[i].Function.Name != "" {
			calls = append(calls, *pending[i])
		}
	}
	return convertToolCalls(calls)
}

// classify maps API error codes onto the llm sentinel errors.
func classify(err error) error {
	var apiErr *goopenai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	code := strings.ToLower(fmt.Sprint(apiErr.Code))
	msg := strings.ToLower(apiErr.Message)
	switch {
	case code == "context_length_exceeded" || code == "string_above_max_length" ||
		strings.Contains(msg, "maximum context length"):
		return fmt.Errorf("%w: %s", llm.ErrContextLength, apiErr.Message)
	case code == "content_filter" || code == "content_policy_violation":
		return fmt.Errorf("%w: %s", llm.ErrContentFilter, apiErr.Message)
	}
	return fmt.Errorf("API error (status %d): %w", apiErr.HTTPStatusCode, err)
}
