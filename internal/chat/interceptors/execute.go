package interceptors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/observability"
	"github.com/user/parley/internal/prompt"
	"github.com/user/parley/internal/texts"
	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
)

// Execute runs the chosen model, executing tool calls until the model answers
// in text. Provider output is translated into chunk and tool events.
type Execute struct {
	prompts   *prompt.Engine
	texts     texts.Texts
	metrics   *observability.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	maxRounds int
	logChunks bool
	now       func() time.Time
}

func NewExecute(deps Deps) *Execute {
	deps = deps.withDefaults()
	return &Execute{
		prompts:   deps.Prompts,
		texts:     deps.Texts,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		logger:    deps.Logger,
		maxRounds: deps.MaxToolRounds,
		logChunks: deps.LogRetrievalChunks,
		now:       deps.Now,
	}
}

func (*Execute) Order() int { return OrderExecute }

func (x *Execute) Invoke(ctx context.Context, turn *chat.Turn, next chat.Next) error {
	if turn.Configuration.ExecutorEndpoint != "" {
		return next(ctx, turn)
	}

	history, err := turn.HistoryMessages(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(history) == 0 {
		x.metrics.Chat(strconv.FormatInt(turn.Configuration.ID, 10))
	}

	if err := x.execute(ctx, turn, history); err != nil {
		x.metrics.Prompt("error")
		return err
	}
	x.metrics.Prompt("success")
	return next(ctx, turn)
}

func (x *Execute) execute(ctx context.Context, turn *chat.Turn, history []*types.Message) (err error) {
	model, ok := turn.Models.Get(turn.Model)
	if !ok {
		return chat.NewError(chat.CodeMissingModel, x.texts.MissingModel)
	}
	if turn.Prompt == nil {
		return chat.NewError(chat.CodeMissingPrompt, x.texts.MissingPrompt)
	}

	ctx, span := x.tracer.Start(ctx, "chat.execute", observability.Attrs("llm", model.Name, "model", model.Model))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	system, err := turn.Prompt.RenderSystem(prompt.NewData(x.now(), turn.User.Name, turn.User.Email))
	if err != nil {
		return err
	}
	past := prompt.FromHistory(history)

	tools := llm.NewRegistry(turn.Tools...)
	var definitions []llm.ToolDefinition
	if turn.Prompt.Scratchpad && tools.Len() > 0 {
		definitions = tools.Definitions()
	}

	var (
		scratch  []llm.Message
		messages []llm.Message
		usage    llm.Usage
	)
	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if round > x.maxRounds {
			return fmt.Errorf("no answer after %d tool rounds: %w", x.maxRounds, llm.ErrToolFailed)
		}

		messages = x.prompts.Build(turn.Prompt, system, past, turn.Input, scratch)
		reply, err := x.call(ctx, turn, model, messages, definitions)
		if err != nil {
			return err
		}
		usage = usage.Add(reply.Usage)
		if len(reply.ToolCalls) == 0 {
			break
		}

		scratch = append(scratch, llm.Message{Role: llm.RoleAssistant, Content: reply.Content, Tools: reply.ToolCalls})
		for _, call := range reply.ToolCalls {
			result, err := x.runTool(ctx, turn, tools, call)
			if err != nil {
				return err
			}
			scratch = append(scratch, llm.Message{Role: llm.RoleTool, Content: result, Tools: []llm.ToolCall{{ID: call.ID}}})
		}
	}

	tokens := usage.TotalTokens
	if tokens == 0 {
		tokens = x.prompts.CountMessages(messages) + x.prompts.Count(turn.Answer())
	}
	turn.TokenUsage = &chat.TokenUsage{TokenCount: tokens, LLM: model.Name, Model: model.Model}
	x.metrics.Tokens(model.Name, tokens)
	return nil
}

// call streams one model response, falling back to a blocking completion only
// when the provider cannot stream. A run that streamed no text emits its final
// result as one chunk.
func (x *Execute) call(ctx context.Context, turn *chat.Turn, model llm.Model, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Response, error) {
	deltas, err := model.Provider.Stream(ctx, messages, tools)
	if errors.Is(err, llm.ErrStreamingUnsupported) {
		return x.complete(ctx, turn, model, messages, tools)
	}
	if err != nil {
		return nil, err
	}

	var (
		out     llm.Response
		content strings.Builder
		final   *llm.Response
	)
	for d := range deltas {
		if d.Err != nil {
			return nil, d.Err
		}
		if d.Content != "" {
			content.WriteString(d.Content)
			turn.Emit(chat.Chunk{Content: []chat.ContentPart{chat.TextPart(d.Content)}})
		}
		out.ToolCalls = append(out.ToolCalls, d.ToolCalls...)
		if d.Usage != nil {
			out.Usage = out.Usage.Add(*d.Usage)
		}
		if d.Final != nil {
			final = d.Final
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out.Content = content.String()
	if out.Content == "" && final != nil && final.Content != "" {
		out.Content = final.Content
		turn.Emit(chat.Chunk{Content: []chat.ContentPart{chat.TextPart(out.Content)}})
	}
	return &out, nil
}

func (x *Execute) complete(ctx context.Context, turn *chat.Turn, model llm.Model, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Response, error) {
	resp, err := model.Provider.Complete(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	if resp.Content != "" {
		turn.Emit(chat.Chunk{Content: []chat.ContentPart{chat.TextPart(resp.Content)}})
	}
	return resp, nil
}

// runTool executes one call. Tool failures are reported back to the model as
// the result; only cancellation aborts the turn.
func (x *Execute) runTool(ctx context.Context, turn *chat.Turn, tools *llm.Registry, call llm.ToolCall) (string, error) {
	tool, ok := tools.Get(call.Function.Name)
	if !ok {
		x.logger.Warn("model called unknown tool", "turn", turn.ID, "tool", call.Function.Name)
		return fmt.Sprintf("Error: unknown tool %q", call.Function.Name), nil
	}

	info := chat.ToolInfo{Name: tool.Name(), DisplayName: llm.DisplayName(tool)}
	turn.Emit(chat.ToolStart{Tool: info})
	result, err := tool.Execute(ctx, call.Function.Arguments)
	x.metrics.ToolCall(tool.Name(), err)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		x.logger.Warn("tool failed", "turn", turn.ID, "tool", tool.Name(), "error", err)
		result = "Error: " + err.Error()
	} else if x.logChunks {
		if logging, ok := retrievalLog(result); ok {
			turn.Emit(chat.Logging{Content: logging})
		}
	}
	turn.Emit(chat.ToolEnd{Tool: info})
	return result, nil
}

// retrievalLog renders results shaped like [{"content": ...}] as markdown.
func retrievalLog(result string) (string, bool) {
	var chunks []struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(result), &chunks); err != nil {
		return "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**LOGGING**\n\n***Number of chunks*** %d\n\n", len(chunks))
	for i, c := range chunks {
		fmt.Fprintf(&b, "***Chunk nr. %d:***\n\n%s\n\n", i+1, c.Content)
	}
	return b.String(), true
}
