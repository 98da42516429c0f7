// Package interceptors holds the built-in stages of the chat pipeline.
package interceptors

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/user/parley/internal/callback"
	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/executor"
	"github.com/user/parley/internal/observability"
	"github.com/user/parley/internal/prompt"
	"github.com/user/parley/internal/texts"
	"github.com/user/parley/internal/types"
)

// Orders of the built-in interceptors. Extensions place themselves relative
// to these.
const (
	OrderCompletion = chat.OrderOutermost
	OrderException  = -1000
	OrderUI         = -1000
	OrderQuota      = -1000
	OrderHistory    = -100
	OrderUsage      = 0
	OrderExecute    = 500
	OrderModel      = OrderExecute - 20
	OrderPrompt     = OrderExecute - 10
	OrderDelegate   = OrderExecute - 1
	OrderSummarize  = OrderExecute - 1
)

const (
	DefaultMaxToolRounds  = 8
	DefaultSummaryTimeout = 10 * time.Second
)

// Deps are the collaborators of the built-in interceptors. Interceptors whose
// stores are nil are left out of Defaults.
type Deps struct {
	Conversations types.ConversationStore
	Messages      types.MessageStore
	Usage         types.UsageStore
	Groups        types.UserGroupStore
	Callbacks     *callback.Service
	Executor      *executor.Client
	Prompts       *prompt.Engine
	Texts         texts.Texts
	Metrics       *observability.Metrics
	Tracer        trace.Tracer
	Logger        *slog.Logger

	MaxToolRounds  int
	SummaryTimeout time.Duration
	// LogRetrievalChunks emits logging events with the chunks retrieval tools return.
	LogRetrievalChunks bool
	Now                func() time.Time
}

func (d Deps) withDefaults() Deps {
	d.Texts = d.Texts.WithDefaults()
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("parley/chat")
	}
	if d.Prompts == nil {
		d.Prompts = prompt.New(nil, 0, 0)
	}
	if d.Executor == nil {
		d.Executor = executor.NewClient(nil, executor.DefaultRetryPolicy(), d.Logger)
	}
	if d.MaxToolRounds <= 0 {
		d.MaxToolRounds = DefaultMaxToolRounds
	}
	if d.SummaryTimeout <= 0 {
		d.SummaryTimeout = DefaultSummaryTimeout
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Defaults returns the standard pipeline in registration order.
func Defaults(deps Deps) []chat.Interceptor {
	deps = deps.withDefaults()

	out := []chat.Interceptor{
		NewCompletion(deps.Texts, deps.Logger),
		NewException(deps.Texts, deps.Logger),
	}
	if deps.Callbacks != nil {
		out = append(out, NewUI(deps.Callbacks))
	}
	if deps.Groups != nil && deps.Usage != nil {
		out = append(out, NewQuota(deps.Groups, deps.Usage, deps.Texts, deps.Now))
	}
	if deps.Messages != nil {
		out = append(out, NewHistory(deps.Messages, deps.Now, deps.Logger))
	}
	if deps.Usage != nil {
		out = append(out, NewUsage(deps.Usage, deps.Now, deps.Logger))
	}
	out = append(out,
		NewModel(deps.Conversations, deps.Logger),
		NewPrompt(),
		NewDelegate(deps.Executor, deps.Conversations, deps.Logger),
	)
	if deps.Conversations != nil {
		out = append(out, NewSummarizer(deps.Conversations, deps.Texts, deps.SummaryTimeout, deps.Logger))
	}
	out = append(out, NewExecute(deps))
	return out
}
