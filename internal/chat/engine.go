// Package chat runs chat turns through a priority-ordered interceptor chain and
// streams their events to a single consumer.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/user/parley/internal/observability"
	"github.com/user/parley/internal/texts"
	"github.com/user/parley/internal/types"
)

// Extension contributes interceptors to the turns of configurations that enable it.
type Extension interface {
	// Interceptors is called once per turn. userArgs are the values the user set on
	// the conversation; configuredArgs are the extension's configured values with
	// the user's configuration values merged over them.
	Interceptors(ctx context.Context, user *types.User, userArgs, configuredArgs map[string]any) ([]Interceptor, error)
}

// EnabledExtension is an extension instance resolved for a configuration.
type EnabledExtension struct {
	ID        string
	Extension Extension
	Values    map[string]any
}

// ExtensionSource resolves the enabled extensions of a configuration in order.
type ExtensionSource interface {
	Enabled(ctx context.Context, configuration *types.Configuration) ([]EnabledExtension, error)
}

// TurnRequest starts a turn.
type TurnRequest struct {
	ConversationID int64
	User           *types.User
	Input          string
	Files          []types.File
	EditMessageID  int64
}

// Options configures an Engine.
type Options struct {
	Conversations  types.ConversationStore
	Configurations types.ConfigurationStore
	Extensions     ExtensionSource
	Interceptors   []Interceptor
	MaxConcurrent  int64
	CacheTTL       time.Duration
	Texts          texts.Texts
	Metrics        *observability.Metrics
	Tracer         trace.Tracer
	Logger         *slog.Logger
}

// Engine starts turns and runs their chains in the background. Turns of one
// conversation run in start order; the number of chains running at once is
// bounded by a semaphore.
type Engine struct {
	conversations  types.ConversationStore
	configurations types.ConfigurationStore
	extensions     ExtensionSource
	interceptors   []Interceptor
	slots          *semaphore.Weighted
	lanes          *lanes
	cacheTTL       time.Duration
	texts          texts.Texts
	metrics        *observability.Metrics
	tracer         trace.Tracer
	logger         *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an engine. Static interceptors come before extension
// interceptors of equal order.
func NewEngine(opts Options) *Engine {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("parley/chat")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		conversations:  opts.Conversations,
		configurations: opts.Configurations,
		extensions:     opts.Extensions,
		interceptors:   opts.Interceptors,
		slots:          semaphore.NewWeighted(opts.MaxConcurrent),
		lanes:          newLanes(),
		cacheTTL:       opts.CacheTTL,
		texts:          opts.Texts.WithDefaults(),
		metrics:        opts.Metrics,
		tracer:         opts.Tracer,
		logger:         opts.Logger,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// StartTurn loads the conversation and its configuration and starts the chain.
// Lookup failures are returned as types.ErrNotFound or types.ErrForbidden before
// any stream exists. The returned stream is live immediately.
func (e *Engine) StartTurn(ctx context.Context, req TurnRequest) (*Stream, error) {
	conversation, err := e.conversations.Get(ctx, req.ConversationID, req.User)
	if err != nil {
		return nil, fmt.Errorf("load conversation %d: %w", req.ConversationID, err)
	}
	configuration, err := e.configurations.Get(ctx, conversation.ConfigurationID)
	if err != nil {
		return nil, fmt.Errorf("load configuration %d: %w", conversation.ConfigurationID, err)
	}

	e.mu.Lock()
	base := e.ctx
	e.mu.Unlock()
	if base.Err() != nil {
		return nil, fmt.Errorf("engine stopped: %w", base.Err())
	}

	turnCtx, cancel := context.WithCancel(base)
	stream := NewStream(cancel)

	turn := NewTurn(stream, e.cacheTTL)
	turn.Conversation = conversation
	turn.Configuration = configuration
	turn.User = req.User
	turn.Input = req.Input
	turn.Files = req.Files
	turn.EditMessageID = req.EditMessageID
	turn.Observe(func(ev Event) { e.metrics.Event(string(ev.Type())) })

	lane := e.lanes.join(conversation.ID)
	e.wg.Add(1)
	go e.run(turnCtx, cancel, turn, lane)
	return stream, nil
}

func (e *Engine) run(ctx context.Context, cancel context.CancelFunc, turn *Turn, lane *slot) {
	defer e.wg.Done()
	defer lane.leave()
	defer cancel()

	logger := e.logger.With("turn", turn.ID, "conversation", turn.Conversation.ID)
	if err := lane.wait(ctx); err != nil {
		logger.Debug("turn abandoned while queued", "error", err)
		turn.stream.Fail(fmt.Errorf("wait for previous turn: %w", err))
		return
	}
	if err := e.slots.Acquire(ctx, 1); err != nil {
		logger.Debug("turn abandoned before start", "error", err)
		turn.stream.Fail(fmt.Errorf("acquire turn slot: %w", err))
		return
	}
	defer e.slots.Release(1)

	ctx, span := e.tracer.Start(ctx, "chat.turn", observability.Attrs(
		"conversation", strconv.FormatInt(turn.Conversation.ID, 10),
		"configuration", strconv.FormatInt(turn.Configuration.ID, 10),
	))
	defer span.End()

	start := time.Now()
	turn.setStatus(StatusRunning)
	e.metrics.TurnStarted()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("turn failed", "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			turn.Emit(ErrorEvent{Message: e.texts.Internal})
		}
		if !turn.stream.Terminated() {
			turn.Emit(Completed{Metadata: Metadata{TokenCount: turn.TokenCount()}})
		}
		status := turn.finish(ctx, err)
		e.metrics.TurnFinished(string(status), time.Since(start))
		if n := turn.Cache.Clean(); n > 0 {
			logger.Debug("turn cache cleaned", "entries", n)
		}
		logger.Info("turn finished", "status", status, "tokens", turn.TokenCount(), "duration", time.Since(start))
	}()

	var chain Next
	chain, err = e.buildChain(ctx, turn)
	if err != nil {
		return
	}
	err = chain(ctx, turn)
}

// buildChain gathers static and extension interceptors and composes them.
func (e *Engine) buildChain(ctx context.Context, turn *Turn) (Next, error) {
	interceptors := append([]Interceptor(nil), e.interceptors...)
	if e.extensions == nil {
		return Compose(interceptors), nil
	}

	enabled, err := e.extensions.Enabled(ctx, turn.Configuration)
	if err != nil {
		return nil, fmt.Errorf("resolve extensions: %w", err)
	}
	userValues, err := e.configurations.UserValues(ctx, turn.Configuration.ID, turn.User.ID)
	if err != nil {
		return nil, fmt.Errorf("load user values: %w", err)
	}

	for _, ext := range enabled {
		configured := maps.Clone(ext.Values)
		if configured == nil {
			configured = make(map[string]any)
		}
		maps.Copy(configured, userValues[ext.ID])

		contributed, err := ext.Extension.Interceptors(ctx, turn.User, turn.Conversation.ExtensionValues[ext.ID], configured)
		if err != nil {
			return nil, fmt.Errorf("extension %s: %w", ext.ID, err)
		}
		interceptors = append(interceptors, contributed...)
	}
	return Compose(interceptors), nil
}

// Stop cancels running turns and waits until every chain has finished.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.cancel()
	e.mu.Unlock()
	e.wg.Wait()
}

// Wait blocks until every started turn has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}
