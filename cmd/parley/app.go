package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"

	"github.com/user/parley/internal/callback"
	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/chat/interceptors"
	"github.com/user/parley/internal/config"
	"github.com/user/parley/internal/executor"
	"github.com/user/parley/internal/extensions"
	"github.com/user/parley/internal/observability"
	"github.com/user/parley/internal/prompt"
	"github.com/user/parley/internal/state"
	"github.com/user/parley/internal/storage/sqlite"
	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
	"github.com/user/parley/pkg/llm/openai"
)

// localUserID is usable from the CLI without a users section.
const localUserID = "local"

// app holds the wired service.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry      *prometheus.Registry
	metrics       *observability.Metrics
	tracer        trace.Tracer
	shutdownTrace func(context.Context) error

	conversations *state.ConversationStore
	messages      *state.MessageStore
	directory     *state.Directory
	usage         *sqlite.UsageStore
	callbacks     *callback.Service
	extensions    *extensions.Registry
	engine        *chat.Engine
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.Metrics.Enabled {
		a.metrics = observability.NewMetrics(a.registry)
	}

	tracer, shutdown, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    "parley",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return nil, err
	}
	a.tracer, a.shutdownTrace = tracer, shutdown

	a.conversations = state.NewConversationStore(cfg.DataDir)
	a.messages = state.NewMessageStore(cfg.DataDir)
	a.directory = state.NewDirectory(directoryEntries(cfg), cfg.Users, cfg.Groups)
	if a.usage, err = sqlite.Open(cfg.UsageDatabase()); err != nil {
		return nil, err
	}

	a.callbacks = callback.New(callback.Options{
		Timeout:       cfg.Callbacks.Timeout,
		SweepInterval: cfg.Callbacks.SweepInterval,
		Logger:        logger,
	})

	if a.extensions, err = newRegistry(cfg); err != nil {
		return nil, err
	}
	if err := cfg.ValidateExtensions(a.extensions); err != nil {
		return nil, fmt.Errorf("invalid extension values: %w", err)
	}

	tokenizer, err := prompt.NewTiktoken(cfg.Prompt.Tokenizer)
	if err != nil {
		logger.Warn("tiktoken unavailable, counting words", "model", cfg.Prompt.Tokenizer, "error", err)
		tokenizer = prompt.WordTokenizer{}
	}

	static := interceptors.Defaults(interceptors.Deps{
		Conversations:      a.conversations,
		Messages:           a.messages,
		Usage:              a.usage,
		Groups:             a.directory.Groups(),
		Callbacks:          a.callbacks,
		Executor:           executor.NewClient(nil, executor.DefaultRetryPolicy(), logger),
		Prompts:            prompt.New(tokenizer, cfg.Prompt.ContextLimit, cfg.Prompt.OutputReserve),
		Texts:              cfg.Texts,
		Metrics:            a.metrics,
		Tracer:             tracer,
		Logger:             logger,
		MaxToolRounds:      cfg.Execution.MaxToolRounds,
		SummaryTimeout:     cfg.Summary.Timeout,
		LogRetrievalChunks: cfg.Execution.LogRetrievalChunks,
	})

	a.engine = chat.NewEngine(chat.Options{
		Conversations:  a.conversations,
		Configurations: a.directory.Configurations(),
		Extensions:     a.extensions,
		Interceptors:   static,
		MaxConcurrent:  int64(cfg.Execution.MaxConcurrent),
		CacheTTL:       cfg.Cache.TTL,
		Texts:          cfg.Texts,
		Metrics:        a.metrics,
		Tracer:         tracer,
		Logger:         logger,
	})
	return a, nil
}

// newRegistry registers the built-in extension types. Providers without their
// own credentials use the global openai section.
func newRegistry(cfg *config.Config) (*extensions.Registry, error) {
	return extensions.NewRegistry(extensions.Builtins(extensions.BuiltinOptions{
		Texts: cfg.Texts,
		ProviderFactory: func(c *llm.Config) llm.Provider {
			if c.APIKey == "" {
				c.APIKey = cfg.OpenAI.APIKey
			}
			if c.BaseURL == "" {
				c.BaseURL = cfg.OpenAI.BaseURL
			}
			return openai.New(c)
		},
	})...)
}

// user resolves id, falling back to an admin user for localUserID.
func (a *app) user(ctx context.Context, id string) (*types.User, error) {
	u, err := a.directory.Users().Get(ctx, id)
	if errors.Is(err, types.ErrNotFound) && id == localUserID {
		return &types.User{ID: localUserID, Name: "Local user", Group: types.GroupAdmin}, nil
	}
	return u, err
}

// defaultConfiguration is the first configured id, or 0 without any.
func (a *app) defaultConfiguration() int64 {
	if len(a.cfg.Configurations) == 0 {
		return 0
	}
	return a.cfg.Configurations[0].ID
}

// close stops the engine and releases resources in reverse order.
func (a *app) close(ctx context.Context) {
	a.engine.Stop()
	a.callbacks.Stop()
	if err := a.usage.Close(); err != nil {
		a.logger.Warn("close usage db failed", "error", err)
	}
	if err := a.shutdownTrace(ctx); err != nil {
		a.logger.Warn("shutdown tracing failed", "error", err)
	}
}

func directoryEntries(cfg *config.Config) []state.ConfigurationEntry {
	entries := make([]state.ConfigurationEntry, 0, len(cfg.Configurations))
	for _, c := range cfg.Configurations {
		entries = append(entries, state.ConfigurationEntry{Configuration: c.Configuration, UserValues: c.UserValues})
	}
	return entries
}
