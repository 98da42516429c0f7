package chat

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/parley/internal/types"
)

type stubConversations struct {
	types.ConversationStore
	items map[int64]*types.Conversation
}

func (s stubConversations) Get(ctx context.Context, id int64, user *types.User) (*types.Conversation, error) {
	c, ok := s.items[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if c.UserID != user.ID {
		return nil, types.ErrForbidden
	}
	return c, nil
}

type stubConfigurations struct {
	items      map[int64]*types.Configuration
	userValues map[string]map[string]any
}

func (s stubConfigurations) Get(ctx context.Context, id int64) (*types.Configuration, error) {
	c, ok := s.items[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return c, nil
}

func (s stubConfigurations) UserValues(ctx context.Context, configurationID int64, userID string) (map[string]map[string]any, error) {
	return s.userValues, nil
}

var owner = &types.User{ID: "owner"}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Conversations == nil {
		opts.Conversations = stubConversations{items: map[int64]*types.Conversation{
			1: {ID: 1, UserID: owner.ID, ConfigurationID: 1, ExtensionValues: map[string]map[string]any{"ext": {"mode": "user"}}},
			2: {ID: 2, UserID: owner.ID, ConfigurationID: 99},
		}}
	}
	if opts.Configurations == nil {
		opts.Configurations = stubConfigurations{items: map[int64]*types.Configuration{1: {ID: 1}}}
	}
	e := NewEngine(opts)
	t.Cleanup(e.Stop)
	return e
}

func TestStartTurnLookupErrors(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()

	if _, err := e.StartTurn(ctx, TurnRequest{ConversationID: 42, User: owner}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := e.StartTurn(ctx, TurnRequest{ConversationID: 1, User: &types.User{ID: "intruder"}}); !errors.Is(err, types.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
	if _, err := e.StartTurn(ctx, TurnRequest{ConversationID: 2, User: owner}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected missing configuration, got %v", err)
	}
}

func TestEngineConvertsChainErrors(t *testing.T) {
	failing := NewInterceptor("fail", 0, func(ctx context.Context, turn *Turn, next Next) error {
		return errors.New("database on fire")
	})
	e := newTestEngine(t, Options{Interceptors: []Interceptor{failing}})

	stream, err := e.StartTurn(context.Background(), TurnRequest{ConversationID: 1, User: owner})
	if err != nil {
		t.Fatal(err)
	}
	events := drain(t, stream)
	if len(events) != 2 {
		t.Fatalf("expected error and completed, got %v", events)
	}
	if msg := events[0].(ErrorEvent).Message; msg == "" || msg == "database on fire" {
		t.Errorf("internal detail leaked or missing: %q", msg)
	}
	if events[1].Type() != EventCompleted {
		t.Errorf("expected completed last, got %v", events[1])
	}
}

func TestEngineStatusTransitions(t *testing.T) {
	var captured atomic.Pointer[Turn]
	var during Status
	chunky := NewInterceptor("chunks", 0, func(ctx context.Context, turn *Turn, next Next) error {
		captured.Store(turn)
		turn.Emit(Chunk{Content: []ContentPart{TextPart("hi")}})
		during = turn.Status()
		return next(ctx, turn)
	})
	e := newTestEngine(t, Options{Interceptors: []Interceptor{chunky}})

	stream, err := e.StartTurn(context.Background(), TurnRequest{ConversationID: 1, User: owner})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, stream)
	e.Wait()

	turn := captured.Load()
	if during != StatusStreaming {
		t.Errorf("expected streaming after a chunk, got %s", during)
	}
	if turn.Status() != StatusCompleted || turn.Answer() != "hi" {
		t.Errorf("expected completed with answer, got %s %q", turn.Status(), turn.Answer())
	}
}

func TestCancelStopsTurnWithOneTerminal(t *testing.T) {
	var captured atomic.Pointer[Turn]
	var cancellations atomic.Int32
	started := make(chan struct{})
	blocking := NewInterceptor("block", 0, func(ctx context.Context, turn *Turn, next Next) error {
		captured.Store(turn)
		close(started)
		<-ctx.Done()
		cancellations.Add(1)
		return ctx.Err()
	})
	e := newTestEngine(t, Options{Interceptors: []Interceptor{blocking}})

	stream, err := e.StartTurn(context.Background(), TurnRequest{ConversationID: 1, User: owner})
	if err != nil {
		t.Fatal(err)
	}
	<-started
	stream.Cancel()
	stream.Cancel()

	events := drain(t, stream)
	e.Wait()

	if len(events) != 1 || events[0].Type() != EventCompleted {
		t.Fatalf("expected a single completed event, got %v", events)
	}
	if cancellations.Load() != 1 {
		t.Errorf("expected the chain to observe one cancellation, got %d", cancellations.Load())
	}
	if s := captured.Load().Status(); s != StatusCancelled {
		t.Errorf("expected cancelled, got %s", s)
	}
}

type fakeExtension struct {
	order int
	name  string
	trace *[]string
	seen  *[2]map[string]any
}

func (f fakeExtension) Interceptors(ctx context.Context, user *types.User, userArgs, configuredArgs map[string]any) ([]Interceptor, error) {
	f.seen[0], f.seen[1] = userArgs, configuredArgs
	return []Interceptor{NewInterceptor(f.name, f.order, func(ctx context.Context, turn *Turn, next Next) error {
		*f.trace = append(*f.trace, f.name)
		return next(ctx, turn)
	})}, nil
}

type fakeSource []EnabledExtension

func (f fakeSource) Enabled(ctx context.Context, configuration *types.Configuration) ([]EnabledExtension, error) {
	return f, nil
}

func TestExtensionsFollowStaticInterceptors(t *testing.T) {
	var trace []string
	var seen [2]map[string]any
	static := NewInterceptor("static", 10, func(ctx context.Context, turn *Turn, next Next) error {
		trace = append(trace, "static")
		return next(ctx, turn)
	})
	source := fakeSource{
		{ID: "ext", Values: map[string]any{"mode": "configured", "keep": 1}, Extension: fakeExtension{order: 10, name: "ext", trace: &trace, seen: &seen}},
		{ID: "early", Extension: fakeExtension{order: -5, name: "early", trace: &trace, seen: new([2]map[string]any)}},
	}
	e := newTestEngine(t, Options{
		Interceptors: []Interceptor{static},
		Extensions:   source,
		Configurations: stubConfigurations{
			items:      map[int64]*types.Configuration{1: {ID: 1}},
			userValues: map[string]map[string]any{"ext": {"mode": "personal"}},
		},
	})

	stream, err := e.StartTurn(context.Background(), TurnRequest{ConversationID: 1, User: owner})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, stream)
	e.Wait()

	if want := []string{"early", "static", "ext"}; !reflect.DeepEqual(trace, want) {
		t.Errorf("got %v, want %v", trace, want)
	}
	if seen[0]["mode"] != "user" {
		t.Errorf("expected conversation values as user args, got %v", seen[0])
	}
	if seen[1]["mode"] != "personal" || seen[1]["keep"] != 1 {
		t.Errorf("expected user values merged over configured values, got %v", seen[1])
	}
	if source[0].Values["mode"] != "configured" {
		t.Error("configured values were mutated")
	}
}

func TestTurnCacheUsesConfiguredTTL(t *testing.T) {
	var ttl time.Duration
	capture := NewInterceptor("cache", 0, func(ctx context.Context, turn *Turn, next Next) error {
		ttl = turn.Cache.TTL()
		return next(ctx, turn)
	})
	e := newTestEngine(t, Options{Interceptors: []Interceptor{capture}, CacheTTL: 3 * time.Minute})

	stream, err := e.StartTurn(context.Background(), TurnRequest{ConversationID: 1, User: owner})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, stream)
	e.Wait()

	if ttl != 3*time.Minute {
		t.Errorf("expected a 3m turn cache, got %v", ttl)
	}
}

func TestConcurrencyIsBounded(t *testing.T) {
	var running, peak atomic.Int32
	slow := NewInterceptor("slow", 0, func(ctx context.Context, turn *Turn, next Next) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return next(ctx, turn)
	})
	e := newTestEngine(t, Options{Interceptors: []Interceptor{slow}, MaxConcurrent: 2})

	var streams []*Stream
	for range 6 {
		s, err := e.StartTurn(context.Background(), TurnRequest{ConversationID: 1, User: owner})
		if err != nil {
			t.Fatal(err)
		}
		streams = append(streams, s)
	}
	for _, s := range streams {
		drain(t, s)
	}
	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent turns, got %d", peak.Load())
	}
}

func TestStoppedEngineRejectsTurns(t *testing.T) {
	e := newTestEngine(t, Options{})
	e.Stop()
	if _, err := e.StartTurn(context.Background(), TurnRequest{ConversationID: 1, User: owner}); err == nil {
		t.Error("expected stopped engine to refuse turns")
	}
}

type fixedPrompter struct{ answer string }

func (p fixedPrompter) Confirm(ctx context.Context, text string) (bool, error) {
	return true, nil
}

func (p fixedPrompter) Input(ctx context.Context, text string) (string, error) {
	return p.answer, nil
}

func TestTurnAsksThroughPrompterAndEmitsUIEvents(t *testing.T) {
	stream := NewStream(nil)
	turn := NewTurn(stream, 0)
	turn.UI = fixedPrompter{answer: "Oslo"}

	if ok, err := turn.UI.Confirm(context.Background(), "Proceed?"); err != nil || !ok {
		t.Fatalf("unexpected confirm %v %v", ok, err)
	}
	if got, err := turn.UI.Input(context.Background(), "City?"); err != nil || got != "Oslo" {
		t.Fatalf("unexpected input %q %v", got, err)
	}

	turn.Emit(UI{Request: UIRequest{Text: "City?"}})
	turn.Emit(Completed{})
	events := drain(t, stream)
	if len(events) != 2 || events[0].Type() != EventUI {
		t.Errorf("expected ui then completed, got %v", events)
	}
}
