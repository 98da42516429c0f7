package interceptors

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/user/parley/internal/callback"
	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/prompt"
	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
)

type memConversations struct {
	mu    sync.Mutex
	items map[int64]*types.Conversation
}

func (m *memConversations) Get(ctx context.Context, id int64, user *types.User) (*types.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if c.UserID != user.ID {
		return nil, types.ErrForbidden
	}
	cp := *c
	return &cp, nil
}

func (m *memConversations) Create(ctx context.Context, c *types.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = int64(len(m.items) + 1)
	cp := *c
	m.items[c.ID] = &cp
	return nil
}

func (m *memConversations) ResolveOrCreate(ctx context.Context, key types.ConversationKey, user *types.User, configurationID int64) (*types.Conversation, error) {
	c := &types.Conversation{Key: key, UserID: user.ID, ConfigurationID: configurationID}
	return c, m.Create(ctx, c)
}

func (m *memConversations) List(ctx context.Context, userID string) ([]*types.Conversation, error) {
	return nil, nil
}

func (m *memConversations) Update(ctx context.Context, id int64, user *types.User, update types.ConversationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return types.ErrNotFound
	}
	if update.Name != nil {
		c.Name = *update.Name
	}
	if update.NameSetManually != nil {
		c.NameSetManually = *update.NameSetManually
	}
	if update.LLM != nil {
		c.LLM = *update.LLM
	}
	return nil
}

func (m *memConversations) get(id int64) types.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.items[id]
}

type memConfigurations struct {
	items map[int64]*types.Configuration
}

func (m *memConfigurations) Get(ctx context.Context, id int64) (*types.Configuration, error) {
	c, ok := m.items[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return c, nil
}

func (m *memConfigurations) UserValues(ctx context.Context, configurationID int64, userID string) (map[string]map[string]any, error) {
	return nil, nil
}

type memMessages struct {
	mu    sync.Mutex
	items []*types.Message
}

func (m *memMessages) Save(ctx context.Context, msg *types.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = int64(len(m.items) + 1)
	cp := *msg
	m.items = append(m.items, &cp)
	return nil
}

func (m *memMessages) Get(ctx context.Context, conversationID, id int64) (*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.items {
		if msg.ID == id && msg.ConversationID == conversationID {
			return msg, nil
		}
	}
	return nil, types.ErrNotFound
}

func (m *memMessages) Last(ctx context.Context, conversationID int64) (*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.items) - 1; i >= 0; i-- {
		if m.items[i].ConversationID == conversationID {
			return m.items[i], nil
		}
	}
	return nil, nil
}

func (m *memMessages) Thread(ctx context.Context, conversationID, leafID int64) ([]*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Message
	for id := leafID; id > 0; {
		msg := m.items[id-1]
		out = append([]*types.Message{msg}, out...)
		id = msg.ParentID
	}
	return out, nil
}

func (m *memMessages) all() []*types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*types.Message(nil), m.items...)
}

type memUsage struct {
	mu     sync.Mutex
	events []*types.UsageEvent
}

func (m *memUsage) Track(ctx context.Context, event *types.UsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memUsage) Sum(ctx context.Context, f types.UsageFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, e := range m.events {
		if f.Counter != "" && e.Counter != f.Counter ||
			f.UserGroup != "" && e.UserGroup != f.UserGroup ||
			f.UserID != "" && e.UserID != f.UserID ||
			!f.From.IsZero() && e.Date.Before(f.From) ||
			!f.To.IsZero() && !e.Date.Before(f.To) {
			continue
		}
		total += e.Count
	}
	return total, nil
}

func (m *memUsage) Totals(ctx context.Context, f types.UsageFilter) ([]types.UsageTotal, error) {
	return nil, nil
}

type memGroups map[string]*types.UserGroup

func (m memGroups) Get(ctx context.Context, id string) (*types.UserGroup, error) {
	g, ok := m[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return g, nil
}

var (
	testNow  = time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC)
	testUser = &types.User{ID: "u1", Name: "Ada", Group: "staff"}
)

type fixture struct {
	conversations  *memConversations
	configurations *memConfigurations
	messages       *memMessages
	usage          *memUsage
	groups         memGroups
	callbacks      *callback.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		conversations: &memConversations{items: map[int64]*types.Conversation{
			1: {ID: 1, UserID: testUser.ID, ConfigurationID: 1},
		}},
		configurations: &memConfigurations{items: map[int64]*types.Configuration{
			1: {ID: 1, Name: "assistant"},
		}},
		messages:  &memMessages{},
		usage:     &memUsage{},
		groups:    memGroups{"staff": {ID: "staff"}},
		callbacks: callback.New(callback.Options{}),
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Conversations: f.conversations,
		Messages:      f.messages,
		Usage:         f.usage,
		Groups:        f.groups,
		Callbacks:     f.callbacks,
		Prompts:       prompt.New(prompt.WordTokenizer{}, 0, 0),
		Now:           func() time.Time { return testNow },
	}
}

// engine builds an engine running the default pipeline plus extra.
func (f *fixture) engine(t *testing.T, extra ...chat.Interceptor) *chat.Engine {
	t.Helper()
	e := chat.NewEngine(chat.Options{
		Conversations:  f.conversations,
		Configurations: f.configurations,
		Interceptors:   append(Defaults(f.deps()), extra...),
	})
	t.Cleanup(e.Stop)
	return e
}

// withModel registers provider as the only model of every turn.
func withModel(provider llm.Provider) chat.Interceptor {
	return chat.NewInterceptor("models", -50, func(ctx context.Context, turn *chat.Turn, next chat.Next) error {
		turn.Models.Add(llm.Model{Name: "test@scripted", Model: "test-model", Provider: provider})
		return next(ctx, turn)
	})
}

func run(t *testing.T, e *chat.Engine, input string) []chat.Event {
	t.Helper()
	stream, err := e.StartTurn(context.Background(), chat.TurnRequest{ConversationID: 1, User: testUser, Input: input})
	if err != nil {
		t.Fatalf("start turn: %v", err)
	}
	return collect(t, stream)
}

func collect(t *testing.T, stream *chat.Stream) []chat.Event {
	t.Helper()
	var events []chat.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("stream did not finish, got %v", eventTypes(events))
		}
	}
}

func eventTypes(events []chat.Event) []chat.EventType {
	out := make([]chat.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type()
	}
	return out
}

func ofType[E chat.Event](events []chat.Event) []E {
	var out []E
	for _, ev := range events {
		if e, ok := ev.(E); ok {
			out = append(out, e)
		}
	}
	return out
}
