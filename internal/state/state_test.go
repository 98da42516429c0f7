package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/user/parley/internal/types"
)

var alice = &types.User{ID: "alice"}

func TestConversationStore(t *testing.T) {
	dir := t.TempDir()
	store := NewConversationStore(dir)
	ctx := context.Background()

	// Test resolve or create
	key := types.NewConversationKey("telegram", "123")
	c, err := store.ResolveOrCreate(ctx, key, alice, 7)
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != 1 || c.ConfigurationID != 7 || c.UserID != "alice" {
		t.Errorf("unexpected conversation %+v", c)
	}

	// Test idempotency
	again, err := store.ResolveOrCreate(ctx, key, alice, 7)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != c.ID {
		t.Error("expected same conversation for same key")
	}

	// Test get and ownership
	got, err := NewConversationStore(dir).Get(ctx, c.ID, alice)
	if err != nil {
		t.Fatal(err)
	}
	if got.Key != key {
		t.Errorf("expected key %s, got %s", key, got.Key)
	}
	if _, err := store.Get(ctx, c.ID, &types.User{ID: "mallory"}); !errors.Is(err, types.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
	if _, err := store.Get(ctx, 99, alice); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestConversationUpdateAndList(t *testing.T) {
	store := NewConversationStore(t.TempDir())
	ctx := context.Background()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { clock = clock.Add(time.Minute); return clock }

	first := &types.Conversation{UserID: "alice", ConfigurationID: 1}
	second := &types.Conversation{UserID: "alice", ConfigurationID: 1}
	other := &types.Conversation{UserID: "bob", ConfigurationID: 1}
	for _, c := range []*types.Conversation{first, second, other} {
		if err := store.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	name, manual := "Trip planning", true
	if err := store.Update(ctx, first.ID, alice, types.ConversationUpdate{Name: &name, NameSetManually: &manual}); err != nil {
		t.Fatal(err)
	}
	if err := store.Update(ctx, other.ID, alice, types.ConversationUpdate{Name: &name}); !errors.Is(err, types.ErrForbidden) {
		t.Errorf("expected forbidden update, got %v", err)
	}

	list, err := store.List(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[0].Name != name || !list[0].NameSetManually {
		t.Errorf("expected renamed conversation first, got %+v", list)
	}
}

func TestMessageStoreThread(t *testing.T) {
	store := NewMessageStore(t.TempDir())
	ctx := context.Background()

	if last, err := store.Last(ctx, 1); err != nil || last != nil {
		t.Fatalf("expected empty conversation, got %v %v", last, err)
	}

	save := func(parent int64, typ types.MessageType, content string) int64 {
		msg := &types.Message{ConversationID: 1, ParentID: parent, Type: typ, Content: content}
		if err := store.Save(ctx, msg); err != nil {
			t.Fatal(err)
		}
		return msg.ID
	}
	q1 := save(0, types.MessageHuman, "q1")
	a1 := save(q1, types.MessageAI, "a1")
	save(a1, types.MessageHuman, "q2")
	edited := save(a1, types.MessageHuman, "q2 edited")

	thread, err := store.Thread(ctx, 1, edited)
	if err != nil {
		t.Fatal(err)
	}
	var contents []string
	for _, m := range thread {
		contents = append(contents, m.Content)
	}
	if len(contents) != 3 || contents[0] != "q1" || contents[2] != "q2 edited" {
		t.Errorf("unexpected thread %v", contents)
	}

	last, err := store.Last(ctx, 1)
	if err != nil || last.ID != edited {
		t.Errorf("expected last message %d, got %v %v", edited, last, err)
	}
	if _, err := store.Get(ctx, 1, 42); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	all, _ := store.List(ctx, 1)
	if len(all) != 4 {
		t.Errorf("expected 4 messages, got %d", len(all))
	}
}

func TestMessageStoreConcurrentSaves(t *testing.T) {
	store := NewMessageStore(t.TempDir())
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Save(ctx, &types.Message{ConversationID: 3, Type: types.MessageHuman}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	all, err := store.List(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, m := range all {
		if m.ID != int64(i+1) {
			t.Fatalf("ids not sequential: %d at %d", m.ID, i)
		}
	}
}

func TestDirectory(t *testing.T) {
	d := NewDirectory(
		[]ConfigurationEntry{{
			Configuration: types.Configuration{ID: 1, Name: "assistant"},
			UserValues:    map[string]map[string]map[string]any{"alice": {"prompt": {"text": "hi"}}},
		}},
		[]types.User{{ID: "alice", Group: "staff"}},
		[]types.UserGroup{{ID: "staff", MonthlyTokens: 10}},
	)
	ctx := context.Background()

	c, err := d.Configurations().Get(ctx, 1)
	if err != nil || c.Name != "assistant" {
		t.Fatalf("unexpected configuration %v %v", c, err)
	}
	values, err := d.Configurations().UserValues(ctx, 1, "alice")
	if err != nil || values["prompt"]["text"] != "hi" {
		t.Errorf("unexpected user values %v %v", values, err)
	}
	if _, err := d.Configurations().Get(ctx, 2); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if u, err := d.Users().Get(ctx, "alice"); err != nil || u.Group != "staff" {
		t.Errorf("unexpected user %v %v", u, err)
	}
	if g, err := d.Groups().Get(ctx, "staff"); err != nil || g.MonthlyTokens != 10 {
		t.Errorf("unexpected group %v %v", g, err)
	}

	d.Replace(nil, nil, nil)
	if _, err := d.Users().Get(ctx, "alice"); !errors.Is(err, types.ErrNotFound) {
		t.Error("expected replaced directory to be empty")
	}
}
