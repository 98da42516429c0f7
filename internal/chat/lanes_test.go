package chat

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/user/parley/internal/types"
)

type laneLog struct {
	mu     sync.Mutex
	events []string
}

func (r *laneLog) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *laneLog) index(s string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Index(r.events, s)
}

func gatedEngine(t *testing.T, rec *laneLog, release <-chan struct{}) *Engine {
	t.Helper()
	gate := NewInterceptor("gate", 0, func(ctx context.Context, turn *Turn, next Next) error {
		rec.add("start:" + turn.Input)
		if turn.Input == "first" {
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		rec.add("end:" + turn.Input)
		return next(ctx, turn)
	})
	return newTestEngine(t, Options{
		Interceptors: []Interceptor{gate},
		Conversations: stubConversations{items: map[int64]*types.Conversation{
			1: {ID: 1, UserID: owner.ID, ConfigurationID: 1},
			3: {ID: 3, UserID: owner.ID, ConfigurationID: 1},
		}},
	})
}

func startLaneTurn(t *testing.T, e *Engine, conversation int64, input string) *Stream {
	t.Helper()
	s, err := e.StartTurn(context.Background(), TurnRequest{ConversationID: conversation, User: owner, Input: input})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestTurnsOfOneConversationRunInOrder(t *testing.T) {
	rec := &laneLog{}
	release := make(chan struct{})
	e := gatedEngine(t, rec, release)

	first := startLaneTurn(t, e, 1, "first")
	second := startLaneTurn(t, e, 1, "second")
	other := startLaneTurn(t, e, 3, "other")

	// Another conversation is not held up by the blocked turn.
	drain(t, other)
	if rec.index("start:second") != -1 {
		t.Fatal("second turn started before the first finished")
	}

	close(release)
	drain(t, first)
	drain(t, second)

	if rec.index("end:first") > rec.index("start:second") {
		t.Errorf("turns overlapped: %v", rec.events)
	}
	e.Wait()
	if n := e.lanes.len(); n != 0 {
		t.Errorf("expected lanes to be released, %d left", n)
	}
}

func TestCancelWhileQueued(t *testing.T) {
	rec := &laneLog{}
	release := make(chan struct{})
	e := gatedEngine(t, rec, release)

	first := startLaneTurn(t, e, 1, "first")
	queued := startLaneTurn(t, e, 1, "queued")
	third := startLaneTurn(t, e, 1, "third")

	queued.Cancel()
	if events := drain(t, queued); len(events) != 0 {
		t.Errorf("expected no events from an abandoned turn, got %v", events)
	}
	if queued.Err() == nil {
		t.Error("expected the abandoned turn to fail its stream")
	}

	time.Sleep(20 * time.Millisecond)
	if rec.index("start:third") != -1 {
		t.Fatal("third turn overtook the running first turn")
	}

	close(release)
	drain(t, first)
	drain(t, third)
	if rec.index("start:queued") != -1 {
		t.Error("cancelled turn must not run")
	}
	if rec.index("end:first") > rec.index("start:third") {
		t.Errorf("turns overlapped: %v", rec.events)
	}
}
