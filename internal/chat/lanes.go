package chat

import (
	"context"
	"sync"
)

// lanes runs the turns of one conversation one after another, in the order
// they were started. Turns of different conversations do not wait on each
// other.
type lanes struct {
	mu    sync.Mutex
	tails map[int64]chan struct{}
}

func newLanes() *lanes {
	return &lanes{tails: make(map[int64]chan struct{})}
}

// slot is a turn's place in its conversation's lane.
type slot struct {
	l    *lanes
	id   int64
	prev chan struct{}
	done chan struct{}
}

// join appends a turn to the lane of conversationID.
func (l *lanes) join(conversationID int64) *slot {
	s := &slot{l: l, id: conversationID, done: make(chan struct{})}
	l.mu.Lock()
	s.prev = l.tails[conversationID]
	l.tails[conversationID] = s.done
	l.mu.Unlock()
	return s
}

// wait blocks until every earlier turn of the conversation has left.
func (s *slot) wait(ctx context.Context) error {
	if s.prev == nil {
		return nil
	}
	select {
	case <-s.prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// leave hands the lane to the next turn. A turn that gave up waiting still
// holds its place until its predecessor is gone, so later turns never overlap
// an earlier one.
func (s *slot) leave() {
	if s.prev != nil {
		<-s.prev
	}
	close(s.done)
	s.l.mu.Lock()
	if s.l.tails[s.id] == s.done {
		delete(s.l.tails, s.id)
	}
	s.l.mu.Unlock()
}

// len reports the number of conversations with a queued or running turn.
func (l *lanes) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tails)
}
