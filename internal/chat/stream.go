package chat

import (
	"sync"
)

// Stream carries the events of one turn from the running chain to a single
// consumer. Publishing never blocks: events queue until the consumer reads
// them. The stream ends after exactly one terminal, either a Completed event or
// a failure reported by Err.
type Stream struct {
	mu       sync.Mutex
	queue    []Event
	terminal bool
	err      error

	wake chan struct{}
	out  chan Event

	cancel     func()
	cancelOnce sync.Once
	discard    chan struct{}
	closeOnce  sync.Once
}

// NewStream creates a stream whose Cancel calls cancel once.
func NewStream(cancel func()) *Stream {
	if cancel == nil {
		cancel = func() {}
	}
	s := &Stream{
		wake:    make(chan struct{}, 1),
		out:     make(chan Event),
		cancel:  cancel,
		discard: make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *Stream) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.terminal {
			s.mu.Unlock()
			select {
			case <-s.wake:
			case <-s.discard:
				return
			}
			s.mu.Lock()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.discard:
			return
		}
	}
}

func (s *Stream) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Events returns the channel the consumer reads. It is closed after the terminal.
func (s *Stream) Events() <-chan Event {
	return s.out
}

// Publish queues ev. A Completed event is terminal. Publishing after the terminal
// is a no-op and reports false.
func (s *Stream) Publish(ev Event) bool {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, ev)
	if ev.Type() == EventCompleted {
		s.terminal = true
	}
	s.mu.Unlock()
	s.signal()
	return true
}

// Fail ends the stream with err instead of a Completed event.
func (s *Stream) Fail(err error) bool {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return false
	}
	s.terminal = true
	s.err = err
	s.mu.Unlock()
	s.signal()
	return true
}

// Err returns the failure that ended the stream, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Terminated reports whether the terminal has been published.
func (s *Stream) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// Cancel asks the running turn to stop. Events, including the terminal,
// keep flowing until the turn unwinds.
func (s *Stream) Cancel() {
	s.cancelOnce.Do(s.cancel)
}

// Close cancels the turn and stops delivery. Use it when the consumer is gone.
func (s *Stream) Close() {
	s.Cancel()
	s.closeOnce.Do(func() { close(s.discard) })
}
