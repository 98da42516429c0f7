// Package callback correlates UI round trips with the turns waiting on them.
package callback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/parley/internal/types"
)

// Kind is the type of answer a request expects.
type Kind string

const (
	KindBoolean Kind = "boolean"
	KindString  Kind = "string"
)

const (
	DefaultTimeout       = 5 * time.Minute
	DefaultSweepInterval = time.Second
)

// Result is the resolved answer of a request. Expired results carry the
// default of the request kind: false for boolean, "" for string.
type Result struct {
	Value   any
	Expired bool
}

// Bool returns the value of a boolean result.
func (r Result) Bool() bool {
	b, _ := r.Value.(bool)
	return b
}

// Text returns the value of a string result.
func (r Result) Text() string {
	s, _ := r.Value.(string)
	return s
}

func defaultValue(kind Kind) any {
	if kind == KindBoolean {
		return false
	}
	return ""
}

func matches(kind Kind, value any) bool {
	switch kind {
	case KindBoolean:
		_, ok := value.(bool)
		return ok
	case KindString:
		_, ok := value.(string)
		return ok
	}
	return false
}

// Request is a pending UI round trip. It resolves exactly once.
type Request struct {
	ID      types.CallbackID
	Kind    Kind
	Created time.Time

	once   sync.Once
	done   chan struct{}
	result Result
}

func (r *Request) resolve(res Result) bool {
	resolved := false
	r.once.Do(func() {
		r.result = res
		close(r.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the request is resolved.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the request resolves or ctx ends.
func (r *Request) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Options configures a Service.
type Options struct {
	Timeout       time.Duration
	SweepInterval time.Duration
	Logger        *slog.Logger
}

// Service is the process-wide registry of pending requests. The registry lock
// only guards map access; resolution happens outside it through each request's
// own once, so unrelated ids never wait on each other.
type Service struct {
	timeout  time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending map[types.CallbackID]*Request

	cron *cron.Cron
}

// New creates a Service. Call Start to run the timeout sweep.
func New(opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SweepInterval < time.Second {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		timeout:  opts.Timeout,
		interval: opts.SweepInterval,
		logger:   opts.Logger,
		now:      time.Now,
		pending:  make(map[types.CallbackID]*Request),
	}
}

// Request registers a pending request of the given kind.
func (s *Service) Request(kind Kind) *Request {
	req := &Request{
		ID:      types.NewCallbackID(),
		Kind:    kind,
		Created: s.now(),
		done:    make(chan struct{}),
	}
	s.mu.Lock()
	s.pending[req.ID] = req
	s.mu.Unlock()
	return req
}

// Complete resolves the request id with value. It reports false, leaving the
// registry untouched, when the id is unknown or value does not match the kind.
func (s *Service) Complete(id types.CallbackID, value any) bool {
	s.mu.Lock()
	req, ok := s.pending[id]
	if !ok || !matches(req.Kind, value) {
		s.mu.Unlock()
		return false
	}
	delete(s.pending, id)
	s.mu.Unlock()

	return req.resolve(Result{Value: value})
}

// Forget drops a request whose waiter gave up, resolving it with the default.
func (s *Service) Forget(id types.CallbackID) {
	s.mu.Lock()
	req, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if ok {
		req.resolve(Result{Value: defaultValue(req.Kind), Expired: true})
	}
}

// Sweep resolves requests older than the timeout with their default value and
// removes them. It returns the number of expired requests.
func (s *Service) Sweep() int {
	cutoff := s.now().Add(-s.timeout)

	s.mu.Lock()
	var expired []*Request
	for id, req := range s.pending {
		if !req.Created.After(cutoff) {
			expired = append(expired, req)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()

	for _, req := range expired {
		req.resolve(Result{Value: defaultValue(req.Kind), Expired: true})
		s.logger.Debug("callback expired", "id", req.ID, "kind", req.Kind)
	}
	return len(expired)
}

// Pending returns the number of unresolved requests.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Start runs Sweep on the configured interval until Stop.
func (s *Service) Start() error {
	if s.cron != nil {
		return fmt.Errorf("callback sweep already started")
	}
	c := cron.New()
	if _, err := c.AddFunc("@every "+s.interval.String(), func() { s.Sweep() }); err != nil {
		return fmt.Errorf("schedule callback sweep: %w", err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the sweep and waits for a running sweep to finish.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}
