package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/parley/internal/callback"
	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/state"
	"github.com/user/parley/internal/types"
)

type mockEngine struct {
	last    chat.TurnRequest
	err     error
	events  []chat.Event
	fail    error
	hold    bool
	cancels atomic.Int32
}

func (m *mockEngine) StartTurn(_ context.Context, req chat.TurnRequest) (*chat.Stream, error) {
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	stream := chat.NewStream(func() { m.cancels.Add(1) })
	for _, ev := range m.events {
		stream.Publish(ev)
	}
	switch {
	case m.fail != nil:
		stream.Fail(m.fail)
	case !m.hold:
		stream.Publish(chat.Completed{Metadata: chat.Metadata{TokenCount: 3}})
	}
	return stream, nil
}

type users map[string]types.User

func (u users) Get(_ context.Context, id string) (*types.User, error) {
	user, ok := u[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &user, nil
}

type fixture struct {
	srv           *Server
	engine        *mockEngine
	conversations *state.ConversationStore
	messages      *state.MessageStore
	callbacks     *callback.Service
}

func setupServer(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		engine:        &mockEngine{},
		conversations: state.NewConversationStore(dir),
		messages:      state.NewMessageStore(dir),
		callbacks:     callback.New(callback.Options{}),
	}
	f.srv = NewServer(Options{
		Engine:               f.engine,
		Conversations:        f.conversations,
		Messages:             f.messages,
		Users:                users{"alice": {ID: "alice"}, "bob": {ID: "bob"}},
		Callbacks:            f.callbacks,
		Metrics:              http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "parley_turns_total 0") }),
		DefaultConfiguration: 1,
	})
	return f
}

func (f *fixture) do(method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)
	return w
}

func (f *fixture) conversation(t *testing.T, user string) int64 {
	t.Helper()
	c := &types.Conversation{UserID: user, ConfigurationID: 1}
	if err := f.conversations.Create(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c.ID
}

type frame struct {
	id    string
	event string
	data  string
}

func parseFrames(t *testing.T, body string) []frame {
	t.Helper()
	var frames []frame
	var cur frame
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			frames = append(frames, cur)
			cur = frame{}
		case strings.HasPrefix(line, "id: "):
			cur.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return frames
}

func TestHealthAndMetrics(t *testing.T) {
	f := setupServer(t)

	w := f.do(http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response %d %s", w.Code, w.Body)
	}
	w = f.do(http.MethodGet, "/metrics", "", "")
	if !strings.Contains(w.Body.String(), "parley_turns_total") {
		t.Errorf("expected metrics body, got %s", w.Body)
	}
}

func TestRequiresUser(t *testing.T) {
	f := setupServer(t)

	if w := f.do(http.MethodGet, "/api/conversations", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without user, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/api/conversations", "mallory", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown user, got %d", w.Code)
	}
}

func TestConversationCRUD(t *testing.T) {
	f := setupServer(t)

	w := f.do(http.MethodPost, "/api/conversations", "alice", `{"name":"Planning","context":{"filter":"docs"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body)
	}
	var created types.Conversation
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.ConfigurationID != 1 || !created.NameSetManually || created.Context["filter"] != "docs" {
		t.Errorf("unexpected conversation %+v", created)
	}

	w = f.do(http.MethodGet, "/api/conversations", "alice", "")
	var list []types.Conversation
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "Planning" {
		t.Errorf("unexpected list %+v", list)
	}

	if err := f.messages.Save(context.Background(), &types.Message{ConversationID: created.ID, Type: types.MessageHuman, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	path := fmt.Sprintf("/api/conversations/%d/messages", created.ID)
	w = f.do(http.MethodGet, path, "alice", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"hi"`) {
		t.Errorf("unexpected messages %d %s", w.Code, w.Body)
	}
	if w := f.do(http.MethodGet, path, "bob", ""); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for another user, got %d", w.Code)
	}
}

func TestSendStreamsFrames(t *testing.T) {
	f := setupServer(t)
	id := f.conversation(t, "alice")
	f.engine.events = []chat.Event{
		chat.Saved{MessageID: 1, MessageType: types.MessageHuman},
		chat.Chunk{Content: []chat.ContentPart{chat.TextPart("Hel")}},
		chat.Chunk{Content: []chat.ContentPart{chat.TextPart("lo")}},
	}

	w := f.do(http.MethodPost, fmt.Sprintf("/api/conversations/%d/messages/sse", id), "alice", `{"input":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event stream, got %q", ct)
	}
	if w.Header().Get("X-Accel-Buffering") != "no" {
		t.Error("expected buffering disabled")
	}

	frames := parseFrames(t, w.Body.String())
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d: %q", len(frames), w.Body)
	}
	for i, fr := range frames {
		if fr.id != fmt.Sprint(i+1) {
			t.Errorf("frame %d has id %s", i, fr.id)
		}
	}
	if frames[1].event != "chunk" || !strings.Contains(frames[1].data, `"Hel"`) {
		t.Errorf("unexpected chunk frame %+v", frames[1])
	}
	if frames[3].event != "completed" || frames[3].data != `{"metadata":{"tokenCount":3}}` {
		t.Errorf("unexpected completed frame %+v", frames[3])
	}
	if f.engine.last.Input != "hi" || f.engine.last.ConversationID != id || f.engine.last.User.ID != "alice" {
		t.Errorf("unexpected turn request %+v", f.engine.last)
	}
}

func TestEditPassesMessageID(t *testing.T) {
	f := setupServer(t)

	w := f.do(http.MethodPut, "/api/conversations/4/messages/9/sse", "alice", `{"input":"again"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if f.engine.last.EditMessageID != 9 || f.engine.last.ConversationID != 4 {
		t.Errorf("unexpected turn request %+v", f.engine.last)
	}
}

func TestSendErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		err  error
		want int
	}{
		{"bad id", "/api/conversations/abc/messages/sse", `{"input":"x"}`, nil, http.StatusBadRequest},
		{"bad json", "/api/conversations/1/messages/sse", `{`, nil, http.StatusBadRequest},
		{"empty input", "/api/conversations/1/messages/sse", `{"input":""}`, nil, http.StatusBadRequest},
		{"not found", "/api/conversations/1/messages/sse", `{"input":"x"}`, fmt.Errorf("load: %w", types.ErrNotFound), http.StatusNotFound},
		{"forbidden", "/api/conversations/1/messages/sse", `{"input":"x"}`, fmt.Errorf("load: %w", types.ErrForbidden), http.StatusForbidden},
		{"internal", "/api/conversations/1/messages/sse", `{"input":"x"}`, errors.New("disk"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupServer(t)
			f.engine.err = tt.err
			w := f.do(http.MethodPost, tt.path, "alice", tt.body)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body)
			}
		})
	}
}

func TestStreamFailureBecomesErrorFrame(t *testing.T) {
	f := setupServer(t)
	f.engine.fail = errors.New("slot acquisition failed")

	w := f.do(http.MethodPost, "/api/conversations/1/messages/sse", "alice", `{"input":"x"}`)
	frames := parseFrames(t, w.Body.String())
	if len(frames) != 1 || frames[0].event != "error" {
		t.Fatalf("expected a single error frame, got %q", w.Body)
	}
	if strings.Contains(frames[0].data, "slot") {
		t.Error("internal error details must not reach the client")
	}
}

func TestDisconnectClosesStream(t *testing.T) {
	f := setupServer(t)
	f.engine.hold = true

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/conversations/1/messages/sse", strings.NewReader(`{"input":"x"}`)).WithContext(ctx)
	req.Header.Set(UserHeader, "alice")

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.srv.ServeHTTP(httptest.NewRecorder(), req)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after disconnect")
	}
	if got := f.engine.cancels.Load(); got != 1 {
		t.Errorf("expected turn cancelled once, got %d", got)
	}
}

func TestConfirm(t *testing.T) {
	f := setupServer(t)
	req := f.callbacks.Request(callback.KindBoolean)

	// Wrong kind leaves the request pending.
	if w := f.do(http.MethodDelete, "/api/conversations/confirm/"+string(req.ID), "", `{"result":"yes"}`); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for mismatched kind, got %d", w.Code)
	}
	if w := f.do(http.MethodDelete, "/api/conversations/confirm/"+string(req.ID), "", `{"result":true}`); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	res, err := req.Wait(context.Background())
	if err != nil || !res.Bool() {
		t.Errorf("expected true result, got %+v %v", res, err)
	}
	if w := f.do(http.MethodDelete, "/api/conversations/confirm/"+string(req.ID), "", `{"result":true}`); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 once resolved, got %d", w.Code)
	}
	if w := f.do(http.MethodDelete, "/api/conversations/confirm/x", "", `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad body, got %d", w.Code)
	}
}
