package extensions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/texts"
	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
	"github.com/user/parley/pkg/llm/llmtest"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(Builtins(BuiltinOptions{
		ProviderFactory: func(config *llm.Config) llm.Provider { return llmtest.Text(config.Model) },
	})...)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// apply runs the interceptors of ext against a fresh turn.
func apply(t *testing.T, ext chat.Extension, values map[string]any, prepare func(*chat.Turn)) *chat.Turn {
	t.Helper()
	interceptors, err := ext.Interceptors(context.Background(), &types.User{ID: "u"}, nil, values)
	if err != nil {
		t.Fatal(err)
	}
	turn := chat.NewTurn(chat.NewStream(nil), 0)
	if prepare != nil {
		prepare(turn)
	}
	if err := chat.Compose(interceptors)(context.Background(), turn); err != nil {
		t.Fatal(err)
	}
	return turn
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	if _, err := NewRegistry(SystemPrompt{}, SystemPrompt{}); err == nil {
		t.Error("expected duplicate type error")
	}
}

func TestValidate(t *testing.T) {
	r := newRegistry(t)
	tests := []struct {
		typ     string
		values  map[string]any
		wantErr bool
	}{
		{typ: "openai", values: map[string]any{"model": "gpt-4o-mini"}},
		{typ: "openai", values: map[string]any{"api_key": "x"}, wantErr: true},
		{typ: "openai", values: map[string]any{"model": "m", "temperature": 5}, wantErr: true},
		{typ: "system-prompt", values: map[string]any{"text": "Be brief."}},
		{typ: "system-prompt", values: nil, wantErr: true},
		{typ: "summary", values: nil},
		{typ: "confirm-tools", values: map[string]any{"tools": []any{"read_url"}}},
		{typ: "confirm-tools", values: map[string]any{"tools": "read_url"}, wantErr: true},
		{typ: "nope", wantErr: true},
	}
	for _, tt := range tests {
		err := r.Validate(tt.typ, tt.values)
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(%s, %v) = %v, wantErr %v", tt.typ, tt.values, err, tt.wantErr)
		}
	}
}

func TestEnabledKeepsDeclarationOrder(t *testing.T) {
	r := newRegistry(t)
	configuration := &types.Configuration{Extensions: []types.ExtensionConfig{
		{ID: "prompt", Type: "system-prompt", Enabled: true, Values: map[string]any{"text": "a"}},
		{ID: "off", Type: "web-reader", Enabled: false},
		{ID: "model", Type: "openai", Enabled: true, Values: map[string]any{"model": "m"}},
	}}
	enabled, err := r.Enabled(context.Background(), configuration)
	if err != nil {
		t.Fatal(err)
	}
	if len(enabled) != 2 || enabled[0].ID != "prompt" || enabled[1].ID != "model" {
		t.Errorf("unexpected extensions %+v", enabled)
	}

	configuration.Extensions = append(configuration.Extensions, types.ExtensionConfig{ID: "x", Type: "missing", Enabled: true})
	if _, err := r.Enabled(context.Background(), configuration); err == nil {
		t.Error("expected unknown type error")
	}
}

func TestSpecsSorted(t *testing.T) {
	specs := newRegistry(t).Specs()
	for i := 1; i < len(specs); i++ {
		if specs[i-1].Type > specs[i].Type {
			t.Fatalf("specs not sorted: %v", specs)
		}
	}
}

func TestOpenAIRegistersModel(t *testing.T) {
	r := newRegistry(t)
	ext, _ := r.Get("openai")
	turn := apply(t, ext, map[string]any{"model": "gpt-4o-mini", "api_key": "k"}, nil)

	m, ok := turn.Models.Get("gpt-4o-mini@openai")
	if !ok || m.Model != "gpt-4o-mini" || m.Provider == nil {
		t.Fatalf("expected model registered, got %v", turn.Models.Names())
	}
}

func TestSystemPromptAndSummary(t *testing.T) {
	turn := apply(t, SystemPrompt{}, map[string]any{"text": "  Answer in French. "}, func(turn *chat.Turn) {
		turn.SystemMessages = []string{"base"}
	})
	if len(turn.SystemMessages) != 2 || turn.SystemMessages[1] != "Answer in French." {
		t.Errorf("unexpected system messages %q", turn.SystemMessages)
	}

	turn = apply(t, Summary{}, map[string]any{"prompt": "Title: {content}", "history_length": 2}, nil)
	if turn.Summary.Prompt != "Title: {content}" || turn.Summary.HistoryLength != 2 {
		t.Errorf("unexpected summary config %+v", turn.Summary)
	}
}

type sourceHistory struct {
	sources []types.Source
}

func (h *sourceHistory) Messages(context.Context) ([]*types.Message, error) { return nil, nil }

func (h *sourceHistory) AddSources(sources ...types.Source) {
	h.sources = append(h.sources, sources...)
}

func TestWebReaderCachesPagesAndAddsSources(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><h1>Title</h1><p>Hello <b>world</b></p></body></html>"))
	}))
	defer server.Close()

	history := &sourceHistory{}
	turn := apply(t, NewWebReader(server.Client()), nil, func(turn *chat.Turn) { turn.History = history })
	if len(turn.Tools) != 1 || turn.Tools[0].Name() != "read_url" || llm.DisplayName(turn.Tools[0]) != "Web reader" {
		t.Fatalf("expected read_url tool, got %v", turn.Tools)
	}

	args, _ := json.Marshal(map[string]string{"url": server.URL})
	for range 2 {
		md, err := turn.Tools[0].Execute(context.Background(), args)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(md, "# Title") || !strings.Contains(md, "**world**") {
			t.Errorf("unexpected markdown %q", md)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("expected one fetch thanks to the turn cache, got %d", hits.Load())
	}
	if len(history.sources) != 2 || history.sources[0].URL != server.URL {
		t.Errorf("unexpected sources %+v", history.sources)
	}
}

func TestWebReaderErrors(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	turn := apply(t, NewWebReader(server.Client()), nil, nil)
	if _, err := turn.Tools[0].Execute(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Error("expected missing url error")
	}
	args, _ := json.Marshal(map[string]string{"url": server.URL})
	if _, err := turn.Tools[0].Execute(context.Background(), args); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected status error, got %v", err)
	}
}

type scriptedUI struct {
	answer bool
	asked  []string
}

func (u *scriptedUI) Confirm(ctx context.Context, text string) (bool, error) {
	u.asked = append(u.asked, text)
	return u.answer, nil
}

func (u *scriptedUI) Input(ctx context.Context, text string) (string, error) { return "", nil }

type countingTool struct{ calls int }

func (c *countingTool) Name() string                { return "delete_everything" }
func (c *countingTool) Description() string         { return "dangerous" }
func (c *countingTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (c *countingTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	c.calls++
	return "done", nil
}

func TestConfirmTools(t *testing.T) {
	for _, answer := range []bool{false, true} {
		tool := &countingTool{}
		ui := &scriptedUI{answer: answer}
		turn := apply(t, NewConfirmTools(texts.Texts{}), nil, func(turn *chat.Turn) {
			turn.UI = ui
			turn.Tools = []llm.Tool{tool}
		})

		out, err := turn.Tools[0].Execute(context.Background(), json.RawMessage(`{}`))
		if err != nil {
			t.Fatal(err)
		}
		if len(ui.asked) != 1 || ui.asked[0] != "Allow the assistant to use delete_everything?" {
			t.Errorf("unexpected prompts %q", ui.asked)
		}
		if answer && (out != "done" || tool.calls != 1) {
			t.Errorf("confirmed tool must run, got %q", out)
		}
		if !answer && (out != texts.Default().ToolDeclined || tool.calls != 0) {
			t.Errorf("declined tool must not run, got %q", out)
		}
	}
}

func TestConfirmToolsOnlyListed(t *testing.T) {
	tool := &countingTool{}
	turn := apply(t, NewConfirmTools(texts.Texts{}), map[string]any{"tools": []string{"read_url"}}, func(turn *chat.Turn) {
		turn.UI = &scriptedUI{}
		turn.Tools = []llm.Tool{tool}
	})
	if turn.Tools[0] != llm.Tool(tool) {
		t.Error("unlisted tools must not be wrapped")
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc\n\n[Content truncated]"},
		// "é" is two bytes; a cut inside it backs off to before it.
		{"abé", 3, "ab\n\n[Content truncated]"},
		{"日本語", 4, "日\n\n[Content truncated]"},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.limit)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.limit)
		}
	}
}
