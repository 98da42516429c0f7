package extensions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/parley/internal/cache"
	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/types"
)

// OrderTools is where tool extensions add their tools.
const OrderTools = -30

const defaultMaxPageChars = 50000

// WebReader offers a read_url tool. Pages are cached for the turn and
// reported as sources.
type WebReader struct {
	client *http.Client
}

// NewWebReader creates the extension type. A nil client gets a 30s timeout.
func NewWebReader(client *http.Client) *WebReader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebReader{client: client}
}

func (*WebReader) Spec() Spec {
	return Spec{
		Type:        "web-reader",
		Title:       "Web reader",
		Description: "Lets the model fetch web pages as markdown.",
		Schema: `{
			"type": "object",
			"properties": {
				"max_chars": {"type": "integer", "minimum": 100}
			}
		}`,
	}
}

func (w *WebReader) Interceptors(ctx context.Context, user *types.User, userArgs, configuredArgs map[string]any) ([]chat.Interceptor, error) {
	var values struct {
		MaxChars int `json:"max_chars"`
	}
	if err := decode(configuredArgs, &values); err != nil {
		return nil, fmt.Errorf("decode web-reader values: %w", err)
	}
	if values.MaxChars <= 0 {
		values.MaxChars = defaultMaxPageChars
	}
	return []chat.Interceptor{
		chat.NewInterceptor("web-reader", OrderTools, func(ctx context.Context, turn *chat.Turn, next chat.Next) error {
			turn.Tools = append(turn.Tools, &readURL{client: w.client, turn: turn, maxChars: values.MaxChars})
			return next(ctx, turn)
		}),
	}, nil
}

// readURL fetches a URL and converts its HTML content to markdown.
type readURL struct {
	client   *http.Client
	turn     *chat.Turn
	maxChars int
}

func (r *readURL) Name() string        { return "read_url" }
func (r *readURL) DisplayName() string { return "Web reader" }
func (r *readURL) Description() string { return "Fetch a URL and return its content as markdown" }
func (r *readURL) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The URL to fetch"}
		},
		"required": ["url"]
	}`)
}

func (r *readURL) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.URL == "" {
		return "", fmt.Errorf("url is required")
	}

	md, err := cache.Get(r.turn.Cache, "read_url", params.URL, func() (string, error) {
		return r.fetch(ctx, params.URL)
	})
	if err != nil {
		return "", err
	}
	if r.turn.History != nil {
		r.turn.History.AddSources(types.Source{Title: params.URL, URL: params.URL, Content: md, Extension: "web-reader", MimeType: "text/markdown"})
	}
	return md, nil
}

func (r *readURL) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Parley/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	md, err := htmltomarkdown.ConvertString(string(body))
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}

	return truncate(md, r.maxChars), nil
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n\n[Content truncated]"
}
