// Package executor calls external services that answer whole chat turns.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// HistoryMessage is one prior message sent to the executor.
type HistoryMessage struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

// User identifies the asking user to the executor.
type User struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

// AnswerRequest is the body of POST {endpoint}/answer.
type AnswerRequest struct {
	History []HistoryMessage  `json:"history"`
	Prompt  string            `json:"prompt"`
	User    User              `json:"user"`
	Context map[string]string `json:"context,omitempty"`
}

// AnswerResult carries the executor's answer text.
type AnswerResult struct {
	Content string `json:"content"`
}

// AnswerResponse is the executor's reply. Every field is optional.
type AnswerResponse struct {
	Debug   string        `json:"debug,omitempty"`
	Summary string        `json:"summary,omitempty"`
	Result  *AnswerResult `json:"result,omitempty"`
}

// StatusError is returned for non-2xx executor responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("executor returned status %d: %s", e.StatusCode, e.Body)
}

// Client posts answer requests.
type Client struct {
	http   *http.Client
	retry  *RetryPolicy
	logger *slog.Logger
}

// NewClient creates a client. A nil policy disables retries.
func NewClient(httpClient *http.Client, retry *RetryPolicy, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	if retry == nil {
		retry = &RetryPolicy{MaxAttempts: 1, Multiplier: 1}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{http: httpClient, retry: retry, logger: logger}
}

// Answer sends req to endpoint with the configured header string.
func (c *Client) Answer(ctx context.Context, endpoint, headers string, req *AnswerRequest) (*AnswerResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal answer request: %w", err)
	}
	url := strings.TrimRight(endpoint, "/") + "/answer"
	parsed := ParseHeaders(headers)

	var out *AnswerResponse
	attempt := 0
	err = c.retry.Execute(ctx, func() error {
		attempt++
		resp, err := c.post(ctx, url, parsed, body)
		if err != nil {
			c.logger.Warn("executor call failed", "url", url, "attempt", attempt, "error", err)
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, url string, headers map[string]string, body []byte) (*AnswerResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post answer: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read answer: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out AnswerResponse
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decode answer: %w", err)
		}
	}
	return &out, nil
}

var headerSeparators = regexp.MustCompile(`[,;\n]`)

// ParseHeaders reads "k=v" pairs separated by ',', ';' or newlines. Pairs
// without a key or value are skipped.
func ParseHeaders(s string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range headerSeparators.Split(s, -1) {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			continue
		}
		headers[key] = value
	}
	return headers
}
