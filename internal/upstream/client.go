// Package upstream talks to the chat-completion provider.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"aigateway/internal/chat"
	"aigateway/internal/failure"
)

// DefaultBaseURL is the provider endpoint used when none is configured.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// maxErrorBody bounds how much of an error body is kept in messages.
const maxErrorBody = 512

// DefaultMaxResponseBytes caps how much of a response body is read.
const DefaultMaxResponseBytes int64 = 4 << 20

// HTTPDoer abstracts HTTP clients used by the upstream client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config wires a Client.
type Config struct {
	BaseURL string
	APIKey  string
	// Referer and Title are sent as HTTP-Referer and X-Title.
	Referer string
	Title   string
	Client  HTTPDoer
	// MaxResponseBytes caps the response body. Zero means
	// DefaultMaxResponseBytes.
	MaxResponseBytes int64
}

// Payload is one chat-completion request.
type Payload struct {
	Model       string         `json:"model"`
	Messages    []chat.Message `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
}

// Reply is a successful completion.
type Reply struct {
	Content   string
	RequestID string
	Model     string
}

// Completer issues a single completion attempt.
type Completer interface {
	Complete(ctx context.Context, payload Payload) (Reply, error)
}

// Client implements Completer over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	referer string
	title   string
	client  HTTPDoer
	maxBody int64
}

// New constructs a Client. The API key is required.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &failure.ConfigurationError{Reason: "upstream api key is not set"}
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseBytes
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		referer: cfg.Referer,
		title:   cfg.Title,
		client:  client,
		maxBody: maxBody,
	}, nil
}

type completionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// Complete sends payload and returns the first choice's content. Failures are
// typed: transport problems as TimeoutOrNetworkError, non-2xx responses as
// UpstreamError and missing content as EmptyGenerationError.
func (c *Client) Complete(ctx context.Context, payload Payload) (Reply, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Reply{}, &failure.TimeoutOrNetworkError{Timeout: isTimeout(ctx, err), Err: err}
	}
	defer resp.Body.Close()
	if id := strings.TrimSpace(resp.Header.Get("X-Request-Id")); id != "" {
		requestID = id
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return Reply{}, &failure.TimeoutOrNetworkError{Timeout: isTimeout(ctx, err), Err: fmt.Errorf("read response: %w", err)}
	}
	oversized := int64(len(data)) > c.maxBody
	if oversized {
		data = data[:c.maxBody]
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Reply{}, decodeHTTPError(resp, data, requestID)
	}
	if oversized {
		return Reply{}, &failure.EmptyGenerationError{RequestID: requestID}
	}

	var decoded completionResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return Reply{}, &failure.EmptyGenerationError{RequestID: requestID}
	}
	if decoded.ID != "" {
		requestID = decoded.ID
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == nil {
		return Reply{}, &failure.EmptyGenerationError{RequestID: requestID}
	}
	content := strings.TrimSpace(*decoded.Choices[0].Message.Content)
	if content == "" {
		return Reply{}, &failure.EmptyGenerationError{RequestID: requestID}
	}
	return Reply{Content: content, RequestID: requestID, Model: decoded.Model}, nil
}

// decodeHTTPError turns a non-2xx response into an UpstreamError.
func decodeHTTPError(resp *http.Response, body []byte, requestID string) error {
	out := &failure.UpstreamError{
		Status:     resp.StatusCode,
		RequestID:  requestID,
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), nowFunc()),
	}
	var decoded errorResponse
	if err := json.Unmarshal(body, &decoded); err == nil && (decoded.Error.Message != "" || len(decoded.Error.Code) > 0) {
		out.Message = decoded.Error.Message
		out.Code = rawCode(decoded.Error.Code)
		return out
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	out.Message = msg
	return out
}

// rawCode renders a provider error code that may be a string or a number.
func rawCode(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsContextLength reports whether a rejection looks like the prompt exceeded
// the model's context window. Providers do not share a contract for this, so
// it is a wording match on 400 and 413 responses.
func IsContextLength(status int, message string) bool {
	if status != http.StatusBadRequest && status != http.StatusRequestEntityTooLarge {
		return false
	}
	msg := strings.ToLower(message)
	if !strings.Contains(msg, "context") {
		return false
	}
	return strings.Contains(msg, "length") || strings.Contains(msg, "too long") || strings.Contains(msg, "tokens")
}
