package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ProhibitedTV/ChoomLang/internal/httpheaders"
)

const (
	DefaultBaseURL   = "http://localhost:11434"
	DefaultTimeout   = 180 * time.Second
	DefaultKeepAlive = 300 * time.Second

	// MaxMessageChars caps relayed prompts and model replies.
	MaxMessageChars = 4000

	chatPath     = "/api/chat"
	generatePath = "/api/generate"
	tagsPath     = "/api/tags"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is one chat call. Format is nil, "json", or a JSON Schema
// object. Zero Timeout and KeepAlive fall back to the client defaults.
type ChatRequest struct {
	Model     string
	Messages  []Message
	Seed      *int64
	Format    any
	Timeout   time.Duration
	KeepAlive time.Duration
}

// ChatResponse is the assistant text with call accounting.
type ChatResponse struct {
	Content string
	Elapsed time.Duration
	Status  int
	Path    string
}

// Client talks to an Ollama-compatible endpoint.
type Client struct {
	BaseURL   string
	Timeout   time.Duration
	KeepAlive time.Duration
	Headers   map[string]string
	// ModelsTTL enables the on-disk model listing cache when positive.
	ModelsTTL  time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// New returns a client with default timeout and keep-alive.
func New(baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Timeout:    DefaultTimeout,
		KeepAlive:  DefaultKeepAlive,
		HTTPClient: &http.Client{},
		Logger:     zerolog.Nop(),
	}
}

// BuildChatPayload renders the /api/chat request body. Streaming is always
// off; keep_alive is sent in seconds.
func BuildChatPayload(model string, messages []Message, seed *int64, format any, keepAlive time.Duration) map[string]any {
	payload := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   false,
	}
	if seed != nil {
		payload["options"] = map[string]any{"seed": *seed}
	}
	if keepAlive > 0 {
		payload["keep_alive"] = keepAlive.Seconds()
	}
	if format != nil {
		payload["format"] = format
	}
	return payload
}

// Chat sends messages to /api/chat. If the endpoint answers 404 for an
// unstructured request, the call is retried once on /api/generate.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if len(req.Messages) == 0 {
		return ChatResponse{}, ErrEmptyMessages
	}
	keepAlive := c.KeepAlive
	if req.KeepAlive > 0 {
		keepAlive = req.KeepAlive
	}

	payload := BuildChatPayload(req.Model, req.Messages, req.Seed, req.Format, keepAlive)
	var chatOut struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	}
	status, elapsed, err := c.postJSON(ctx, chatPath, req.Timeout, payload, &chatOut)
	if err == nil {
		if chatOut.Message == nil || chatOut.Message.Content == nil {
			return ChatResponse{Elapsed: elapsed, Status: status, Path: chatPath}, fmt.Errorf("%w: %s missing message.content", ErrBadResponseShape, chatPath)
		}
		return ChatResponse{Content: strings.TrimSpace(*chatOut.Message.Content), Elapsed: elapsed, Status: status, Path: chatPath}, nil
	}

	var he *HTTPError
	if !errors.As(err, &he) || he.Status != http.StatusNotFound {
		return ChatResponse{Elapsed: elapsed, Status: status, Path: chatPath}, err
	}
	if isModelMissing(he) {
		return ChatResponse{Elapsed: elapsed, Status: status, Path: chatPath}, c.modelNotFound(ctx, req.Model, err)
	}
	if req.Format != nil {
		return ChatResponse{Elapsed: elapsed, Status: status, Path: chatPath}, fmt.Errorf("%w: %w", ErrStructuredUnsupported, err)
	}

	c.Logger.Debug().Str("model", req.Model).Msg("chat endpoint returned 404, falling back to generate")
	return c.generate(ctx, req, keepAlive)
}

func (c *Client) generate(ctx context.Context, req ChatRequest, keepAlive time.Duration) (ChatResponse, error) {
	payload := map[string]any{
		"model":  req.Model,
		"prompt": MessagesToPrompt(req.Messages),
		"stream": false,
	}
	if req.Seed != nil {
		payload["options"] = map[string]any{"seed": *req.Seed}
	}
	if keepAlive > 0 {
		payload["keep_alive"] = keepAlive.Seconds()
	}

	var out struct {
		Response *string `json:"response"`
	}
	status, elapsed, err := c.postJSON(ctx, generatePath, req.Timeout, payload, &out)
	resp := ChatResponse{Elapsed: elapsed, Status: status, Path: generatePath}
	if err != nil {
		var he *HTTPError
		if errors.As(err, &he) && isModelMissing(he) {
			return resp, c.modelNotFound(ctx, req.Model, err)
		}
		return resp, err
	}
	if out.Response == nil {
		return resp, fmt.Errorf("%w: %s missing response", ErrBadResponseShape, generatePath)
	}
	resp.Content = strings.TrimSpace(*out.Response)
	return resp, nil
}

// MessagesToPrompt flattens a history into "role: content" lines for the
// legacy completion endpoint.
func MessagesToPrompt(messages []Message) string {
	lines := make([]string, len(messages))
	for i, m := range messages {
		role := m.Role
		if role == "" {
			role = "user"
		}
		lines[i] = role + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}

// Clip trims model output and rejects replies over MaxMessageChars.
func Clip(text string) (string, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > MaxMessageChars {
		return "", ErrMessageTooLarge
	}
	return text, nil
}

func (c *Client) modelNotFound(ctx context.Context, model string, cause error) error {
	mnf := &ModelNotFoundError{Model: model, Err: cause}
	if models, err := c.ListModels(ctx); err == nil {
		mnf.Suggestions = SuggestModels(model, models)
	}
	return mnf
}

func (c *Client) postJSON(ctx context.Context, path string, timeout time.Duration, payload any, out any) (int, time.Duration, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, 0, err
	}
	return c.do(ctx, http.MethodPost, path, timeout, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, timeout time.Duration, body []byte, out any) (int, time.Duration, error) {
	if timeout <= 0 {
		timeout = c.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return 0, 0, err
	}
	headers := httpheaders.Merge(map[string]string{"Accept": "application/json"}, c.Headers, true)
	if body != nil {
		headers = httpheaders.Merge(headers, map[string]string{"Content-Type": "application/json"}, false)
	}
	httpheaders.Apply(req.Header, headers)

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.Logger.Debug().Str("path", path).Dur("elapsed", elapsed).Err(err).Msg("ollama request failed")
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, elapsed, fmt.Errorf("%w after %s (%s)", ErrTimeout, timeout, path)
		}
		if ctx.Err() != nil {
			return 0, elapsed, ctx.Err()
		}
		return 0, elapsed, fmt.Errorf("%w: could not connect to Ollama at %s. Is ollama running? (%v)", ErrUnreachable, c.BaseURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	elapsed = time.Since(start)
	c.Logger.Debug().Str("path", path).Int("status", resp.StatusCode).Dur("elapsed", elapsed).Msg("ollama request")
	if err != nil {
		return resp.StatusCode, elapsed, fmt.Errorf("%w: reading %s body: %v", ErrBadResponseShape, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, elapsed, &HTTPError{Status: resp.StatusCode, Body: string(raw), Path: path}
	}
	if out == nil {
		return resp.StatusCode, elapsed, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, elapsed, fmt.Errorf("%w: %s returned non-JSON output", ErrBadResponseShape, path)
	}
	return resp.StatusCode, elapsed, nil
}
