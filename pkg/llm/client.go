// Package llm is a minimal client for OpenAI-compatible chat-completion servers.
package llm

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

	"github.com/otherjamesbrown/meetwise/pkg/buildinfo"
	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
	"github.com/otherjamesbrown/meetwise/pkg/observability"
)

// Roles accepted in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request.
type Request struct {
	// Purpose labels metrics and spans, e.g. "summary" or "chat".
	Purpose     string
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Response is a completion result.
type Response struct {
	Content      string
	Model        string
	FinishReason string
	PromptTokens int
	OutputTokens int
	Latency      time.Duration
}

// Completer produces chat completions. Errors are *mwerrors.ProcessingError.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Config configures the HTTP client.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// Client calls POST {BaseURL}/v1/chat/completions.
type Client struct {
	cfg        Config
	httpClient *http.Client
	metrics    *observability.Metrics
	tracer     *observability.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client. Nil keeps the default.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithMetrics records request latency.
func WithMetrics(m *observability.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// WithTracer records a span per request.
func WithTracer(t *observability.Tracer) Option {
	return func(cl *Client) { cl.tracer = t }
}

// NewClient creates a client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tracer:     observability.NewTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatResponse struct {
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// Complete sends req and returns the first choice.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, span := c.tracer.StartLLMSpan(ctx, c.cfg.Model, req.Purpose)
	defer span.End()
	helper := observability.NewSpanHelper(span)

	start := time.Now()
	resp, err := c.complete(ctx, req)
	latency := time.Since(start)

	if err != nil {
		var pe *mwerrors.ProcessingError
		code := string(mwerrors.CodeProcessingError)
		if errors.As(err, &pe) {
			code = string(pe.Code)
		}
		helper.SetError(err, code, mwerrors.IsTransient(err))
		c.metrics.RecordLLM(req.Purpose, "error", latency)
		return nil, err
	}

	resp.Latency = latency
	helper.SetSuccess()
	c.metrics.RecordLLM(req.Purpose, "ok", latency)
	return resp, nil
}

func (c *Client) complete(ctx context.Context, req Request) (*Response, error) {
	var messages []Message
	if req.System != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: req.System})
	}
	messages = append(messages, req.Messages...)

	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if body.Temperature == 0 {
		body.Temperature = c.cfg.Temperature
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = c.cfg.MaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, mwerrors.NewProcessingError(mwerrors.CodeInvalidInput, "", "marshal request", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, mwerrors.NewProcessingError(mwerrors.CodeInvalidInput, "", "create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", buildinfo.UserAgent("meetwise"))
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, mwerrors.ClassifyError(ctx.Err(), "")
		}
		return nil, mwerrors.NewProcessingError(mwerrors.CodeProviderUnavailable, "", "request failed", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 8<<20))
	if err != nil {
		return nil, mwerrors.NewProcessingError(mwerrors.CodeProviderUnavailable, "", "read response", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, StatusError(httpResp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, mwerrors.NewProcessingError(mwerrors.CodeProviderUnavailable, "", "parse response", err)
	}
	if len(chatResp.Choices) == 0 || strings.TrimSpace(chatResp.Choices[0].Message.Content) == "" {
		return nil, mwerrors.NewProcessingError(mwerrors.CodeEmptyOutput, "", "empty completion", nil)
	}

	return &Response{
		Content:      strings.TrimSpace(chatResp.Choices[0].Message.Content),
		Model:        chatResp.Model,
		FinishReason: chatResp.Choices[0].FinishReason,
		PromptTokens: chatResp.Usage.PromptTokens,
		OutputTokens: chatResp.Usage.CompletionTokens,
	}, nil
}

// StatusError maps a non-200 provider response to a classified error.
// 429 and 5xx are retryable; other 4xx are not.
func StatusError(status int, body []byte) *mwerrors.ProcessingError {
	msg := fmt.Sprintf("HTTP %d: %s", status, truncate(string(body), 512))
	switch {
	case status == http.StatusTooManyRequests:
		return mwerrors.NewProcessingError(mwerrors.CodeRateLimit, "", msg, nil)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return mwerrors.NewProcessingError(mwerrors.CodeTimeout, "", msg, nil)
	case status >= 500:
		return mwerrors.NewProcessingError(mwerrors.CodeProviderUnavailable, "", msg, nil)
	default:
		return mwerrors.NewProcessingError(mwerrors.CodeInvalidInput, "", msg, nil)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
