// Package client provides the HTTP client operator commands use to talk to
// the meetwise API. It handles bearer authentication, error decoding and
// retrying of idempotent reads.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/otherjamesbrown/meetwise/pkg/api"
	"github.com/otherjamesbrown/meetwise/pkg/assistant"
	"github.com/otherjamesbrown/meetwise/pkg/buildinfo"
	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
	"github.com/otherjamesbrown/meetwise/pkg/pipeline"
)

// Default client settings.
const (
	DefaultTimeout           = 2 * time.Minute
	DefaultMaxRetries        = 3
	DefaultInitialBackoff    = 200 * time.Millisecond
	DefaultMaxBackoff        = 5 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// ClientOptions configures the Client behavior.
type ClientOptions struct {
	// Token is sent as a bearer token on operator routes.
	Token string

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// MaxRetries is the maximum number of retries for idempotent reads.
	MaxRetries int

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// HTTPClient overrides the transport. Timeout is ignored when set.
	HTTPClient *http.Client
}

// DefaultOptions returns ClientOptions with default values.
func DefaultOptions() *ClientOptions {
	return &ClientOptions{
		Timeout:           DefaultTimeout,
		MaxRetries:        DefaultMaxRetries,
		InitialBackoff:    DefaultInitialBackoff,
		MaxBackoff:        DefaultMaxBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

// Client calls the meetwise HTTP API.
type Client struct {
	baseURL string
	opts    *ClientOptions
	http    *http.Client
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts *ClientOptions) (*Client, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: %w", baseURL, mwerrors.ErrValidation)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		http:    hc,
	}, nil
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d (%s)", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is maps server error codes back onto the domain sentinels so callers can
// use errors.Is(err, mwerrors.ErrNotFound) and friends.
func (e *APIError) Is(target error) bool {
	switch e.Code {
	case "invalid_request":
		return target == mwerrors.ErrValidation
	case "not_found":
		return target == mwerrors.ErrNotFound
	case "not_ready":
		return target == mwerrors.ErrNotReady
	case "invalid_transition":
		return target == mwerrors.ErrInvalidTransition
	case "already_exists":
		return target == mwerrors.ErrAlreadyExists
	case "conflict":
		return target == mwerrors.ErrConflict
	case "unavailable":
		return target == mwerrors.ErrTransientFailure
	}
	return false
}

// Unauthorized reports whether the server rejected the credentials.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// GetMeeting fetches a meeting. The transcript is included when withTranscript is set.
func (c *Client) GetMeeting(ctx context.Context, meetingID string, withTranscript bool) (*api.MeetingView, error) {
	path := meetingPath(meetingID, "")
	if withTranscript {
		path += "?include=transcript"
	}
	var out api.MeetingView
	if err := c.withRetry(ctx, func() error {
		return c.do(ctx, http.MethodGet, path, nil, &out)
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelMeeting cancels an upcoming meeting.
func (c *Client) CancelMeeting(ctx context.Context, meetingID string) (*api.MeetingView, error) {
	var out api.MeetingView
	if err := c.do(ctx, http.MethodPost, meetingPath(meetingID, "cancel"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJob returns the latest pipeline job for a meeting.
func (c *Client) GetJob(ctx context.Context, meetingID string) (*pipeline.Job, error) {
	var out pipeline.Job
	if err := c.withRetry(ctx, func() error {
		return c.do(ctx, http.MethodGet, meetingPath(meetingID, "job"), nil, &out)
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Redrive starts a fresh pipeline job for a meeting whose last job failed.
func (c *Client) Redrive(ctx context.Context, meetingID string) (*pipeline.Job, error) {
	var out pipeline.Job
	if err := c.do(ctx, http.MethodPost, meetingPath(meetingID, "redrive"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ask asks a question about one meeting's transcript.
func (c *Client) Ask(ctx context.Context, meetingID, question string, history []assistant.Turn) (*assistant.Answer, error) {
	req := api.AskRequest{Question: question, History: history}
	var out assistant.Answer
	if err := c.do(ctx, http.MethodPost, meetingPath(meetingID, "ask"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health calls /healthz. A degraded server returns its check results along
// with an *APIError.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &out)
	var apiErr *APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable) {
		return nil, err
	}
	return &out, err
}

// Version returns the server build information.
func (c *Client) Version(ctx context.Context) (*buildinfo.Info, error) {
	var out buildinfo.Info
	if err := c.withRetry(ctx, func() error {
		return c.do(ctx, http.MethodGet, "/version", nil, &out)
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

func meetingPath(meetingID, action string) string {
	p := "/api/v1/meetings/" + url.PathEscape(meetingID)
	if action == "" {
		return p + "/"
	}
	return p + "/" + action
}

// do sends one request. out is decoded from 2xx bodies and, for /healthz,
// from 503 bodies too.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent("meetwise-cli"))
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, mwerrors.ErrTransientFailure, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var er api.ErrorResponse
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		apiErr.Code = er.Error
		apiErr.Message = er.Message
	} else {
		apiErr.Code = http.StatusText(resp.StatusCode)
		if out != nil && resp.StatusCode == http.StatusServiceUnavailable {
			_ = json.Unmarshal(data, out)
		}
	}
	return apiErr
}

// retryable reports whether err is worth another attempt.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusServiceUnavailable ||
			apiErr.StatusCode == http.StatusBadGateway ||
			apiErr.StatusCode == http.StatusGatewayTimeout
	}
	return errors.Is(err, mwerrors.ErrTransientFailure)
}

// withRetry executes fn with exponential backoff while it fails transiently.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	backoff := c.opts.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !retryable(lastErr) || attempt == c.opts.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled during backoff: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * c.opts.BackoffMultiplier)
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
	return lastErr
}
