// Package transcription turns a meeting recording into transcript text using a
// Whisper-compatible HTTP service.
package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/otherjamesbrown/meetwise/pkg/buildinfo"
	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
	"github.com/otherjamesbrown/meetwise/pkg/llm"
)

// Response formats requested from the provider.
const (
	FormatJSON = "json"
	FormatVTT  = "vtt"
)

// Transcriber produces transcript text for a fetchable recording reference.
type Transcriber interface {
	Transcribe(ctx context.Context, recordingURL string) (string, error)
}

// Config configures the HTTP transcriber.
type Config struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`

	// ResponseFormat is "json" (plain text) or "vtt" (speaker-labelled cues).
	ResponseFormat string `yaml:"response_format"`
}

// Client downloads the recording and posts it to
// {BaseURL}/v1/audio/transcriptions as multipart form data.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a transcription client.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.ResponseFormat == "" {
		cfg.ResponseFormat = FormatJSON
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe streams the recording into the transcription request.
func (c *Client) Transcribe(ctx context.Context, recordingURL string) (string, error) {
	if strings.TrimSpace(recordingURL) == "" {
		return "", mwerrors.NewProcessingError(mwerrors.CodeRecordingUnavailable, "", "no recording reference", nil)
	}

	rec, err := c.fetch(ctx, recordingURL)
	if err != nil {
		return "", err
	}
	defer rec.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(c.writeForm(mw, rec, fileName(recordingURL)))
	}()

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		_ = pr.Close()
		return "", mwerrors.NewProcessingError(mwerrors.CodeInvalidInput, "", "create request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("User-Agent", buildinfo.UserAgent("meetwise"))
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", mwerrors.ClassifyError(ctx.Err(), "")
		}
		return "", mwerrors.NewProcessingError(mwerrors.CodeProviderUnavailable, "", "transcription request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", mwerrors.NewProcessingError(mwerrors.CodeProviderUnavailable, "", "read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", llm.StatusError(resp.StatusCode, body)
	}

	text, err := c.decode(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", mwerrors.NewProcessingError(mwerrors.CodeEmptyOutput, "", "empty transcript", nil)
	}
	return text, nil
}

func (c *Client) decode(body []byte, contentType string) (string, error) {
	if c.cfg.ResponseFormat == FormatVTT {
		if _, params, err := mime.ParseMediaType(contentType); err == nil && params["charset"] != "" {
			body = decodeCharset(body, params["charset"])
		}
		t, err := ParseVTT(bytes.NewReader(body))
		if err != nil {
			return "", mwerrors.NewProcessingError(mwerrors.CodeProviderUnavailable, "", "parse vtt response", err)
		}
		return t.Text(), nil
	}

	var tr transcriptionResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", mwerrors.NewProcessingError(mwerrors.CodeProviderUnavailable, "", "parse response", err)
	}
	return strings.TrimSpace(tr.Text), nil
}

func (c *Client) fetch(ctx context.Context, recordingURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL, nil)
	if err != nil {
		return nil, mwerrors.NewProcessingError(mwerrors.CodeInvalidInput, "", "bad recording reference", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, mwerrors.ClassifyError(ctx.Err(), "")
		}
		return nil, mwerrors.NewProcessingError(mwerrors.CodeRecordingUnavailable, "", "fetch recording", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		msg := fmt.Sprintf("fetch recording: HTTP %d", resp.StatusCode)
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode >= 500 {
			return nil, mwerrors.NewProcessingError(mwerrors.CodeRecordingUnavailable, "", msg, nil)
		}
		return nil, mwerrors.NewProcessingError(mwerrors.CodeInvalidInput, "", msg, nil)
	}
	return resp.Body, nil
}

func (c *Client) writeForm(mw *multipart.Writer, rec io.Reader, name string) error {
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, rec); err != nil {
		return err
	}
	if err := mw.WriteField("model", c.cfg.Model); err != nil {
		return err
	}
	if err := mw.WriteField("response_format", c.cfg.ResponseFormat); err != nil {
		return err
	}
	if c.cfg.Language != "" {
		if err := mw.WriteField("language", c.cfg.Language); err != nil {
			return err
		}
	}
	return mw.Close()
}

func fileName(recordingURL string) string {
	u := recordingURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	name := path.Base(u)
	if name == "" || name == "." || name == "/" {
		return "recording"
	}
	return name
}
