package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetwise/client"
	"github.com/otherjamesbrown/meetwise/config"
	"github.com/otherjamesbrown/meetwise/credentials"
	"github.com/otherjamesbrown/meetwise/pkg/api"
	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
	"github.com/otherjamesbrown/meetwise/pkg/meeting"
	"github.com/otherjamesbrown/meetwise/pkg/orchestrator"
	"github.com/otherjamesbrown/meetwise/pkg/pipeline"
)

const (
	webhookSecret = "whsec-test"
	operatorToken = "mw_app-test-operator-token"
)

// upstream fakes the recording host, the transcription API and the LLM API.
type upstream struct {
	srv            *httptest.Server
	transcriptions atomic.Int32
	completions    atomic.Int32
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/recordings/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3 fake audio"))
	})
	mux.HandleFunc("/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		u.transcriptions.Add(1)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		writeTestJSON(w, map[string]string{"text": "Ana: We ship on Friday.\nRaj: I own the release notes."})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		u.completions.Add(1)
		body, _ := io.ReadAll(r.Body)
		content := "Summary: ship Friday; Raj owns release notes."
		if strings.Contains(string(body), "Who owns") {
			content = "Raj owns the release notes."
		}
		writeTestJSON(w, map[string]any{
			"model": "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
		})
	})
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

func writeTestJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig(t *testing.T, upstreamURL string) *config.Config {
	t.Helper()
	hash, err := credentials.HashToken(operatorToken)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Server.WebhookSecret = webhookSecret
	cfg.Server.OperatorTokenHash = hash
	cfg.Audit.Enabled = true
	cfg.LLM.BaseURL = upstreamURL
	cfg.LLM.APIKey = "sk-test"
	cfg.Transcription.BaseURL = upstreamURL
	cfg.Transcription.APIKey = "sk-test"
	cfg.Transcription.ResponseFormat = "json"
	cfg.Pipeline.Workers.PollInterval = 10 * time.Millisecond
	return cfg
}

func newTestApp(t *testing.T, mutate ...func(*config.Config)) (*App, *upstream, *httptest.Server) {
	t.Helper()
	up := newUpstream(t)
	cfg := testConfig(t, up.srv.URL)
	for _, fn := range mutate {
		fn(cfg)
	}
	app, err := NewApp(context.Background(), cfg, AppOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(app.Close)

	srv := httptest.NewServer(app.API)
	t.Cleanup(srv.Close)
	return app, up, srv
}

func postEvent(t *testing.T, baseURL string, e orchestrator.Event) (int, orchestrator.Result) {
	t.Helper()
	body, err := json.Marshal(e)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, baseURL+"/webhooks/events", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.SignatureHeader, api.Sign(webhookSecret, body))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var res orchestrator.Result
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	}
	return resp.StatusCode, res
}

func TestAppMeetingLifecycle(t *testing.T) {
	app, up, srv := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.Workers.Start(ctx)
	defer app.Workers.Stop()

	require.NoError(t, app.Meetings.Create(ctx, meeting.New("m-1", "Release sync", "notetaker", time.Now())))

	now := time.Now().UTC()
	events := []orchestrator.Event{
		{MeetingID: "m-1", EventType: orchestrator.EventSessionStarted, ProviderEventID: "evt-1", Timestamp: now},
		{MeetingID: "m-1", EventType: orchestrator.EventRecordingReady, ProviderEventID: "evt-2", Timestamp: now.Add(time.Minute),
			RecordingURL: up.srv.URL + "/recordings/m-1.mp3"},
		{MeetingID: "m-1", EventType: orchestrator.EventSessionEnded, ProviderEventID: "evt-3", Timestamp: now.Add(30 * time.Minute)},
	}
	for _, e := range events {
		code, res := postEvent(t, srv.URL, e)
		require.Equal(t, http.StatusOK, code, e.EventType)
		assert.Equal(t, orchestrator.OutcomeApplied, res.Outcome, e.EventType)
	}

	// Redelivery of an already-seen event is acknowledged without effect.
	code, res := postEvent(t, srv.URL, events[0])
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, orchestrator.OutcomeDuplicate, res.Outcome)

	require.Eventually(t, func() bool {
		m, err := app.Meetings.Get(ctx, "m-1")
		return err == nil && m.Status == meeting.StatusCompleted
	}, 10*time.Second, 20*time.Millisecond)

	m, err := app.Meetings.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "Summary: ship Friday; Raj owns release notes.", m.Artifacts.Value(meeting.ArtifactSummary))
	assert.Contains(t, m.Artifacts.Value(meeting.ArtifactTranscript), "We ship on Friday.")
	require.NotNil(t, m.DurationSeconds)
	assert.Equal(t, int64(30*60), *m.DurationSeconds)
	assert.Equal(t, int32(1), up.transcriptions.Load())

	job, err := app.Jobs.Latest(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageDone, job.Stage)

	opts := client.DefaultOptions()
	opts.Token = operatorToken
	c, err := client.New(srv.URL, opts)
	require.NoError(t, err)

	view, err := c.GetMeeting(ctx, "m-1", false)
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusCompleted, view.Status)
	assert.True(t, view.HasTranscript)
	assert.Empty(t, view.Transcript)

	ans, err := c.Ask(ctx, "m-1", "Who owns the release notes?", nil)
	require.NoError(t, err)
	assert.Equal(t, "Raj owns the release notes.", ans.Answer)

	// Events after completion are dropped, and the meeting is unchanged.
	code, res = postEvent(t, srv.URL, orchestrator.Event{
		MeetingID: "m-1", EventType: orchestrator.EventSessionStarted, ProviderEventID: "evt-late", Timestamp: now,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, orchestrator.OutcomeDropped, res.Outcome)
}

func TestAppRecordingAfterFailedJobCompletes(t *testing.T) {
	app, up, srv := newTestApp(t, func(cfg *config.Config) {
		cfg.Pipeline.Retry.InitialBackoff = time.Millisecond
		cfg.Pipeline.Retry.MaxBackoff = 5 * time.Millisecond
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.Workers.Start(ctx)
	defer app.Workers.Stop()

	require.NoError(t, app.Meetings.Create(ctx, meeting.New("m-5", "Design review", "", time.Now())))

	now := time.Now().UTC()
	for _, e := range []orchestrator.Event{
		{MeetingID: "m-5", EventType: orchestrator.EventSessionStarted, ProviderEventID: "evt-51", Timestamp: now},
		{MeetingID: "m-5", EventType: orchestrator.EventSessionEnded, ProviderEventID: "evt-52", Timestamp: now.Add(20 * time.Minute)},
	} {
		code, res := postEvent(t, srv.URL, e)
		require.Equal(t, http.StatusOK, code)
		require.Equal(t, orchestrator.OutcomeApplied, res.Outcome)
	}

	// Without a recording the first job uses up its attempts.
	require.Eventually(t, func() bool {
		job, err := app.Jobs.Latest(ctx, "m-5")
		if err != nil || job.Stage != pipeline.StageFailed {
			return false
		}
		m, err := app.Meetings.Get(ctx, "m-5")
		return err == nil && m.HasErrorFlag()
	}, 10*time.Second, 10*time.Millisecond)

	code, res := postEvent(t, srv.URL, orchestrator.Event{
		MeetingID: "m-5", EventType: orchestrator.EventRecordingReady, ProviderEventID: "evt-53",
		Timestamp: now.Add(25 * time.Minute), RecordingURL: up.srv.URL + "/recordings/m-5.mp3",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, orchestrator.OutcomeApplied, res.Outcome)

	require.Eventually(t, func() bool {
		m, err := app.Meetings.Get(ctx, "m-5")
		return err == nil && m.Status == meeting.StatusCompleted
	}, 10*time.Second, 20*time.Millisecond)

	m, err := app.Meetings.Get(ctx, "m-5")
	require.NoError(t, err)
	assert.False(t, m.HasErrorFlag())
	assert.NotEmpty(t, m.Artifacts.Value(meeting.ArtifactSummary))
}

func TestAppRejectsUnsignedWebhook(t *testing.T) {
	_, _, srv := newTestApp(t)

	body := `{"meetingId":"m-1","eventType":"session-started","providerEventId":"evt-1"}`
	resp, err := http.Post(srv.URL+"/webhooks/events", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAppOperatorAPIRequiresToken(t *testing.T) {
	app, _, srv := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, app.Meetings.Create(ctx, meeting.New("m-2", "Planning", "", time.Now())))

	opts := client.DefaultOptions()
	opts.Token = "mw_wrong-token-wrong-token"
	opts.MaxRetries = 0
	bad, err := client.New(srv.URL, opts)
	require.NoError(t, err)

	_, err = bad.GetMeeting(ctx, "m-2", false)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Unauthorized())

	opts.Token = operatorToken
	good, err := client.New(srv.URL, opts)
	require.NoError(t, err)

	view, err := good.CancelMeeting(ctx, "m-2")
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusCancelled, view.Status)

	// Cancelling again is idempotent.
	view, err = good.CancelMeeting(ctx, "m-2")
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusCancelled, view.Status)

	require.NoError(t, app.Meetings.Create(ctx, meeting.New("m-4", "Retro", "", time.Now())))
	_, err = app.Orchestrator.HandleEvent(ctx, orchestrator.Event{
		MeetingID: "m-4", EventType: orchestrator.EventSessionStarted, ProviderEventID: "evt-m4", Timestamp: time.Now(),
	})
	require.NoError(t, err)
	_, err = good.CancelMeeting(ctx, "m-4")
	assert.ErrorIs(t, err, mwerrors.ErrInvalidTransition)
}

func TestAppUnknownMeetingReleasesClaim(t *testing.T) {
	app, _, srv := newTestApp(t)
	ctx := context.Background()

	e := orchestrator.Event{MeetingID: "m-3", EventType: orchestrator.EventSessionStarted, ProviderEventID: "evt-early", Timestamp: time.Now()}
	_, res := postEvent(t, srv.URL, e)
	assert.Equal(t, orchestrator.OutcomeDropped, res.Outcome)

	// Once the meeting exists the redelivered event is applied, not deduplicated.
	require.NoError(t, app.Meetings.Create(ctx, meeting.New("m-3", "Standup", "", time.Now())))
	_, res = postEvent(t, srv.URL, e)
	assert.Equal(t, orchestrator.OutcomeApplied, res.Outcome)
}

func TestAppHealthInMemory(t *testing.T) {
	_, _, srv := newTestApp(t)

	c, err := client.New(srv.URL, nil)
	require.NoError(t, err)
	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
}
