package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetwise/client"
	"github.com/otherjamesbrown/meetwise/config"
	"github.com/otherjamesbrown/meetwise/pkg/api"
	"github.com/otherjamesbrown/meetwise/pkg/assistant"
	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
	"github.com/otherjamesbrown/meetwise/pkg/meeting"
	"github.com/otherjamesbrown/meetwise/pkg/pipeline"
)

// fakeOperator records calls and returns canned responses.
type fakeOperator struct {
	meeting *api.MeetingView
	job     *pipeline.Job
	answer  *assistant.Answer
	err     error

	gotID         string
	gotTranscript bool
	gotQuestion   string
	gotHistory    []assistant.Turn
	calls         []string
}

func (f *fakeOperator) GetMeeting(_ context.Context, id string, withTranscript bool) (*api.MeetingView, error) {
	f.calls = append(f.calls, "get")
	f.gotID, f.gotTranscript = id, withTranscript
	return f.meeting, f.err
}

func (f *fakeOperator) CancelMeeting(_ context.Context, id string) (*api.MeetingView, error) {
	f.calls = append(f.calls, "cancel")
	f.gotID = id
	return f.meeting, f.err
}

func (f *fakeOperator) GetJob(_ context.Context, id string) (*pipeline.Job, error) {
	f.calls = append(f.calls, "job")
	f.gotID = id
	return f.job, f.err
}

func (f *fakeOperator) Redrive(_ context.Context, id string) (*pipeline.Job, error) {
	f.calls = append(f.calls, "redrive")
	f.gotID = id
	return f.job, f.err
}

func (f *fakeOperator) Ask(_ context.Context, id, question string, history []assistant.Turn) (*assistant.Answer, error) {
	f.calls = append(f.calls, "ask")
	f.gotID, f.gotQuestion, f.gotHistory = id, question, history
	return f.answer, f.err
}

func operatorTestDeps(fake *fakeOperator) *OperatorCommandDeps {
	cfg := config.DefaultClientConfig()
	return &OperatorCommandDeps{
		LoadConfig: func() (*config.ClientConfig, error) { return cfg, nil },
		NewClient:  func(*config.ClientConfig) (OperatorClient, error) { return fake, nil },
	}
}

func runMeeting(t *testing.T, deps *OperatorCommandDeps, args ...string) (string, error) {
	t.Helper()
	cmd := NewMeetingCommand(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func sampleMeeting() *api.MeetingView {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	end := start.Add(45 * time.Minute)
	dur := int64(45 * 60)
	return &api.MeetingView{
		ID:              "m-1",
		Name:            "Weekly sync",
		AgentID:         "notetaker",
		Status:          meeting.StatusCompleted,
		StartedAt:       &start,
		EndedAt:         &end,
		DurationSeconds: &dur,
		HasRecording:    true,
		HasTranscript:   true,
		HasSummary:      true,
		Summary:         "Agreed to ship on Friday.",
		Version:         7,
	}
}

func TestNewMeetingCommand(t *testing.T) {
	cmd := NewMeetingCommand(operatorTestDeps(&fakeOperator{}))
	assert.Equal(t, "meeting", cmd.Use)
	assert.Contains(t, cmd.Aliases, "meetings")

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"get", "cancel", "job", "redrive"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestMeetingGetText(t *testing.T) {
	fake := &fakeOperator{meeting: sampleMeeting()}
	out, err := runMeeting(t, operatorTestDeps(fake), "get", "m-1", "--transcript")
	require.NoError(t, err)

	assert.Equal(t, "m-1", fake.gotID)
	assert.True(t, fake.gotTranscript)
	assert.Contains(t, out, "Weekly sync")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "45m0s")
	assert.Contains(t, out, "recording=yes transcript=yes summary=yes")
	assert.Contains(t, out, "Agreed to ship on Friday.")
}

func TestMeetingGetJSON(t *testing.T) {
	fake := &fakeOperator{meeting: sampleMeeting()}
	out, err := runMeeting(t, operatorTestDeps(fake), "get", "m-1", "-o", "json")
	require.NoError(t, err)

	var got api.MeetingView
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "m-1", got.ID)
	assert.Equal(t, int64(7), got.Version)
	assert.False(t, fake.gotTranscript)
}

func TestMeetingGetInvalidOutput(t *testing.T) {
	fake := &fakeOperator{meeting: sampleMeeting()}
	_, err := runMeeting(t, operatorTestDeps(fake), "get", "m-1", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output format")
	assert.Empty(t, fake.calls)
}

func TestMeetingGetRequiresID(t *testing.T) {
	_, err := runMeeting(t, operatorTestDeps(&fakeOperator{}), "get")
	assert.Error(t, err)
}

func TestMeetingCancel(t *testing.T) {
	m := sampleMeeting()
	m.Status = meeting.StatusCancelled
	fake := &fakeOperator{meeting: m}

	out, err := runMeeting(t, operatorTestDeps(fake), "cancel", "m-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"cancel"}, fake.calls)
	assert.Contains(t, out, "Meeting m-1 cancelled.")
}

func TestMeetingCancelRejected(t *testing.T) {
	fake := &fakeOperator{err: &client.APIError{
		StatusCode: http.StatusConflict,
		Code:       "invalid_transition",
		Message:    "meeting m-1 is active",
	}}

	_, err := runMeeting(t, operatorTestDeps(fake), "cancel", "m-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mwerrors.ErrInvalidTransition))
}

func TestMeetingUnauthorizedHint(t *testing.T) {
	fake := &fakeOperator{err: &client.APIError{StatusCode: http.StatusUnauthorized, Code: "unauthorized"}}

	_, err := runMeeting(t, operatorTestDeps(fake), "job", "m-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "meetwise auth status")
}

func TestMeetingJob(t *testing.T) {
	fake := &fakeOperator{job: &pipeline.Job{
		ID:        "j-1",
		MeetingID: "m-1",
		Stage:     pipeline.StageFailed,
		Attempt:   3,
		LastError: "transcription: upstream 502",
		UpdatedAt: time.Now(),
	}}

	out, err := runMeeting(t, operatorTestDeps(fake), "job", "m-1")
	require.NoError(t, err)
	assert.Contains(t, out, "j-1")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "upstream 502")
}

func TestMeetingRedriveYAML(t *testing.T) {
	fake := &fakeOperator{job: &pipeline.Job{ID: "j-2", MeetingID: "m-1", Stage: pipeline.StageQueued}}

	out, err := runMeeting(t, operatorTestDeps(fake), "redrive", "m-1", "-o", "yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"redrive"}, fake.calls)
	assert.Contains(t, out, "id: j-2")
}

func TestMeetingClientSetupError(t *testing.T) {
	deps := operatorTestDeps(nil)
	deps.NewClient = func(*config.ClientConfig) (OperatorClient, error) {
		return nil, errors.New("not authenticated")
	}

	_, err := runMeeting(t, deps, "get", "m-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authenticated")
}

func runAsk(t *testing.T, deps *OperatorCommandDeps, args ...string) (string, error) {
	t.Helper()
	cmd := NewAskCommand(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAsk(t *testing.T) {
	fake := &fakeOperator{answer: &assistant.Answer{MeetingID: "m-1", Answer: "Friday."}}

	out, err := runAsk(t, operatorTestDeps(fake), "m-1", "When", "do", "we", "ship?")
	require.NoError(t, err)
	assert.Equal(t, "m-1", fake.gotID)
	assert.Equal(t, "When do we ship?", fake.gotQuestion)
	assert.Nil(t, fake.gotHistory)
	assert.Equal(t, "Friday.\n", out)
}

func TestAskTruncatedNote(t *testing.T) {
	fake := &fakeOperator{answer: &assistant.Answer{Answer: "Ana.", TranscriptTruncated: true}}

	out, err := runAsk(t, operatorTestDeps(fake), "m-1", "Who spoke last?")
	require.NoError(t, err)
	assert.Contains(t, out, "end of a long transcript")
}

func TestAskWithHistoryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- role: user
  content: Who attended?
- role: assistant
  content: Ana and Raj.
`), 0o600))

	fake := &fakeOperator{answer: &assistant.Answer{Answer: "Raj."}}
	_, err := runAsk(t, operatorTestDeps(fake), "m-1", "Who owns the launch?", "--history-file", path)
	require.NoError(t, err)
	require.Len(t, fake.gotHistory, 2)
	assert.Equal(t, "assistant", fake.gotHistory[1].Role)
	assert.Equal(t, "Ana and Raj.", fake.gotHistory[1].Content)
}

func TestAskHistoryFileJSON(t *testing.T) {
	turns, err := readHistory(writeTemp(t, `[{"role":"user","content":"hi"}]`))
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "hi", turns[0].Content)
}

func TestAskHistoryFileMissing(t *testing.T) {
	fake := &fakeOperator{}
	_, err := runAsk(t, operatorTestDeps(fake), "m-1", "q", "--history-file", "/does/not/exist.yaml")
	require.Error(t, err)
	assert.Empty(t, fake.calls)
}

func TestAskRequiresQuestion(t *testing.T) {
	_, err := runAsk(t, operatorTestDeps(&fakeOperator{}), "m-1")
	assert.Error(t, err)
}

func TestAskNotReady(t *testing.T) {
	fake := &fakeOperator{err: &client.APIError{StatusCode: http.StatusConflict, Code: "not_ready", Message: "no transcript yet"}}

	_, err := runAsk(t, operatorTestDeps(fake), "m-1", "anything?")
	assert.ErrorIs(t, err, mwerrors.ErrNotReady)
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
