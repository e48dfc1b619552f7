// Package assistant answers questions about a single meeting's transcript.
//
// Every question is answered from exactly one meeting: its transcript and its
// agent's instructions. The only state carried between questions is the
// history the caller passes in, capped to a configured number of turns.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/otherjamesbrown/meetwise/pkg/agents"
	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
	"github.com/otherjamesbrown/meetwise/pkg/llm"
	"github.com/otherjamesbrown/meetwise/pkg/logging"
	"github.com/otherjamesbrown/meetwise/pkg/meeting"
	"github.com/otherjamesbrown/meetwise/pkg/observability"
)

// Config bounds what is sent to the model.
type Config struct {
	// MaxHistory is the number of caller-supplied turns kept; oldest go first.
	MaxHistory int `yaml:"max_history"`
	// MaxTranscriptChars caps transcript context. The tail is kept.
	MaxTranscriptChars int     `yaml:"max_transcript_chars"`
	MaxTokens          int     `yaml:"max_tokens"`
	Temperature        float32 `yaml:"temperature"`
}

// DefaultConfig returns the assistant defaults.
func DefaultConfig() Config {
	return Config{
		MaxHistory:         20,
		MaxTranscriptChars: 60_000,
		MaxTokens:          1024,
		Temperature:        0.2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxHistory <= 0 {
		c.MaxHistory = d.MaxHistory
	}
	if c.MaxTranscriptChars <= 0 {
		c.MaxTranscriptChars = d.MaxTranscriptChars
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	return c
}

// Turn is one prior exchange supplied by the caller.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Answer is the assistant's reply.
type Answer struct {
	MeetingID string `json:"meeting_id"`
	Answer    string `json:"answer"`
	Model     string `json:"model,omitempty"`

	// TranscriptTruncated is set when only the tail of the transcript fit.
	TranscriptTruncated bool `json:"transcript_truncated,omitempty"`
	HistoryUsed         int  `json:"history_used"`
}

// MeetingReader is the slice of the meeting store the assistant needs.
type MeetingReader interface {
	Get(ctx context.Context, id string) (*meeting.Meeting, error)
}

// Assistant answers transcript questions.
type Assistant struct {
	cfg       Config
	meetings  MeetingReader
	agents    agents.Reader
	completer llm.Completer

	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  logging.Logger
}

// Option configures the assistant.
type Option func(*Assistant)

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(a *Assistant) { a.logger = logger }
}

// WithMetrics records question outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Assistant) { a.metrics = m }
}

// WithTracer records a span per question.
func WithTracer(t *observability.Tracer) Option {
	return func(a *Assistant) { a.tracer = t }
}

// New creates an assistant.
func New(cfg Config, meetings MeetingReader, r agents.Reader, c llm.Completer, opts ...Option) *Assistant {
	a := &Assistant{
		cfg:       cfg.withDefaults(),
		meetings:  meetings,
		agents:    r,
		completer: c,
		logger:    logging.MustGlobal(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logging.Component("assistant"))
	return a
}

const systemPrompt = `You answer questions about one recorded meeting.
Answer only from the transcript below. If the transcript does not contain the
answer, say so plainly. Quote speakers by name when it helps.`

// Ask answers question against meetingID's transcript. It fails with
// ErrNotReady until the transcript has been written.
func (a *Assistant) Ask(ctx context.Context, meetingID, question string, history []Turn) (*Answer, error) {
	ctx, span := a.tracer.StartAskSpan(ctx, meetingID)
	defer span.End()
	helper := observability.NewSpanHelper(span)

	log := a.logger.With(logging.MeetingID(meetingID))

	ans, err := a.ask(ctx, log, meetingID, question, history)
	outcome := outcomeOf(err)
	a.metrics.RecordAssistantQuestion(outcome)
	if err != nil {
		helper.SetError(err, outcome, mwerrors.IsTransient(err))
		if outcome == "error" {
			log.Error("Assistant question failed", logging.Err(err))
		} else {
			log.Info("Assistant question refused", logging.F("outcome", outcome), logging.Err(err))
		}
		return nil, err
	}
	helper.SetSuccess()
	return ans, nil
}

func (a *Assistant) ask(ctx context.Context, log logging.Logger, meetingID, question string, history []Turn) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is required: %w", mwerrors.ErrValidation)
	}
	if err := validateHistory(history); err != nil {
		return nil, err
	}

	m, err := a.meetings.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	transcript, ok := m.Artifacts.Get(meeting.ArtifactTranscript)
	if !ok || (m.Status != meeting.StatusProcessing && m.Status != meeting.StatusCompleted) {
		return nil, fmt.Errorf("meeting %s is %s with no transcript yet: %w", meetingID, m.Status, mwerrors.ErrNotReady)
	}

	agent, err := a.agent(ctx, log, m)
	if err != nil {
		return nil, err
	}

	excerpt, truncated := tail(transcript.Value, a.cfg.MaxTranscriptChars)
	kept := lastTurns(history, a.cfg.MaxHistory)

	msgs := make([]llm.Message, 0, len(kept)+1)
	for _, t := range kept {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: question})

	start := time.Now()
	resp, err := a.completer.Complete(ctx, llm.Request{
		Purpose:     "chat",
		System:      buildSystem(m, agent, excerpt, truncated),
		Messages:    msgs,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	log.Debug("Question answered",
		logging.F("history_used", len(kept)),
		logging.F("transcript_truncated", truncated),
		logging.F("latency_ms", time.Since(start).Milliseconds()))

	return &Answer{
		MeetingID:           m.ID,
		Answer:              strings.TrimSpace(resp.Content),
		Model:               resp.Model,
		TranscriptTruncated: truncated,
		HistoryUsed:         len(kept),
	}, nil
}

func (a *Assistant) agent(ctx context.Context, log logging.Logger, m *meeting.Meeting) (*agents.Agent, error) {
	if m.AgentID == "" {
		return nil, nil
	}
	agent, err := a.agents.Get(ctx, m.AgentID)
	switch {
	case err == nil:
		return agent, nil
	case errors.Is(err, mwerrors.ErrNotFound):
		log.Warn("Agent not found, answering without instructions", logging.F("agent_id", m.AgentID))
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to load agent %s: %w", m.AgentID, err)
	}
}

func validateHistory(history []Turn) error {
	for i, t := range history {
		if t.Role != llm.RoleUser && t.Role != llm.RoleAssistant {
			return fmt.Errorf("history[%d]: role %q not allowed: %w", i, t.Role, mwerrors.ErrValidation)
		}
		if strings.TrimSpace(t.Content) == "" {
			return fmt.Errorf("history[%d]: content is required: %w", i, mwerrors.ErrValidation)
		}
	}
	return nil
}

func lastTurns(history []Turn, n int) []Turn {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// tail returns at most max characters from the end of s, starting at a line
// boundary when one is close enough.
func tail(s string, max int) (string, bool) {
	if utf8.RuneCountInString(s) <= max {
		return s, false
	}
	runes := []rune(s)
	out := string(runes[len(runes)-max:])
	if i := strings.IndexByte(out, '\n'); i >= 0 && i < len(out)/4 {
		out = out[i+1:]
	}
	return out, true
}

func buildSystem(m *meeting.Meeting, agent *agents.Agent, transcript string, truncated bool) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	if agent != nil && strings.TrimSpace(agent.Instructions) != "" {
		fmt.Fprintf(&b, "\n\nThe meeting was run by the agent %q with these instructions:\n", agent.Name)
		b.WriteString(strings.TrimSpace(agent.Instructions))
	}
	fmt.Fprintf(&b, "\n\nMeeting: %s\n", m.Name)
	if truncated {
		b.WriteString("Only the end of the transcript is included.\n")
	}
	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	return b.String()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "answered"
	case mwerrors.IsNotReady(err):
		return "not_ready"
	case mwerrors.IsValidation(err):
		return "invalid"
	case mwerrors.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}
