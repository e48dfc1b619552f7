package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/otherjamesbrown/meetwise/pkg/agents"
	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
	"github.com/otherjamesbrown/meetwise/pkg/llm"
	"github.com/otherjamesbrown/meetwise/pkg/logging"
	"github.com/otherjamesbrown/meetwise/pkg/meeting"
)

// Summarizer turns a transcript into a meeting summary.
type Summarizer interface {
	Summarize(ctx context.Context, m *meeting.Meeting, transcript string) (string, error)
}

const summarySystemPrompt = `You write concise summaries of recorded meetings.
Use only the transcript you are given. Do not invent attendees, decisions or dates.
Structure the summary as: Overview, Key points, Decisions, Action items.`

const partSystemPrompt = `You take notes on one part of a longer meeting transcript.
Use only the text you are given. Keep every decision, owner, date and action item.
Write plain notes, not a finished summary.`

// DefaultSummaryInputChars bounds the text sent in one summarization request.
const DefaultSummaryInputChars = 60_000

// maxNotePasses bounds how often part notes are condensed again before the
// remainder is cut.
const maxNotePasses = 3

// LLMSummarizer summarizes with a chat-completions model, steered by the
// meeting agent's instructions. Transcripts longer than the input bound are
// split on line breaks, each part is condensed into notes, and the summary
// is written from the notes.
type LLMSummarizer struct {
	completer llm.Completer
	agents    agents.Reader
	logger    logging.Logger
	maxInput  int
}

// SummarizerOption configures an LLMSummarizer.
type SummarizerOption func(*LLMSummarizer)

// WithMaxInputChars bounds the transcript text per request. Values <= 0
// keep DefaultSummaryInputChars.
func WithMaxInputChars(n int) SummarizerOption {
	return func(s *LLMSummarizer) {
		if n > 0 {
			s.maxInput = n
		}
	}
}

// NewLLMSummarizer creates a summarizer.
func NewLLMSummarizer(c llm.Completer, r agents.Reader, logger logging.Logger, opts ...SummarizerOption) *LLMSummarizer {
	s := &LLMSummarizer{
		completer: c,
		agents:    r,
		logger:    logger.With(logging.Component("summarizer")),
		maxInput:  DefaultSummaryInputChars,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LLMSummarizer) Summarize(ctx context.Context, m *meeting.Meeting, transcript string) (string, error) {
	var agent *agents.Agent
	if m.AgentID != "" {
		a, err := s.agents.Get(ctx, m.AgentID)
		switch {
		case err == nil:
			agent = a
		case errors.Is(err, mwerrors.ErrNotFound):
			s.logger.Warn("Agent not found, summarizing without instructions",
				logging.MeetingID(m.ID),
				logging.F("agent_id", m.AgentID))
		default:
			return "", fmt.Errorf("failed to load agent %s: %w", m.AgentID, err)
		}
	}

	text, fromNotes := transcript, false
	for pass := 0; utf8.RuneCountInString(text) > s.maxInput; pass++ {
		if pass == maxNotePasses {
			s.logger.Warn("Part notes still too long, keeping the start",
				logging.MeetingID(m.ID),
				logging.F("chars", utf8.RuneCountInString(text)))
			text = headRunes(text, s.maxInput)
			break
		}
		notes, err := s.condense(ctx, m, text)
		if err != nil {
			return "", err
		}
		text, fromNotes = notes, true
	}

	resp, err := s.completer.Complete(ctx, llm.Request{
		Purpose:  "summary",
		System:   buildSummarySystem(agent),
		Messages: []llm.Message{{Role: llm.RoleUser, Content: buildSummaryInput(m, text, fromNotes)}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// condense splits text into parts within the input bound and returns the
// notes for each part, in order.
func (s *LLMSummarizer) condense(ctx context.Context, m *meeting.Meeting, text string) (string, error) {
	parts := splitLines(text, s.maxInput)
	s.logger.Info("Transcript exceeds summary input, condensing in parts",
		logging.MeetingID(m.ID),
		logging.F("parts", len(parts)))

	var b strings.Builder
	for i, part := range parts {
		resp, err := s.completer.Complete(ctx, llm.Request{
			Purpose: "summary_part",
			System:  partSystemPrompt,
			Messages: []llm.Message{{
				Role:    llm.RoleUser,
				Content: fmt.Sprintf("Meeting: %s\nPart %d of %d\n\nTranscript:\n%s", m.Name, i+1, len(parts), part),
			}},
		})
		if err != nil {
			return "", err
		}
		notes := strings.TrimSpace(resp.Content)
		if notes == "" {
			return "", mwerrors.NewProcessingError(mwerrors.CodeEmptyOutput, "",
				fmt.Sprintf("empty notes for part %d of %d", i+1, len(parts)), nil)
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Part %d:\n%s", i+1, notes)
	}
	return b.String(), nil
}

// splitLines cuts s into pieces of at most max runes, breaking between
// lines where it can.
func splitLines(s string, max int) []string {
	var (
		parts []string
		cur   strings.Builder
		n     int
	)
	flush := func() {
		if n > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
			n = 0
		}
	}
	for _, line := range strings.SplitAfter(s, "\n") {
		for line != "" {
			ln := utf8.RuneCountInString(line)
			if n+ln <= max {
				cur.WriteString(line)
				n += ln
				break
			}
			if n > 0 {
				flush()
				continue
			}
			// A single line longer than max.
			head := headRunes(line, max)
			parts = append(parts, head)
			line = line[len(head):]
		}
	}
	flush()
	return parts
}

func headRunes(s string, max int) string {
	i := 0
	for n := 0; n < max && i < len(s); n++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i]
}

func buildSummarySystem(agent *agents.Agent) string {
	if agent == nil || strings.TrimSpace(agent.Instructions) == "" {
		return summarySystemPrompt
	}
	var b strings.Builder
	b.WriteString(summarySystemPrompt)
	b.WriteString("\n\nThe meeting was run by the agent \"")
	b.WriteString(agent.Name)
	b.WriteString("\" with these instructions:\n")
	b.WriteString(strings.TrimSpace(agent.Instructions))
	return b.String()
}

func buildSummaryInput(m *meeting.Meeting, text string, fromNotes bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Meeting: %s\n", m.Name)
	if m.DurationSeconds != nil {
		fmt.Fprintf(&b, "Duration: %d seconds\n", *m.DurationSeconds)
	}
	if fromNotes {
		b.WriteString("\nThe transcript was too long to include. Notes on its consecutive parts:\n")
	} else {
		b.WriteString("\nTranscript:\n")
	}
	b.WriteString(text)
	return b.String()
}
