package transcription

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var (
	// Cue header with a quoted speaker: 2 "Alan Dickens" (1262511360)
	cueSpeakerRegex = regexp.MustCompile(`^\d+\s+"([^"]*)"(?:\s+\((\d+)\))?`)

	// Cue timing: 00:00:05.579 --> 00:00:06.858 (hours optional)
	cueTimingRegex = regexp.MustCompile(`^((?:\d{2,}:)?\d{2}:\d{2}\.\d{3})\s+-->\s+((?:\d{2,}:)?\d{2}:\d{2}\.\d{3})`)

	// Voice span: <v Alan Dickens>text
	voiceRegex = regexp.MustCompile(`^<v(?:\.[^ >]*)?\s+([^>]+)>(.*)$`)

	tagRegex = regexp.MustCompile(`</?[^>]+>`)
)

// Cue is one timed transcript segment.
type Cue struct {
	Speaker string
	Text    string
	StartMs int
	EndMs   int
}

// Transcript is a parsed WebVTT transcript.
type Transcript struct {
	Cues     []Cue
	Speakers []string
	// DurationMs is the end of the last cue.
	DurationMs int
}

// Text renders the transcript one cue per line, prefixed with the speaker
// when known. Consecutive cues by the same speaker are joined.
func (t *Transcript) Text() string {
	var b strings.Builder
	prev := ""
	for i, c := range t.Cues {
		if i > 0 && c.Speaker != "" && c.Speaker == prev {
			b.WriteString(" ")
			b.WriteString(c.Text)
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		if c.Speaker != "" {
			b.WriteString(c.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(c.Text)
		prev = c.Speaker
	}
	return b.String()
}

// ParseVTT parses a WebVTT transcript. It understands both standard voice
// spans and the numbered quoted-speaker headers some providers emit.
func ParseVTT(r io.Reader) (*Transcript, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	t := &Transcript{}
	seen := make(map[string]bool)
	var cur *Cue

	flush := func() {
		if cur != nil && cur.Text != "" {
			t.Cues = append(t.Cues, *cur)
			if cur.Speaker != "" && !seen[cur.Speaker] {
				seen[cur.Speaker] = true
				t.Speakers = append(t.Speakers, cur.Speaker)
			}
		}
		cur = nil
	}

	inNote := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			inNote = false
			flush()
			continue
		}
		if inNote || strings.HasPrefix(line, "WEBVTT") {
			continue
		}
		if strings.HasPrefix(line, "NOTE") {
			inNote = true
			continue
		}

		if m := cueSpeakerRegex.FindStringSubmatch(line); m != nil {
			flush()
			cur = &Cue{Speaker: m[1]}
			continue
		}

		if m := cueTimingRegex.FindStringSubmatch(line); m != nil {
			if cur == nil || cur.Text != "" || cur.EndMs != 0 {
				speaker := ""
				if cur != nil && cur.Text == "" {
					speaker = cur.Speaker
				}
				flush()
				cur = &Cue{Speaker: speaker}
			}
			cur.StartMs = parseTimestamp(m[1])
			cur.EndMs = parseTimestamp(m[2])
			if cur.EndMs > t.DurationMs {
				t.DurationMs = cur.EndMs
			}
			continue
		}

		if cur == nil {
			// Bare cue identifier before the timing line.
			continue
		}

		text := line
		if m := voiceRegex.FindStringSubmatch(line); m != nil {
			if cur.Speaker == "" {
				cur.Speaker = strings.TrimSpace(m[1])
			}
			text = m[2]
		}
		text = strings.TrimSpace(tagRegex.ReplaceAllString(text, ""))
		if text == "" {
			continue
		}
		if cur.Text != "" {
			cur.Text += " "
		}
		cur.Text += text
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// parseTimestamp converts [HH:]MM:SS.mmm to milliseconds.
func parseTimestamp(ts string) int {
	parts := strings.Split(ts, ":")
	if len(parts) == 2 {
		parts = append([]string{"0"}, parts...)
	}
	if len(parts) != 3 {
		return 0
	}

	hours, _ := strconv.Atoi(parts[0])
	minutes, _ := strconv.Atoi(parts[1])

	sec, ms, _ := strings.Cut(parts[2], ".")
	seconds, _ := strconv.Atoi(sec)
	millis, _ := strconv.Atoi(ms)

	return hours*3600000 + minutes*60000 + seconds*1000 + millis
}
