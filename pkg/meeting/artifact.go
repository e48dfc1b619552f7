package meeting

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
)

// ArtifactKind tags an artifact variant.
type ArtifactKind string

const (
	ArtifactRecording  ArtifactKind = "recording"
	ArtifactTranscript ArtifactKind = "transcript"
	ArtifactSummary    ArtifactKind = "summary"
)

// Valid reports whether k is a known artifact kind.
func (k ArtifactKind) Valid() bool {
	switch k {
	case ArtifactRecording, ArtifactTranscript, ArtifactSummary:
		return true
	}
	return false
}

// Artifact is one processing output. For recordings Value is the fetchable
// reference; for transcripts and summaries it is the text itself.
type Artifact struct {
	Kind       ArtifactKind `json:"kind"`
	Value      string       `json:"value"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// Recording, Transcript and Summary construct the artifact variants.
func Recording(url string) Artifact   { return Artifact{Kind: ArtifactRecording, Value: url} }
func Transcript(text string) Artifact { return Artifact{Kind: ArtifactTranscript, Value: text} }
func Summary(text string) Artifact    { return Artifact{Kind: ArtifactSummary, Value: text} }

// Validate rejects unknown kinds and empty values.
func (a Artifact) Validate() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("unknown artifact kind %q: %w", a.Kind, mwerrors.ErrValidation)
	}
	if strings.TrimSpace(a.Value) == "" {
		return fmt.Errorf("%s artifact is empty: %w", a.Kind, mwerrors.ErrValidation)
	}
	return nil
}

// Artifacts holds at most one artifact per kind.
type Artifacts map[ArtifactKind]Artifact

// Has reports whether kind is present.
func (a Artifacts) Has(kind ArtifactKind) bool {
	_, ok := a[kind]
	return ok
}

// Get returns the artifact of the given kind.
func (a Artifacts) Get(kind ArtifactKind) (Artifact, bool) {
	v, ok := a[kind]
	return v, ok
}

// Value returns the artifact value or "" when absent.
func (a Artifacts) Value(kind ArtifactKind) string {
	return a[kind].Value
}

// ErrUnchanged is returned by RecordArtifact when the same value is already
// stored. Stores treat it as a successful no-op.
var ErrUnchanged = errors.New("artifact unchanged")

// RecordArtifact writes art into m if the write is allowed.
//
// Each kind is written at most once. Rewriting the identical value returns
// ErrUnchanged; a different value is a conflict. Recordings may be written
// while active or processing; transcripts and summaries only while processing,
// and a summary only after the transcript.
func (m *Meeting) RecordArtifact(art Artifact, at time.Time) error {
	if err := art.Validate(); err != nil {
		return err
	}
	if m.Artifacts == nil {
		m.Artifacts = Artifacts{}
	}

	if existing, ok := m.Artifacts[art.Kind]; ok {
		if existing.Value == art.Value {
			return ErrUnchanged
		}
		return fmt.Errorf("meeting %s already has a %s: %w", m.ID, art.Kind, mwerrors.ErrConflict)
	}

	if m.Status.IsTerminal() {
		return fmt.Errorf("meeting %s is %s: %w", m.ID, m.Status, mwerrors.ErrConflict)
	}

	switch art.Kind {
	case ArtifactRecording:
		if m.Status != StatusActive && m.Status != StatusProcessing {
			return fmt.Errorf("meeting %s is %s, recording not accepted: %w", m.ID, m.Status, mwerrors.ErrInvalidTransition)
		}
	case ArtifactTranscript:
		if m.Status != StatusProcessing {
			return fmt.Errorf("meeting %s is %s, transcript not accepted: %w", m.ID, m.Status, mwerrors.ErrInvalidTransition)
		}
	case ArtifactSummary:
		if m.Status != StatusProcessing {
			return fmt.Errorf("meeting %s is %s, summary not accepted: %w", m.ID, m.Status, mwerrors.ErrInvalidTransition)
		}
		if !m.Artifacts.Has(ArtifactTranscript) {
			return fmt.Errorf("meeting %s: summary before transcript: %w", m.ID, mwerrors.ErrInvalidTransition)
		}
	}

	art.RecordedAt = at.UTC()
	m.Artifacts[art.Kind] = art
	m.UpdatedAt = at.UTC()
	return nil
}
