package meeting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusUpcoming, StatusActive, true},
		{StatusUpcoming, StatusCancelled, true},
		{StatusActive, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusUpcoming, StatusProcessing, false},
		{StatusActive, StatusCancelled, false},
		{StatusActive, StatusUpcoming, false},
		{StatusProcessing, StatusActive, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCancelled, StatusActive, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())

	st, err := ParseStatus("active")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, st)

	_, err = ParseStatus("archived")
	assert.ErrorIs(t, err, mwerrors.ErrValidation)
}

func TestApplyTransition_Lifecycle(t *testing.T) {
	m := New("m1", "Standup", "a1", t0)

	require.NoError(t, m.ApplyTransition(StatusUpcoming, StatusActive, t0.Add(time.Minute)))
	require.NotNil(t, m.StartedAt)

	require.NoError(t, m.ApplyTransition(StatusActive, StatusProcessing, t0.Add(31*time.Minute)))
	require.NotNil(t, m.EndedAt)
	require.NotNil(t, m.DurationSeconds)
	assert.Equal(t, int64(1800), *m.DurationSeconds)

	err := m.ApplyTransition(StatusProcessing, StatusCompleted, t0.Add(40*time.Minute))
	assert.ErrorIs(t, err, mwerrors.ErrInvalidTransition, "completed without artifacts")
	assert.Equal(t, StatusProcessing, m.Status)

	require.NoError(t, m.RecordArtifact(Transcript("hello"), t0))
	require.NoError(t, m.RecordArtifact(Summary("greeting"), t0))
	m.ProcessingError = "old failure"

	require.NoError(t, m.ApplyTransition(StatusProcessing, StatusCompleted, t0.Add(41*time.Minute)))
	assert.Equal(t, StatusCompleted, m.Status)
	assert.False(t, m.HasErrorFlag())
}

func TestApplyTransition_Errors(t *testing.T) {
	m := New("m1", "", "a1", t0)

	err := m.ApplyTransition(StatusActive, StatusProcessing, t0)
	assert.ErrorIs(t, err, mwerrors.ErrConflict)

	err = m.ApplyTransition(StatusUpcoming, StatusProcessing, t0)
	assert.ErrorIs(t, err, mwerrors.ErrInvalidTransition)

	require.NoError(t, m.ApplyTransition(StatusUpcoming, StatusCancelled, t0))
	err = m.ApplyTransition(StatusCancelled, StatusActive, t0)
	assert.ErrorIs(t, err, mwerrors.ErrInvalidTransition)
}

func TestApplyTransition_NegativeDurationClamped(t *testing.T) {
	m := New("m1", "", "a1", t0)
	require.NoError(t, m.ApplyTransition(StatusUpcoming, StatusActive, t0))
	require.NoError(t, m.ApplyTransition(StatusActive, StatusProcessing, t0.Add(-time.Second)))
	assert.Equal(t, int64(0), *m.DurationSeconds)
}

func TestClone(t *testing.T) {
	m := New("m1", "", "a1", t0)
	require.NoError(t, m.ApplyTransition(StatusUpcoming, StatusActive, t0))
	require.NoError(t, m.RecordArtifact(Recording("s3://r/1"), t0))

	c := m.Clone()
	*c.StartedAt = t0.Add(time.Hour)
	c.Artifacts[ArtifactTranscript] = Transcript("x")

	assert.Equal(t, t0, *m.StartedAt)
	assert.False(t, m.Artifacts.Has(ArtifactTranscript))
	assert.Nil(t, (*Meeting)(nil).Clone())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, New("m1", "", "a1", t0).Validate())
	assert.ErrorIs(t, New("", "", "a1", t0).Validate(), mwerrors.ErrValidation)
	assert.ErrorIs(t, New("m1", "", "", t0).Validate(), mwerrors.ErrValidation)
}
