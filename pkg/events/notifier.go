package events

import (
	"context"

	"github.com/otherjamesbrown/meetwise/pkg/audit"
	"github.com/otherjamesbrown/meetwise/pkg/logging"
	"github.com/otherjamesbrown/meetwise/pkg/meeting"
)

// Notifier fans a lifecycle change out to pub/sub and the audit trail.
// Failures are logged and swallowed. A nil Notifier does nothing.
type Notifier struct {
	publisher Publisher
	recorder  audit.Recorder
	logger    logging.Logger
}

// NewNotifier creates a notifier. Nil publisher or recorder disable that half.
func NewNotifier(p Publisher, r audit.Recorder, logger logging.Logger) *Notifier {
	if p == nil {
		p = NopPublisher{}
	}
	if r == nil {
		r = audit.NopRecorder{}
	}
	return &Notifier{publisher: p, recorder: r, logger: logger.With(logging.Component("notifier"))}
}

// StatusChanged announces an applied from -> m.Status transition.
func (n *Notifier) StatusChanged(ctx context.Context, m *meeting.Meeting, from meeting.Status, providerEventID string) {
	if n == nil {
		return
	}
	if err := n.publisher.PublishStatusChanged(ctx, StatusChangedEvent{
		MeetingID:       m.ID,
		From:            string(from),
		To:              string(m.Status),
		MeetingVersion:  m.Version,
		StartedAt:       m.StartedAt,
		EndedAt:         m.EndedAt,
		DurationSeconds: m.DurationSeconds,
	}); err != nil {
		n.logger.Warn("Status notification not delivered", logging.MeetingID(m.ID), logging.Err(err))
	}
	n.Audit(ctx, audit.Entry{
		MeetingID:       m.ID,
		Action:          audit.ActionTransition,
		Outcome:         "applied",
		FromStatus:      string(from),
		ToStatus:        string(m.Status),
		ProviderEventID: providerEventID,
	})
}

// ArtifactRecorded announces the first write of an artifact.
func (n *Notifier) ArtifactRecorded(ctx context.Context, m *meeting.Meeting, kind meeting.ArtifactKind) {
	if n == nil {
		return
	}
	if err := n.publisher.PublishArtifactRecorded(ctx, ArtifactRecordedEvent{
		MeetingID:      m.ID,
		Kind:           string(kind),
		MeetingVersion: m.Version,
	}); err != nil {
		n.logger.Warn("Artifact notification not delivered", logging.MeetingID(m.ID), logging.Err(err))
	}
	n.Audit(ctx, audit.Entry{
		MeetingID: m.ID,
		Action:    audit.ActionArtifact,
		Outcome:   "applied",
		ToStatus:  string(m.Status),
		Detail:    string(kind),
	})
}

// Audit writes a raw audit entry.
func (n *Notifier) Audit(ctx context.Context, e audit.Entry) {
	if n == nil {
		return
	}
	if err := n.recorder.Record(ctx, e); err != nil {
		n.logger.Warn("Audit entry not recorded",
			logging.MeetingID(e.MeetingID),
			logging.F("action", string(e.Action)),
			logging.Err(err))
	}
}
