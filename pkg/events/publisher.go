// Package events publishes meeting change notifications on Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/meetwise/pkg/logging"
)

// Redis channels.
const (
	ChannelStatusChanged    = "events.meeting.status_changed"
	ChannelArtifactRecorded = "events.meeting.artifact_recorded"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

// NewBaseEvent creates a BaseEvent stamped now.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Source:    "meetwise",
		Version:   "1.0",
	}
}

// StatusChangedEvent is published after an applied status transition.
type StatusChangedEvent struct {
	BaseEvent

	MeetingID       string     `json:"meeting_id"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	MeetingVersion  int64      `json:"meeting_version"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
}

// ArtifactRecordedEvent is published after an artifact is first written.
// It carries the kind only; consumers read the value from the API.
type ArtifactRecordedEvent struct {
	BaseEvent

	MeetingID      string `json:"meeting_id"`
	Kind           string `json:"kind"`
	MeetingVersion int64  `json:"meeting_version"`
}

// Publisher sends meeting notifications. Publishing is best-effort:
// callers log failures and carry on, the store is the source of truth.
type Publisher interface {
	PublishStatusChanged(ctx context.Context, e StatusChangedEvent) error
	PublishArtifactRecorded(ctx context.Context, e ArtifactRecordedEvent) error
}

// RedisPublisher publishes to Redis channels.
type RedisPublisher struct {
	client redis.UniversalClient
	logger logging.Logger
}

// NewRedisPublisher creates a publisher on client.
func NewRedisPublisher(client redis.UniversalClient, logger logging.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		logger: logger.With(logging.Component("event_publisher")),
	}
}

func (p *RedisPublisher) PublishStatusChanged(ctx context.Context, e StatusChangedEvent) error {
	e.BaseEvent = NewBaseEvent("meeting.status_changed")
	return p.publish(ctx, ChannelStatusChanged, e)
}

func (p *RedisPublisher) PublishArtifactRecorded(ctx context.Context, e ArtifactRecordedEvent) error {
	e.BaseEvent = NewBaseEvent("meeting.artifact_recorded")
	return p.publish(ctx, ChannelArtifactRecorded, e)
}

func (p *RedisPublisher) publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Error("Failed to publish event",
			logging.Err(err),
			logging.F("channel", channel))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	p.logger.Debug("Event published", logging.F("channel", channel))
	return nil
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishStatusChanged(context.Context, StatusChangedEvent) error       { return nil }
func (NopPublisher) PublishArtifactRecorded(context.Context, ArtifactRecordedEvent) error { return nil }

// RecordingPublisher keeps events in memory for tests.
type RecordingPublisher struct {
	mu               sync.Mutex
	StatusChanged    []StatusChangedEvent
	ArtifactRecorded []ArtifactRecordedEvent
}

func (r *RecordingPublisher) PublishStatusChanged(_ context.Context, e StatusChangedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StatusChanged = append(r.StatusChanged, e)
	return nil
}

func (r *RecordingPublisher) PublishArtifactRecorded(_ context.Context, e ArtifactRecordedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ArtifactRecorded = append(r.ArtifactRecorded, e)
	return nil
}

var (
	_ Publisher = (*RedisPublisher)(nil)
	_ Publisher = NopPublisher{}
	_ Publisher = (*RecordingPublisher)(nil)
)
