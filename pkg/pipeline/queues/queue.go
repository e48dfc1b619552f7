// Package queues dispatches pipeline jobs to workers.
//
// Delivery is at-least-once. A dequeued message stays invisible for the
// visibility timeout; if it is neither acked nor nacked in that time
// RecoverStale makes it visible again.
package queues

import (
	"context"
	"errors"
	"time"
)

// Queue errors.
var (
	ErrMessageNotFound = errors.New("message not found")
	ErrQueueClosed     = errors.New("queue is closed")
	ErrInvalidMessage  = errors.New("invalid message")
)

// Message asks a worker to run one pipeline job.
type Message struct {
	JobID     string `json:"job_id"`
	MeetingID string `json:"meeting_id"`
}

// Validate rejects messages without ids.
func (m Message) Validate() error {
	if m.JobID == "" || m.MeetingID == "" {
		return ErrInvalidMessage
	}
	return nil
}

// Delivery is a dequeued message.
type Delivery struct {
	ID         string    `json:"id"`
	Message    Message   `json:"message"`
	Deliveries int       `json:"deliveries"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is the job dispatch contract.
type Queue interface {
	Name() string
	Enqueue(ctx context.Context, msg Message) error

	// Dequeue waits up to timeout for at most max visible messages.
	Dequeue(ctx context.Context, max int, timeout time.Duration) ([]*Delivery, error)

	Ack(ctx context.Context, id string) error

	// Nack makes the message visible again after delay, or dead-letters it
	// once it has been delivered MaxDeliveries times.
	Nack(ctx context.Context, id string, delay time.Duration) error

	MoveToDeadLetter(ctx context.Context, id, reason string) error
	Depth(ctx context.Context) (int64, error)

	// RecoverStale requeues messages whose visibility timeout expired.
	RecoverStale(ctx context.Context) (int, error)

	Close() error
}

// Config configures a queue.
type Config struct {
	Name              string        `yaml:"name"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxDeliveries     int           `yaml:"max_deliveries"`
	RetentionPeriod   time.Duration `yaml:"retention_period"`
}

// DefaultConfig returns the pipeline job queue defaults.
func DefaultConfig() Config {
	return Config{
		Name:              "pipeline:jobs",
		VisibilityTimeout: 15 * time.Minute,
		MaxDeliveries:     5,
		RetentionPeriod:   7 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = d.VisibilityTimeout
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = d.MaxDeliveries
	}
	if c.RetentionPeriod <= 0 {
		c.RetentionPeriod = d.RetentionPeriod
	}
	return c
}

// DeadLetter is a message that will not be retried.
type DeadLetter struct {
	Delivery Delivery  `json:"delivery"`
	Reason   string    `json:"reason"`
	MovedAt  time.Time `json:"moved_at"`
}
