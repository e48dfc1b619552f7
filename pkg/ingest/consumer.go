// Package ingest consumes provider lifecycle events from NATS JetStream and
// feeds them to the orchestrator. It is an alternative to the HTTP webhook
// for providers that publish to a message bus.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
	"github.com/otherjamesbrown/meetwise/pkg/logging"
	"github.com/otherjamesbrown/meetwise/pkg/orchestrator"
)

// Config configures the JetStream consumer.
type Config struct {
	Enabled    bool          `yaml:"enabled"`
	URL        string        `yaml:"url"`
	Stream     string        `yaml:"stream"`
	Subjects   []string      `yaml:"subjects"`
	Durable    string        `yaml:"durable"`
	AckWait    time.Duration `yaml:"ack_wait"`
	MaxDeliver int           `yaml:"max_deliver"`
	// RetryDelay is the redelivery delay after a handler failure.
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// DefaultConfig returns consumer defaults.
func DefaultConfig() Config {
	return Config{
		URL:        nats.DefaultURL,
		Stream:     "MEETING_EVENTS",
		Subjects:   []string{"meetwise.provider.>"},
		Durable:    "meetwise-orchestrator",
		AckWait:    30 * time.Second,
		MaxDeliver: 10,
		RetryDelay: 5 * time.Second,
	}
}

// EventHandler applies one provider event.
type EventHandler interface {
	HandleEvent(ctx context.Context, e orchestrator.Event) (orchestrator.Result, error)
}

// Consumer binds a durable JetStream consumer to the orchestrator.
type Consumer struct {
	cfg     Config
	nc      *nats.Conn
	js      jetstream.JetStream
	cc      jetstream.ConsumeContext
	handler EventHandler
	logger  logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// Connect dials NATS and prepares a consumer. Call Start to begin consuming.
func Connect(cfg Config, handler EventHandler, logger logging.Logger) (*Consumer, error) {
	logger = logger.With(logging.Component("ingest"))

	nc, err := nats.Connect(cfg.URL,
		nats.Name("meetwise"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", logging.Err(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	c := newConsumer(cfg, handler, logger)
	c.nc = nc
	c.js = js
	return c, nil
}

func newConsumer(cfg Config, handler EventHandler, logger logging.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start ensures the stream exists and begins consuming.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.ensureStream(ctx); err != nil {
		return err
	}

	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.Stream, jetstream.ConsumerConfig{
		Name:          c.cfg.Durable,
		Durable:       c.cfg.Durable,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    c.cfg.MaxDeliver,
		AckWait:       c.cfg.AckWait,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", c.cfg.Durable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		c.handleMessage(msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.Durable, err)
	}
	c.cc = cc

	c.logger.Info("Consuming provider events",
		logging.F("stream", c.cfg.Stream),
		logging.F("consumer", c.cfg.Durable))
	return nil
}

func (c *Consumer) ensureStream(ctx context.Context) error {
	if _, err := c.js.Stream(ctx, c.cfg.Stream); err == nil {
		return nil
	}

	_, err := c.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  c.cfg.Subjects,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", c.cfg.Stream, err)
	}
	c.logger.Info("Created stream", logging.F("stream", c.cfg.Stream), logging.F("subjects", c.cfg.Subjects))
	return nil
}

// handleMessage acks handled events, terminates ones that can never succeed
// and naks the rest for redelivery.
func (c *Consumer) handleMessage(msg jetstream.Msg) {
	log := c.logger.With(logging.F("subject", msg.Subject()))

	var e orchestrator.Event
	if err := json.Unmarshal(msg.Data(), &e); err != nil {
		log.Warn("Malformed provider event, discarding", logging.Err(err))
		c.settle(log, msg.Term())
		return
	}

	res, err := c.handler.HandleEvent(c.ctx, e)
	switch {
	case err == nil:
		log.Debug("Provider event handled",
			logging.F("provider_event_id", e.ProviderEventID),
			logging.F("outcome", string(res.Outcome)))
		c.settle(log, msg.Ack())
	case errors.Is(err, mwerrors.ErrValidation):
		log.Warn("Invalid provider event, discarding", logging.Err(err))
		c.settle(log, msg.Term())
	default:
		log.Warn("Provider event failed, will be redelivered",
			logging.F("provider_event_id", e.ProviderEventID),
			logging.Err(err))
		c.settle(log, msg.NakWithDelay(c.cfg.RetryDelay))
	}
}

func (c *Consumer) settle(log logging.Logger, err error) {
	if err != nil {
		log.Warn("Failed to settle message", logging.Err(err))
	}
}

// Close stops consuming and drains the connection.
func (c *Consumer) Close() {
	c.cancel()
	if c.cc != nil {
		c.cc.Stop()
	}
	if c.nc != nil {
		if err := c.nc.Drain(); err != nil {
			c.logger.Warn("NATS drain failed", logging.Err(err))
		}
	}
}
