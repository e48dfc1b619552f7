// Package workers runs a pool of goroutines draining the pipeline job queue.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
	"github.com/otherjamesbrown/meetwise/pkg/logging"
	"github.com/otherjamesbrown/meetwise/pkg/pipeline/queues"
)

// WorkerStatus represents a worker's current status.
type WorkerStatus string

const (
	WorkerStatusStarting WorkerStatus = "starting"
	WorkerStatusHealthy  WorkerStatus = "healthy"
	WorkerStatusDraining WorkerStatus = "draining"
	WorkerStatusStopped  WorkerStatus = "stopped"
)

// MessageHandler processes one delivery.
//
// A nil error acks the delivery. Errors matching ErrPermanentFailure,
// ErrNotFound or queues.ErrInvalidMessage dead-letter it; any other error
// nacks it with backoff so it is redelivered.
type MessageHandler func(ctx context.Context, d *queues.Delivery) error

// Config configures a pool.
type Config struct {
	Count           int           `yaml:"count"`
	BatchSize       int           `yaml:"batch_size"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	RecoverInterval time.Duration `yaml:"recover_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns pool defaults.
func DefaultConfig() Config {
	return Config{
		Count:           4,
		BatchSize:       1,
		PollInterval:    time.Second,
		HandlerTimeout:  10 * time.Minute,
		RecoverInterval: time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Backoff returns the redelivery delay after the given number of deliveries.
type Backoff func(deliveries int) time.Duration

// Worker is a single goroutine processing deliveries.
type Worker struct {
	ID     string
	status atomic.Value

	ProcessedCount atomic.Int64
	FailedCount    atomic.Int64
}

func (w *Worker) setStatus(s WorkerStatus) { w.status.Store(s) }

// Status returns the worker's current status.
func (w *Worker) Status() WorkerStatus {
	if s, ok := w.status.Load().(WorkerStatus); ok {
		return s
	}
	return WorkerStatusStarting
}

// Pool manages a fixed number of workers over one queue.
type Pool struct {
	cfg     Config
	queue   queues.Queue
	handler MessageHandler
	backoff Backoff
	logger  logging.Logger

	mu      sync.RWMutex
	workers []*Worker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithBackoff sets the redelivery backoff.
func WithBackoff(b Backoff) Option {
	return func(p *Pool) { p.backoff = b }
}

// NewPool creates a pool. Call Start to begin processing.
func NewPool(cfg Config, queue queues.Queue, handler MessageHandler, opts ...Option) *Pool {
	d := DefaultConfig()
	if cfg.Count <= 0 {
		cfg.Count = d.Count
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = d.HandlerTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}

	p := &Pool{
		cfg:     cfg,
		queue:   queue,
		handler: handler,
		backoff: func(int) time.Duration { return time.Second },
		logger:  logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logging.Component("worker_pool"), logging.F("queue", queue.Name()))
	return p
}

// Start launches the workers and, if configured, the stale-message janitor.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Count; i++ {
		w := &Worker{ID: uuid.NewString()}
		w.setStatus(WorkerStatusStarting)
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx, w)
		}()
	}

	if p.cfg.RecoverInterval > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.janitor(ctx)
		}()
	}

	p.logger.Info("Worker pool started", logging.F("workers", p.cfg.Count))
}

// Stop cancels the workers and waits for in-flight deliveries, up to ShutdownTimeout.
func (p *Pool) Stop() {
	p.mu.RLock()
	cancel := p.cancel
	for _, w := range p.workers {
		w.setStatus(WorkerStatusDraining)
	}
	p.mu.RUnlock()
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownTimeout):
		p.logger.Warn("Worker pool shutdown timed out")
	}

	p.mu.RLock()
	for _, w := range p.workers {
		w.setStatus(WorkerStatusStopped)
	}
	p.mu.RUnlock()
	p.logger.Info("Worker pool stopped")
}

func (p *Pool) run(ctx context.Context, w *Worker) {
	w.setStatus(WorkerStatusHealthy)
	for {
		if ctx.Err() != nil {
			return
		}
		ds, err := p.queue.Dequeue(ctx, p.cfg.BatchSize, p.cfg.PollInterval)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queues.ErrQueueClosed) {
				return
			}
			p.logger.Warn("Dequeue failed", logging.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}
		for _, d := range ds {
			p.process(ctx, w, d)
		}
	}
}

func (p *Pool) process(ctx context.Context, w *Worker, d *queues.Delivery) {
	log := p.logger.With(
		logging.F("delivery_id", d.ID),
		logging.JobID(d.Message.JobID),
		logging.MeetingID(d.Message.MeetingID),
	)

	// The handler keeps running on shutdown so a stage in flight can record its
	// outcome; HandlerTimeout bounds it.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.HandlerTimeout)
	err := p.handle(hctx, d)
	cancel()

	// Ack and nack must reach the queue even while shutting down.
	qctx := context.WithoutCancel(ctx)

	if err == nil {
		if ackErr := p.queue.Ack(qctx, d.ID); ackErr != nil {
			log.Warn("Ack failed", logging.Err(ackErr))
		}
		w.ProcessedCount.Add(1)
		return
	}

	w.FailedCount.Add(1)
	if isPermanent(err) {
		log.Error("Delivery dead-lettered", logging.Err(err))
		if dlqErr := p.queue.MoveToDeadLetter(qctx, d.ID, err.Error()); dlqErr != nil {
			log.Warn("Dead-letter failed", logging.Err(dlqErr))
		}
		return
	}

	delay := p.backoff(d.Deliveries)
	log.Warn("Delivery failed, will retry", logging.Err(err), logging.F("retry_in", delay))
	if nackErr := p.queue.Nack(qctx, d.ID, delay); nackErr != nil {
		log.Warn("Nack failed", logging.Err(nackErr))
	}
}

func (p *Pool) handle(ctx context.Context, d *queues.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	if err := d.Message.Validate(); err != nil {
		return err
	}
	return p.handler(ctx, d)
}

func isPermanent(err error) bool {
	return errors.Is(err, mwerrors.ErrPermanentFailure) ||
		errors.Is(err, mwerrors.ErrNotFound) ||
		errors.Is(err, queues.ErrInvalidMessage)
}

func (p *Pool) janitor(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.RecoverInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.RecoverStale(ctx)
			if err != nil {
				p.logger.Warn("Stale message recovery failed", logging.Err(err))
				continue
			}
			if n > 0 {
				p.logger.Info("Recovered stale deliveries", logging.F("count", n))
			}
		}
	}
}

// Stats contains pool statistics.
type Stats struct {
	WorkerCount int   `json:"worker_count"`
	ActiveCount int   `json:"active_count"`
	Processed   int64 `json:"processed"`
	Failed      int64 `json:"failed"`
}

// Stats returns pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Stats{WorkerCount: len(p.workers)}
	for _, w := range p.workers {
		if w.Status() == WorkerStatusHealthy {
			s.ActiveCount++
		}
		s.Processed += w.ProcessedCount.Load()
		s.Failed += w.FailedCount.Load()
	}
	return s
}
