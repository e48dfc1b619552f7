package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/meetwise/config"
	"github.com/otherjamesbrown/meetwise/migrations"
	"github.com/otherjamesbrown/meetwise/pkg/agents"
	"github.com/otherjamesbrown/meetwise/pkg/api"
	"github.com/otherjamesbrown/meetwise/pkg/assistant"
	"github.com/otherjamesbrown/meetwise/pkg/audit"
	"github.com/otherjamesbrown/meetwise/pkg/db"
	"github.com/otherjamesbrown/meetwise/pkg/dedup"
	"github.com/otherjamesbrown/meetwise/pkg/events"
	"github.com/otherjamesbrown/meetwise/pkg/ingest"
	"github.com/otherjamesbrown/meetwise/pkg/llm"
	"github.com/otherjamesbrown/meetwise/pkg/logging"
	"github.com/otherjamesbrown/meetwise/pkg/observability"
	"github.com/otherjamesbrown/meetwise/pkg/orchestrator"
	"github.com/otherjamesbrown/meetwise/pkg/pipeline"
	"github.com/otherjamesbrown/meetwise/pkg/pipeline/queues"
	"github.com/otherjamesbrown/meetwise/pkg/pipeline/workers"
	"github.com/otherjamesbrown/meetwise/pkg/store"
	"github.com/otherjamesbrown/meetwise/pkg/transcription"
)

// queueDepthInterval is how often the job queue depth gauge is refreshed.
const queueDepthInterval = 15 * time.Second

// AppOptions select how an App is assembled.
type AppOptions struct {
	// InMemory replaces PostgreSQL and Redis with in-process implementations.
	// Nothing survives a restart; meant for local development and tests.
	InMemory bool

	// Migrate applies pending schema migrations before starting.
	Migrate bool

	Logger logging.Logger

	// Registry receives every metric. Nil creates a fresh registry.
	Registry *prometheus.Registry

	// HTTPClient is used by the transcription and LLM clients when set.
	HTTPClient *http.Client
}

// App is a fully wired meetwise service.
type App struct {
	cfg    *config.Config
	logger logging.Logger

	Registry     *prometheus.Registry
	Meetings     store.Store
	Jobs         pipeline.JobStore
	Queue        queues.Queue
	Agents       agents.Reader
	Audit        audit.Recorder
	Orchestrator *orchestrator.Orchestrator
	Pipeline     *pipeline.Coordinator
	Assistant    *assistant.Assistant
	Workers      *workers.Pool
	API          *api.Server

	metrics  *observability.Metrics
	consumer *ingest.Consumer
	closers  []func()
}

// NewApp connects to backing services and wires every component.
func NewApp(ctx context.Context, cfg *config.Config, opts AppOptions) (app *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	a := &App{cfg: cfg, logger: logger, Registry: reg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.metrics = observability.NewMetrics(reg)
	var tracer *observability.Tracer
	if cfg.Tracing.Enabled {
		tracer = observability.NewTracer()
	}

	var (
		publisher events.Publisher = events.NopPublisher{}
		deduper   dedup.Deduper
		checks    []api.HealthChecker
	)

	if opts.InMemory {
		logger.Warn("Running with in-memory storage; state is lost on restart")
		a.Meetings = store.NewMemoryStore(nil)
		a.Jobs = pipeline.NewMemoryJobStore()
		a.Agents = agents.NewMemoryReader()
		deduper = dedup.NewMemoryDeduper(cfg.Dedup)
		a.Queue = queues.NewMemoryQueue(cfg.Pipeline.Queue)
		if cfg.Audit.Enabled {
			a.Audit = audit.NewMemoryRecorder()
		}
	} else {
		pool, err := a.connectDatabase(ctx, opts.Migrate)
		if err != nil {
			return nil, err
		}
		a.Meetings = store.NewPostgresStore(pool, logger)
		a.Jobs = pipeline.NewPostgresJobStore(pool)
		a.Agents = agents.NewPostgresReader(pool)
		checks = append(checks, db.Checker{Pool: pool})

		if cfg.Redis.Enabled() {
			rdb, err := a.connectRedis(ctx)
			if err != nil {
				return nil, err
			}
			deduper = dedup.NewRedisDeduper(rdb, cfg.Redis.KeyPrefix+":dedup", cfg.Dedup)
			a.Queue = queues.NewRedisQueue(rdb, cfg.Pipeline.Queue)
			publisher = events.NewRedisPublisher(rdb, logger)
			checks = append(checks, redisChecker{client: rdb})
		} else {
			logger.Warn("Redis not configured; dedup window and job queue are per-process")
			deduper = dedup.NewMemoryDeduper(cfg.Dedup)
			a.Queue = queues.NewMemoryQueue(cfg.Pipeline.Queue)
		}

		if cfg.Audit.Enabled {
			rec, err := audit.OpenPostgresRecorder(cfg.AuditDSN())
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, func() { _ = rec.Close() })
			a.Audit = rec
		}
	}
	a.closers = append(a.closers, func() { _ = a.Queue.Close() })
	if a.Audit == nil {
		a.Audit = audit.NopRecorder{}
	}

	notifier := events.NewNotifier(publisher, a.Audit, logger)

	completer := llm.NewClient(cfg.LLM,
		llm.WithHTTPClient(opts.HTTPClient),
		llm.WithMetrics(a.metrics),
		llm.WithTracer(tracer))

	a.Pipeline, err = pipeline.NewCoordinator(cfg.Pipeline.Config, pipeline.Deps{
		Meetings:    a.Meetings,
		Jobs:        a.Jobs,
		Queue:       a.Queue,
		Transcriber: transcription.NewClient(cfg.Transcription, opts.HTTPClient),
		Summarizer:  pipeline.NewLLMSummarizer(completer, a.Agents, logger,
			pipeline.WithMaxInputChars(cfg.Pipeline.SummaryInputChars)),
	},
		pipeline.WithLogger(logger),
		pipeline.WithNotifier(notifier),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithTracer(tracer))
	if err != nil {
		return nil, fmt.Errorf("creating pipeline coordinator: %w", err)
	}

	a.Orchestrator = orchestrator.New(a.Meetings, deduper, a.Pipeline,
		orchestrator.WithLogger(logger),
		orchestrator.WithNotifier(notifier),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithTracer(tracer))

	a.Assistant = assistant.New(cfg.Assistant, a.Meetings, a.Agents, completer,
		assistant.WithLogger(logger),
		assistant.WithMetrics(a.metrics),
		assistant.WithTracer(tracer))

	// A delivery must outlive every stage attempt and backoff of one job.
	poolCfg := cfg.Pipeline.Workers
	if jt := cfg.Pipeline.JobTimeout(); poolCfg.HandlerTimeout < jt {
		poolCfg.HandlerTimeout = jt
	}
	a.Workers = workers.NewPool(poolCfg, a.Queue, a.Pipeline.HandleDelivery, workers.WithLogger(logger))

	if cfg.NATS.Enabled {
		a.consumer, err = ingest.Connect(cfg.NATS, a.Orchestrator, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.consumer.Close)
	}

	a.API = api.NewServer(cfg.Server, api.Deps{
		Meetings:  a.Meetings,
		Events:    a.Orchestrator,
		Pipeline:  a.Pipeline,
		Assistant: a.Assistant,
		Gatherer:  reg,
		Checks:    checks,
	}, logger)

	if cfg.Server.OperatorTokenHash == "" {
		logger.Warn("No operator token hash configured; operator API is disabled")
	}
	return a, nil
}

func (a *App) connectDatabase(ctx context.Context, migrate bool) (*pgxpool.Pool, error) {
	pool, err := db.ConnectWithRetry(ctx, a.cfg.Database, 5, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	a.closers = append(a.closers, func() { db.Close(pool) })

	if _, err := db.RegisterPoolStatsCollector(a.Registry, pool, "meetwise"); err != nil {
		return nil, fmt.Errorf("registering pool metrics: %w", err)
	}

	if migrate {
		res, err := db.RunMigrations(ctx, pool, migrations.FS)
		if err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		if len(res.Applied) > 0 {
			a.logger.Info("Applied migrations", logging.F("versions", res.Applied))
		}
	}
	return pool, nil
}

func (a *App) connectRedis(ctx context.Context) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", a.cfg.Redis.Addr, err)
	}
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	return rdb, nil
}

// Run starts background workers and serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Workers.Start(ctx)
	defer a.Workers.Stop()

	// The first sweep re-enqueues jobs orphaned by a previous crash.
	go a.Pipeline.RunSweeper(ctx)
	go a.reportQueueDepth(ctx)

	if a.consumer != nil {
		if err := a.consumer.Start(ctx); err != nil {
			return fmt.Errorf("starting event consumer: %w", err)
		}
	}

	err := a.API.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) reportQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()
	for {
		depth, err := a.Queue.Depth(ctx)
		if err == nil {
			a.metrics.SetQueueDepth(a.Queue.Name(), depth)
		} else if ctx.Err() == nil {
			a.logger.Debug("Queue depth unavailable", logging.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

type redisChecker struct {
	client redis.UniversalClient
}

func (redisChecker) Name() string { return "redis" }

func (c redisChecker) Check(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
