package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reputul/drip/internal/actions"
	"github.com/reputul/drip/internal/catalog"
	"github.com/reputul/drip/internal/channels"
	"github.com/reputul/drip/internal/conditions"
	"github.com/reputul/drip/internal/engine"
	"github.com/reputul/drip/internal/lease"
	"github.com/reputul/drip/internal/scheduler"
	"github.com/reputul/drip/internal/store"
	"github.com/reputul/drip/internal/streaming"
	"github.com/reputul/drip/internal/validation"
)

const eventChannel = "drip:events"

// app is the wired engine shared by every subcommand.
type app struct {
	cfg        Config
	logger     *slog.Logger
	store      store.Store
	catalog    *catalog.MemoryCatalog
	registry   *actions.Registry
	hub        streaming.EventHub
	redis      *redis.Client
	executor   *engine.Executor
	pool       *engine.WorkerPool
	dispatcher *engine.Dispatcher
	service    *scheduler.Service
}

func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = st
	if err := st.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	if err := a.loadCatalog(); err != nil {
		a.Close()
		return nil, err
	}

	a.registry = actions.NewRegistry()
	if err := actions.RegisterBuiltins(a.registry, a.channelDeps()); err != nil {
		a.Close()
		return nil, fmt.Errorf("register actions: %w", err)
	}

	v, err := validation.NewJSONSchemaValidator(a.registry)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create validator: %w", err)
	}
	for _, wf := range a.catalog.Workflows() {
		if err := v.ValidateWorkflow(wf); err != nil {
			a.Close()
			return nil, fmt.Errorf("workflow %s: %w", wf.ID, err)
		}
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.hub = streaming.NewRedisHub(a.redis, eventChannel, logger)
	} else {
		a.hub = streaming.NewMemoryHub()
	}

	ev, err := conditions.NewEngineEvaluator()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create condition evaluator: %w", err)
	}

	a.executor, err = engine.NewExecutor(engine.ExecutorDeps{
		Store:      a.store,
		Hub:        a.hub,
		Catalog:    a.catalog,
		Conditions: ev,
		Actions:    a.registry,
		Validator:  v,
		Logger:     logger,
	}, engine.ExecutorConfig{})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create executor: %w", err)
	}
	a.pool = engine.NewWorkerPool(cfg.PoolSize, logger)
	a.dispatcher = engine.NewDispatcher(a.pool, a.executor, logger)

	bh := scheduler.DefaultBusinessHours()
	bh.StartHour = cfg.BusinessHoursStart
	bh.EndHour = cfg.BusinessHoursEnd
	a.service, err = scheduler.NewService(scheduler.ServiceDeps{
		Store:      a.store,
		Catalog:    a.catalog,
		Conditions: ev,
		FSM:        a.executor.FSM(),
		Dispatcher: a.dispatcher,
		Logger:     logger,
	}, scheduler.ServiceConfig{
		ImmediateWindow: time.Duration(cfg.ImmediateWindow),
		BusinessHours:   bh,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return a, nil
}

func openStore(ctx context.Context, cfg Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		return store.NewPostgresStore(ctx, logger, cfg.DatabaseURL)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return store.NewLibSQLStore("file:" + cfg.DBPath)
	}
}

func (a *app) loadCatalog() error {
	if a.cfg.CatalogPath == "" {
		a.logger.Warn("no catalog configured, nothing can be scheduled")
		a.catalog = catalog.NewMemoryCatalog()
		return nil
	}
	// Workflows are validated once the action registry exists.
	cat, err := catalog.LoadFile(a.cfg.CatalogPath, nil)
	if err != nil {
		return err
	}
	a.catalog = cat
	a.logger.Info("catalog loaded",
		slog.String("path", a.cfg.CatalogPath),
		slog.Int("workflows", len(cat.Workflows())))
	return nil
}

// channelDeps picks the delivery channels: HTTP relays when configured,
// otherwise senders that only log.
func (a *app) channelDeps() actions.Deps {
	webhook := channels.NewHTTPWebhookCaller(channels.WebhookConfig{Timeout: time.Duration(a.cfg.WebhookTimeout)})
	logSender := channels.NewLogSender(a.logger)
	relay := channels.NewRelaySender(webhook, a.cfg.EmailRelayURL, a.cfg.SMSRelayURL, nil)

	var email channels.EmailSender = logSender
	if a.cfg.EmailRelayURL != "" {
		email = relay
	}
	var sms channels.SMSSender = logSender
	if a.cfg.SMSRelayURL != "" {
		sms = relay
	}
	policy := channels.DefaultSMSRetryPolicy
	policy.MaxRetries = a.cfg.SMSMaxRetries

	return actions.Deps{
		Email:    email,
		SMS:      channels.NewRetryingSMSSender(sms, policy, nil, a.logger),
		Webhook:  webhook,
		Entities: a.catalog,
	}
}

// runner builds the periodic poll, watchdog and retention tasks.
func (a *app) runner() (*scheduler.Runner, error) {
	var l lease.Lease
	if a.redis != nil {
		rl := lease.NewRedisLease(a.redis, "")
		a.logger.Info("leader lease enabled", slog.String("owner", rl.Owner()))
		l = rl
	}
	r := scheduler.NewRunner(nil, l, time.Duration(a.cfg.LeaseTTL), a.logger)

	fsm := a.executor.FSM()
	poller := scheduler.NewPoller(a.store, a.dispatcher, fsm, nil, a.logger, scheduler.PollerConfig{
		PerTenant: a.cfg.PerTenant,
		BatchSize: a.cfg.PollBatch,
	})
	watchdog := scheduler.NewWatchdog(a.store, fsm, nil, a.logger, time.Duration(a.cfg.StuckTimeout))
	sweeper := scheduler.NewSweeper(a.store, a.hub, nil, a.logger, a.cfg.RetentionDays)

	sweep, err := scheduler.CronTask("sweep", a.cfg.RetentionSchedule, func(ctx context.Context) error {
		_, err := sweeper.Tick(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, t := range []scheduler.Task{
		scheduler.IntervalTask("poll", time.Duration(a.cfg.PollInterval), func(ctx context.Context) error {
			_, err := poller.Tick(ctx)
			return err
		}),
		scheduler.IntervalTask("watchdog", time.Duration(a.cfg.WatchdogInterval), func(ctx context.Context) error {
			_, err := watchdog.Tick(ctx)
			return err
		}),
		sweep,
	} {
		if err := r.Add(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Drain waits for dispatched executions, then stops accepting work.
func (a *app) Drain() {
	if a.pool != nil {
		a.pool.Shutdown()
	}
}

// Close releases the store and the Redis client.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("close store", slog.String("error", err.Error()))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
