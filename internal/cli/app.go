package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sre-platform/internal/analysis"
	"sre-platform/internal/auth"
	"sre-platform/internal/automation"
	"sre-platform/internal/collections"
	"sre-platform/internal/config"
	"sre-platform/internal/handlers"
	"sre-platform/internal/incident"
	"sre-platform/internal/metrics"
	"sre-platform/internal/notify"
	"sre-platform/internal/silence"
	"sre-platform/internal/store"
	"sre-platform/internal/stream"
)

// app is the wired server: every service shares one record store and one
// change broker.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	store      store.Store
	broker     stream.Broker
	records    *collections.Service
	dispatcher *notify.Dispatcher
	runner     *automation.Runner
	scheduler  *automation.Scheduler
	analysis   *analysis.Service
	auth       *auth.Manager
	handler    *handlers.Handler
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func newBroker(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (stream.Broker, string, error) {
	if cfg.Addr == "" {
		return stream.NewMemoryBroker(), "memory", nil
	}
	b := stream.NewRedisBroker(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, logger)
	if err := b.Ping(ctx); err != nil {
		_ = b.Close()
		return nil, "", fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return b, "redis", nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if a.store, err = openStore(ctx, cfg); err != nil {
		return nil, err
	}
	brokerName := ""
	if a.broker, brokerName, err = newBroker(ctx, cfg.Redis, logger); err != nil {
		return nil, err
	}

	m := metrics.New()
	a.records = collections.NewService(a.store, a.broker, logger)
	a.records.BeforeWrite(collections.Events, incident.Guard)
	a.records.BeforeWrite(collections.Schedules, automation.Guard)

	silences := silence.NewCache(a.records, collections.Silences, cfg.Notify.SilenceCacheTTL, logger)
	a.records.Observe(func(_ context.Context, c stream.Change) {
		if c.Collection == collections.Silences {
			silences.Invalidate()
		}
	})
	incidents := incident.NewService(a.records, silences, m, logger)

	client := &http.Client{Timeout: cfg.Notify.SendTimeout}
	push, err := notify.NewWebPushSender(notify.VAPIDKeys{
		Public:     cfg.Notify.VAPIDPublicKey,
		Private:    cfg.Notify.VAPIDPrivateKey,
		Subscriber: cfg.Notify.VAPIDSubscriber,
	}, client, logger)
	if err != nil {
		return nil, err
	}
	a.dispatcher = notify.NewDispatcher(a.records, silences, notify.Options{
		Concurrency:   cfg.Notify.Concurrency,
		RetryAttempts: cfg.Notify.RetryAttempts,
		RetryInterval: cfg.Notify.RetryInterval,
		SendTimeout:   cfg.Notify.SendTimeout,
	}, m, logger,
		notify.NewEmailSender(notify.MailSettingsFrom(a.records), cfg.Notify.SMTPPassword),
		notify.NewSlackSender(cfg.Notify.SlackToken, client),
		notify.NewWebhookSender(client),
		push,
	)
	if cfg.Notify.Enabled {
		a.records.Observe(a.dispatcher.Observe)
		incidents.SetNotifier(a.dispatcher)
	}

	executor, err := automation.NewExecutor(cfg.Automation.Executor, cfg.Automation.Timeout)
	if err != nil {
		return nil, err
	}
	artifacts, err := automation.NewArtifactStore(ctx, cfg.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}
	a.runner = automation.NewRunner(a.records, executor, artifacts, cfg.Automation.OutputLimit, m, logger)
	if cfg.Automation.SchedulerEnabled {
		a.scheduler = automation.NewScheduler(a.records, a.runner, logger)
		a.records.Observe(a.scheduler.Observe)
	}

	generator, err := analysis.NewGenerator(cfg.Analysis)
	if err != nil {
		return nil, err
	}
	a.analysis = analysis.NewService(a.records, generator, cfg.Analysis.Timeout, m, logger)

	if a.auth, err = auth.NewManager(cfg.Auth, a.store, logger); err != nil {
		return nil, err
	}

	a.handler = &handlers.Handler{
		Records:       a.records,
		Store:         a.store,
		Incidents:     incidents,
		Dispatcher:    a.dispatcher,
		Runner:        a.runner,
		Analysis:      a.analysis,
		Auth:          a.auth,
		Broker:        a.broker,
		Metrics:       m,
		Push:          push,
		WebhookSecret: cfg.Webhook.Secret,
		CORSOrigins:   cfg.HTTP.CORSOrigins,
		Providers: map[string]string{
			"store":     cfg.Store.Driver,
			"broker":    brokerName,
			"executor":  executor.Name(),
			"generator": generator.Name(),
			"artifacts": cfg.Artifacts.Driver,
		},
		Logger: logger.Named("http"),
	}
	return a, nil
}

// start runs the background parts: default admin, seed data and the
// scheduler.
func (a *app) start(ctx context.Context) error {
	if a.cfg.Store.Seed {
		res, err := store.Seed(ctx, a.store)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		a.logger.Info("seed data loaded", zap.Any("created", res.Created), zap.Any("skipped", res.Skipped))
	}
	if a.cfg.Auth.AdminUsername != "" {
		if err := a.auth.Bootstrap(ctx, a.cfg.Auth.AdminUsername, a.cfg.Auth.AdminPassword); err != nil {
			return err
		}
	}
	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}
	return nil
}

// close stops background work, then releases connections.
func (a *app) close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.runner != nil {
		a.runner.Close()
	}
	if a.analysis != nil {
		a.analysis.Wait()
	}
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}
	var errs []error
	if a.broker != nil {
		errs = append(errs, a.broker.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown", zap.Error(err))
	}
}
