// Package app wires configuration, infrastructure and services into one container.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/acme/outbound-call-queue/internal/api/handlers"
	"github.com/acme/outbound-call-queue/internal/config"
	"github.com/acme/outbound-call-queue/internal/infra/db"
	"github.com/acme/outbound-call-queue/internal/infra/migrations"
	"github.com/acme/outbound-call-queue/internal/infra/redis"
	"github.com/acme/outbound-call-queue/internal/queue"
	"github.com/acme/outbound-call-queue/internal/repository"
	pgrepo "github.com/acme/outbound-call-queue/internal/repository/postgres"
	scyllarepo "github.com/acme/outbound-call-queue/internal/repository/scylla"
	sqliterepo "github.com/acme/outbound-call-queue/internal/repository/sqlite"
	campaignsvc "github.com/acme/outbound-call-queue/internal/service/campaign"
	"github.com/acme/outbound-call-queue/internal/service/concurrency"
	queuesvc "github.com/acme/outbound-call-queue/internal/service/queue"
	"github.com/acme/outbound-call-queue/internal/telemetry"
	"github.com/acme/outbound-call-queue/internal/telephony"
	"github.com/acme/outbound-call-queue/internal/telephony/bridge"
	telephonyMock "github.com/acme/outbound-call-queue/internal/telephony/mock"
	"github.com/acme/outbound-call-queue/internal/window"
	"github.com/acme/outbound-call-queue/pkg/clock"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

// Dispatch providers understood by the container.
const (
	ProviderMock   = "mock"
	ProviderBridge = "bridge"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger
	Clock  clock.Clock

	Postgres *db.Postgres
	SQLite   *db.SQLite
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	Repos repository.Repositories
	// Journal is nil unless scylla is enabled.
	Journal    repository.AttemptJournal
	Policy     *window.Policy
	Dispatcher telephony.Dispatcher
	Publisher  *queue.OutcomePublisher
	Slots      queuesvc.SlotLimiter
	Backoff    queuesvc.Backoff

	Processor *queuesvc.Processor
	Retry     *queuesvc.RetryScheduler
	Scheduler *queuesvc.Scheduler
	Campaigns *campaignsvc.Service
	Launcher  *campaignsvc.Launcher

	shutdownTelemetry telemetry.ShutdownFunc
}

// Build constructs a container for the given configuration path. serviceName names the
// binary in logs and traces.
func Build(ctx context.Context, configPath, serviceName string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		return nil, err
	}

	c := &Container{Config: cfg, Logger: lg.Component(serviceName), Clock: clock.System()}
	if err := c.bootstrap(ctx, serviceName); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *Container) bootstrap(ctx context.Context, serviceName string) error {
	cfg := c.Config

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.App.Name+"-"+serviceName)
	if err != nil {
		return fmt.Errorf("bootstrap telemetry: %w", err)
	}
	c.shutdownTelemetry = shutdown

	if err := c.openStorage(ctx); err != nil {
		return err
	}

	if cfg.Scylla.Enabled {
		scylla, err := db.NewScylla(ctx, cfg.Scylla)
		if err != nil {
			return fmt.Errorf("bootstrap scylla: %w", err)
		}
		c.Scylla = scylla
		c.Journal = scyllarepo.NewAttemptJournal(scylla.Session())
	}

	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("bootstrap redis: %w", err)
		}
		c.Redis = client
		c.Slots = concurrency.NewLimiter(client.Inner(), cfg.Throttle.DefaultPerCampaign, cfg.Throttle.SlotTTL)
	} else {
		c.Slots = concurrency.NewLocal(cfg.Throttle.DefaultPerCampaign)
	}

	if cfg.Kafka.Enabled {
		k, err := queue.NewKafka(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("bootstrap kafka: %w", err)
		}
		c.Kafka = k
		c.Publisher = queue.NewOutcomePublisher(k, cfg.Kafka.OutcomeTopic)
	}

	dispatcher, err := newDispatcher(cfg.Dispatch, c.Logger)
	if err != nil {
		return err
	}
	c.Dispatcher = dispatcher

	backoff, err := queuesvc.BackoffFromConfig(cfg.Retry)
	if err != nil {
		return err
	}
	c.Backoff = backoff

	c.wireServices()
	return nil
}

func (c *Container) openStorage(ctx context.Context) error {
	cfg := c.Config
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pg, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("bootstrap postgres: %w", err)
		}
		c.Postgres = pg
		if err := migrations.Run(ctx, pg.DB(), config.DriverPostgres); err != nil {
			return err
		}
		c.Repos = pgrepo.NewRepositories(pg.DB())
	case config.DriverSQLite:
		lite, err := db.NewSQLite(ctx, cfg.SQLite)
		if err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
		c.SQLite = lite
		if err := migrations.Run(ctx, lite.DB(), config.DriverSQLite); err != nil {
			return err
		}
		c.Repos = sqliterepo.NewRepositories(lite.DB(), c.Clock)
	default:
		return fmt.Errorf("%w: unknown storage driver %q", apperrors.ErrValidation, cfg.Storage.Driver)
	}
	return nil
}

func newDispatcher(cfg config.DispatchConfig, lg *logger.Logger) (telephony.Dispatcher, error) {
	switch cfg.Provider {
	case ProviderMock, "":
		return telephonyMock.NewProvider(cfg), nil
	case ProviderBridge:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("%w: dispatch.endpoint is required for the bridge provider", apperrors.ErrValidation)
		}
		return bridge.New(cfg, lg), nil
	default:
		return nil, fmt.Errorf("%w: unknown dispatch provider %q", apperrors.ErrValidation, cfg.Provider)
	}
}

func (c *Container) wireServices() {
	cfg := c.Config
	region := cfg.Dispatch.PhoneRegion

	c.Policy = window.NewPolicy(c.Repos.Rules, cfg.Location(), c.Clock)

	opts := []queuesvc.ProcessorOption{queuesvc.WithSlots(c.Slots)}
	if c.Publisher != nil {
		opts = append(opts, queuesvc.WithPublisher(c.Publisher))
	}
	c.Processor = queuesvc.NewProcessor(c.Repos, c.Policy, c.Dispatcher, c.Clock, c.Logger, queuesvc.ProcessorConfig{
		WorkerCount:     cfg.Scheduler.WorkerCount,
		DispatchTimeout: cfg.Dispatch.RequestTimeout,
		DefaultPrompt:   cfg.Dispatch.DefaultPrompt,
		SlotWait:        cfg.Throttle.SlotWait,
	}, opts...)
	c.Retry = queuesvc.NewRetryScheduler(c.Repos, c.Policy, c.Clock, c.Logger, cfg.Retry.PageSize, cfg.Scheduler.ClaimTTL)
	c.Scheduler = queuesvc.NewScheduler(c.Repos, c.Policy, c.Clock, c.Logger, region)
	c.Campaigns = campaignsvc.NewService(c.Repos, c.Clock, campaignsvc.Defaults{
		MaxConcurrentCalls: cfg.Throttle.DefaultPerCampaign,
	})
	c.Launcher = campaignsvc.NewLauncher(c.Repos, c.Policy, c.Clock, c.Logger, region)
}

// HandlerSet builds HTTP handlers with dependencies.
func (c *Container) HandlerSet() *handlers.HandlerSet {
	return handlers.NewHandlerSet(handlers.Deps{
		Repos:       c.Repos,
		Journal:     c.Journal,
		Policy:      c.Policy,
		Processor:   c.Processor,
		Retry:       c.Retry,
		Scheduler:   c.Scheduler,
		Campaigns:   c.Campaigns,
		Launcher:    c.Launcher,
		Backoff:     c.Backoff,
		BatchSize:   c.Config.Scheduler.MaxBatchSize,
		MaxAttempts: c.Config.Retry.MaxAttempts,
		PhoneRegion: c.Config.Dispatch.PhoneRegion,
		Checks:      c.HealthChecks(),
		Logger:      c.Logger,
	})
}

// HealthChecks returns one probe per connected backend.
func (c *Container) HealthChecks() map[string]handlers.HealthCheck {
	checks := make(map[string]handlers.HealthCheck)
	if c.Postgres != nil {
		checks["postgres"] = c.Postgres.Ping
	}
	if c.SQLite != nil {
		checks["sqlite"] = c.SQLite.Ping
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis.Ping
	}
	if c.Scylla != nil {
		checks["scylla"] = c.Scylla.Ping
	}
	return checks
}

// EnsureTopics creates the outcome topic when Kafka is enabled.
func (c *Container) EnsureTopics(ctx context.Context) error {
	if c.Kafka == nil {
		return nil
	}
	return c.Kafka.EnsureOutcomeTopic(ctx)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("outcome publisher close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.SQLite != nil {
		if err := c.SQLite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sqlite close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.shutdownTelemetry != nil {
		if err := c.shutdownTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	if c.Logger != nil {
		if len(errs) > 0 {
			c.Logger.Warn("container close", zap.Errors("errors", errs))
		}
		c.Logger.Sync()
	}
	return errors.Join(errs...)
}
