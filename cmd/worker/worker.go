package main

import (
	"context"

	"github.com/crowdsense/crowdsense-worker/internal/anomaly"
	"github.com/crowdsense/crowdsense-worker/internal/archive"
	"github.com/crowdsense/crowdsense-worker/internal/config"
	"github.com/crowdsense/crowdsense-worker/internal/db"
	"github.com/crowdsense/crowdsense-worker/internal/httpapi"
	"github.com/crowdsense/crowdsense-worker/internal/mq"
	"github.com/crowdsense/crowdsense-worker/internal/repository"
	"github.com/crowdsense/crowdsense-worker/internal/reward"
	"github.com/crowdsense/crowdsense-worker/internal/scheduler"
	"github.com/crowdsense/crowdsense-worker/internal/service"
	"github.com/crowdsense/crowdsense-worker/internal/validator"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// consumers are the queue consumers owned by the worker
type consumers struct {
	submissions *mq.Consumer
	completions *mq.Consumer
}

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	submissions *service.SubmissionService,
	completions *service.CompletionService,
) (*consumers, error) {
	// Create context for consumers that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	submissionConsumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Name:          "submissions",
		Connection:    conn,
		Queue:         cfg.RabbitMQ.SubmissionQueue,
		DLQQueue:      cfg.RabbitMQ.SubmissionDLQ,
		Exchange:      cfg.RabbitMQ.IngestExchange,
		RoutingKey:    cfg.RabbitMQ.SubmissionRoutingKey,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler:       submissions.ProcessMessage,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	completionConsumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Name:       "completions",
		Connection: conn,
		Queue:      cfg.RabbitMQ.CompletionQueue,
		DLQQueue:   cfg.RabbitMQ.CompletionDLQ,
		Exchange:   cfg.RabbitMQ.IngestExchange,
		RoutingKey: cfg.RabbitMQ.CompletionRoutingKey,
		// one completion at a time keeps re-completions of the same project ordered
		PrefetchCount: 1,
		Logger:        logger,
		Handler:       completions.ProcessMessage,
	})
	if err != nil {
		cancel()
		submissionConsumer.Close()
		return nil, err
	}

	c := &consumers{submissions: submissionConsumer, completions: completionConsumer}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting worker consumers",
				zap.String("submission_queue", cfg.RabbitMQ.SubmissionQueue),
				zap.String("completion_queue", cfg.RabbitMQ.CompletionQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			if err := c.submissions.Start(ctx); err != nil {
				return err
			}
			return c.completions.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			var firstErr error
			for _, consumer := range []*mq.Consumer{c.submissions, c.completions} {
				if err := consumer.Close(); err != nil {
					logger.Error("failed to close consumer", zap.Error(err))
					if firstErr == nil {
						firstErr = err
					}
				}
			}
			logger.Info("worker stopped gracefully")
			return firstErr
		},
	})

	return c, nil
}

func startExpirySweeper(lc fx.Lifecycle, cfg *config.Config, projects *service.ProjectService, logger *zap.Logger) error {
	if !cfg.Expiry.Enabled {
		logger.Info("expiry sweeper disabled")
		return nil
	}

	sweeper, err := scheduler.NewExpirySweeper(projects, cfg.Expiry.SweepInterval, logger)
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sweeper.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return sweeper.Stop()
		},
	})
	return nil
}

func startHTTPServer(lc fx.Lifecycle, cfg *config.Config, app *fiber.App, logger *zap.Logger) {
	httpapi.NewServer(lc, app, cfg.HTTP.Port, logger)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, db.PoolOptions{
		URL:         cfg.Database.URL,
		MaxConns:    int32(cfg.Database.MaxConns),
		ApplySchema: cfg.Database.ApplySchema,
	})
}

// ProvideStore exposes the Postgres repository as the service store
func ProvideStore(pool *db.Pool) service.Store {
	return repository.NewRepository(pool)
}

// ProvideAllocator creates the reward allocator
func ProvideAllocator(cfg *config.Config) *reward.Allocator {
	return reward.NewAllocator(int32(cfg.Reward.Precision))
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Validation.TimestampToleranceMinutes)
}

// ProvideDetector creates the outlier detector; nil disables flagging
func ProvideDetector(cfg *config.Config, logger *zap.Logger) *anomaly.Detector {
	if !cfg.Anomaly.Enabled {
		logger.Info("anomaly flagging disabled")
		return nil
	}
	return anomaly.NewDetector(cfg.Anomaly.SpikeThreshold, cfg.Anomaly.MinDataPointsForDetection, cfg.Anomaly.Window)
}

// ProvideAuthorizer decides who may end a project
func ProvideAuthorizer() service.Authorizer {
	return service.OwnerAuthorizer{}
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL, cfg.ServiceName)
}

// ProvidePublisher creates the domain event publisher
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (service.EventPublisher, error) {
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvideArchiveStore creates the submission archive, or nil when no endpoint is configured
func ProvideArchiveStore(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*archive.Store, error) {
	if !cfg.Archive.Enabled() {
		logger.Info("submission archive disabled")
		return nil, nil
	}
	return archive.NewStore(lc, logger, archive.Options{
		Endpoint:  cfg.Archive.Endpoint,
		AccessKey: cfg.Archive.AccessKey,
		SecretKey: cfg.Archive.SecretKey,
		Bucket:    cfg.Archive.Bucket,
		Secure:    cfg.Archive.Secure,
	})
}

// ProvideArchiver exposes the archive to the submission service
func ProvideArchiver(store *archive.Store) service.Archiver {
	if store == nil {
		return nil
	}
	return store
}

// ProvideArchiveReader exposes the archive to the HTTP API
func ProvideArchiveReader(store *archive.Store) httpapi.ArchiveReader {
	if store == nil {
		return nil
	}
	return store
}

// ProvideSubmissionService creates a new submission service instance
func ProvideSubmissionService(
	store service.Store,
	validator *validator.Validator,
	detector *anomaly.Detector,
	archiver service.Archiver,
	publisher service.EventPublisher,
	cfg *config.Config,
	logger *zap.Logger,
) *service.SubmissionService {
	return service.NewSubmissionService(store, validator, detector, archiver, publisher, cfg.RabbitMQ.SubmissionEventKey, logger)
}

// ProvideCompletionService creates a new completion service instance
func ProvideCompletionService(
	store service.Store,
	allocator *reward.Allocator,
	authorizer service.Authorizer,
	publisher service.EventPublisher,
	cfg *config.Config,
	logger *zap.Logger,
) *service.CompletionService {
	return service.NewCompletionService(store, allocator, authorizer, publisher, service.CompletionOptions{
		RoutingKey:                  cfg.RabbitMQ.CompletedEventKey,
		CreditRequesterForAnonymous: cfg.Reward.CreditRequesterForAnonymous,
	}, logger)
}

// ProvideProjectService creates a new project service instance
func ProvideProjectService(store service.Store, logger *zap.Logger) *service.ProjectService {
	return service.NewProjectService(store, logger)
}

// ProvideHTTPApp builds the API
func ProvideHTTPApp(
	projects *service.ProjectService,
	submissions *service.SubmissionService,
	completions *service.CompletionService,
	reader httpapi.ArchiveReader,
	cfg *config.Config,
	logger *zap.Logger,
) *fiber.App {
	return httpapi.NewApp(httpapi.NewHandler(projects, submissions, completions, reader, logger), cfg.ServiceName)
}
