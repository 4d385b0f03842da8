package main

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/adeyemio/smart-meter-service/internal/api"
	"github.com/adeyemio/smart-meter-service/internal/command"
	"github.com/adeyemio/smart-meter-service/internal/config"
	"github.com/adeyemio/smart-meter-service/internal/db"
	"github.com/adeyemio/smart-meter-service/internal/ingest"
	"github.com/adeyemio/smart-meter-service/internal/meter"
	"github.com/adeyemio/smart-meter-service/internal/mq"
	"github.com/adeyemio/smart-meter-service/internal/purchase"
	"github.com/adeyemio/smart-meter-service/internal/realtime"
	"github.com/adeyemio/smart-meter-service/internal/repository"
)

// runMigrations applies schema migrations after the pool has connected
func runMigrations(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, _ *db.Pool) {
	if !cfg.Database.AutoMigrate {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return db.Migrate(logger, cfg.Database.URL)
		},
	})
}

// startConsumers wires the raw-reading consumer and the change-feed consumer
func startConsumers(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	processor *ingest.Processor,
	broker *realtime.Broker,
) error {
	ctx, cancel := context.WithCancel(context.Background())

	readings, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:       conn,
		Queue:            cfg.RabbitMQ.ReadingQueue,
		DLQQueue:         cfg.RabbitMQ.DLQQueue,
		Exchange:         cfg.RabbitMQ.ReadingExchange,
		BindingKey:       cfg.RabbitMQ.ReadingKey,
		PrefetchCount:    cfg.RabbitMQ.PrefetchCount,
		Logger:           logger,
		MessageProcessor: processor.ProcessMessage,
	})
	if err != nil {
		cancel()
		return err
	}

	feed, err := realtime.NewFeedConsumer(conn, broker, cfg.RabbitMQ.ChangesQueue, cfg.RabbitMQ.ChangesExchange, logger)
	if err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting consumers",
				zap.String("reading_queue", cfg.RabbitMQ.ReadingQueue),
				zap.String("changes_queue", cfg.RabbitMQ.ChangesQueue),
			)
			if err := readings.Start(ctx); err != nil {
				return err
			}
			return feed.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := readings.Close(); err != nil {
				logger.Error("failed to close readings consumer", zap.Error(err))
				return err
			}
			if err := feed.Close(); err != nil {
				logger.Error("failed to close feed consumer", zap.Error(err))
				return err
			}
			logger.Info("consumers stopped gracefully")
			return nil
		},
	})

	return nil
}

// startWatcher runs the status watcher for the default device
func startWatcher(lc fx.Lifecycle, watcher *meter.Watcher) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			watcher.Start(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			watcher.Stop()
			return nil
		},
	})
}

// ProvideDBPool creates the database pool
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideRepository creates the repository
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideMQConnection creates the RabbitMQ connection
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvideChangesPublisher creates the publisher for the changes exchange
func ProvideChangesPublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ.ChangesExchange, logger)
}

// ProvideNotifier creates the change-feed notifier
func ProvideNotifier(publisher *mq.Publisher, logger *zap.Logger) *realtime.Notifier {
	return realtime.NewNotifier(publisher, logger)
}

// ProvideBroker creates the in-process change-event broker
func ProvideBroker(logger *zap.Logger) *realtime.Broker {
	return realtime.NewBroker(logger)
}

// ProvideReadingValidator creates the ingest validator
func ProvideReadingValidator(cfg *config.Config) *ingest.Validator {
	return ingest.NewValidator(cfg.Ingest.TimestampToleranceMinutes)
}

// ProvideIngestProcessor creates the reading processor
func ProvideIngestProcessor(
	repo *repository.Repository,
	notifier *realtime.Notifier,
	validator *ingest.Validator,
	cfg *config.Config,
	logger *zap.Logger,
) *ingest.Processor {
	return ingest.NewProcessor(repo, notifier, validator, cfg, logger)
}

// ProvideMeterService creates the meter read service
func ProvideMeterService(repo *repository.Repository, cfg *config.Config, logger *zap.Logger) *meter.Service {
	return meter.NewService(repo, cfg, logger)
}

// ProvideStatusWatcher creates the status watcher for the default device
func ProvideStatusWatcher(service *meter.Service, broker *realtime.Broker, cfg *config.Config, logger *zap.Logger) *meter.Watcher {
	interval := time.Duration(cfg.Status.WatcherRefreshSeconds) * time.Second
	return meter.NewWatcher(service, broker, cfg.DefaultDeviceID, interval, logger)
}

// ProvidePurchaseValidator creates the purchase request validator
func ProvidePurchaseValidator(cfg *config.Config) *purchase.Validator {
	return purchase.NewValidator(cfg.Purchase.MaxUnits)
}

// ProvidePurchaseService creates the purchase workflow service
func ProvidePurchaseService(repo *repository.Repository, validator *purchase.Validator, cfg *config.Config, logger *zap.Logger) *purchase.Service {
	return purchase.NewService(repo, validator, cfg, logger)
}

// ProvideCommandService creates the command queue service
func ProvideCommandService(repo *repository.Repository, logger *zap.Logger) *command.Service {
	return command.NewService(repo, logger)
}

// ProvideAPIHandler creates the HTTP handler
func ProvideAPIHandler(
	meterSvc *meter.Service,
	purchaseSvc *purchase.Service,
	commandSvc *command.Service,
	broker *realtime.Broker,
	watcher *meter.Watcher,
	cfg *config.Config,
	logger *zap.Logger,
) *api.Handler {
	return api.NewHandler(meterSvc, purchaseSvc, commandSvc, broker, watcher, cfg, logger)
}
