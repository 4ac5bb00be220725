package main

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/hericahyadi/isp-provisioning-worker/internal/config"
	"github.com/hericahyadi/isp-provisioning-worker/internal/db"
	"github.com/hericahyadi/isp-provisioning-worker/internal/monitor"
	"github.com/hericahyadi/isp-provisioning-worker/internal/mq"
	"github.com/hericahyadi/isp-provisioning-worker/internal/provisioning"
	"github.com/hericahyadi/isp-provisioning-worker/internal/radius"
	"github.com/hericahyadi/isp-provisioning-worker/internal/repository"
	"github.com/hericahyadi/isp-provisioning-worker/internal/routeros"
	"github.com/hericahyadi/isp-provisioning-worker/internal/service"
	"github.com/hericahyadi/isp-provisioning-worker/internal/session"
	"github.com/hericahyadi/isp-provisioning-worker/internal/voucher"
)

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	processor *service.Processor,
) (*mq.Consumer, error) {
	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:       conn,
		Queue:            cfg.RabbitMQ.CommandQueue,
		DLQQueue:         cfg.RabbitMQ.DLQQueue,
		Exchange:         cfg.RabbitMQ.CommandExchange,
		RoutingKey:       cfg.RabbitMQ.CommandRoutingKey,
		PrefetchCount:    cfg.RabbitMQ.PrefetchCount,
		Logger:           logger,
		MessageProcessor: processor.ProcessMessage,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting provisioning command consumer",
				zap.String("queue", cfg.RabbitMQ.CommandQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("worker stopped gracefully")
			return nil
		},
	})

	return consumer, nil
}

// startSweeps runs the periodic maintenance loops: the hourly-by-default
// router connectivity check and the daily voucher expiry sweep.
func startSweeps(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	checker *monitor.Checker,
	vouchers *voucher.Manager,
) {
	ctx, cancel := context.WithCancel(context.Background())

	routerInterval := time.Duration(cfg.Sweep.RouterCheckIntervalMinutes) * time.Minute
	voucherInterval := time.Duration(cfg.Sweep.VoucherSweepIntervalHours) * time.Hour

	run := func() {
		routerTicker := time.NewTicker(routerInterval)
		voucherTicker := time.NewTicker(voucherInterval)
		defer routerTicker.Stop()
		defer voucherTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-routerTicker.C:
				if _, err := checker.Sweep(ctx); err != nil {
					logger.Error("router connectivity sweep failed", zap.Error(err))
				}
			case <-voucherTicker.C:
				if _, err := vouchers.ExpireSweep(ctx); err != nil {
					logger.Error("voucher expiry sweep failed", zap.Error(err))
				}
			}
		}
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting maintenance sweeps",
				zap.Duration("router_check_interval", routerInterval),
				zap.Duration("voucher_sweep_interval", voucherInterval))
			go run()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return nil
		},
	})
}

// ProvideDBPool creates the core database pool
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideRadiusPool creates the RADIUS schema pool
func ProvideRadiusPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.RadiusPool, error) {
	return db.NewRadiusPool(lc, logger, cfg.RadiusDB.URL)
}

// ProvideRepository creates the core repository
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideRadiusStore creates the RADIUS account store
func ProvideRadiusStore(pool *db.RadiusPool, logger *zap.Logger) *radius.Store {
	return radius.NewStore(pool, logger)
}

// ProvideDialer provides the production RouterOS dialer
func ProvideDialer() routeros.Dialer {
	return routeros.DialAPI
}

// ProvideRouterPool creates the router connection pool
func ProvideRouterPool(repo *repository.Repository, dial routeros.Dialer, cfg *config.Config, logger *zap.Logger) *routeros.Pool {
	timeout := time.Duration(cfg.Router.ConnectTimeoutSeconds) * time.Second
	return routeros.NewPool(repo, dial, timeout, logger)
}

// ProvideOrchestrator creates the provisioning orchestrator
func ProvideOrchestrator(repo *repository.Repository, mirror *radius.Store, pool *routeros.Pool, logger *zap.Logger) *provisioning.Orchestrator {
	return provisioning.NewOrchestrator(repo, mirror, pool, logger)
}

// ProvideVoucherManager creates the voucher lifecycle manager
func ProvideVoucherManager(repo *repository.Repository, orchestrator *provisioning.Orchestrator, cfg *config.Config, logger *zap.Logger) *voucher.Manager {
	return voucher.NewManager(repo, orchestrator, cfg.Voucher.ExpiryWindowDays, cfg.Voucher.CollisionRetryLimit, logger)
}

// ProvideReconciler creates the session reconciler
func ProvideReconciler(store *radius.Store, repo *repository.Repository, pool *routeros.Pool, logger *zap.Logger) *session.Reconciler {
	return session.NewReconciler(store, repo, pool, logger)
}

// ProvideStatsCache creates the redis statistics cache
func ProvideStatsCache(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) *monitor.StatsCache {
	cache := monitor.NewStatsCache(cfg.Redis)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := cache.Close(); err != nil {
				logger.Error("failed to close redis client", zap.Error(err))
				return err
			}
			return nil
		},
	})

	return cache
}

// ProvideChecker creates the router connectivity checker
func ProvideChecker(repo *repository.Repository, pool *routeros.Pool, cache *monitor.StatsCache, logger *zap.Logger) *monitor.Checker {
	return monitor.NewChecker(repo, pool, cache, logger)
}

// ProvideMQConnection creates the RabbitMQ connection
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the event publisher
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ.EventExchange, logger)
}

// ProvideProcessor creates the command processor
func ProvideProcessor(
	orchestrator *provisioning.Orchestrator,
	vouchers *voucher.Manager,
	reconciler *session.Reconciler,
	repo *repository.Repository,
	dial routeros.Dialer,
	publisher *mq.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *service.Processor {
	return service.NewProcessor(orchestrator, vouchers, reconciler, repo, dial, publisher, cfg, logger)
}
