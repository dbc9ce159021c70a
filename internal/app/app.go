package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sharplines/odds-fabric/internal/config"
	"github.com/sharplines/odds-fabric/internal/domain/deadletter"
	"github.com/sharplines/odds-fabric/internal/domain/dispatch"
	"github.com/sharplines/odds-fabric/internal/domain/store"
	"github.com/sharplines/odds-fabric/internal/domain/workqueue"
	"github.com/sharplines/odds-fabric/internal/fabricconfig"
	"github.com/sharplines/odds-fabric/internal/infrastructure/invoker"
	"github.com/sharplines/odds-fabric/internal/infrastructure/queue"
	"github.com/sharplines/odds-fabric/internal/infrastructure/repository/memory"
	"github.com/sharplines/odds-fabric/internal/infrastructure/repository/postgres"
	"github.com/sharplines/odds-fabric/internal/interfaces/httpapi"
	idgen "github.com/sharplines/odds-fabric/internal/platform/id"
	"github.com/sharplines/odds-fabric/internal/platform/logging"
	"github.com/sharplines/odds-fabric/internal/platform/resilience"
	"github.com/sharplines/odds-fabric/internal/usecase"
)

// App wires the catalog, storage, queue and services into runnable
// components. The caller owns the lifecycle: Init once, then run the
// dispatcher and worker until the root context is cancelled.
type App struct {
	Catalog    *fabricconfig.Catalog
	Dispatcher *usecase.DispatcherService
	Worker     *usecase.WorkerService
	Server     *http.Server

	workQueue workqueue.Queue
	closers   []func() error
}

func New(cfg config.Config, logger *logging.Logger) (*App, error) {
	catalog, err := fabricconfig.Build(fabricconfig.Settings{CreatedAt: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}

	a := &App{Catalog: catalog}

	var (
		dispatchRepo dispatch.Repository
		dlqRepo      deadletter.Repository
		itemStore    store.Store
	)
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		db, err := openDatabase(cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		dispatchRepo = postgres.NewDispatchRepository(db)
		dlqRepo = postgres.NewDeadLetterRepository(db)
		itemStore = postgres.NewItemStore(db)
	default:
		dispatchRepo = memory.NewDispatchRepository()
		dlqRepo = memory.NewDeadLetterRepository()
		itemStore = memory.NewItemStore()
	}

	switch cfg.QueueBackend {
	case config.QueueRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, rdb.Close)
		a.workQueue = queue.NewRedisQueue(rdb, queue.RedisQueueConfig{
			Stream:            cfg.QueueStream,
			Group:             cfg.QueueGroup,
			DLQStream:         cfg.QueueDLQStream,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			MaxReceiveCount:   cfg.QueueMaxReceiveCount,
		}, dlqRepo, logger)
	default:
		a.workQueue = queue.NewMemoryQueue(queue.MemoryQueueConfig{
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			MaxReceiveCount:   cfg.QueueMaxReceiveCount,
		}, dlqRepo, logger)
	}

	backend, err := invoker.NewHTTPInvoker(invoker.HTTPInvokerConfig{
		BaseURL:          cfg.HandlerBaseURL,
		InternalJobToken: cfg.InternalJobToken,
		Timeout:          cfg.HandlerTimeout,
		Breaker: resilience.CircuitBreakerConfig{
			Enabled:          cfg.HandlerCircuitEnabled,
			FailureThreshold: cfg.HandlerCircuitFailureCount,
			OpenTimeout:      cfg.HandlerCircuitOpenTimeout,
			HalfOpenMaxReq:   cfg.HandlerCircuitHalfOpenReq,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build handler invoker: %w", err)
	}

	loaderJob, err := catalog.Registry.Lookup("analysis-loader")
	if err != nil {
		return nil, fmt.Errorf("resolve loader job: %w", err)
	}
	loaderSvc := usecase.NewLoaderService(a.workQueue, catalog.AnalysisTargets, catalog.Seasons, dispatchRepo, logger)
	routedInvoker, err := usecase.NewLoaderInvoker(loaderSvc, loaderJob.Handler, backend)
	if err != nil {
		return nil, fmt.Errorf("build loader invoker: %w", err)
	}

	retrySvc := usecase.NewRetryService(dlqRepo, idgen.NewRandomGenerator(), logger)

	a.Dispatcher, err = usecase.NewDispatcherService(
		catalog.Registry,
		catalog.Rules,
		routedInvoker,
		retrySvc,
		dispatchRepo,
		usecase.DispatcherConfig{
			TickInterval: cfg.DispatchTickInterval,
			MaxParallel:  cfg.DispatchMaxParallel,
			RetryBase:    cfg.RetryBackoffBase,
			RetryMax:     cfg.RetryBackoffMax,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("build dispatcher: %w", err)
	}

	analysisJob, err := catalog.Registry.Lookup("generate-analysis")
	if err != nil {
		return nil, fmt.Errorf("resolve analysis job: %w", err)
	}
	a.Worker, err = usecase.NewWorkerService(
		a.workQueue,
		backend,
		analysisJob,
		itemStore,
		usecase.WorkerConfig{
			PoolSize:      cfg.WorkerPoolSize,
			BatchSize:     cfg.WorkerBatchSize,
			PollWait:      cfg.WorkerPollWait,
			InvokeTimeout: cfg.WorkerInvokeTimeout,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("build worker: %w", err)
	}

	handler := httpapi.NewHandler(catalog.Registry, a.Dispatcher, dispatchRepo, dlqRepo, itemStore, logger)
	router := httpapi.NewRouter(handler, logger, cfg.CORSAllowedOrigins, cfg.InternalJobToken)

	a.Server = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if a.Server.Addr == "" {
		return nil, fmt.Errorf("http server addr cannot be empty")
	}

	return a, nil
}

// Init performs one-time backend setup, such as creating the redis
// consumer group.
func (a *App) Init(ctx context.Context) error {
	type initer interface {
		Init(ctx context.Context) error
	}
	if q, ok := a.workQueue.(initer); ok {
		if err := q.Init(ctx); err != nil {
			return fmt.Errorf("init work queue: %w", err)
		}
	}

	return nil
}

func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
