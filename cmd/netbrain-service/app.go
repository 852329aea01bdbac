package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"netbrain/internal/broker"
	"netbrain/internal/config"
	"netbrain/internal/constants"
	"netbrain/internal/ingress"
	"netbrain/internal/logger"
	"netbrain/internal/messagebus"
	"netbrain/internal/messages"
	"netbrain/internal/netbrain"
	"netbrain/internal/pipeline"
	"netbrain/internal/polling"
	"netbrain/internal/stackstorm"
	"netbrain/internal/storage"
	"netbrain/pkg/bootstrap"
	"netbrain/pkg/cel"
	"netbrain/pkg/correlation"
	"netbrain/pkg/health"
	"netbrain/pkg/logging"
	"netbrain/pkg/metrics"
	"netbrain/pkg/middleware"
	"netbrain/pkg/migrations"
	"netbrain/pkg/ratelimit"
	"netbrain/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	mongoClient    *mongo.Client
	tracerProvider *tracing.TracerProvider

	stage    messagebus.Stage
	cids     correlation.Generator
	netbrain *netbrain.Client
	api      netbrain.API
	entries  *storage.CircuitBreakerStore
	bus      *messagebus.Bus
	manager  *polling.Manager
	server   *http.Server

	// serverCtx bounds background work started by HTTP middleware.
	serverCtx    context.Context
	cancelServer context.CancelFunc
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		stage:       messagebus.ParseStage(cfg.Stage),
		cids:        correlation.NewGenerator(cfg.Correlation.IDLength),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	initCtx := logging.WithServiceName(ctx, constants.ServiceName)

	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	if err := a.initMongoDB(initCtx); err != nil {
		return fmt.Errorf("failed to initialize MongoDB: %w", err)
	}

	if err := a.initRedis(initCtx); err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	if err := a.InitBroker(constants.ServiceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initPipeline(initCtx); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	if err := a.initPolling(); err != nil {
		return fmt.Errorf("failed to initialize polling manager: %w", err)
	}

	metrics.RegisterMessageBusMetrics()
	metrics.RegisterPollingMetrics()
	metrics.RegisterPipelineMetrics()
	if a.UsesBroker() {
		metrics.RegisterBrokerMetrics()
	}
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initMongoDB(ctx context.Context) error {
	client, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = client

	if err := migrations.EnsureMongoIndexes(ctx, a.dbConnector.MongoDatabase(client)); err != nil {
		return fmt.Errorf("failed to ensure indexes: %w", err)
	}
	return nil
}

func (a *App) initRedis(ctx context.Context) error {
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	if rdb == nil {
		a.Logger.InfowCtx(ctx, "Redis not configured, NetBrain session kept in memory")
	}
	a.redis = rdb
	return nil
}

func (a *App) initPipeline(ctx context.Context) error {
	db := a.dbConnector.MongoDatabase(a.mongoClient)
	payloads := storage.NewPayloadRepository(db)
	entries := storage.NewPollingRepository(db)
	a.entries = storage.NewCircuitBreakerStore(entries, a.Config.CircuitBreaker)

	var tokens netbrain.TokenStore = netbrain.NewMemoryTokenStore()
	if a.redis != nil {
		tokens = netbrain.NewRedisTokenStore(a.redis)
	}
	a.netbrain = netbrain.NewClient(a.Config.NetBrain, tokens, a.Logger)
	a.api = netbrain.WrapWithCircuitBreaker(a.netbrain, a.Config.CircuitBreaker)

	notifier := stackstorm.NewClient(a.Config.Stackstorm, a.Logger)

	router := messagebus.NewRouter()
	handlers := pipeline.NewHandlers(a.Config.Pipeline, payloads, entries, a.api, notifier, a.Logger)
	if err := handlers.Register(router); err != nil {
		return err
	}

	bus, err := messagebus.New(messagebus.Config{
		Workers:       a.Config.MessageBus.Workers,
		QueueCapacity: a.Config.MessageBus.QueueCapacity,
	}, router, a.Logger)
	if err != nil {
		return err
	}
	a.bus = bus

	a.Logger.InfowCtx(ctx, "Pipeline ready",
		"workers", a.Config.MessageBus.Workers,
		"stage", a.stage,
		"broker", a.Config.Broker.Type,
	)
	return nil
}

func (a *App) initPolling() error {
	if !a.Config.Polling.Enabled {
		return nil
	}

	var emitter polling.Emitter = a.bus
	if a.UsesBroker() {
		emitter = broker.NewCommandEmitter(a.Producer, a.commandTopic())
	}

	manager, err := polling.NewManager(polling.Config{
		TickInterval:       a.Config.Polling.TickInterval,
		SyncEvery:          a.Config.Polling.SyncEvery,
		DeadAlertThreshold: a.Config.Polling.DeadAlertThreshold,
		MaxDeadRetries:     a.Config.Polling.MaxDeadRetries,
		Stage:              a.stage,
	}, a.entries, emitter, a.Logger,
		polling.WithCorrelationIDs(a.cids.Next),
		polling.WithDeadAlert(a.quarantined),
	)
	if err != nil {
		return err
	}
	a.manager = manager
	return nil
}

// quarantined raises AssignmentQuarantined so the pipeline alerts StackStorm.
func (a *App) quarantined(ctx context.Context, entryID string, failures int) {
	header := messagebus.NewHeader(a.cids.Next())
	header.Stage = a.stage
	event := messages.AssignmentQuarantined{
		EventHeader: messagebus.EventHeader{Header: header},
		EntryID:     entryID,
		Failures:    failures,
	}
	if failed := a.bus.Submit(ctx, event); len(failed) > 0 {
		a.Logger.ErrorwCtx(ctx, "Failed to raise quarantine alert",
			"entry_id", entryID,
			"failures", failures,
		)
	}
}

func (a *App) commandTopic() string {
	if topic := a.Config.Broker.Kafka.CommandTopic; topic != "" {
		return topic
	}
	return constants.DefaultCommandTopic
}

func (a *App) initHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(a.Logger))

	a.serverCtx, a.cancelServer = context.WithCancel(context.Background())
	if rl := a.Config.Ingress.RateLimit; rl.Enabled {
		router.Use(ratelimit.RateLimitMiddleware(a.serverCtx, rl))
		a.Logger.Infow("Rate limiting enabled", "rps", rl.RPS, "burst", rl.Burst)
	}

	opts := []ingress.Option{}
	if a.manager != nil {
		opts = append(opts, ingress.WithPolling(a.manager))
	}
	if expr := a.Config.Ingress.AcceptExpression; expr != "" {
		evaluator, err := cel.NewEvaluator()
		if err != nil {
			return err
		}
		filter, err := evaluator.CompileFilter(expr)
		if err != nil {
			return fmt.Errorf("invalid ingress.accept_expression: %w", err)
		}
		opts = append(opts, ingress.WithAcceptFilter(filter))
	}
	ingress.NewHandler(a.bus, a.stage, a.cids.Next, a.Logger, opts...).RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	if a.redis != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redis))
	}
	if breaker, ok := a.api.(*netbrain.CircuitBreakerAPI); ok {
		healthRegistry.Register(health.NewBreakerChecker("netbrain", breaker))
	}
	if a.Config.CircuitBreaker.Enabled {
		healthRegistry.Register(health.NewBreakerChecker("polling_store", a.entries))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
	return nil
}

// Run blocks until ctx is cancelled or one of the components fails.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.bus.Run(gCtx)
	})

	if a.UsesBroker() {
		forwarder := broker.NewForwarder(a.bus)
		topic := a.commandTopic()
		g.Go(func() error {
			a.Logger.InfowCtx(gCtx, "Forwarding broker commands to the bus", "topic", topic)
			return a.Consumer.Consume(gCtx, topic, forwarder.Handle)
		})
	}

	if a.manager != nil {
		g.Go(func() error {
			return a.manager.Run(gCtx)
		})
	}

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down NetBrain service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.cancelServer != nil {
			a.cancelServer()
		}

		if a.netbrain != nil {
			logoutCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
			if err := a.netbrain.Logout(logoutCtx); err != nil {
				errs = append(errs, fmt.Errorf("netbrain logout error: %w", err))
			}
			cancel()
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.mongoClient)...)
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
