package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"ibex/internal/config"
	"ibex/internal/constants"
	"ibex/internal/crm"
	"ibex/internal/logger"
	"ibex/internal/webhook"
	"ibex/pkg/bootstrap"
	"ibex/pkg/health"
	"ibex/pkg/metrics"
	"ibex/pkg/middleware"
	"ibex/pkg/migrations"
	"ibex/pkg/ratelimit"
)

const appShutdownTimeout = constants.ShutdownTimeout

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	redis       *redis.Client
	mongoClient *mongo.Client
	service     *webhook.Service
	consumer    *webhook.Consumer
	handler     *webhook.HTTPHandler
	router      *gin.Engine
	server      *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("webhook-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initPipeline(); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	metrics.RegisterIngestMetrics()
	metrics.RegisterQueueMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}
	if a.Config.RateLimit.Enabled {
		metrics.RegisterRateLimitMetrics()
	}

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	if err := a.initServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		// Redis is a dedup accelerator, not a dependency.
		a.Logger.WarnwCtx(ctx, "Redis unavailable, continuing with store-only dedup", "error", err)
	}
	a.redis = rdb

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient

	if err := migrations.EnsureCollections(ctx, a.mongoDatabase()); err != nil {
		return fmt.Errorf("failed to ensure collections: %w", err)
	}
	return nil
}

func (a *App) mongoDatabase() *mongo.Database {
	dbName := a.Config.Database.MongoDB.Database
	if dbName == "" {
		dbName = constants.DefaultMongoDBName
	}
	return a.mongoClient.Database(dbName)
}

func (a *App) initPipeline() error {
	db := a.mongoDatabase()

	hashRepo := webhook.NewHashRepository(db)
	logRepo := webhook.NewLogRepository(db)
	discoveryRepo := webhook.NewDiscoveryRepository(db)
	queueRepo := webhook.NewQueueRepository(db)
	conversationRepo := webhook.NewConversationRepository(db)
	messageRepo := webhook.NewMessageRepository(db)

	verifier, err := webhook.NewSignatureVerifier(a.Config.Webhook.PublicKeyPEM)
	if err != nil {
		return fmt.Errorf("failed to initialize signature verifier: %w", err)
	}

	dedup := webhook.NewDedupStore(hashRepo, a.redis, a.Config.Webhook, a.Logger)
	direct := webhook.NewDirectProcessor(conversationRepo, messageRepo, a.Logger)
	monitor := webhook.NewMonitor(queueRepo, a.Config.Queue.Health, a.Logger)

	a.service = webhook.NewService(
		verifier, dedup, direct,
		queueRepo, logRepo, discoveryRepo,
		monitor, a.Producer, *a.Config, a.Logger,
	)

	a.consumer = webhook.NewConsumer(queueRepo, a.Producer, a.Config.Queue, a.Logger)
	crmClient := crm.NewClient(a.Config.CRM, a.Config.CircuitBreaker, a.Logger)
	webhook.NewHandlerSet(direct, crmClient, a.Logger).Register(a.consumer)

	a.handler = webhook.NewHTTPHandler(a.service, a.consumer, monitor, queueRepo, a.Logger)
	return nil
}

func (a *App) initRouter() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	router.POST("/webhooks/crm", a.handler.Ingest)

	internalGroup := router.Group("/internal/queue")
	internalGroup.Use(middleware.BearerAuthMiddleware(a.Config.Queue.DrainToken))
	if a.Config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.DefaultConfig()
		rateLimitConfig.RPS = a.Config.RateLimit.RPS
		rateLimitConfig.Burst = a.Config.RateLimit.Burst
		internalGroup.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
	}
	internalGroup.POST("/drain", a.handler.Drain)
	internalGroup.GET("/health", a.handler.QueueHealth)
	internalGroup.GET("/dead-letters", a.handler.ListDeadLetters)
	internalGroup.POST("/dead-letters/:id/requeue", a.handler.RequeueDeadLetter)

	healthRegistry := health.NewCheckerRegistry()
	if a.redis != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redis))
	}
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
	return nil
}

func (a *App) initServer() error {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds * time.Second,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds * time.Second,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
	additionalShutdown := func(ctx context.Context) []error {
		return a.dbConnector.ShutdownDatabases(ctx, a.redis, a.mongoClient)
	}
	return a.Base.Shutdown(ctx, additionalShutdown)
}
