package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/thesis-registration-api/api/swagger"
	"github.com/noah-isme/thesis-registration-api/internal/handler"
	internalmiddleware "github.com/noah-isme/thesis-registration-api/internal/middleware"
	"github.com/noah-isme/thesis-registration-api/internal/models"
	"github.com/noah-isme/thesis-registration-api/internal/realtime"
	"github.com/noah-isme/thesis-registration-api/internal/repository"
	"github.com/noah-isme/thesis-registration-api/internal/service"
	"github.com/noah-isme/thesis-registration-api/pkg/cache"
	"github.com/noah-isme/thesis-registration-api/pkg/config"
	"github.com/noah-isme/thesis-registration-api/pkg/database"
	"github.com/noah-isme/thesis-registration-api/pkg/jobs"
	"github.com/noah-isme/thesis-registration-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/thesis-registration-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/thesis-registration-api/pkg/middleware/requestid"
	"github.com/noah-isme/thesis-registration-api/pkg/storage"
)

// @title Thesis Registration API
// @version 1.0.0
// @description Thesis topic registration, instructor review and roster verification
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg, "api-gateway")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	var redisClient *redis.Client
	if cfg.Verification.RedisQueueEnabled || cfg.Realtime.RelayEnabled || cfg.Summary.CacheEnabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect redis", "error", err)
		}
		defer redisClient.Close() //nolint:errcheck
	}

	files, err := storage.NewLocalStorage(cfg.Uploads.Dir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare upload directory", "dir", cfg.Uploads.Dir, "error", err)
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	topicRepo := repository.NewTopicRepository(db)
	registrationRepo := repository.NewRegistrationRepository(db)
	batchRepo := repository.NewVerificationBatchRepository(db)
	userRepo := repository.NewUserRepository(db)

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, logr, service.CacheConfig{
		Enabled:    cfg.Summary.CacheEnabled,
		DefaultTTL: cfg.Summary.CacheTTL,
	})
	summarySvc := service.NewSummaryService(topicRepo, registrationRepo, batchRepo, cacheSvc, cfg.Summary.CacheTTL, logr)

	hub := realtime.NewHub(cfg.Realtime.BufferSize, metricsSvc, logr)
	var publisher realtime.Publisher = hub
	if cfg.Realtime.RelayEnabled {
		publisher = realtime.NewRedisPublisher(redisClient, cfg.Realtime.Channel)
		relay := realtime.NewRelay(redisClient, cfg.Realtime.Channel, hub, logr)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logr.Sugar().Errorw("realtime relay stopped", "error", err)
			}
		}()
	} else if cfg.Verification.RedisQueueEnabled {
		logr.Warn("redis queue enabled without realtime relay; events from the verification worker will not reach this process")
	}

	registrationSvc := service.NewRegistrationService(registrationRepo, topicRepo, publisher, summarySvc, metricsSvc, validate, logr, service.RegistrationServiceConfig{
		StartDate:       cfg.Registration.StartDate,
		EndDate:         cfg.Registration.EndDate,
		MaxApplications: cfg.Registration.MaxApplicationsPerStudent,
	})
	topicSvc := service.NewTopicService(topicRepo, summarySvc, validate, logr)
	tokenSvc := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	queueCfg := jobs.QueueConfig{
		Workers:    cfg.Verification.WorkerConcurrency,
		MaxRetries: cfg.Verification.WorkerRetries,
		RetryDelay: cfg.Verification.RetryDelay,
		Logger:     logr,
	}
	var queue *jobs.Queue
	if cfg.Verification.RedisQueueEnabled {
		// the verification-worker process consumes this queue
		queue = jobs.NewQueue(cfg.Verification.QueueName, jobs.NewRedisBroker(redisClient, cfg.Verification.QueueName), nil, queueCfg)
	} else {
		worker := service.NewVerificationWorker(batchRepo, registrationRepo, files, publisher, summarySvc, metricsSvc, logr, service.VerificationWorkerConfig{
			HeaderScanRows: cfg.Verification.HeaderScanRows,
		})
		queue = jobs.NewQueue(cfg.Verification.QueueName, jobs.NewMemoryBroker(64), worker.Handle, queueCfg)
		if err := queue.Start(ctx); err != nil {
			logr.Sugar().Fatalw("failed to start verification queue", "error", err)
		}
		defer queue.Stop()
	}
	verificationSvc := service.NewVerificationService(batchRepo, files, queue, cfg.Uploads.MaxFileSizeBytes, logr)
	if !cfg.Verification.RedisQueueEnabled {
		recovered, err := verificationSvc.RecoverPending(ctx)
		if err != nil {
			logr.Sugar().Warnw("failed to recover pending batches", "error", err)
		} else if recovered > 0 {
			logr.Sugar().Infow("recovered pending verification batches", "count", recovered)
		}
	}

	registrationHandler := handler.NewRegistrationHandler(registrationSvc)
	topicHandler := handler.NewTopicHandler(topicSvc)
	verificationHandler := handler.NewVerificationHandler(verificationSvc)
	reportHandler := handler.NewReportHandler(summarySvc)
	realtimeHandler := handler.NewRealtimeHandler(hub, topicSvc, 30*time.Second)
	checks := map[string]handler.ReadinessCheck{
		"database": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	staff := internalmiddleware.RequireRoles(models.RoleDepartment, models.RoleAdmin)
	student := internalmiddleware.RequireRoles(models.RoleStudent)
	instructor := internalmiddleware.RequireRoles(models.RoleInstructor)

	api := r.Group(cfg.APIPrefix)
	api.GET("/realtime/stream", internalmiddleware.StreamJWT(tokenSvc), realtimeHandler.Stream)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(tokenSvc), internalmiddleware.WithResponseMeta())

	registrations := secured.Group("/registrations")
	registrations.POST("/apply", student, internalmiddleware.SyncProfile(userRepo, logr), registrationHandler.Apply)
	registrations.GET("/mine", student, registrationHandler.Mine)
	registrations.GET("/pending-reviews", instructor, registrationHandler.PendingReviews)
	registrations.GET("/my-students", instructor, registrationHandler.MyStudents)
	registrations.POST("/review", instructor, registrationHandler.Review)
	registrations.GET("", staff, registrationHandler.List)
	registrations.GET("/:id", registrationHandler.Get)
	registrations.PATCH("/:id", student, registrationHandler.Update)
	registrations.DELETE("/:id", student, registrationHandler.Withdraw)
	registrations.POST("/:id/revoke", staff, registrationHandler.Revoke)

	topics := secured.Group("/topics")
	topics.GET("", topicHandler.List)
	topics.GET("/:id", topicHandler.Get)
	topics.POST("", instructor, topicHandler.Create)
	topics.DELETE("/:id", internalmiddleware.RequireRoles(models.RoleInstructor, models.RoleDepartment, models.RoleAdmin), topicHandler.Delete)

	verification := secured.Group("/verification", staff)
	verification.POST("/upload", verificationHandler.Upload)
	verification.GET("/history", verificationHandler.History)
	verification.GET("/latest", verificationHandler.Latest)
	verification.GET("/:batchId", verificationHandler.Get)
	verification.POST("/process/:batchId", verificationHandler.Reprocess)

	secured.GET("/reports/summary", staff, reportHandler.Summary)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down", zap.String("reason", "signal received"))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
