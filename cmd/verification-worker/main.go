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

	"github.com/noah-isme/thesis-registration-api/internal/realtime"
	"github.com/noah-isme/thesis-registration-api/internal/repository"
	"github.com/noah-isme/thesis-registration-api/internal/service"
	"github.com/noah-isme/thesis-registration-api/pkg/cache"
	"github.com/noah-isme/thesis-registration-api/pkg/config"
	"github.com/noah-isme/thesis-registration-api/pkg/database"
	"github.com/noah-isme/thesis-registration-api/pkg/jobs"
	"github.com/noah-isme/thesis-registration-api/pkg/logger"
	"github.com/noah-isme/thesis-registration-api/pkg/storage"
)

// The worker consumes the Redis verification queue filled by the API gateway.
// Metrics are served on PORT+1 so both processes can share a host.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg, "verification-worker")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if !cfg.Verification.RedisQueueEnabled {
		logr.Sugar().Fatalw("ENABLE_REDIS_QUEUE is false; verification runs inside the api-gateway process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	files, err := storage.NewLocalStorage(cfg.Uploads.Dir)
	if err != nil {
		logr.Sugar().Fatalw("failed to open upload directory", "dir", cfg.Uploads.Dir, "error", err)
	}

	metricsSvc := service.NewMetricsService()
	topicRepo := repository.NewTopicRepository(db)
	registrationRepo := repository.NewRegistrationRepository(db)
	batchRepo := repository.NewVerificationBatchRepository(db)

	cacheSvc := service.NewCacheService(repository.NewCacheRepository(redisClient), metricsSvc, logr, service.CacheConfig{
		Enabled:    cfg.Summary.CacheEnabled,
		DefaultTTL: cfg.Summary.CacheTTL,
	})
	summarySvc := service.NewSummaryService(topicRepo, registrationRepo, batchRepo, cacheSvc, cfg.Summary.CacheTTL, logr)

	var publisher realtime.Publisher
	if cfg.Realtime.RelayEnabled {
		publisher = realtime.NewRedisPublisher(redisClient, cfg.Realtime.Channel)
	} else {
		logr.Warn("realtime relay disabled; verification events are not published")
	}

	worker := service.NewVerificationWorker(batchRepo, registrationRepo, files, publisher, summarySvc, metricsSvc, logr, service.VerificationWorkerConfig{
		HeaderScanRows: cfg.Verification.HeaderScanRows,
	})
	queue := jobs.NewQueue(cfg.Verification.QueueName, jobs.NewRedisBroker(redisClient, cfg.Verification.QueueName), worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Verification.WorkerConcurrency,
		MaxRetries: cfg.Verification.WorkerRetries,
		RetryDelay: cfg.Verification.RetryDelay,
		Logger:     logr,
	})
	if err := queue.Start(ctx); err != nil {
		logr.Sugar().Fatalw("failed to start verification queue", "error", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsSvc.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port+1), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("metrics server failed", "error", err)
		}
	}()

	logr.Sugar().Infow("verification worker running", "queue", cfg.Verification.QueueName, "workers", cfg.Verification.WorkerConcurrency)
	<-ctx.Done()

	queue.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logr.Info("verification worker stopped")
}
