package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/thesis-registration-api/internal/models"
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

// inlineQueue runs verification jobs in the calling process when no shared
// queue is configured. There is nobody to retry, so every attempt is final.
type inlineQueue struct {
	handler jobs.Handler
}

func (q inlineQueue) Enqueue(ctx context.Context, job jobs.Job) error {
	job.Final = true
	return q.handler(ctx, job)
}

type batchEnv struct {
	db      *sqlx.DB
	redis   *redis.Client
	logger  *zap.Logger
	service *service.VerificationService
}

func (e *batchEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	_ = e.db.Close()
	_ = e.logger.Sync()
}

func openBatchEnv() (*batchEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg, "thesisctl")
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	env := &batchEnv{db: db, logger: logr}

	if cfg.Verification.RedisQueueEnabled || cfg.Realtime.RelayEnabled {
		env.redis, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			env.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	files, err := storage.NewLocalStorage(cfg.Uploads.Dir)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("open upload directory: %w", err)
	}
	batchRepo := repository.NewVerificationBatchRepository(db)

	var queue interface {
		Enqueue(ctx context.Context, job jobs.Job) error
	}
	if cfg.Verification.RedisQueueEnabled {
		queue = jobs.NewQueue(cfg.Verification.QueueName, jobs.NewRedisBroker(env.redis, cfg.Verification.QueueName), nil, jobs.QueueConfig{Logger: logr})
	} else {
		var publisher realtime.Publisher
		if cfg.Realtime.RelayEnabled {
			publisher = realtime.NewRedisPublisher(env.redis, cfg.Realtime.Channel)
		}
		worker := service.NewVerificationWorker(batchRepo, repository.NewRegistrationRepository(db), files, publisher, nil, nil, logr, service.VerificationWorkerConfig{
			HeaderScanRows: cfg.Verification.HeaderScanRows,
		})
		queue = inlineQueue{handler: worker.Handle}
	}
	env.service = service.NewVerificationService(batchRepo, files, queue, cfg.Uploads.MaxFileSizeBytes, logr)
	return env, nil
}

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "batch", Short: "Manage verification batches"}
	cmd.AddCommand(batchListCmd())
	cmd.AddCommand(batchReprocessCmd())
	cmd.AddCommand(batchRecoverCmd())
	return cmd
}

func batchListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent verification batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openBatchEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			batches, err := env.service.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(batches)
			}
			renderBatches(batches)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of batches")
	return cmd
}

func batchReprocessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reprocess <batch-id>",
		Short: "Requeue a batch against the currently accepted registrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openBatchEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			if _, err := env.service.Reprocess(cmd.Context(), args[0]); err != nil {
				return err
			}
			batch, err := env.service.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(batch)
			}
			renderBatches([]models.VerificationBatch{*batch})
			return nil
		},
	}
	return cmd
}

func batchRecoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Enqueue batches left queued or processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openBatchEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			count, err := env.service.RecoverPending(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(map[string]int{"recovered": count})
			}
			fmt.Printf("recovered %d batch(es)\n", count)
			return nil
		},
	}
	return cmd
}

func renderBatches(batches []models.VerificationBatch) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Semester", "File", "Status", "Total", "Verified", "Invalid credits", "Not enrolled", "Created"})
	for _, b := range batches {
		tw.AppendRow(table.Row{b.ID, b.Semester, b.FileName, b.Status, b.Results.Total, b.Results.Verified, b.Results.InvalidCredits, b.Results.NotEnrolled, b.CreatedAt.Format("2006-01-02 15:04")})
	}
	tw.Render()
}
