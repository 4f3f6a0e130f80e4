package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/thesis-registration-api/internal/models"
	"github.com/noah-isme/thesis-registration-api/internal/realtime"
	"github.com/noah-isme/thesis-registration-api/internal/repository"
	"github.com/noah-isme/thesis-registration-api/internal/roster"
	"github.com/noah-isme/thesis-registration-api/pkg/jobs"
)

type batchRunStore interface {
	FindByID(ctx context.Context, id string) (*models.VerificationBatch, error)
	MarkProcessing(ctx context.Context, id string, at time.Time) error
	Complete(ctx context.Context, id string, results models.BatchResults, at time.Time) error
	Fail(ctx context.Context, id, message string, at time.Time) error
}

type verificationTargets interface {
	ListByStatus(ctx context.Context, status models.RegistrationStatus) ([]models.RegistrationDetail, error)
	ApplyVerification(ctx context.Context, id string, status models.RegistrationStatus, creditsVerified *int, at time.Time) (*models.Registration, error)
}

type rosterOpener interface {
	Open(filename string) (*os.File, error)
}

// Outcome is the reconciliation decision for one registration.
type Outcome struct {
	Status          models.RegistrationStatus
	CreditsVerified *int
}

// Decide matches an accepted registration against its roster entry. A missing
// entry means the student is not enrolled. INVALID_CREDITS needs a credit value
// on the roster that is below the claim; without one the claim is trusted.
func Decide(reg *models.Registration, record *models.RosterRecord) Outcome {
	if record == nil {
		return Outcome{Status: models.RegistrationNotEnrolled}
	}
	if record.Credits == nil {
		return Outcome{Status: models.RegistrationVerified}
	}
	credits := *record.Credits
	if credits < reg.CreditsClaimed {
		return Outcome{Status: models.RegistrationInvalidCredits, CreditsVerified: &credits}
	}
	return Outcome{Status: models.RegistrationVerified, CreditsVerified: &credits}
}

// VerificationWorkerConfig tunes the reconciliation worker.
type VerificationWorkerConfig struct {
	HeaderScanRows int
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// VerificationWorker runs one verification batch per queue job. The batch
// record is the checkpoint: counters are written once at the end, while each
// registration keeps its outcome as soon as it is decided.
type VerificationWorker struct {
	batches   batchRunStore
	regs      verificationTargets
	files     rosterOpener
	publisher realtime.Publisher
	summary   summaryInvalidator
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       VerificationWorkerConfig
}

// NewVerificationWorker constructs a worker. publisher, summary and metrics are optional.
func NewVerificationWorker(batches batchRunStore, regs verificationTargets, files rosterOpener, publisher realtime.Publisher, summary summaryInvalidator, metrics *MetricsService, logger *zap.Logger, cfg VerificationWorkerConfig) *VerificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HeaderScanRows <= 0 {
		cfg.HeaderScanRows = roster.DefaultHeaderScanRows
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &VerificationWorker{
		batches:   batches,
		regs:      regs,
		files:     files,
		publisher: publisher,
		summary:   summary,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// Handle processes a queue job whose id is the batch id. Reconciliation errors
// are returned for the queue to retry; on the final attempt the batch is also
// marked FAILED so the error text is kept.
func (w *VerificationWorker) Handle(ctx context.Context, job jobs.Job) error {
	batch, err := w.batches.FindByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			w.logger.Warn("dropping job for unknown batch", zap.String("batch_id", job.ID))
			return nil
		}
		return err
	}

	started := w.cfg.Clock().UTC()
	if err := w.batches.MarkProcessing(ctx, batch.ID, started); err != nil {
		return err
	}
	log := w.logger.With(zap.String("batch_id", batch.ID), zap.String("semester", batch.Semester), zap.Int("attempt", job.Attempt))
	log.Info("verification batch started", zap.String("file_name", batch.FileName))

	parsed, err := w.readRoster(batch.FilePath)
	if err != nil {
		log.Warn("roster rejected", zap.Error(err))
		w.fail(ctx, batch.ID, err.Error(), started)
		return nil
	}
	log.Info("roster parsed",
		zap.Int("header_row", parsed.HeaderRow),
		zap.Int("records", len(parsed.Records)),
		zap.Int("skipped", parsed.Skipped),
		zap.Int("duplicates", parsed.Duplicates),
		zap.Bool("has_credits", parsed.HasCredits),
	)

	results, err := w.reconcile(ctx, log, parsed)
	if err != nil {
		if job.Final {
			w.fail(ctx, batch.ID, err.Error(), started)
		}
		return err
	}

	if results.Total == 0 && batch.Results.Total > 0 {
		log.Info("no accepted registrations left, keeping previous counters", zap.Int("previous_total", batch.Results.Total))
		results = batch.Results
	}

	finished := w.cfg.Clock().UTC()
	if err := w.batches.Complete(ctx, batch.ID, results, finished); err != nil {
		return err
	}
	w.metrics.RecordBatch(models.BatchStatusCompleted, finished.Sub(started))
	if w.summary != nil {
		w.summary.Invalidate(ctx)
	}
	log.Info("verification batch completed",
		zap.Int("total", results.Total),
		zap.Int("verified", results.Verified),
		zap.Int("invalid_credits", results.InvalidCredits),
		zap.Int("not_enrolled", results.NotEnrolled),
	)
	return nil
}

func (w *VerificationWorker) readRoster(name string) (*roster.Result, error) {
	file, err := w.files.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close() //nolint:errcheck

	rows, err := roster.Read(name, file)
	if err != nil {
		return nil, err
	}
	return roster.Parse(rows, roster.Options{HeaderScanRows: w.cfg.HeaderScanRows})
}

// reconcile sweeps whatever is accepted right now. A registration that leaves
// the accepted state mid-run is skipped and not counted.
func (w *VerificationWorker) reconcile(ctx context.Context, log *zap.Logger, parsed *roster.Result) (models.BatchResults, error) {
	var results models.BatchResults
	accepted, err := w.regs.ListByStatus(ctx, models.RegistrationAccepted)
	if err != nil {
		return results, fmt.Errorf("list accepted registrations: %w", err)
	}
	log.Info("reconciling registrations", zap.Int("work_set", len(accepted)))

	for i := range accepted {
		detail := accepted[i]
		code := strings.TrimSpace(detail.StudentCode)
		if code == "" {
			log.Warn("accepted registration has no student code, leaving it accepted",
				zap.String("registration_id", detail.ID),
				zap.String("student_id", detail.StudentID),
			)
			continue
		}
		record, _ := parsed.Lookup(code)
		outcome := Decide(&detail.Registration, record)

		updated, err := w.regs.ApplyVerification(ctx, detail.ID, outcome.Status, outcome.CreditsVerified, w.cfg.Clock().UTC())
		if err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				log.Debug("registration left accepted state, skipping", zap.String("registration_id", detail.ID))
				continue
			}
			return results, fmt.Errorf("apply verification to %s: %w", detail.ID, err)
		}

		results.Record(outcome.Status)
		w.metrics.RecordVerificationOutcome(outcome.Status)
		detail.Registration = *updated
		publishAll(ctx, w.publisher, w.logger, realtime.VerificationComplete(&detail))
	}
	return results, nil
}

func (w *VerificationWorker) fail(ctx context.Context, batchID, message string, started time.Time) {
	finished := w.cfg.Clock().UTC()
	if err := w.batches.Fail(ctx, batchID, message, finished); err != nil {
		w.logger.Warn("failed to mark batch failed", zap.String("batch_id", batchID), zap.Error(err))
	}
	w.metrics.RecordBatch(models.BatchStatusFailed, finished.Sub(started))
}
