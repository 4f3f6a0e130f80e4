package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/thesis-registration-api/internal/dto"
	"github.com/noah-isme/thesis-registration-api/internal/models"
	"github.com/noah-isme/thesis-registration-api/internal/roster"
	appErrors "github.com/noah-isme/thesis-registration-api/pkg/errors"
	"github.com/noah-isme/thesis-registration-api/pkg/jobs"
)

// VerificationJobType tags roster reconciliation jobs on the queue.
const VerificationJobType = "roster.verify"

type batchStore interface {
	Create(ctx context.Context, batch *models.VerificationBatch) error
	FindByID(ctx context.Context, id string) (*models.VerificationBatch, error)
	Latest(ctx context.Context) (*models.VerificationBatch, error)
	List(ctx context.Context, limit int) ([]models.VerificationBatch, error)
	ListByStatuses(ctx context.Context, statuses ...models.BatchStatus) ([]models.VerificationBatch, error)
	Fail(ctx context.Context, id, message string, at time.Time) error
	Requeue(ctx context.Context, id string) error
}

type rosterFileStore interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type jobEnqueuer interface {
	Enqueue(ctx context.Context, job jobs.Job) error
}

// RosterUpload is an uploaded roster file.
type RosterUpload struct {
	FileName string
	Size     int64
	Reader   io.Reader
}

// VerificationService accepts roster uploads and manages verification batches.
type VerificationService struct {
	batches     batchStore
	files       rosterFileStore
	queue       jobEnqueuer
	logger      *zap.Logger
	maxFileSize int64
}

// NewVerificationService constructs VerificationService.
func NewVerificationService(batches batchStore, files rosterFileStore, queue jobEnqueuer, maxFileSize int64, logger *zap.Logger) *VerificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxFileSize <= 0 {
		maxFileSize = 10 * 1024 * 1024
	}
	return &VerificationService{batches: batches, files: files, queue: queue, logger: logger, maxFileSize: maxFileSize}
}

// Upload stores the roster under a generated name, records a queued batch and
// enqueues it. Parsing happens in the worker; a malformed file only surfaces on
// the batch record.
func (s *VerificationService) Upload(ctx context.Context, actorID, semester string, upload RosterUpload) (*dto.BatchAcceptedResponse, error) {
	semester = strings.TrimSpace(semester)
	if semester == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "semester is required")
	}
	if upload.Reader == nil || upload.FileName == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "roster file is required")
	}
	if !roster.SupportedExtension(upload.FileName) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "roster must be an .xlsx, .xlsm or .csv file")
	}
	if upload.Size > s.maxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("roster exceeds %d bytes", s.maxFileSize))
	}

	stored := uuid.NewString() + strings.ToLower(filepath.Ext(upload.FileName))
	// the declared size is client supplied; one byte past the limit proves the
	// stream is too large
	body := &countingReader{r: io.LimitReader(upload.Reader, s.maxFileSize+1)}
	if _, err := s.files.SaveStream(stored, body); err != nil {
		s.discard(stored)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store roster file")
	}
	if body.n > s.maxFileSize {
		s.discard(stored)
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("roster exceeds %d bytes", s.maxFileSize))
	}

	batch := &models.VerificationBatch{
		Semester:   semester,
		FileName:   filepath.Base(upload.FileName),
		FilePath:   stored,
		UploadedBy: actorID,
		Status:     models.BatchStatusQueued,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		s.discard(stored)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create verification batch")
	}

	if err := s.enqueue(ctx, batch.ID); err != nil {
		if failErr := s.batches.Fail(ctx, batch.ID, "failed to enqueue batch", time.Now().UTC()); failErr != nil {
			s.logger.Warn("failed to mark batch failed", zap.String("batch_id", batch.ID), zap.Error(failErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue verification batch")
	}

	s.logger.Info("roster uploaded",
		zap.String("batch_id", batch.ID),
		zap.String("semester", semester),
		zap.String("file_name", batch.FileName),
		zap.String("uploaded_by", actorID),
	)
	return &dto.BatchAcceptedResponse{BatchID: batch.ID, Status: batch.Status}, nil
}

func (s *VerificationService) discard(stored string) {
	if err := s.files.Delete(stored); err != nil {
		s.logger.Warn("failed to remove orphaned roster file", zap.String("file", stored), zap.Error(err))
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Get returns a batch by id.
func (s *VerificationService) Get(ctx context.Context, id string) (*models.VerificationBatch, error) {
	batch, err := s.batches.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "verification batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load verification batch")
	}
	return batch, nil
}

// Latest returns the most recent batch.
func (s *VerificationService) Latest(ctx context.Context) (*models.VerificationBatch, error) {
	batch, err := s.batches.Latest(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no verification batch yet")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load latest verification batch")
	}
	return batch, nil
}

// History returns recent batches, newest first.
func (s *VerificationService) History(ctx context.Context, limit int) ([]models.VerificationBatch, error) {
	batches, err := s.batches.List(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list verification batches")
	}
	return batches, nil
}

// Reprocess replays the stored roster of a batch against the registrations
// that are currently accepted.
func (s *VerificationService) Reprocess(ctx context.Context, id string) (*dto.BatchAcceptedResponse, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.batches.Requeue(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to requeue verification batch")
	}
	if err := s.enqueue(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue verification batch")
	}
	s.logger.Info("batch requeued", zap.String("batch_id", id))
	return &dto.BatchAcceptedResponse{BatchID: id, Status: models.BatchStatusQueued}, nil
}

// RecoverPending re-enqueues batches left queued or processing by a previous
// process and returns how many were enqueued.
func (s *VerificationService) RecoverPending(ctx context.Context) (int, error) {
	pending, err := s.batches.ListByStatuses(ctx, models.BatchStatusQueued, models.BatchStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("list pending batches: %w", err)
	}
	recovered := 0
	for _, batch := range pending {
		if err := s.enqueue(ctx, batch.ID); err != nil {
			s.logger.Warn("failed to requeue pending batch", zap.String("batch_id", batch.ID), zap.Error(err))
			continue
		}
		recovered++
	}
	return recovered, nil
}

func (s *VerificationService) enqueue(ctx context.Context, batchID string) error {
	return s.queue.Enqueue(ctx, jobs.Job{ID: batchID, Type: VerificationJobType})
}
