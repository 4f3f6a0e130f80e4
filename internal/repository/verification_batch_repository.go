package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/thesis-registration-api/internal/models"
)

const batchColumns = `id, semester, file_name, file_path, uploaded_by, status, results, errors, created_at, started_at, finished_at`

// VerificationBatchRepository persists roster upload batches.
type VerificationBatchRepository struct {
	db *sqlx.DB
}

// NewVerificationBatchRepository constructs the repository.
func NewVerificationBatchRepository(db *sqlx.DB) *VerificationBatchRepository {
	return &VerificationBatchRepository{db: db}
}

// Create inserts a queued batch.
func (r *VerificationBatchRepository) Create(ctx context.Context, batch *models.VerificationBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.Status == "" {
		batch.Status = models.BatchStatusQueued
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO verification_batches (id, semester, file_name, file_path, uploaded_by, status, results, errors, created_at)
VALUES (:id, :semester, :file_name, :file_path, :uploaded_by, :status, :results, :errors, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, batch); err != nil {
		return fmt.Errorf("create verification batch: %w", err)
	}
	return nil
}

// FindByID returns a batch by id.
func (r *VerificationBatchRepository) FindByID(ctx context.Context, id string) (*models.VerificationBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM verification_batches WHERE id = $1`
	var batch models.VerificationBatch
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		return nil, err
	}
	return &batch, nil
}

// Latest returns the most recently created batch.
func (r *VerificationBatchRepository) Latest(ctx context.Context) (*models.VerificationBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM verification_batches ORDER BY created_at DESC LIMIT 1`
	var batch models.VerificationBatch
	if err := r.db.GetContext(ctx, &batch, query); err != nil {
		return nil, err
	}
	return &batch, nil
}

// List returns batches newest first.
func (r *VerificationBatchRepository) List(ctx context.Context, limit int) ([]models.VerificationBatch, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `SELECT ` + batchColumns + ` FROM verification_batches ORDER BY created_at DESC LIMIT $1`
	var batches []models.VerificationBatch
	if err := r.db.SelectContext(ctx, &batches, query, limit); err != nil {
		return nil, fmt.Errorf("list verification batches: %w", err)
	}
	return batches, nil
}

// ListByStatuses returns batches in any of the given states, oldest first.
func (r *VerificationBatchRepository) ListByStatuses(ctx context.Context, statuses ...models.BatchStatus) ([]models.VerificationBatch, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, status := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = status
	}
	query := fmt.Sprintf(`SELECT %s FROM verification_batches WHERE status IN (%s) ORDER BY created_at ASC`, batchColumns, strings.Join(placeholders, ", "))
	var batches []models.VerificationBatch
	if err := r.db.SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, fmt.Errorf("list verification batches by status: %w", err)
	}
	return batches, nil
}

// MarkProcessing records that a worker picked up the batch.
func (r *VerificationBatchRepository) MarkProcessing(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE verification_batches SET status = $1, started_at = $2, finished_at = NULL WHERE id = $3`
	return r.exec(ctx, "mark batch processing", query, models.BatchStatusProcessing, at, id)
}

// Complete stores the final counters and clears any previous failure text.
func (r *VerificationBatchRepository) Complete(ctx context.Context, id string, results models.BatchResults, at time.Time) error {
	const query = `UPDATE verification_batches SET status = $1, results = $2, errors = NULL, finished_at = $3 WHERE id = $4`
	return r.exec(ctx, "complete batch", query, models.BatchStatusCompleted, results, at, id)
}

// Fail records failure text. Counters from a previous run are kept.
func (r *VerificationBatchRepository) Fail(ctx context.Context, id, message string, at time.Time) error {
	const query = `UPDATE verification_batches SET status = $1, errors = $2, finished_at = $3 WHERE id = $4`
	return r.exec(ctx, "fail batch", query, models.BatchStatusFailed, message, at, id)
}

// Requeue puts a batch back into the queue for another sweep.
func (r *VerificationBatchRepository) Requeue(ctx context.Context, id string) error {
	const query = `UPDATE verification_batches SET status = $1, started_at = NULL, finished_at = NULL WHERE id = $2`
	return r.exec(ctx, "requeue batch", query, models.BatchStatusQueued, id)
}

func (r *VerificationBatchRepository) exec(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, sql.ErrNoRows)
	}
	return nil
}
