package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/thesis-registration-api/internal/models"
)

const registrationColumns = `id, student_id, topic_id, status, credits_claimed, credits_verified, motivation_letter, transcript_url,
instructor_comment, department_comment, reviewed_by, reviewed_at, verified_at, revoked_at, revoked_by, created_at, updated_at`

const registrationDetailSelect = `SELECT r.id, r.student_id, r.topic_id, r.status, r.credits_claimed, r.credits_verified,
r.motivation_letter, r.transcript_url, r.instructor_comment, r.department_comment, r.reviewed_by, r.reviewed_at,
r.verified_at, r.revoked_at, r.revoked_by, r.created_at, r.updated_at,
COALESCE(u.user_code, '') AS student_code, COALESCE(u.full_name, '') AS student_name,
t.topic_code, t.title AS topic_title, t.instructor_id, t.max_students, t.current_students
FROM registrations r
JOIN topics t ON t.id = r.topic_id
LEFT JOIN users u ON u.id = r.student_id`

// RegistrationRepository handles persistence of registrations. Every status
// write is guarded by the expected current status; a write that matches no
// row returns ErrStatusConflict. Slot changes go through TopicRepository inside
// the same transaction as the status write.
type RegistrationRepository struct {
	db    *sqlx.DB
	slots *TopicRepository
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db, slots: NewTopicRepository(db)}
}

// Create inserts a pending registration. A second application for the same
// student and topic fails with ErrDuplicate.
func (r *RegistrationRepository) Create(ctx context.Context, reg *models.Registration) error {
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}
	reg.UpdatedAt = reg.CreatedAt
	reg.Status = models.RegistrationPendingReview
	const query = `INSERT INTO registrations (id, student_id, topic_id, status, credits_claimed, motivation_letter, transcript_url, created_at, updated_at)
VALUES (:id, :student_id, :topic_id, :status, :credits_claimed, :motivation_letter, :transcript_url, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, reg); err != nil {
		if isPQCode(err, pqUniqueViolation) {
			return ErrDuplicate
		}
		return fmt.Errorf("create registration: %w", err)
	}
	return nil
}

// Exists reports whether the student already has a registration for the topic.
func (r *RegistrationRepository) Exists(ctx context.Context, studentID, topicID string) (bool, error) {
	const query = `SELECT 1 FROM registrations WHERE student_id = $1 AND topic_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, topicID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check registration: %w", err)
	}
	return true, nil
}

// CountActiveByStudent counts registrations that occupy the student's
// application quota. Denied and revoked registrations are excluded.
func (r *RegistrationRepository) CountActiveByStudent(ctx context.Context, studentID string) (int, error) {
	const query = `SELECT COUNT(*) FROM registrations WHERE student_id = $1 AND status NOT IN ($2, $3)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, models.RegistrationDenied, models.RegistrationRevoked); err != nil {
		return 0, fmt.Errorf("count student registrations: %w", err)
	}
	return count, nil
}

// FindByID returns a registration by id.
func (r *RegistrationRepository) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE id = $1`
	var reg models.Registration
	if err := r.db.GetContext(ctx, &reg, query, id); err != nil {
		return nil, err
	}
	return &reg, nil
}

// FindDetailByID returns a registration with student and topic info.
func (r *RegistrationRepository) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	query := registrationDetailSelect + ` WHERE r.id = $1`
	var detail models.RegistrationDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns registrations filtered by the provided criteria.
func (r *RegistrationRepository) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("r.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.InstructorID != "" {
		conditions = append(conditions, fmt.Sprintf("t.instructor_id = $%d", len(args)+1))
		args = append(args, filter.InstructorID)
	}
	if filter.TopicID != "" {
		conditions = append(conditions, fmt.Sprintf("r.topic_id = $%d", len(args)+1))
		args = append(args, filter.TopicID)
	}
	if filter.Semester != "" {
		conditions = append(conditions, fmt.Sprintf("t.semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}
	if len(filter.Statuses) > 0 {
		in, inArgs := statusIn(len(args)+1, filter.Statuses)
		conditions = append(conditions, "r.status IN "+in)
		args = append(args, inArgs...)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}
	size, offset := paginate(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`%s%s ORDER BY r.created_at DESC LIMIT %d OFFSET %d`, registrationDetailSelect, clause, size, offset)
	var regs []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &regs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list registrations: %w", err)
	}

	countQuery := `SELECT COUNT(*) FROM registrations r JOIN topics t ON t.id = r.topic_id` + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count registrations: %w", err)
	}
	return regs, total, nil
}

// ListByStatus returns every registration currently in the given status,
// oldest first.
func (r *RegistrationRepository) ListByStatus(ctx context.Context, status models.RegistrationStatus) ([]models.RegistrationDetail, error) {
	query := registrationDetailSelect + ` WHERE r.status = $1 ORDER BY r.created_at ASC`
	var regs []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &regs, query, status); err != nil {
		return nil, fmt.Errorf("list registrations by status: %w", err)
	}
	return regs, nil
}

// UpdatePendingParams holds the fields a student may edit before review.
type UpdatePendingParams struct {
	CreditsClaimed   *int
	MotivationLetter *string
	TranscriptURL    *string
	UpdatedAt        time.Time
}

// UpdatePending edits a registration that is still awaiting review.
func (r *RegistrationRepository) UpdatePending(ctx context.Context, id string, params UpdatePendingParams) (*models.Registration, error) {
	set := []string{"updated_at = $1"}
	args := []interface{}{params.UpdatedAt}

	if params.CreditsClaimed != nil {
		set = append(set, fmt.Sprintf("credits_claimed = $%d", len(args)+1))
		args = append(args, *params.CreditsClaimed)
	}
	if params.MotivationLetter != nil {
		set = append(set, fmt.Sprintf("motivation_letter = $%d", len(args)+1))
		args = append(args, *params.MotivationLetter)
	}
	if params.TranscriptURL != nil {
		set = append(set, fmt.Sprintf("transcript_url = $%d", len(args)+1))
		args = append(args, *params.TranscriptURL)
	}

	query := fmt.Sprintf(`UPDATE registrations SET %s WHERE id = $%d AND status = $%d RETURNING %s`,
		strings.Join(set, ", "), len(args)+1, len(args)+2, registrationColumns)
	args = append(args, id, models.RegistrationPendingReview)

	var reg models.Registration
	if err := r.db.GetContext(ctx, &reg, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStatusConflict
		}
		return nil, fmt.Errorf("update pending registration: %w", err)
	}
	return &reg, nil
}

// Accept moves a pending registration to INSTRUCTOR_ACCEPTED and reserves a
// topic slot in the same transaction. ErrTopicFull rolls the status write back.
func (r *RegistrationRepository) Accept(ctx context.Context, id, reviewerID string, comment *string, at time.Time) (reg *models.Registration, topic *models.Topic, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin accept transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `UPDATE registrations SET status = $1, reviewed_by = $2, reviewed_at = $3, instructor_comment = $4, updated_at = $3
WHERE id = $5 AND status = $6 RETURNING ` + registrationColumns
	var updated models.Registration
	if err = tx.GetContext(ctx, &updated, query, models.RegistrationAccepted, reviewerID, at, comment, id, models.RegistrationPendingReview); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrStatusConflict
		}
		return nil, nil, fmt.Errorf("accept registration: %w", err)
	}

	topic, err = r.slots.ReserveSlot(ctx, tx, updated.TopicID)
	if err != nil {
		return nil, nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit accept: %w", err)
	}
	return &updated, topic, nil
}

// Reject moves a pending registration to INSTRUCTOR_DENIED. No slot changes.
func (r *RegistrationRepository) Reject(ctx context.Context, id, reviewerID string, comment *string, at time.Time) (*models.Registration, error) {
	query := `UPDATE registrations SET status = $1, reviewed_by = $2, reviewed_at = $3, instructor_comment = $4, updated_at = $3
WHERE id = $5 AND status = $6 RETURNING ` + registrationColumns
	var updated models.Registration
	if err := r.db.GetContext(ctx, &updated, query, models.RegistrationDenied, reviewerID, at, comment, id, models.RegistrationPendingReview); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStatusConflict
		}
		return nil, fmt.Errorf("reject registration: %w", err)
	}
	return &updated, nil
}

// Revoke moves a slot-holding registration to DEPARTMENT_REVOKED and releases
// its topic slot in the same transaction. The verified credit value is cleared
// and the acting department user is stored in revoked_by.
func (r *RegistrationRepository) Revoke(ctx context.Context, id, actorID, reason string, at time.Time) (reg *models.Registration, topic *models.Topic, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin revoke transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	in, inArgs := statusIn(6, models.RevocableStatuses)
	query := `UPDATE registrations SET status = $1, credits_verified = NULL, department_comment = $2, revoked_at = $3, revoked_by = $4, updated_at = $3
WHERE id = $5 AND status IN ` + in + ` RETURNING ` + registrationColumns
	args := append([]interface{}{models.RegistrationRevoked, reason, at, actorID, id}, inArgs...)

	var updated models.Registration
	if err = tx.GetContext(ctx, &updated, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrStatusConflict
		}
		return nil, nil, fmt.Errorf("revoke registration: %w", err)
	}

	topic, err = r.slots.ReleaseSlot(ctx, tx, updated.TopicID)
	if err != nil {
		return nil, nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit revoke: %w", err)
	}
	return &updated, topic, nil
}

// DeleteWithdrawable removes a pending or denied registration owned by the
// student. Registrations in any other state are left untouched.
func (r *RegistrationRepository) DeleteWithdrawable(ctx context.Context, id, studentID string) error {
	in, inArgs := statusIn(3, models.WithdrawableStatuses)
	query := `DELETE FROM registrations WHERE id = $1 AND student_id = $2 AND status IN ` + in
	args := append([]interface{}{id, studentID}, inArgs...)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete registration rows: %w", err)
	}
	if affected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ApplyVerification records a reconciliation outcome on a registration that
// is still INSTRUCTOR_ACCEPTED.
func (r *RegistrationRepository) ApplyVerification(ctx context.Context, id string, status models.RegistrationStatus, creditsVerified *int, at time.Time) (*models.Registration, error) {
	query := `UPDATE registrations SET status = $1, credits_verified = $2, verified_at = $3, updated_at = $3
WHERE id = $4 AND status = $5 RETURNING ` + registrationColumns
	var updated models.Registration
	if err := r.db.GetContext(ctx, &updated, query, status, creditsVerified, at, id, models.RegistrationAccepted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStatusConflict
		}
		return nil, fmt.Errorf("apply verification: %w", err)
	}
	return &updated, nil
}

// CountByStatus groups registrations by status.
func (r *RegistrationRepository) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	var counts []models.StatusCount
	if err := r.db.SelectContext(ctx, &counts, `SELECT status, COUNT(*) AS count FROM registrations GROUP BY status`); err != nil {
		return nil, fmt.Errorf("count registrations by status: %w", err)
	}
	return counts, nil
}

// statusIn renders "($n, $n+1, ...)" for the given statuses.
func statusIn(start int, statuses []models.RegistrationStatus) (string, []interface{}) {
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, status := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", start+i)
		args[i] = status
	}
	return "(" + strings.Join(placeholders, ", ") + ")", args
}
