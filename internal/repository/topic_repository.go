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

const topicColumns = `id, topic_code, semester, title, description, instructor_id, max_students, current_students, status, created_at, updated_at`

// TopicRepository handles persistence of thesis topics and their slot counters.
type TopicRepository struct {
	db *sqlx.DB
}

// NewTopicRepository constructs the repository.
func NewTopicRepository(db *sqlx.DB) *TopicRepository {
	return &TopicRepository{db: db}
}

// Create persists a new topic with an empty slot counter.
func (r *TopicRepository) Create(ctx context.Context, topic *models.Topic) error {
	if topic.ID == "" {
		topic.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if topic.CreatedAt.IsZero() {
		topic.CreatedAt = now
	}
	topic.UpdatedAt = topic.CreatedAt
	topic.CurrentStudents = 0
	if topic.Status == "" {
		topic.Status = models.TopicStatusActive
	}
	const query = `INSERT INTO topics (id, topic_code, semester, title, description, instructor_id, max_students, current_students, status, created_at, updated_at)
VALUES (:id, :topic_code, :semester, :title, :description, :instructor_id, :max_students, :current_students, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, topic); err != nil {
		if isPQCode(err, pqUniqueViolation) {
			return ErrDuplicate
		}
		return fmt.Errorf("create topic: %w", err)
	}
	return nil
}

// FindByID returns a topic by id.
func (r *TopicRepository) FindByID(ctx context.Context, id string) (*models.Topic, error) {
	query := `SELECT ` + topicColumns + ` FROM topics WHERE id = $1`
	var topic models.Topic
	if err := r.db.GetContext(ctx, &topic, query, id); err != nil {
		return nil, err
	}
	return &topic, nil
}

// List returns topics filtered by the provided criteria.
func (r *TopicRepository) List(ctx context.Context, filter models.TopicFilter) ([]models.Topic, int, error) {
	var conditions []string
	var args []interface{}

	if filter.InstructorID != "" {
		conditions = append(conditions, fmt.Sprintf("instructor_id = $%d", len(args)+1))
		args = append(args, filter.InstructorID)
	}
	if filter.Semester != "" {
		conditions = append(conditions, fmt.Sprintf("semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(title ILIKE $%d OR topic_code ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}
	size, offset := paginate(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT %s FROM topics%s ORDER BY created_at DESC LIMIT %d OFFSET %d`, topicColumns, clause, size, offset)
	var topics []models.Topic
	if err := r.db.SelectContext(ctx, &topics, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list topics: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM topics"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count topics: %w", err)
	}
	return topics, total, nil
}

// Delete removes a topic that no registration references.
func (r *TopicRepository) Delete(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin topic delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var refs int
	if err = tx.GetContext(ctx, &refs, `SELECT COUNT(*) FROM registrations WHERE topic_id = $1`, id); err != nil {
		return fmt.Errorf("count topic registrations: %w", err)
	}
	if refs > 0 {
		return ErrTopicInUse
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM topics WHERE id = $1`, id)
	if err != nil {
		if isPQCode(err, pqForeignKeyViolation) {
			return ErrTopicInUse
		}
		return fmt.Errorf("delete topic: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete topic rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit topic delete: %w", err)
	}
	return nil
}

// ReserveSlot takes one slot inside the caller's transaction. The capacity
// check and increment are a single conditional update, so two concurrent
// reservations on the last slot cannot both succeed.
func (r *TopicRepository) ReserveSlot(ctx context.Context, tx *sqlx.Tx, topicID string) (*models.Topic, error) {
	query := `UPDATE topics SET current_students = current_students + 1,
status = CASE WHEN current_students + 1 >= max_students THEN 'FULL' ELSE status END,
updated_at = NOW()
WHERE id = $1 AND current_students < max_students
RETURNING ` + topicColumns
	var topic models.Topic
	if err := tx.GetContext(ctx, &topic, query, topicID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTopicFull
		}
		return nil, fmt.Errorf("reserve topic slot: %w", err)
	}
	return &topic, nil
}

// ReleaseSlot returns one slot inside the caller's transaction.
func (r *TopicRepository) ReleaseSlot(ctx context.Context, tx *sqlx.Tx, topicID string) (*models.Topic, error) {
	query := `UPDATE topics SET current_students = current_students - 1,
status = CASE WHEN status = 'FULL' THEN 'ACTIVE' ELSE status END,
updated_at = NOW()
WHERE id = $1 AND current_students > 0
RETURNING ` + topicColumns
	var topic models.Topic
	if err := tx.GetContext(ctx, &topic, query, topicID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("release topic slot %s: counter already at zero", topicID)
		}
		return nil, fmt.Errorf("release topic slot: %w", err)
	}
	return &topic, nil
}

// CountByStatus groups topics by status.
func (r *TopicRepository) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	var counts []models.StatusCount
	if err := r.db.SelectContext(ctx, &counts, `SELECT status, COUNT(*) AS count FROM topics GROUP BY status`); err != nil {
		return nil, fmt.Errorf("count topics by status: %w", err)
	}
	return counts, nil
}

// SlotTotals returns total capacity and occupied slots across all topics.
func (r *TopicRepository) SlotTotals(ctx context.Context) (int, int, error) {
	var totals struct {
		Capacity int `db:"capacity"`
		Filled   int `db:"filled"`
	}
	const query = `SELECT COALESCE(SUM(max_students), 0) AS capacity, COALESCE(SUM(current_students), 0) AS filled FROM topics`
	if err := r.db.GetContext(ctx, &totals, query); err != nil {
		return 0, 0, fmt.Errorf("sum topic slots: %w", err)
	}
	return totals.Capacity, totals.Filled, nil
}

// paginate normalizes page parameters into LIMIT and OFFSET values.
func paginate(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return size, (page - 1) * size
}
