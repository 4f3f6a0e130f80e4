package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/thesis-registration-api/internal/models"
)

// UserRepository keeps the local copy of user profiles.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns a profile by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.UserProfile, error) {
	const query = `SELECT id, user_code, full_name, email, role, updated_at FROM users WHERE id = $1 LIMIT 1`
	var profile models.UserProfile
	if err := r.db.GetContext(ctx, &profile, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &profile, nil
}

// Upsert stores the profile, refreshing code, name, email and role when the
// user is already known.
func (r *UserRepository) Upsert(ctx context.Context, profile *models.UserProfile) error {
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO users (id, user_code, full_name, email, role, updated_at)
VALUES (:id, :user_code, :full_name, :email, :role, :updated_at)
ON CONFLICT (id) DO UPDATE SET user_code = EXCLUDED.user_code, full_name = EXCLUDED.full_name,
email = EXCLUDED.email, role = EXCLUDED.role, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, profile); err != nil {
		if isPQCode(err, pqUniqueViolation) {
			return ErrDuplicate
		}
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}
