package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrTopicFull is returned when a slot reservation finds no free capacity.
	ErrTopicFull = errors.New("topic has no free slots")
	// ErrStatusConflict is returned when a guarded status write matched no row
	// because the registration was no longer in the expected state.
	ErrStatusConflict = errors.New("registration status changed concurrently")
	// ErrDuplicate is returned on unique constraint violations.
	ErrDuplicate = errors.New("duplicate record")
	// ErrTopicInUse is returned when deleting a topic that registrations reference.
	ErrTopicInUse = errors.New("topic is referenced by registrations")
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

func isPQCode(err error, code string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}
