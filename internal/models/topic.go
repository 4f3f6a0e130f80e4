package models

import "time"

// TopicStatus represents the availability of a thesis topic.
type TopicStatus string

const (
	TopicStatusActive   TopicStatus = "ACTIVE"
	TopicStatusFull     TopicStatus = "FULL"
	TopicStatusInactive TopicStatus = "INACTIVE"
)

// Topic is an instructor-authored thesis subject with a fixed student capacity.
// Status FULL mirrors CurrentStudents == MaxStudents and is kept in step by the
// slot reservation queries.
type Topic struct {
	ID              string      `db:"id" json:"id"`
	TopicCode       string      `db:"topic_code" json:"topic_code"`
	Semester        string      `db:"semester" json:"semester"`
	Title           string      `db:"title" json:"title"`
	Description     *string     `db:"description" json:"description,omitempty"`
	InstructorID    string      `db:"instructor_id" json:"instructor_id"`
	MaxStudents     int         `db:"max_students" json:"max_students"`
	CurrentStudents int         `db:"current_students" json:"current_students"`
	Status          TopicStatus `db:"status" json:"status"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// AvailableSlots returns the number of free slots.
func (t Topic) AvailableSlots() int {
	if free := t.MaxStudents - t.CurrentStudents; free > 0 {
		return free
	}
	return 0
}

// TopicFilter provides filters for listing topics.
type TopicFilter struct {
	InstructorID string
	Semester     string
	Status       TopicStatus
	Search       string
	Page         int
	PageSize     int
}
