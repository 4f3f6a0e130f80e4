package models

import "time"

// RegistrationStatus represents the lifecycle of a thesis registration.
type RegistrationStatus string

const (
	RegistrationPendingReview  RegistrationStatus = "PENDING_INSTRUCTOR_REVIEW"
	RegistrationAccepted       RegistrationStatus = "INSTRUCTOR_ACCEPTED"
	RegistrationDenied         RegistrationStatus = "INSTRUCTOR_DENIED"
	RegistrationVerified       RegistrationStatus = "VERIFIED"
	RegistrationInvalidCredits RegistrationStatus = "INVALID_CREDITS"
	RegistrationNotEnrolled    RegistrationStatus = "NOT_ENROLLED_EDUSOFT"
	RegistrationRevoked        RegistrationStatus = "DEPARTMENT_REVOKED"
)

// AllRegistrationStatuses lists every status in lifecycle order.
var AllRegistrationStatuses = []RegistrationStatus{
	RegistrationPendingReview,
	RegistrationAccepted,
	RegistrationDenied,
	RegistrationVerified,
	RegistrationInvalidCredits,
	RegistrationNotEnrolled,
	RegistrationRevoked,
}

var registrationTransitions = map[RegistrationStatus][]RegistrationStatus{
	RegistrationPendingReview:  {RegistrationAccepted, RegistrationDenied},
	RegistrationAccepted:       {RegistrationVerified, RegistrationInvalidCredits, RegistrationNotEnrolled, RegistrationRevoked},
	RegistrationVerified:       {RegistrationRevoked},
	RegistrationInvalidCredits: {RegistrationRevoked},
	RegistrationNotEnrolled:    {RegistrationRevoked},
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to RegistrationStatus) bool {
	for _, next := range registrationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s RegistrationStatus) Valid() bool {
	for _, status := range AllRegistrationStatuses {
		if status == s {
			return true
		}
	}
	return false
}

// HoldsSlot reports whether a registration in this status occupies a topic slot.
func (s RegistrationStatus) HoldsSlot() bool {
	switch s {
	case RegistrationAccepted, RegistrationVerified, RegistrationInvalidCredits, RegistrationNotEnrolled:
		return true
	}
	return false
}

// Revocable reports whether the department may revoke from this status.
func (s RegistrationStatus) Revocable() bool {
	return CanTransition(s, RegistrationRevoked)
}

// Withdrawable reports whether the student may delete the registration.
func (s RegistrationStatus) Withdrawable() bool {
	return s == RegistrationPendingReview || s == RegistrationDenied
}

// CountsTowardLimit reports whether the registration is counted against the
// per-student application cap.
func (s RegistrationStatus) CountsTowardLimit() bool {
	return s != RegistrationDenied && s != RegistrationRevoked
}

// WithdrawableStatuses lists the statuses a student may withdraw from.
var WithdrawableStatuses = []RegistrationStatus{RegistrationPendingReview, RegistrationDenied}

// RevocableStatuses lists the statuses the department may revoke from.
var RevocableStatuses = []RegistrationStatus{
	RegistrationAccepted,
	RegistrationVerified,
	RegistrationInvalidCredits,
	RegistrationNotEnrolled,
}

// Registration is a student's application to a topic.
type Registration struct {
	ID                string             `db:"id" json:"id"`
	StudentID         string             `db:"student_id" json:"student_id"`
	TopicID           string             `db:"topic_id" json:"topic_id"`
	Status            RegistrationStatus `db:"status" json:"status"`
	CreditsClaimed    int                `db:"credits_claimed" json:"credits_claimed"`
	CreditsVerified   *int               `db:"credits_verified" json:"credits_verified,omitempty"`
	MotivationLetter  *string            `db:"motivation_letter" json:"motivation_letter,omitempty"`
	TranscriptURL     *string            `db:"transcript_url" json:"transcript_url,omitempty"`
	InstructorComment *string            `db:"instructor_comment" json:"instructor_comment,omitempty"`
	DepartmentComment *string            `db:"department_comment" json:"department_comment,omitempty"`
	ReviewedBy        *string            `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time         `db:"reviewed_at" json:"reviewed_at,omitempty"`
	VerifiedAt        *time.Time         `db:"verified_at" json:"verified_at,omitempty"`
	RevokedAt         *time.Time         `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedBy         *string            `db:"revoked_by" json:"revoked_by,omitempty"`
	CreatedAt         time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updated_at"`
}

// Version orders events emitted for the same registration.
func (r Registration) Version() int64 {
	return r.UpdatedAt.UnixNano()
}

// RegistrationDetail enriches Registration with student and topic info.
type RegistrationDetail struct {
	Registration
	StudentCode     string `db:"student_code" json:"student_code"`
	StudentName     string `db:"student_name" json:"student_name"`
	TopicCode       string `db:"topic_code" json:"topic_code"`
	TopicTitle      string `db:"topic_title" json:"topic_title"`
	InstructorID    string `db:"instructor_id" json:"instructor_id"`
	MaxStudents     int    `db:"max_students" json:"max_students"`
	CurrentStudents int    `db:"current_students" json:"current_students"`
}

// RegistrationFilter provides filters for listing registrations.
type RegistrationFilter struct {
	StudentID    string
	InstructorID string
	TopicID      string
	Semester     string
	Statuses     []RegistrationStatus
	Page         int
	PageSize     int
}

// ReviewDecision is an instructor's verdict on a pending registration.
type ReviewDecision string

const (
	DecisionAccept ReviewDecision = "ACCEPT"
	DecisionReject ReviewDecision = "REJECT"
)
