package realtime

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/thesis-registration-api/internal/models"
)

// SubjectKind identifies the entity a subscriber listens on.
type SubjectKind string

const (
	SubjectStudent    SubjectKind = "student"
	SubjectInstructor SubjectKind = "instructor"
	SubjectTopic      SubjectKind = "topic"
)

// Subject addresses a channel by entity kind and id.
type Subject struct {
	Kind SubjectKind `json:"kind"`
	ID   string      `json:"id"`
}

func StudentSubject(id string) Subject    { return Subject{Kind: SubjectStudent, ID: id} }
func InstructorSubject(id string) Subject { return Subject{Kind: SubjectInstructor, ID: id} }
func TopicSubject(id string) Subject      { return Subject{Kind: SubjectTopic, ID: id} }

func (s Subject) String() string {
	return string(s.Kind) + ":" + s.ID
}

// EventType names a pushed notification.
type EventType string

const (
	EventNewApplication       EventType = "new-application"
	EventStatusChange         EventType = "status-change"
	EventSlotsUpdate          EventType = "slots-update"
	EventVerificationComplete EventType = "verification-complete"
)

// Event is one notification addressed to one or more subjects. Version orders
// events for the same registration; subscribers never deliver an older version
// after a newer one.
type Event struct {
	Type           EventType       `json:"type"`
	Subjects       []Subject       `json:"subjects"`
	RegistrationID string          `json:"registration_id,omitempty"`
	Version        int64           `json:"version"`
	Data           json.RawMessage `json:"data"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// RegistrationPayload is the data of registration-scoped events.
type RegistrationPayload struct {
	RegistrationID    string                    `json:"registration_id"`
	StudentID         string                    `json:"student_id"`
	StudentCode       string                    `json:"student_code,omitempty"`
	StudentName       string                    `json:"student_name,omitempty"`
	TopicID           string                    `json:"topic_id"`
	TopicCode         string                    `json:"topic_code,omitempty"`
	TopicTitle        string                    `json:"topic_title,omitempty"`
	Status            models.RegistrationStatus `json:"status"`
	CreditsClaimed    int                       `json:"credits_claimed"`
	CreditsVerified   *int                      `json:"credits_verified,omitempty"`
	InstructorComment *string                   `json:"instructor_comment,omitempty"`
	DepartmentComment *string                   `json:"department_comment,omitempty"`
}

// SlotsPayload is the data of slots-update events.
type SlotsPayload struct {
	TopicID         string             `json:"topic_id"`
	CurrentStudents int                `json:"current_students"`
	MaxStudents     int                `json:"max_students"`
	AvailableSlots  int                `json:"available_slots"`
	Status          models.TopicStatus `json:"status"`
}

func registrationPayload(d *models.RegistrationDetail) RegistrationPayload {
	return RegistrationPayload{
		RegistrationID:    d.ID,
		StudentID:         d.StudentID,
		StudentCode:       d.StudentCode,
		StudentName:       d.StudentName,
		TopicID:           d.TopicID,
		TopicCode:         d.TopicCode,
		TopicTitle:        d.TopicTitle,
		Status:            d.Status,
		CreditsClaimed:    d.CreditsClaimed,
		CreditsVerified:   d.CreditsVerified,
		InstructorComment: d.InstructorComment,
		DepartmentComment: d.DepartmentComment,
	}
}

func newEvent(kind EventType, registrationID string, version int64, data interface{}, subjects ...Subject) Event {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = json.RawMessage("null")
	}
	return Event{
		Type:           kind,
		Subjects:       subjects,
		RegistrationID: registrationID,
		Version:        version,
		Data:           raw,
		OccurredAt:     time.Now().UTC(),
	}
}

// NewApplication notifies the topic's instructor of a fresh application.
func NewApplication(d *models.RegistrationDetail) Event {
	return newEvent(EventNewApplication, d.ID, d.Version(), registrationPayload(d), InstructorSubject(d.InstructorID))
}

// StatusChange notifies the student that their registration moved.
func StatusChange(d *models.RegistrationDetail) Event {
	return newEvent(EventStatusChange, d.ID, d.Version(), registrationPayload(d), StudentSubject(d.StudentID))
}

// VerificationComplete notifies student and instructor of a reconciliation outcome.
func VerificationComplete(d *models.RegistrationDetail) Event {
	return newEvent(EventVerificationComplete, d.ID, d.Version(), registrationPayload(d),
		StudentSubject(d.StudentID), InstructorSubject(d.InstructorID))
}

// SlotsUpdate notifies topic subscribers of the current capacity. The
// registration that caused the change, if any, orders it.
func SlotsUpdate(t *models.Topic, registrationID string, version int64) Event {
	payload := SlotsPayload{
		TopicID:         t.ID,
		CurrentStudents: t.CurrentStudents,
		MaxStudents:     t.MaxStudents,
		AvailableSlots:  t.AvailableSlots(),
		Status:          t.Status,
	}
	return newEvent(EventSlotsUpdate, registrationID, version, payload, TopicSubject(t.ID))
}
