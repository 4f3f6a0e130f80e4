package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// BatchStatus captures verification batch lifecycle states.
type BatchStatus string

const (
	BatchStatusQueued     BatchStatus = "QUEUED"
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusFailed     BatchStatus = "FAILED"
)

// VerificationBatch is one roster upload and its reconciliation outcome. The
// record is the durable checkpoint for the background job.
type VerificationBatch struct {
	ID         string       `db:"id" json:"id"`
	Semester   string       `db:"semester" json:"semester"`
	FileName   string       `db:"file_name" json:"file_name"`
	FilePath   string       `db:"file_path" json:"-"`
	UploadedBy string       `db:"uploaded_by" json:"uploaded_by"`
	Status     BatchStatus  `db:"status" json:"status"`
	Results    BatchResults `db:"results" json:"results"`
	Errors     *string      `db:"errors" json:"errors,omitempty"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	StartedAt  *time.Time   `db:"started_at" json:"started_at,omitempty"`
	FinishedAt *time.Time   `db:"finished_at" json:"finished_at,omitempty"`
}

// BatchResults stores aggregate reconciliation counters persisted as JSONB.
type BatchResults struct {
	Total          int `json:"total"`
	Verified       int `json:"verified"`
	InvalidCredits int `json:"invalidCredits"`
	NotEnrolled    int `json:"notEnrolled"`
}

// Record adds one outcome to the counters.
func (r *BatchResults) Record(status RegistrationStatus) {
	switch status {
	case RegistrationVerified:
		r.Verified++
	case RegistrationInvalidCredits:
		r.InvalidCredits++
	case RegistrationNotEnrolled:
		r.NotEnrolled++
	default:
		return
	}
	r.Total++
}

// Value marshals results to JSON for persistence.
func (r BatchResults) Value() (driver.Value, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal batch results: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the results struct.
func (r *BatchResults) Scan(value interface{}) error {
	if value == nil {
		*r = BatchResults{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for BatchResults", value)
	}
	if len(data) == 0 {
		*r = BatchResults{}
		return nil
	}
	if err := json.Unmarshal(data, r); err != nil {
		return fmt.Errorf("unmarshal batch results: %w", err)
	}
	return nil
}

// RosterRecord is one parsed roster row. It lives only for the duration of a
// reconciliation run.
type RosterRecord struct {
	StudentCode  string `json:"student_code"`
	FullName     string `json:"full_name"`
	DateOfBirth  string `json:"date_of_birth,omitempty"`
	StudentClass string `json:"student_class,omitempty"`
	Credits      *int   `json:"credits,omitempty"`
}

// ReportSummary aggregates topic and registration counts for the department.
type ReportSummary struct {
	TopicsByStatus        map[TopicStatus]int        `json:"topics_by_status"`
	RegistrationsByStatus map[RegistrationStatus]int `json:"registrations_by_status"`
	TotalSlots            int                        `json:"total_slots"`
	FilledSlots           int                        `json:"filled_slots"`
	LatestBatch           *VerificationBatch         `json:"latest_batch,omitempty"`
	GeneratedAt           time.Time                  `json:"generated_at"`
}

// StatusCount is a scan target for grouped counts.
type StatusCount struct {
	Status string `db:"status"`
	Count  int    `db:"count"`
}
