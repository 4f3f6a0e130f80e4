package dto

import "github.com/noah-isme/thesis-registration-api/internal/models"

// BatchAcceptedResponse is returned once a roster upload has been queued.
type BatchAcceptedResponse struct {
	BatchID string             `json:"batch_id"`
	Status  models.BatchStatus `json:"status"`
}

// RosterPreview summarises a parsed roster without touching registrations.
type RosterPreview struct {
	HeaderRow  int                   `json:"header_row"`
	HasCredits bool                  `json:"has_credits"`
	DataRows   int                   `json:"data_rows"`
	Records    int                   `json:"records"`
	Skipped    int                   `json:"skipped"`
	Duplicates int                   `json:"duplicates"`
	Sample     []models.RosterRecord `json:"sample,omitempty"`
}
