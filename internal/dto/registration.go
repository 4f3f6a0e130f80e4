package dto

import "github.com/noah-isme/thesis-registration-api/internal/models"

// ApplyRequest captures POST /registrations/apply payload.
type ApplyRequest struct {
	TopicID          string  `json:"topic_id" validate:"required"`
	CreditsClaimed   int     `json:"credits_claimed" validate:"gte=0"`
	MotivationLetter *string `json:"motivation_letter,omitempty" validate:"omitempty,max=5000"`
	TranscriptURL    *string `json:"transcript_url,omitempty" validate:"omitempty,url"`
}

// ReviewRequest captures an instructor decision.
type ReviewRequest struct {
	RegistrationID string                `json:"registration_id" validate:"required"`
	Decision       models.ReviewDecision `json:"decision" validate:"required,oneof=ACCEPT REJECT"`
	Comment        *string               `json:"comment,omitempty" validate:"omitempty,max=2000"`
}

// RevokeRequest captures a department revocation.
type RevokeRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

// UpdateApplicationRequest carries the fields a student may edit while the
// application is still pending.
type UpdateApplicationRequest struct {
	CreditsClaimed   *int    `json:"credits_claimed,omitempty" validate:"omitempty,gte=0"`
	MotivationLetter *string `json:"motivation_letter,omitempty" validate:"omitempty,max=5000"`
	TranscriptURL    *string `json:"transcript_url,omitempty" validate:"omitempty,url"`
}
