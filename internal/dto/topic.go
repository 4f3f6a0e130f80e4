package dto

// CreateTopicRequest captures POST /topics payload.
type CreateTopicRequest struct {
	TopicCode   string  `json:"topic_code" validate:"required,max=50"`
	Semester    string  `json:"semester" validate:"required,max=20"`
	Title       string  `json:"title" validate:"required,max=255"`
	Description *string `json:"description,omitempty"`
	MaxStudents int     `json:"max_students" validate:"required,min=1,max=50"`
}
