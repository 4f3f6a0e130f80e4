package service

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/thesis-registration-api/internal/dto"
	"github.com/noah-isme/thesis-registration-api/internal/models"
	appErrors "github.com/noah-isme/thesis-registration-api/pkg/errors"
)

func TestTopicServiceCreate(t *testing.T) {
	store := newMemoryStore()
	summary := &countingInvalidator{}
	svc := NewTopicService(topicRepo{store}, summary, validator.New(), zap.NewNop())
	desc := "  "

	topic, err := svc.Create(context.Background(), "ins-1", dto.CreateTopicRequest{
		TopicCode: " AI-01 ", Semester: "2024-1", Title: "Graph neural networks", Description: &desc, MaxStudents: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "AI-01", topic.TopicCode)
	assert.Equal(t, models.TopicStatusActive, topic.Status)
	assert.Equal(t, 0, topic.CurrentStudents)
	assert.Nil(t, topic.Description)
	assert.Equal(t, "ins-1", topic.InstructorID)
	assert.Equal(t, 1, summary.calls)

	_, err = svc.Create(context.Background(), "ins-2", dto.CreateTopicRequest{TopicCode: "AI-01", Semester: "2024-1", Title: "Other", MaxStudents: 2})
	requireAppError(t, err, appErrors.ErrConflict)

	_, err = svc.Create(context.Background(), "ins-1", dto.CreateTopicRequest{TopicCode: "AI-02", Semester: "2024-1", Title: "Zero", MaxStudents: 0})
	requireAppError(t, err, appErrors.ErrValidation)
}

func TestTopicServiceGetAndList(t *testing.T) {
	store := newMemoryStore()
	store.addTopic("t1", "ins-1", 0, 2)
	store.addTopic("t2", "ins-1", 2, 2)
	store.addTopic("t3", "ins-2", 0, 2)
	svc := NewTopicService(topicRepo{store}, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Get(ctx, "missing")
	requireAppError(t, err, appErrors.ErrTopicNotFound)

	topic, err := svc.Get(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, 0, topic.AvailableSlots())

	topics, page, err := svc.List(ctx, models.TopicFilter{InstructorID: "ins-1", Status: models.TopicStatusActive})
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "t1", topics[0].ID)
	assert.Equal(t, 1, page.TotalCount)

	_, _, err = svc.List(ctx, models.TopicFilter{Status: "OPEN"})
	requireAppError(t, err, appErrors.ErrValidation)
}

func TestTopicServiceDelete(t *testing.T) {
	store := newMemoryStore()
	store.addTopic("t1", "ins-1", 0, 2)
	store.addTopic("t2", "ins-1", 0, 2)
	store.seedRegistration("stu-1", "t2", models.RegistrationPendingReview, 100)
	svc := NewTopicService(topicRepo{store}, nil, nil, nil)
	ctx := context.Background()

	requireAppError(t, svc.Delete(ctx, "t1", "ins-2", models.RoleInstructor), appErrors.ErrForbidden)
	requireAppError(t, svc.Delete(ctx, "t2", "ins-1", models.RoleInstructor), appErrors.ErrConflict)
	require.NoError(t, svc.Delete(ctx, "t1", "admin", models.RoleAdmin))
	requireAppError(t, svc.Delete(ctx, "t1", "ins-1", models.RoleInstructor), appErrors.ErrTopicNotFound)
}
