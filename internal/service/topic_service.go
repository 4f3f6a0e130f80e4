package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/thesis-registration-api/internal/dto"
	"github.com/noah-isme/thesis-registration-api/internal/models"
	"github.com/noah-isme/thesis-registration-api/internal/repository"
	appErrors "github.com/noah-isme/thesis-registration-api/pkg/errors"
)

type topicStore interface {
	Create(ctx context.Context, topic *models.Topic) error
	FindByID(ctx context.Context, id string) (*models.Topic, error)
	List(ctx context.Context, filter models.TopicFilter) ([]models.Topic, int, error)
	Delete(ctx context.Context, id string) error
}

// TopicService exposes topic catalogue operations.
type TopicService struct {
	repo      topicStore
	summary   summaryInvalidator
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTopicService constructs TopicService.
func NewTopicService(repo topicStore, summary summaryInvalidator, validate *validator.Validate, logger *zap.Logger) *TopicService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TopicService{repo: repo, summary: summary, validator: validate, logger: logger}
}

// Create registers a topic owned by the instructor.
func (s *TopicService) Create(ctx context.Context, instructorID string, req dto.CreateTopicRequest) (*models.Topic, error) {
	req.TopicCode = strings.TrimSpace(req.TopicCode)
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid topic payload")
	}
	topic := &models.Topic{
		TopicCode:    req.TopicCode,
		Semester:     strings.TrimSpace(req.Semester),
		Title:        req.Title,
		Description:  trimmedOrNil(req.Description),
		InstructorID: instructorID,
		MaxStudents:  req.MaxStudents,
		Status:       models.TopicStatusActive,
	}
	if err := s.repo.Create(ctx, topic); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "topic code already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create topic")
	}
	s.logger.Info("topic created", zap.String("topic_id", topic.ID), zap.String("instructor_id", instructorID))
	if s.summary != nil {
		s.summary.Invalidate(ctx)
	}
	return topic, nil
}

// Get returns a topic by id.
func (s *TopicService) Get(ctx context.Context, id string) (*models.Topic, error) {
	topic, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrTopicNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load topic")
	}
	return topic, nil
}

// List returns topics with pagination metadata.
func (s *TopicService) List(ctx context.Context, filter models.TopicFilter) ([]models.Topic, *models.Pagination, error) {
	switch filter.Status {
	case "", models.TopicStatusActive, models.TopicStatusFull, models.TopicStatusInactive:
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown topic status")
	}
	topics, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list topics")
	}
	return topics, newPagination(filter.Page, filter.PageSize, total), nil
}

// Delete removes a topic. Only the owning instructor or an admin may delete,
// and only while no registration references it.
func (s *TopicService) Delete(ctx context.Context, id, actorID string, role models.UserRole) error {
	topic, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if role != models.RoleAdmin && topic.InstructorID != actorID {
		return appErrors.Clone(appErrors.ErrForbidden, "topic belongs to another instructor")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, repository.ErrTopicInUse):
			return appErrors.Clone(appErrors.ErrConflict, "topic has registrations")
		case errors.Is(err, sql.ErrNoRows):
			return appErrors.ErrTopicNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete topic")
	}
	s.logger.Info("topic deleted", zap.String("topic_id", id), zap.String("actor_id", actorID))
	if s.summary != nil {
		s.summary.Invalidate(ctx)
	}
	return nil
}
