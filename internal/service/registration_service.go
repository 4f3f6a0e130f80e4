package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/thesis-registration-api/internal/dto"
	"github.com/noah-isme/thesis-registration-api/internal/models"
	"github.com/noah-isme/thesis-registration-api/internal/realtime"
	"github.com/noah-isme/thesis-registration-api/internal/repository"
	appErrors "github.com/noah-isme/thesis-registration-api/pkg/errors"
)

type registrationStore interface {
	Create(ctx context.Context, reg *models.Registration) error
	Exists(ctx context.Context, studentID, topicID string) (bool, error)
	CountActiveByStudent(ctx context.Context, studentID string) (int, error)
	FindByID(ctx context.Context, id string) (*models.Registration, error)
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
	List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error)
	UpdatePending(ctx context.Context, id string, params repository.UpdatePendingParams) (*models.Registration, error)
	Accept(ctx context.Context, id, reviewerID string, comment *string, at time.Time) (*models.Registration, *models.Topic, error)
	Reject(ctx context.Context, id, reviewerID string, comment *string, at time.Time) (*models.Registration, error)
	Revoke(ctx context.Context, id, actorID, reason string, at time.Time) (*models.Registration, *models.Topic, error)
	DeleteWithdrawable(ctx context.Context, id, studentID string) error
}

type topicReader interface {
	FindByID(ctx context.Context, id string) (*models.Topic, error)
}

type summaryInvalidator interface {
	Invalidate(ctx context.Context)
}

// RegistrationServiceConfig carries the registration window and quota.
type RegistrationServiceConfig struct {
	StartDate       time.Time
	EndDate         time.Time
	MaxApplications int
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// RegistrationService drives the registration lifecycle.
type RegistrationService struct {
	repo      registrationStore
	topics    topicReader
	publisher realtime.Publisher
	summary   summaryInvalidator
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       RegistrationServiceConfig
}

// NewRegistrationService constructs RegistrationService. publisher, summary and
// metrics are optional.
func NewRegistrationService(repo registrationStore, topics topicReader, publisher realtime.Publisher, summary summaryInvalidator, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg RegistrationServiceConfig) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxApplications <= 0 {
		cfg.MaxApplications = 3
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &RegistrationService{
		repo:      repo,
		topics:    topics,
		publisher: publisher,
		summary:   summary,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

func (s *RegistrationService) now() time.Time {
	return s.cfg.Clock().UTC()
}

// Apply submits a new application for the student. studentCode is the external
// identifier roster rows are matched on; a student without one cannot apply.
func (s *RegistrationService) Apply(ctx context.Context, studentID, studentCode string, req dto.ApplyRequest) (*models.RegistrationDetail, error) {
	if strings.TrimSpace(studentCode) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student code is required to apply")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}
	now := s.now()
	if now.Before(s.cfg.StartDate) || now.After(s.cfg.EndDate) {
		return nil, appErrors.ErrRegistrationClosed
	}

	topic, err := s.topics.FindByID(ctx, req.TopicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrTopicNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load topic")
	}
	switch {
	case topic.Status == models.TopicStatusInactive:
		return nil, appErrors.ErrTopicUnavailable
	case topic.Status == models.TopicStatusFull || topic.AvailableSlots() == 0:
		return nil, appErrors.ErrTopicFull
	}

	exists, err := s.repo.Exists(ctx, studentID, req.TopicID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing application")
	}
	if exists {
		return nil, appErrors.ErrDuplicateApplication
	}

	active, err := s.repo.CountActiveByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count applications")
	}
	if active >= s.cfg.MaxApplications {
		return nil, appErrors.ErrApplicationLimitExceeded
	}

	reg := &models.Registration{
		StudentID:        studentID,
		TopicID:          req.TopicID,
		CreditsClaimed:   req.CreditsClaimed,
		MotivationLetter: req.MotivationLetter,
		TranscriptURL:    req.TranscriptURL,
		CreatedAt:        now,
	}
	if err := s.repo.Create(ctx, reg); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.ErrDuplicateApplication
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create application")
	}

	detail, err := s.loadDetail(ctx, reg.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("application submitted",
		zap.String("registration_id", reg.ID),
		zap.String("student_id", studentID),
		zap.String("topic_id", req.TopicID),
	)
	s.afterTransition(ctx, models.RegistrationPendingReview, realtime.NewApplication(detail))
	return detail, nil
}

// Review records the instructor's decision on a pending application. Accepting
// reserves a topic slot in the same transaction as the status change.
func (s *RegistrationService) Review(ctx context.Context, instructorID string, req dto.ReviewRequest) (*models.RegistrationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	current, err := s.loadDetail(ctx, req.RegistrationID)
	if err != nil {
		return nil, err
	}
	if current.InstructorID != instructorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "registration belongs to another instructor's topic")
	}
	if current.Status != models.RegistrationPendingReview {
		return nil, appErrors.ErrAlreadyReviewed
	}

	comment := trimmedOrNil(req.Comment)
	now := s.now()

	var topic *models.Topic
	target := models.RegistrationDenied
	if req.Decision == models.DecisionAccept {
		target = models.RegistrationAccepted
		_, topic, err = s.repo.Accept(ctx, current.ID, instructorID, comment, now)
	} else {
		_, err = s.repo.Reject(ctx, current.ID, instructorID, comment, now)
	}
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStatusConflict):
			return nil, appErrors.ErrAlreadyReviewed
		case errors.Is(err, repository.ErrTopicFull):
			return nil, appErrors.ErrTopicFull
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record review")
	}

	detail, err := s.loadDetail(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("application reviewed",
		zap.String("registration_id", detail.ID),
		zap.String("instructor_id", instructorID),
		zap.String("status", string(detail.Status)),
	)
	events := []realtime.Event{realtime.StatusChange(detail)}
	if topic != nil {
		events = append(events, realtime.SlotsUpdate(topic, detail.ID, detail.Version()))
	}
	s.afterTransition(ctx, target, events...)
	return detail, nil
}

// Revoke force-terminates a slot-holding registration and frees its slot.
func (s *RegistrationService) Revoke(ctx context.Context, actorID, id string, req dto.RevokeRequest) (*models.RegistrationDetail, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "revocation reason is required")
	}
	req.Reason = reason
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid revoke payload")
	}

	current, err := s.loadRegistration(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.Revocable() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "registration cannot be revoked from "+string(current.Status))
	}

	_, topic, err := s.repo.Revoke(ctx, id, actorID, reason, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "registration is no longer revocable")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke registration")
	}

	detail, err := s.loadDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("registration revoked",
		zap.String("registration_id", id),
		zap.String("actor_id", actorID),
		zap.String("previous_status", string(current.Status)),
	)
	s.afterTransition(ctx, models.RegistrationRevoked,
		realtime.StatusChange(detail),
		realtime.SlotsUpdate(topic, detail.ID, detail.Version()),
	)
	return detail, nil
}

// Withdraw deletes the student's own pending or denied registration.
func (s *RegistrationService) Withdraw(ctx context.Context, studentID, id string) error {
	current, err := s.loadRegistration(ctx, id)
	if err != nil {
		return err
	}
	if current.StudentID != studentID {
		return appErrors.Clone(appErrors.ErrForbidden, "registration belongs to another student")
	}
	if !current.Status.Withdrawable() {
		return appErrors.Clone(appErrors.ErrInvalidState, "registration can no longer be withdrawn")
	}
	if err := s.repo.DeleteWithdrawable(ctx, id, studentID); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return appErrors.Clone(appErrors.ErrInvalidState, "registration can no longer be withdrawn")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to withdraw registration")
	}
	s.logger.Info("registration withdrawn", zap.String("registration_id", id), zap.String("student_id", studentID))
	s.invalidateSummary(ctx)
	return nil
}

// UpdateApplication edits a pending application owned by the student.
func (s *RegistrationService) UpdateApplication(ctx context.Context, studentID, id string, req dto.UpdateApplicationRequest) (*models.RegistrationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}
	current, err := s.loadRegistration(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.StudentID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "registration belongs to another student")
	}
	if current.Status != models.RegistrationPendingReview {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only pending applications can be edited")
	}
	_, err = s.repo.UpdatePending(ctx, id, repository.UpdatePendingParams{
		CreditsClaimed:   req.CreditsClaimed,
		MotivationLetter: req.MotivationLetter,
		TranscriptURL:    req.TranscriptURL,
		UpdatedAt:        s.now(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "only pending applications can be edited")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update application")
	}
	return s.loadDetail(ctx, id)
}

// ListMine returns the student's registrations, optionally narrowed to one status.
func (s *RegistrationService) ListMine(ctx context.Context, studentID string, status models.RegistrationStatus) ([]models.RegistrationDetail, error) {
	filter := models.RegistrationFilter{StudentID: studentID, PageSize: 100}
	if status != "" {
		if !status.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown status "+string(status))
		}
		filter.Statuses = []models.RegistrationStatus{status}
	}
	regs, _, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
	}
	return regs, nil
}

// PendingReviews lists applications waiting on the instructor.
func (s *RegistrationService) PendingReviews(ctx context.Context, instructorID string) ([]models.RegistrationDetail, error) {
	return s.listForInstructor(ctx, instructorID, models.RegistrationPendingReview)
}

// MyStudents lists the instructor's accepted and verified students.
func (s *RegistrationService) MyStudents(ctx context.Context, instructorID string) ([]models.RegistrationDetail, error) {
	return s.listForInstructor(ctx, instructorID, models.RegistrationAccepted, models.RegistrationVerified)
}

func (s *RegistrationService) listForInstructor(ctx context.Context, instructorID string, statuses ...models.RegistrationStatus) ([]models.RegistrationDetail, error) {
	regs, _, err := s.repo.List(ctx, models.RegistrationFilter{InstructorID: instructorID, Statuses: statuses, PageSize: 100})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
	}
	return regs, nil
}

// departmentStatuses is what the department sees by default: everything past
// instructor review.
var departmentStatuses = []models.RegistrationStatus{
	models.RegistrationAccepted,
	models.RegistrationVerified,
	models.RegistrationInvalidCredits,
	models.RegistrationNotEnrolled,
	models.RegistrationRevoked,
}

// ListAll returns registrations for the department with pagination metadata.
func (s *RegistrationService) ListAll(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, *models.Pagination, error) {
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown status "+string(status))
		}
	}
	if len(filter.Statuses) == 0 {
		filter.Statuses = departmentStatuses
	}
	regs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
	}
	return regs, newPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns one registration if the actor may see it.
func (s *RegistrationService) Get(ctx context.Context, id, actorID string, role models.UserRole) (*models.RegistrationDetail, error) {
	detail, err := s.loadDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case role.IsStaff():
	case role == models.RoleStudent && detail.StudentID == actorID:
	case role == models.RoleInstructor && detail.InstructorID == actorID:
	default:
		return nil, appErrors.ErrForbidden
	}
	return detail, nil
}

func (s *RegistrationService) loadRegistration(ctx context.Context, id string) (*models.Registration, error) {
	reg, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	return reg, nil
}

func (s *RegistrationService) loadDetail(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	return detail, nil
}

func (s *RegistrationService) afterTransition(ctx context.Context, status models.RegistrationStatus, events ...realtime.Event) {
	s.metrics.RecordTransition(status)
	s.invalidateSummary(ctx)
	publishAll(ctx, s.publisher, s.logger, events...)
}

func (s *RegistrationService) invalidateSummary(ctx context.Context) {
	if s.summary != nil {
		s.summary.Invalidate(ctx)
	}
}

// publishAll delivers events in order. Fan-out is best effort, so failures are
// logged and never returned.
func publishAll(ctx context.Context, publisher realtime.Publisher, logger *zap.Logger, events ...realtime.Event) {
	if publisher == nil {
		return
	}
	for _, evt := range events {
		if err := publisher.Publish(ctx, evt); err != nil {
			logger.Warn("failed to publish realtime event",
				zap.String("type", string(evt.Type)),
				zap.String("registration_id", evt.RegistrationID),
				zap.Error(err),
			)
		}
	}
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func newPagination(page, size, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}
