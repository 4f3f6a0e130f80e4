package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/thesis-registration-api/internal/models"
	appErrors "github.com/noah-isme/thesis-registration-api/pkg/errors"
)

const summaryCacheKey = "reports:summary"

type topicStatsReader interface {
	CountByStatus(ctx context.Context) ([]models.StatusCount, error)
	SlotTotals(ctx context.Context) (int, int, error)
}

type registrationStatsReader interface {
	CountByStatus(ctx context.Context) ([]models.StatusCount, error)
}

type latestBatchReader interface {
	Latest(ctx context.Context) (*models.VerificationBatch, error)
}

// SummaryService builds the department summary report.
type SummaryService struct {
	topics  topicStatsReader
	regs    registrationStatsReader
	batches latestBatchReader
	cache   *CacheService
	ttl     time.Duration
	logger  *zap.Logger
}

// NewSummaryService constructs SummaryService. cache may be nil.
func NewSummaryService(topics topicStatsReader, regs registrationStatsReader, batches latestBatchReader, cache *CacheService, ttl time.Duration, logger *zap.Logger) *SummaryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryService{topics: topics, regs: regs, batches: batches, cache: cache, ttl: ttl, logger: logger}
}

// Summary returns counts of topics and registrations by status.
func (s *SummaryService) Summary(ctx context.Context) (*models.ReportSummary, error) {
	var cached models.ReportSummary
	if hit, err := s.cache.Get(ctx, summaryCacheKey, &cached); err == nil && hit {
		return &cached, nil
	}

	topicCounts, err := s.topics.CountByStatus(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count topics")
	}
	regCounts, err := s.regs.CountByStatus(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count registrations")
	}
	capacity, filled, err := s.topics.SlotTotals(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to total topic slots")
	}

	summary := &models.ReportSummary{
		TopicsByStatus:        make(map[models.TopicStatus]int, len(topicCounts)),
		RegistrationsByStatus: make(map[models.RegistrationStatus]int, len(models.AllRegistrationStatuses)),
		TotalSlots:            capacity,
		FilledSlots:           filled,
		GeneratedAt:           time.Now().UTC(),
	}
	for _, status := range models.AllRegistrationStatuses {
		summary.RegistrationsByStatus[status] = 0
	}
	for _, c := range topicCounts {
		summary.TopicsByStatus[models.TopicStatus(c.Status)] = c.Count
	}
	for _, c := range regCounts {
		summary.RegistrationsByStatus[models.RegistrationStatus(c.Status)] = c.Count
	}

	latest, err := s.batches.Latest(ctx)
	switch {
	case err == nil:
		summary.LatestBatch = latest
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load latest batch")
	}

	if err := s.cache.Set(ctx, summaryCacheKey, summary, s.ttl); err != nil {
		s.logger.Debug("summary not cached", zap.Error(err))
	}
	return summary, nil
}

// Invalidate drops the cached summary.
func (s *SummaryService) Invalidate(ctx context.Context) {
	if s == nil {
		return
	}
	_ = s.cache.Invalidate(ctx, summaryCacheKey)
}
