package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/thesis-registration-api/internal/models"
	"github.com/noah-isme/thesis-registration-api/internal/realtime"
	"github.com/noah-isme/thesis-registration-api/internal/repository"
	"github.com/noah-isme/thesis-registration-api/pkg/jobs"
)

// memoryStore keeps topics and registrations behind one mutex so every
// repository call is atomic, like a single-statement or transactional write.
type memoryStore struct {
	mu       sync.Mutex
	seq      int
	topics   map[string]*models.Topic
	regs     map[string]*models.Registration
	students map[string]models.RosterRecord

	// failApplyAfter makes ApplyVerification error once this many calls succeeded.
	failApplyAfter int
	applyCalls     int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		topics:         map[string]*models.Topic{},
		regs:           map[string]*models.Registration{},
		students:       map[string]models.RosterRecord{},
		failApplyAfter: -1,
	}
}

func (s *memoryStore) addTopic(id, instructorID string, current, capacity int) *models.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := models.TopicStatusActive
	if current >= capacity {
		status = models.TopicStatusFull
	}
	topic := &models.Topic{ID: id, TopicCode: "T-" + id, Semester: "2024-1", Title: "Topic " + id,
		InstructorID: instructorID, MaxStudents: capacity, CurrentStudents: current, Status: status}
	s.topics[id] = topic
	return topic
}

func (s *memoryStore) addStudent(id, code, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students[id] = models.RosterRecord{StudentCode: code, FullName: name}
}

// seedRegistration inserts a registration directly in the given status. Slot
// counters are not touched.
func (s *memoryStore) seedRegistration(studentID, topicID string, status models.RegistrationStatus, claimed int) *models.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	now := time.Date(2024, 2, 2, 8, 0, s.seq, 0, time.UTC)
	reg := &models.Registration{ID: fmt.Sprintf("reg-%d", s.seq), StudentID: studentID, TopicID: topicID,
		Status: status, CreditsClaimed: claimed, CreatedAt: now, UpdatedAt: now}
	s.regs[reg.ID] = reg
	return reg
}

func (s *memoryStore) topic(id string) models.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.topics[id]
}

func (s *memoryStore) registration(id string) (models.Registration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[id]
	if !ok {
		return models.Registration{}, false
	}
	return *reg, true
}

func (s *memoryStore) snapshot() ([]models.Topic, []models.Registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := make([]models.Topic, 0, len(s.topics))
	for _, t := range s.topics {
		topics = append(topics, *t)
	}
	regs := make([]models.Registration, 0, len(s.regs))
	for _, r := range s.regs {
		regs = append(regs, *r)
	}
	return topics, regs
}

func (s *memoryStore) detail(reg *models.Registration) models.RegistrationDetail {
	d := models.RegistrationDetail{Registration: *reg}
	if student, ok := s.students[reg.StudentID]; ok {
		d.StudentCode = student.StudentCode
		d.StudentName = student.FullName
	}
	if topic, ok := s.topics[reg.TopicID]; ok {
		d.TopicCode = topic.TopicCode
		d.TopicTitle = topic.Title
		d.InstructorID = topic.InstructorID
		d.MaxStudents = topic.MaxStudents
		d.CurrentStudents = topic.CurrentStudents
	}
	return d
}

func (s *memoryStore) reserveLocked(topicID string) (*models.Topic, error) {
	topic, ok := s.topics[topicID]
	if !ok || topic.CurrentStudents >= topic.MaxStudents {
		return nil, repository.ErrTopicFull
	}
	topic.CurrentStudents++
	if topic.CurrentStudents >= topic.MaxStudents {
		topic.Status = models.TopicStatusFull
	}
	copied := *topic
	return &copied, nil
}

func (s *memoryStore) releaseLocked(topicID string) (*models.Topic, error) {
	topic, ok := s.topics[topicID]
	if !ok || topic.CurrentStudents == 0 {
		return nil, fmt.Errorf("release topic slot %s: counter already at zero", topicID)
	}
	topic.CurrentStudents--
	if topic.Status == models.TopicStatusFull {
		topic.Status = models.TopicStatusActive
	}
	copied := *topic
	return &copied, nil
}

// registrationRepo exposes memoryStore through the registration repository methods.
type registrationRepo struct{ s *memoryStore }

func (r registrationRepo) Create(_ context.Context, reg *models.Registration) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.regs {
		if existing.StudentID == reg.StudentID && existing.TopicID == reg.TopicID {
			return repository.ErrDuplicate
		}
	}
	r.s.seq++
	reg.ID = fmt.Sprintf("reg-%d", r.s.seq)
	reg.Status = models.RegistrationPendingReview
	reg.UpdatedAt = reg.CreatedAt
	copied := *reg
	r.s.regs[reg.ID] = &copied
	return nil
}

func (r registrationRepo) Exists(_ context.Context, studentID, topicID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.regs {
		if existing.StudentID == studentID && existing.TopicID == topicID {
			return true, nil
		}
	}
	return false, nil
}

func (r registrationRepo) CountActiveByStudent(_ context.Context, studentID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, existing := range r.s.regs {
		if existing.StudentID == studentID && existing.Status.CountsTowardLimit() {
			count++
		}
	}
	return count, nil
}

func (r registrationRepo) FindByID(_ context.Context, id string) (*models.Registration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reg, ok := r.s.regs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *reg
	return &copied, nil
}

func (r registrationRepo) FindDetailByID(_ context.Context, id string) (*models.RegistrationDetail, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reg, ok := r.s.regs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	d := r.s.detail(reg)
	return &d, nil
}

func (r registrationRepo) List(_ context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.RegistrationDetail
	for _, reg := range r.s.regs {
		d := r.s.detail(reg)
		if filter.StudentID != "" && d.StudentID != filter.StudentID {
			continue
		}
		if filter.InstructorID != "" && d.InstructorID != filter.InstructorID {
			continue
		}
		if filter.TopicID != "" && d.TopicID != filter.TopicID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, d.Status) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}

func (r registrationRepo) ListByStatus(ctx context.Context, status models.RegistrationStatus) ([]models.RegistrationDetail, error) {
	out, _, err := r.List(ctx, models.RegistrationFilter{Statuses: []models.RegistrationStatus{status}})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (r registrationRepo) UpdatePending(_ context.Context, id string, params repository.UpdatePendingParams) (*models.Registration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reg, ok := r.s.regs[id]
	if !ok || reg.Status != models.RegistrationPendingReview {
		return nil, repository.ErrStatusConflict
	}
	if params.CreditsClaimed != nil {
		reg.CreditsClaimed = *params.CreditsClaimed
	}
	if params.MotivationLetter != nil {
		reg.MotivationLetter = params.MotivationLetter
	}
	if params.TranscriptURL != nil {
		reg.TranscriptURL = params.TranscriptURL
	}
	reg.UpdatedAt = params.UpdatedAt
	copied := *reg
	return &copied, nil
}

func (r registrationRepo) Accept(_ context.Context, id, reviewerID string, comment *string, at time.Time) (*models.Registration, *models.Topic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reg, ok := r.s.regs[id]
	if !ok || reg.Status != models.RegistrationPendingReview {
		return nil, nil, repository.ErrStatusConflict
	}
	topic, err := r.s.reserveLocked(reg.TopicID)
	if err != nil {
		return nil, nil, err
	}
	reg.Status = models.RegistrationAccepted
	reg.ReviewedBy = &reviewerID
	reg.ReviewedAt = &at
	reg.InstructorComment = comment
	reg.UpdatedAt = at
	copied := *reg
	return &copied, topic, nil
}

func (r registrationRepo) Reject(_ context.Context, id, reviewerID string, comment *string, at time.Time) (*models.Registration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reg, ok := r.s.regs[id]
	if !ok || reg.Status != models.RegistrationPendingReview {
		return nil, repository.ErrStatusConflict
	}
	reg.Status = models.RegistrationDenied
	reg.ReviewedBy = &reviewerID
	reg.ReviewedAt = &at
	reg.InstructorComment = comment
	reg.UpdatedAt = at
	copied := *reg
	return &copied, nil
}

func (r registrationRepo) Revoke(_ context.Context, id, actorID, reason string, at time.Time) (*models.Registration, *models.Topic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reg, ok := r.s.regs[id]
	if !ok || !reg.Status.Revocable() {
		return nil, nil, repository.ErrStatusConflict
	}
	topic, err := r.s.releaseLocked(reg.TopicID)
	if err != nil {
		return nil, nil, err
	}
	reg.Status = models.RegistrationRevoked
	reg.CreditsVerified = nil
	reg.DepartmentComment = &reason
	reg.RevokedAt = &at
	reg.RevokedBy = &actorID
	reg.UpdatedAt = at
	copied := *reg
	return &copied, topic, nil
}

func (r registrationRepo) DeleteWithdrawable(_ context.Context, id, studentID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reg, ok := r.s.regs[id]
	if !ok || reg.StudentID != studentID || !reg.Status.Withdrawable() {
		return repository.ErrStatusConflict
	}
	delete(r.s.regs, id)
	return nil
}

func (r registrationRepo) ApplyVerification(_ context.Context, id string, status models.RegistrationStatus, creditsVerified *int, at time.Time) (*models.Registration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failApplyAfter >= 0 && r.s.applyCalls >= r.s.failApplyAfter {
		return nil, fmt.Errorf("connection reset")
	}
	reg, ok := r.s.regs[id]
	if !ok || reg.Status != models.RegistrationAccepted {
		return nil, repository.ErrStatusConflict
	}
	r.s.applyCalls++
	reg.Status = status
	reg.CreditsVerified = creditsVerified
	reg.VerifiedAt = &at
	reg.UpdatedAt = at
	copied := *reg
	return &copied, nil
}

func containsStatus(list []models.RegistrationStatus, status models.RegistrationStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

// topicRepo exposes memoryStore through the topic repository methods.
type topicRepo struct{ s *memoryStore }

func (r topicRepo) Create(_ context.Context, topic *models.Topic) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.topics {
		if existing.TopicCode == topic.TopicCode && existing.Semester == topic.Semester {
			return repository.ErrDuplicate
		}
	}
	r.s.seq++
	topic.ID = fmt.Sprintf("topic-%d", r.s.seq)
	copied := *topic
	r.s.topics[topic.ID] = &copied
	return nil
}

func (r topicRepo) FindByID(_ context.Context, id string) (*models.Topic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	topic, ok := r.s.topics[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *topic
	return &copied, nil
}

func (r topicRepo) List(_ context.Context, filter models.TopicFilter) ([]models.Topic, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Topic
	for _, topic := range r.s.topics {
		if filter.InstructorID != "" && topic.InstructorID != filter.InstructorID {
			continue
		}
		if filter.Status != "" && topic.Status != filter.Status {
			continue
		}
		out = append(out, *topic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r topicRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.topics[id]; !ok {
		return sql.ErrNoRows
	}
	for _, reg := range r.s.regs {
		if reg.TopicID == id {
			return repository.ErrTopicInUse
		}
	}
	delete(r.s.topics, id)
	return nil
}

func (r topicRepo) CountByStatus(_ context.Context) ([]models.StatusCount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := map[string]int{}
	for _, topic := range r.s.topics {
		counts[string(topic.Status)]++
	}
	return toStatusCounts(counts), nil
}

func (r topicRepo) SlotTotals(_ context.Context) (int, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	capacity, filled := 0, 0
	for _, topic := range r.s.topics {
		capacity += topic.MaxStudents
		filled += topic.CurrentStudents
	}
	return capacity, filled, nil
}

func (r registrationRepo) CountByStatus(_ context.Context) ([]models.StatusCount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := map[string]int{}
	for _, reg := range r.s.regs {
		counts[string(reg.Status)]++
	}
	return toStatusCounts(counts), nil
}

func toStatusCounts(counts map[string]int) []models.StatusCount {
	out := make([]models.StatusCount, 0, len(counts))
	for status, count := range counts {
		out = append(out, models.StatusCount{Status: status, Count: count})
	}
	return out
}

// batchRepo is an in-memory verification batch store.
type batchRepo struct {
	mu      sync.Mutex
	batches map[string]*models.VerificationBatch
	order   []string
	seq     int
}

func newBatchRepo() *batchRepo {
	return &batchRepo{batches: map[string]*models.VerificationBatch{}}
}

func (r *batchRepo) Create(_ context.Context, batch *models.VerificationBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if batch.ID == "" {
		batch.ID = fmt.Sprintf("batch-%d", r.seq)
	}
	batch.CreatedAt = time.Date(2024, 3, 1, 0, 0, r.seq, 0, time.UTC)
	copied := *batch
	r.batches[batch.ID] = &copied
	r.order = append(r.order, batch.ID)
	return nil
}

func (r *batchRepo) FindByID(_ context.Context, id string) (*models.VerificationBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *batch
	return &copied, nil
}

func (r *batchRepo) Latest(ctx context.Context) (*models.VerificationBatch, error) {
	r.mu.Lock()
	if len(r.order) == 0 {
		r.mu.Unlock()
		return nil, sql.ErrNoRows
	}
	id := r.order[len(r.order)-1]
	r.mu.Unlock()
	return r.FindByID(ctx, id)
}

func (r *batchRepo) List(_ context.Context, limit int) ([]models.VerificationBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.VerificationBatch
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *r.batches[r.order[i]])
	}
	return out, nil
}

func (r *batchRepo) ListByStatuses(_ context.Context, statuses ...models.BatchStatus) ([]models.VerificationBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.VerificationBatch
	for _, id := range r.order {
		batch := r.batches[id]
		for _, status := range statuses {
			if batch.Status == status {
				out = append(out, *batch)
				break
			}
		}
	}
	return out, nil
}

func (r *batchRepo) update(id string, fn func(*models.VerificationBatch)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	if !ok {
		return sql.ErrNoRows
	}
	fn(batch)
	return nil
}

func (r *batchRepo) MarkProcessing(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(b *models.VerificationBatch) {
		b.Status = models.BatchStatusProcessing
		b.StartedAt = &at
		b.FinishedAt = nil
	})
}

func (r *batchRepo) Complete(_ context.Context, id string, results models.BatchResults, at time.Time) error {
	return r.update(id, func(b *models.VerificationBatch) {
		b.Status = models.BatchStatusCompleted
		b.Results = results
		b.Errors = nil
		b.FinishedAt = &at
	})
}

func (r *batchRepo) Fail(_ context.Context, id, message string, at time.Time) error {
	return r.update(id, func(b *models.VerificationBatch) {
		b.Status = models.BatchStatusFailed
		b.Errors = &message
		b.FinishedAt = &at
	})
}

func (r *batchRepo) Requeue(_ context.Context, id string) error {
	return r.update(id, func(b *models.VerificationBatch) {
		b.Status = models.BatchStatusQueued
		b.StartedAt = nil
		b.FinishedAt = nil
	})
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) ofType(kind realtime.EventType) []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []realtime.Event
	for _, evt := range p.events {
		if evt.Type == kind {
			out = append(out, evt)
		}
	}
	return out
}

// recordingQueue captures enqueued jobs.
type recordingQueue struct {
	mu     sync.Mutex
	queued []jobs.Job
	err    error
}

func (q *recordingQueue) Enqueue(_ context.Context, job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.queued = append(q.queued, job)
	return nil
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) Invalidate(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
