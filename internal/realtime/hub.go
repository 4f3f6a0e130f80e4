package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Publisher sends events towards subscribers.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Recorder receives delivery counters.
type Recorder interface {
	RecordRealtimeEvent(eventType string, delivered bool)
}

// Hub fans events out to in-process subscriptions. Delivery is best effort:
// a subscription whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[Subject]map[*Subscription]struct{}
	buffer int

	recorder Recorder
	logger   *zap.Logger
}

// NewHub constructs a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int, recorder Recorder, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:     make(map[Subject]map[*Subscription]struct{}),
		buffer:   buffer,
		recorder: recorder,
		logger:   logger,
	}
}

// Subscribe registers interest in the given subjects.
func (h *Hub) Subscribe(subjects ...Subject) *Subscription {
	sub := &Subscription{
		hub:      h,
		subjects: dedupeSubjects(subjects),
		ch:       make(chan Event, h.buffer),
		versions: make(map[string]int64),
	}

	h.mu.Lock()
	for _, subject := range sub.subjects {
		set, ok := h.subs[subject]
		if !ok {
			set = make(map[*Subscription]struct{})
			h.subs[subject] = set
		}
		set[sub] = struct{}{}
	}
	h.mu.Unlock()
	return sub
}

// Publish delivers the event to every subscription listening on any of its
// subjects, once per subscription. It never blocks.
func (h *Hub) Publish(_ context.Context, evt Event) error {
	h.mu.RLock()
	targets := make(map[*Subscription]struct{})
	for _, subject := range evt.Subjects {
		for sub := range h.subs[subject] {
			targets[sub] = struct{}{}
		}
	}
	h.mu.RUnlock()

	for sub := range targets {
		delivered := sub.offer(evt)
		if h.recorder != nil {
			h.recorder.RecordRealtimeEvent(string(evt.Type), delivered)
		}
		if !delivered {
			h.logger.Debug("realtime event dropped",
				zap.String("type", string(evt.Type)),
				zap.String("registration_id", evt.RegistrationID))
		}
	}
	return nil
}

// SubscriberCount returns the number of subscriptions on a subject.
func (h *Hub) SubscriberCount(subject Subject) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[subject])
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subject := range sub.subjects {
		set := h.subs[subject]
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, subject)
		}
	}
}

// Subscription is one client's view of the hub.
type Subscription struct {
	hub      *Hub
	subjects []Subject
	ch       chan Event

	mu       sync.Mutex
	closed   bool
	versions map[string]int64
	dropped  atomic.Int64
}

// Events returns the delivery channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Subjects returns the subjects this subscription listens on.
func (s *Subscription) Subjects() []Subject {
	return s.subjects
}

// Dropped returns how many events were not delivered.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.hub.remove(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// offer enqueues the event unless it is stale for its registration or the
// buffer is full.
func (s *Subscription) offer(evt Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if evt.RegistrationID != "" {
		if last, ok := s.versions[evt.RegistrationID]; ok && evt.Version < last {
			s.dropped.Add(1)
			return false
		}
	}
	select {
	case s.ch <- evt:
		if evt.RegistrationID != "" {
			s.versions[evt.RegistrationID] = evt.Version
		}
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func dedupeSubjects(subjects []Subject) []Subject {
	seen := make(map[Subject]struct{}, len(subjects))
	out := make([]Subject, 0, len(subjects))
	for _, s := range subjects {
		if s.ID == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
