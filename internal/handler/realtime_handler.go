package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/thesis-registration-api/internal/models"
	"github.com/noah-isme/thesis-registration-api/internal/realtime"
)

type eventSubscriber interface {
	Subscribe(subjects ...realtime.Subject) *realtime.Subscription
}

type topicLookup interface {
	Get(ctx context.Context, id string) (*models.Topic, error)
}

// RealtimeHandler streams fan-out events to clients as server-sent events.
type RealtimeHandler struct {
	hub       eventSubscriber
	topics    topicLookup
	heartbeat time.Duration
}

// NewRealtimeHandler builds a stream handler. heartbeat defaults to 30s.
func NewRealtimeHandler(hub eventSubscriber, topics topicLookup, heartbeat time.Duration) *RealtimeHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &RealtimeHandler{hub: hub, topics: topics, heartbeat: heartbeat}
}

// Stream godoc
// @Summary Subscribe to registration and slot events
// @Tags Realtime
// @Produce text/event-stream
// @Param topics query string false "Comma separated topic ids to watch"
// @Success 200 {string} string "event stream"
// @Router /realtime/stream [get]
func (h *RealtimeHandler) Stream(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	ctx := c.Request.Context()

	subjects := []realtime.Subject{}
	switch claims.Role {
	case models.RoleStudent:
		subjects = append(subjects, realtime.StudentSubject(claims.UserID))
	case models.RoleInstructor:
		subjects = append(subjects, realtime.InstructorSubject(claims.UserID))
	}
	var snapshots []realtime.Event
	for _, id := range strings.Split(c.Query("topics"), ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		topic, err := h.topics.Get(ctx, id)
		if err != nil {
			continue
		}
		subjects = append(subjects, realtime.TopicSubject(topic.ID))
		snapshots = append(snapshots, realtime.SlotsUpdate(topic, "", 0))
	}

	sub := h.hub.Subscribe(subjects...)
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for _, evt := range snapshots {
		c.SSEvent(string(evt.Type), evt)
	}
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			c.SSEvent(string(evt.Type), evt)
			c.Writer.Flush()
		case now := <-ticker.C:
			c.SSEvent("heartbeat", gin.H{"at": now.UTC()})
			c.Writer.Flush()
		}
	}
}
