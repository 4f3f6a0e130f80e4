package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/thesis-registration-api/internal/dto"
	"github.com/noah-isme/thesis-registration-api/internal/middleware"
	"github.com/noah-isme/thesis-registration-api/internal/models"
	"github.com/noah-isme/thesis-registration-api/pkg/response"
)

type topicService interface {
	Create(ctx context.Context, instructorID string, req dto.CreateTopicRequest) (*models.Topic, error)
	Get(ctx context.Context, id string) (*models.Topic, error)
	List(ctx context.Context, filter models.TopicFilter) ([]models.Topic, *models.Pagination, error)
	Delete(ctx context.Context, id, actorID string, role models.UserRole) error
}

// TopicHandler exposes thesis topic endpoints.
type TopicHandler struct {
	service topicService
}

// NewTopicHandler builds a new handler.
func NewTopicHandler(service topicService) *TopicHandler {
	return &TopicHandler{service: service}
}

// Create godoc
// @Summary Create a thesis topic
// @Tags Topics
// @Accept json
// @Produce json
// @Param payload body dto.CreateTopicRequest true "Topic"
// @Success 201 {object} response.Envelope
// @Router /topics [post]
func (h *TopicHandler) Create(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.CreateTopicRequest
	if !bindJSON(c, &req) {
		return
	}
	topic, err := h.service.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, topic)
}

// List godoc
// @Summary List thesis topics
// @Tags Topics
// @Produce json
// @Param instructor_id query string false "Instructor filter"
// @Param semester query string false "Semester filter"
// @Param status query string false "ACTIVE, FULL or INACTIVE"
// @Param search query string false "Title or code search"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /topics [get]
func (h *TopicHandler) List(c *gin.Context) {
	page, size := pageParams(c)
	filter := models.TopicFilter{
		InstructorID: strings.TrimSpace(c.Query("instructor_id")),
		Semester:     strings.TrimSpace(c.Query("semester")),
		Status:       models.TopicStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		Search:       strings.TrimSpace(c.Query("search")),
		Page:         page,
		PageSize:     size,
	}
	topics, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, topics, pagination, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get a thesis topic
// @Tags Topics
// @Produce json
// @Param id path string true "Topic ID"
// @Success 200 {object} response.Envelope
// @Router /topics/{id} [get]
func (h *TopicHandler) Get(c *gin.Context) {
	topic, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, topic, nil)
}

// Delete godoc
// @Summary Delete a topic without registrations
// @Tags Topics
// @Param id path string true "Topic ID"
// @Success 204
// @Router /topics/{id} [delete]
func (h *TopicHandler) Delete(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
