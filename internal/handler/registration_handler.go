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

type registrationService interface {
	Apply(ctx context.Context, studentID, studentCode string, req dto.ApplyRequest) (*models.RegistrationDetail, error)
	Review(ctx context.Context, instructorID string, req dto.ReviewRequest) (*models.RegistrationDetail, error)
	Revoke(ctx context.Context, actorID, id string, req dto.RevokeRequest) (*models.RegistrationDetail, error)
	Withdraw(ctx context.Context, studentID, id string) error
	UpdateApplication(ctx context.Context, studentID, id string, req dto.UpdateApplicationRequest) (*models.RegistrationDetail, error)
	ListMine(ctx context.Context, studentID string, status models.RegistrationStatus) ([]models.RegistrationDetail, error)
	PendingReviews(ctx context.Context, instructorID string) ([]models.RegistrationDetail, error)
	MyStudents(ctx context.Context, instructorID string) ([]models.RegistrationDetail, error)
	ListAll(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, *models.Pagination, error)
	Get(ctx context.Context, id, actorID string, role models.UserRole) (*models.RegistrationDetail, error)
}

// RegistrationHandler exposes the registration lifecycle endpoints.
type RegistrationHandler struct {
	service registrationService
}

// NewRegistrationHandler builds a new handler.
func NewRegistrationHandler(service registrationService) *RegistrationHandler {
	return &RegistrationHandler{service: service}
}

// Apply godoc
// @Summary Apply for a thesis topic
// @Tags Registrations
// @Accept json
// @Produce json
// @Param payload body dto.ApplyRequest true "Application"
// @Success 201 {object} response.Envelope
// @Router /registrations/apply [post]
func (h *RegistrationHandler) Apply(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.ApplyRequest
	if !bindJSON(c, &req) {
		return
	}
	detail, err := h.service.Apply(c.Request.Context(), claims.UserID, claims.UserCode, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, detail)
}

// Mine godoc
// @Summary List the caller's registrations
// @Tags Registrations
// @Produce json
// @Param status query string false "Status filter"
// @Success 200 {object} response.Envelope
// @Router /registrations/mine [get]
func (h *RegistrationHandler) Mine(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	status := models.RegistrationStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	items, err := h.service.ListMine(c.Request.Context(), claims.UserID, status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Update godoc
// @Summary Edit a pending application
// @Tags Registrations
// @Accept json
// @Produce json
// @Param id path string true "Registration ID"
// @Param payload body dto.UpdateApplicationRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Router /registrations/{id} [patch]
func (h *RegistrationHandler) Update(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.UpdateApplicationRequest
	if !bindJSON(c, &req) {
		return
	}
	detail, err := h.service.UpdateApplication(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Withdraw godoc
// @Summary Withdraw a pending or denied application
// @Tags Registrations
// @Param id path string true "Registration ID"
// @Success 204
// @Router /registrations/{id} [delete]
func (h *RegistrationHandler) Withdraw(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	if err := h.service.Withdraw(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// PendingReviews godoc
// @Summary Applications waiting on the instructor
// @Tags Registrations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /registrations/pending-reviews [get]
func (h *RegistrationHandler) PendingReviews(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	items, err := h.service.PendingReviews(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// MyStudents godoc
// @Summary Accepted and verified students of the instructor
// @Tags Registrations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /registrations/my-students [get]
func (h *RegistrationHandler) MyStudents(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	items, err := h.service.MyStudents(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Review godoc
// @Summary Accept or reject a pending application
// @Tags Registrations
// @Accept json
// @Produce json
// @Param payload body dto.ReviewRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /registrations/review [post]
func (h *RegistrationHandler) Review(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.ReviewRequest
	if !bindJSON(c, &req) {
		return
	}
	req.Decision = models.ReviewDecision(strings.ToUpper(string(req.Decision)))
	detail, err := h.service.Review(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Revoke godoc
// @Summary Revoke a slot-holding registration
// @Tags Registrations
// @Accept json
// @Produce json
// @Param id path string true "Registration ID"
// @Param payload body dto.RevokeRequest true "Reason"
// @Success 200 {object} response.Envelope
// @Router /registrations/{id}/revoke [post]
func (h *RegistrationHandler) Revoke(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.RevokeRequest
	if !bindJSON(c, &req) {
		return
	}
	detail, err := h.service.Revoke(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// List godoc
// @Summary List registrations for the department
// @Tags Registrations
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param topic_id query string false "Topic filter"
// @Param semester query string false "Semester filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /registrations [get]
func (h *RegistrationHandler) List(c *gin.Context) {
	page, size := pageParams(c)
	filter := models.RegistrationFilter{
		TopicID:  strings.TrimSpace(c.Query("topic_id")),
		Semester: strings.TrimSpace(c.Query("semester")),
		Page:     page,
		PageSize: size,
	}
	for _, raw := range strings.Split(c.Query("status"), ",") {
		if raw = strings.ToUpper(strings.TrimSpace(raw)); raw != "" {
			filter.Statuses = append(filter.Statuses, models.RegistrationStatus(raw))
		}
	}
	items, pagination, err := h.service.ListAll(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get a registration
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Router /registrations/{id} [get]
func (h *RegistrationHandler) Get(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	detail, err := h.service.Get(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}
