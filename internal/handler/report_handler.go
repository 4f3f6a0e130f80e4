package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/thesis-registration-api/internal/middleware"
	"github.com/noah-isme/thesis-registration-api/internal/models"
	"github.com/noah-isme/thesis-registration-api/pkg/response"
)

type summaryService interface {
	Summary(ctx context.Context) (*models.ReportSummary, error)
}

// ReportHandler exposes reporting endpoints.
type ReportHandler struct {
	summary summaryService
}

// NewReportHandler constructs handler.
func NewReportHandler(summary summaryService) *ReportHandler {
	return &ReportHandler{summary: summary}
}

// Summary godoc
// @Summary Topic and registration counts by status
// @Tags Reports
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /reports/summary [get]
func (h *ReportHandler) Summary(c *gin.Context) {
	summary, err := h.summary.Summary(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil, middleware.ExtractMeta(c))
}
