package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/thesis-registration-api/internal/dto"
	"github.com/noah-isme/thesis-registration-api/internal/models"
	"github.com/noah-isme/thesis-registration-api/internal/service"
	appErrors "github.com/noah-isme/thesis-registration-api/pkg/errors"
	"github.com/noah-isme/thesis-registration-api/pkg/response"
)

type verificationService interface {
	Upload(ctx context.Context, actorID, semester string, upload service.RosterUpload) (*dto.BatchAcceptedResponse, error)
	Get(ctx context.Context, id string) (*models.VerificationBatch, error)
	Latest(ctx context.Context) (*models.VerificationBatch, error)
	History(ctx context.Context, limit int) ([]models.VerificationBatch, error)
	Reprocess(ctx context.Context, id string) (*dto.BatchAcceptedResponse, error)
}

// VerificationHandler exposes roster upload and batch endpoints.
type VerificationHandler struct {
	service verificationService
}

// NewVerificationHandler builds a new handler.
func NewVerificationHandler(service verificationService) *VerificationHandler {
	return &VerificationHandler{service: service}
}

// Upload godoc
// @Summary Upload an enrollment roster for verification
// @Tags Verification
// @Accept multipart/form-data
// @Produce json
// @Param semester formData string true "Semester"
// @Param file formData file true "Roster (.xlsx, .xlsm or .csv)"
// @Success 202 {object} response.Envelope
// @Router /verification/upload [post]
func (h *VerificationHandler) Upload(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	resp, err := h.service.Upload(c.Request.Context(), claims.UserID, c.PostForm("semester"), service.RosterUpload{
		FileName: fileHeader.Filename,
		Size:     fileHeader.Size,
		Reader:   src,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, resp, nil)
}

// History godoc
// @Summary Recent verification batches
// @Tags Verification
// @Produce json
// @Param limit query int false "Max batches (default 20)"
// @Success 200 {object} response.Envelope
// @Router /verification/history [get]
func (h *VerificationHandler) History(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		limit = 20
	}
	batches, err := h.service.History(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batches, nil)
}

// Latest godoc
// @Summary Most recent verification batch
// @Tags Verification
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /verification/latest [get]
func (h *VerificationHandler) Latest(c *gin.Context) {
	batch, err := h.service.Latest(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batch, nil)
}

// Get godoc
// @Summary Get a verification batch
// @Tags Verification
// @Produce json
// @Param batchId path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /verification/{batchId} [get]
func (h *VerificationHandler) Get(c *gin.Context) {
	batch, err := h.service.Get(c.Request.Context(), c.Param("batchId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batch, nil)
}

// Reprocess godoc
// @Summary Re-run reconciliation with a stored roster
// @Tags Verification
// @Produce json
// @Param batchId path string true "Batch ID"
// @Success 202 {object} response.Envelope
// @Router /verification/process/{batchId} [post]
func (h *VerificationHandler) Reprocess(c *gin.Context) {
	resp, err := h.service.Reprocess(c.Request.Context(), c.Param("batchId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, resp, nil)
}
