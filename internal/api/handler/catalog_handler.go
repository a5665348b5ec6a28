package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Alexander76Kuznetsov/mfdp/internal/api/dto"
	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
	"github.com/gin-gonic/gin"
)

// CatalogHandler registers models and user features for inference
type CatalogHandler struct {
	logger  *slog.Logger
	catalog ModelCatalog
}

// NewCatalogHandler creates a new CatalogHandler instance
func NewCatalogHandler(deps *Dependencies) *CatalogHandler {
	return &CatalogHandler{
		logger:  deps.Logger,
		catalog: deps.Catalog,
	}
}

// CreateModel handles POST /api/v1/models
func (h *CatalogHandler) CreateModel(c *gin.Context) {
	var req dto.CreateModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	model := &domain.Model{Name: req.Name, ArtifactPath: req.ArtifactPath}
	if err := h.catalog.CreateModel(c.Request.Context(), model); err != nil {
		h.logger.Error("Failed to create model", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create model",
		})
		return
	}

	h.logger.Info("Model registered",
		slog.Int64("model_id", model.ID),
		slog.String("artifact_path", model.ArtifactPath),
	)
	c.JSON(http.StatusCreated, dto.CreateModelResponse{ModelID: model.ID})
}

// PutUserFeatures handles PUT /api/v1/users/:user_id/features
func (h *CatalogHandler) PutUserFeatures(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid user id",
		})
		return
	}

	var req dto.UserFeaturesRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Features) == 0 {
		h.logger.Warn("Invalid request body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if err := h.catalog.UpsertUserFeatures(c.Request.Context(), userID, req.Features); err != nil {
		h.logger.Error("Failed to store user features", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store user features",
		})
		return
	}

	c.Status(http.StatusNoContent)
}
