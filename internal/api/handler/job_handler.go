package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Alexander76Kuznetsov/mfdp/internal/api/dto"
	"github.com/Alexander76Kuznetsov/mfdp/internal/dispatcher"
	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
	"github.com/Alexander76Kuznetsov/mfdp/internal/storage"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// respondError maps domain errors onto HTTP status codes
func (h *JobHandler) respondError(c *gin.Context, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrUnknownModelType):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrTransport):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error(message, slog.String("error", err.Error()))
	} else {
		h.logger.Warn(message, slog.String("error", err.Error()))
	}

	body := gin.H{"error": message}
	if status < http.StatusInternalServerError {
		body["details"] = err.Error()
	}
	c.JSON(status, body)
}

// SubmitPrediction handles POST /api/v1/predictions
func (h *JobHandler) SubmitPrediction(c *gin.Context) {
	var req dto.CreatePredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	token, err := h.dispatcher.SubmitInference(c.Request.Context(), dispatcher.InferenceRequest{
		UserID:  req.UserID,
		ModelID: req.ModelID,
	})
	if err != nil {
		h.respondError(c, err, "Failed to submit prediction")
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitResponse{RequestID: token})
}

// GetResult handles GET /api/v1/predictions/:request_id and /api/v1/results/:request_id.
// An unknown token is reported as a state, not as 404.
func (h *JobHandler) GetResult(c *gin.Context) {
	token := c.Param("request_id")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "request_id is required",
		})
		return
	}

	view, err := h.resolver.Resolve(c.Request.Context(), token)
	if err != nil {
		h.respondError(c, err, "Failed to resolve request")
		return
	}

	c.JSON(http.StatusOK, view)
}

// ListPredictions handles GET /api/v1/predictions
// Lists one user's inference tasks newest first with cursor pagination
func (h *JobHandler) ListPredictions(c *gin.Context) {
	var req dto.ListPredictionsRequest
	if err := c.ShouldBindQuery(&req); err != nil || req.UserID <= 0 {
		h.logger.Warn("Invalid query parameters", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	req.PageSize = clampPageSize(req.PageSize)

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	tasks, err := h.tasks.ListTasks(c.Request.Context(), storage.TaskFilter{
		UserID:   req.UserID,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.respondError(c, err, "Failed to list predictions")
		return
	}

	hasMore := len(tasks) > req.PageSize
	if hasMore {
		tasks = tasks[:req.PageSize]
	}

	resp := dto.ListPredictionsResponse{Tasks: make([]dto.TaskDTO, len(tasks))}
	for i, task := range tasks {
		resp.Tasks[i] = dto.NewTaskDTO(task)
	}

	if hasMore {
		last := tasks[len(tasks)-1]
		resp.NextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// SubmitTraining handles POST /api/v1/training
func (h *JobHandler) SubmitTraining(c *gin.Context) {
	var req dto.CreateTrainingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	token, err := h.dispatcher.SubmitTraining(c.Request.Context(), dispatcher.TrainingRequest{
		UserID:      req.UserID,
		ModelType:   req.ModelType,
		DataPath:    req.DataPath,
		Hyperparams: req.Hyperparams,
	})
	if err != nil {
		h.respondError(c, err, "Failed to submit training job")
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitResponse{RequestID: token})
}

// GetTraining handles GET /api/v1/training/:job_id
func (h *JobHandler) GetTraining(c *gin.Context) {
	jobID, err := strconv.ParseInt(c.Param("job_id"), 10, 64)
	if err != nil || jobID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a positive integer",
		})
		return
	}

	view, err := h.resolver.TrainingStatus(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err, "Failed to get training job")
		return
	}

	c.JSON(http.StatusOK, view)
}

// ListTraining handles GET /api/v1/training
// Lists training jobs newest first with cursor pagination
func (h *JobHandler) ListTraining(c *gin.Context) {
	var req dto.ListTrainingJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	req.PageSize = clampPageSize(req.PageSize)

	if req.Status != "" && !domain.IsValidTrainingStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid status",
		})
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.trainingJobs.ListTrainingJobs(c.Request.Context(), storage.TrainingJobFilter{
		UserID:   req.UserID,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.respondError(c, err, "Failed to list training jobs")
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListTrainingJobsResponse{Jobs: make([]dto.TrainingJobDTO, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = dto.NewTrainingJobDTO(job)
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

func clampPageSize(n int) int {
	if n <= 0 {
		return defaultPageSize
	}
	return min(n, maxPageSize)
}
