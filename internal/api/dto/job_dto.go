package dto

import (
	"time"

	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
)

type CreatePredictionRequest struct {
	UserID  int64 `json:"user_id" binding:"required"`
	ModelID int64 `json:"model_id" binding:"required"`
}

type CreateTrainingRequest struct {
	UserID      int64          `json:"user_id" binding:"required"`
	ModelType   string         `json:"model_type" binding:"required"`
	DataPath    string         `json:"data_path" binding:"required"`
	Hyperparams map[string]any `json:"hyperparams"`
}

// SubmitResponse carries the token to poll with
type SubmitResponse struct {
	RequestID string `json:"request_id"`
}

type ListPredictionsRequest struct {
	UserID   int64  `form:"user_id" binding:"required"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListPredictionsResponse struct {
	Tasks      []TaskDTO `json:"tasks"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

type TaskDTO struct {
	TaskID    int64   `json:"task_id"`
	ModelID   int64   `json:"model_id"`
	Cost      float64 `json:"cost"`
	CreatedAt string  `json:"created_at"`
}

// NewTaskDTO converts a stored task for the history response
func NewTaskDTO(task *domain.Task) TaskDTO {
	return TaskDTO{
		TaskID:    task.ID,
		ModelID:   task.ModelID,
		Cost:      task.Cost,
		CreatedAt: task.CreatedAt.Format(time.RFC3339),
	}
}

type ListTrainingJobsRequest struct {
	UserID   int64  `form:"user_id"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListTrainingJobsResponse struct {
	Jobs       []TrainingJobDTO `json:"jobs"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type TrainingJobDTO struct {
	JobID        int64           `json:"job_id"`
	UserID       int64           `json:"user_id"`
	ModelType    string          `json:"model_type"`
	DataPath     string          `json:"data_path"`
	Hyperparams  map[string]any  `json:"hyperparams"`
	Status       string          `json:"status"`
	Metrics      *domain.Metrics `json:"metrics,omitempty"`
	ArtifactPath *string         `json:"artifact_path,omitempty"`
	Error        *string         `json:"error,omitempty"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

// NewTrainingJobDTO converts a stored job for the list response
func NewTrainingJobDTO(job *domain.TrainingJob) TrainingJobDTO {
	return TrainingJobDTO{
		JobID:        job.ID,
		UserID:       job.UserID,
		ModelType:    job.ModelType,
		DataPath:     job.DataPath,
		Hyperparams:  job.Hyperparams,
		Status:       job.Status,
		Metrics:      job.Metrics,
		ArtifactPath: job.ArtifactPath,
		Error:        job.Error,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
	}
}
