package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// InferenceMessage is the queue payload of an inference task
type InferenceMessage struct {
	TaskID    int64     `json:"task_id"`
	UserID    int64     `json:"user_id"`
	ModelID   int64     `json:"model_id"`
	Cost      float64   `json:"cost"`
	CreatedAt time.Time `json:"created_at"`
	RequestID string    `json:"request_id"`
}

// TrainingMessage is the queue payload of a training job
type TrainingMessage struct {
	JobID       int64          `json:"job_id"`
	ModelType   string         `json:"model_type"`
	DataPath    string         `json:"data_path"`
	Hyperparams map[string]any `json:"hyperparams"`
	RequestID   string         `json:"request_id,omitempty"`
}

// NewInferenceMessage builds the message published for task under token
func NewInferenceMessage(task *Task, token string) *InferenceMessage {
	return &InferenceMessage{
		TaskID:    task.ID,
		UserID:    task.UserID,
		ModelID:   task.ModelID,
		Cost:      task.Cost,
		CreatedAt: task.CreatedAt,
		RequestID: token,
	}
}

// NewTrainingMessage builds the message published for job under token
func NewTrainingMessage(job *TrainingJob, token string) *TrainingMessage {
	return &TrainingMessage{
		JobID:       job.ID,
		ModelType:   job.ModelType,
		DataPath:    job.DataPath,
		Hyperparams: job.Hyperparams,
		RequestID:   token,
	}
}

// ParseInferenceMessage decodes and validates an inference payload.
// A message missing only its request id is returned together with the error
// so the failure can still be recorded against the task.
func ParseInferenceMessage(body []byte) (*InferenceMessage, error) {
	var msg InferenceMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if msg.TaskID <= 0 {
		return nil, fmt.Errorf("%w: missing task_id", ErrInvalidPayload)
	}
	if msg.RequestID == "" {
		return &msg, fmt.Errorf("%w: missing request_id", ErrInvalidPayload)
	}
	return &msg, nil
}

// ParseTrainingMessage decodes and validates a training payload
func ParseTrainingMessage(body []byte) (*TrainingMessage, error) {
	var msg TrainingMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if msg.JobID <= 0 {
		return nil, fmt.Errorf("%w: missing job_id", ErrInvalidPayload)
	}
	return &msg, nil
}
