package storage

import (
	"context"
	"time"

	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
)

// Store is the job record store shared by the dispatcher, the worker and the resolver.
// Writes outside a Tx commit immediately.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	GetTask(ctx context.Context, taskID int64) (*domain.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)
	GetCorrelation(ctx context.Context, token string) (*domain.Correlation, error)

	GetPredictionByTask(ctx context.Context, taskID int64) (*domain.Prediction, error)
	// CreatePrediction inserts p unless the task already has a prediction.
	// created is false when an existing row was kept; p then holds that row.
	CreatePrediction(ctx context.Context, p *domain.Prediction) (created bool, err error)

	GetTrainingJob(ctx context.Context, jobID int64) (*domain.TrainingJob, error)
	ListTrainingJobs(ctx context.Context, filter TrainingJobFilter) ([]*domain.TrainingJob, error)
	TransitionTrainingJob(ctx context.Context, jobID int64, from, to string, update TrainingUpdate) error
	// TouchTrainingJob refreshes updated_at of a running job as a liveness
	// heartbeat. Finished jobs are left alone.
	TouchTrainingJob(ctx context.Context, jobID int64) error

	RecordFailure(ctx context.Context, f *domain.JobFailure) error
	GetFailure(ctx context.Context, kind domain.JobKind, jobID int64) (*domain.JobFailure, error)

	CreateModel(ctx context.Context, m *domain.Model) error
	GetModel(ctx context.Context, modelID int64) (*domain.Model, error)
	UpsertUserFeatures(ctx context.Context, userID int64, features map[string]float64) error
	GetUserFeatures(ctx context.Context, userID int64) (map[string]float64, error)
}

// Tx groups the submission writes so they become visible together
type Tx interface {
	CreateTask(ctx context.Context, t *domain.Task) error
	CreateTrainingJob(ctx context.Context, j *domain.TrainingJob) error
	CreateCorrelation(ctx context.Context, c *domain.Correlation) error
	Commit() error
	Rollback() error
}

// TrainingUpdate carries the optional fields written with a status transition
type TrainingUpdate struct {
	Metrics      *domain.Metrics
	ArtifactPath *string
	Error        *string
}

// TrainingJobFilter selects a page of training jobs, newest first
type TrainingJobFilter struct {
	UserID   int64
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// TaskFilter selects a page of one user's inference tasks, newest first
type TaskFilter struct {
	UserID   int64
	PageSize int
	Cursor   *JobCursor
}

// JobCursor marks the last row of the previous page
type JobCursor struct {
	CreatedAt time.Time
	JobID     int64
}
