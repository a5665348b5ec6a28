package handler

import (
	"context"
	"log/slog"

	"github.com/Alexander76Kuznetsov/mfdp/internal/dispatcher"
	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
	"github.com/Alexander76Kuznetsov/mfdp/internal/resolver"
	"github.com/Alexander76Kuznetsov/mfdp/internal/storage"
)

// JobDispatcher submits jobs and returns their correlation tokens
type JobDispatcher interface {
	SubmitInference(ctx context.Context, req dispatcher.InferenceRequest) (string, error)
	SubmitTraining(ctx context.Context, req dispatcher.TrainingRequest) (string, error)
}

// ResultResolver answers polls for submitted jobs
type ResultResolver interface {
	Resolve(ctx context.Context, token string) (*resolver.ResultView, error)
	TrainingStatus(ctx context.Context, jobID int64) (*resolver.TrainingView, error)
}

// TrainingJobLister pages through training jobs
type TrainingJobLister interface {
	ListTrainingJobs(ctx context.Context, filter storage.TrainingJobFilter) ([]*domain.TrainingJob, error)
}

// TaskLister pages through one user's inference tasks
type TaskLister interface {
	ListTasks(ctx context.Context, filter storage.TaskFilter) ([]*domain.Task, error)
}

// ModelCatalog registers models and stores the feature rows inference reads
type ModelCatalog interface {
	CreateModel(ctx context.Context, m *domain.Model) error
	UpsertUserFeatures(ctx context.Context, userID int64, features map[string]float64) error
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Dispatcher   JobDispatcher
	Resolver     ResultResolver
	TrainingJobs TrainingJobLister
	Tasks        TaskLister
	Catalog      ModelCatalog
	// HealthChecks are checked by GET /health, keyed by component name
	HealthChecks map[string]HealthChecker
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger       *slog.Logger
	dispatcher   JobDispatcher
	resolver     ResultResolver
	trainingJobs TrainingJobLister
	tasks        TaskLister
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:       deps.Logger,
		dispatcher:   deps.Dispatcher,
		resolver:     deps.Resolver,
		trainingJobs: deps.TrainingJobs,
		tasks:        deps.Tasks,
	}
}
