// Package resolver answers "what happened to my request" for a correlation
// token. Resolution is read-only; terminal answers never change and are cached.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
	"github.com/Alexander76Kuznetsov/mfdp/internal/storage"
	"github.com/Alexander76Kuznetsov/mfdp/shared/redis"
)

// Result states
const (
	StateUnknown  = "unknown"
	StatePending  = "pending"
	StateComplete = "complete"
	StateFailed   = "failed"
)

const cacheKeyPrefix = "result:"

// ResultView is the answer for one token
type ResultView struct {
	RequestID  string          `json:"request_id"`
	State      string          `json:"state"`
	Kind       domain.JobKind  `json:"job_kind,omitempty"`
	Prediction *PredictionView `json:"prediction,omitempty"`
	Training   *TrainingView   `json:"training,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// PredictionView is the snapshot of a finished inference
type PredictionView struct {
	PredictionID int64     `json:"prediction_id"`
	TaskID       int64     `json:"task_id"`
	Output       *string   `json:"output"`
	CreatedAt    time.Time `json:"created_at"`
}

// TrainingView is the snapshot of a training job at read time
type TrainingView struct {
	JobID        int64           `json:"job_id"`
	ModelType    string          `json:"model_type"`
	Status       string          `json:"status"`
	Metrics      *domain.Metrics `json:"metrics,omitempty"`
	ArtifactPath *string         `json:"artifact_path,omitempty"`
	Error        *string         `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Cache stores terminal views by key
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Store is the read side the resolver needs
type Store interface {
	GetCorrelation(ctx context.Context, token string) (*domain.Correlation, error)
	GetPredictionByTask(ctx context.Context, taskID int64) (*domain.Prediction, error)
	GetTrainingJob(ctx context.Context, jobID int64) (*domain.TrainingJob, error)
	GetFailure(ctx context.Context, kind domain.JobKind, jobID int64) (*domain.JobFailure, error)
}

var _ Store = (storage.Store)(nil)

// Resolver maps tokens to result views
type Resolver struct {
	store  Store
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a Resolver. cache may be nil.
func New(store Store, cache Cache, ttl time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

// Resolve returns the state of the job behind token. A token that was never
// issued resolves to StateUnknown rather than an error.
func (r *Resolver) Resolve(ctx context.Context, token string) (*ResultView, error) {
	if view, ok := r.cached(ctx, token); ok {
		return view, nil
	}

	corr, err := r.store.GetCorrelation(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrCorrelationNotFound) {
			return &ResultView{RequestID: token, State: StateUnknown}, nil
		}
		return nil, fmt.Errorf("failed to resolve request %s: %w", token, err)
	}

	var view *ResultView
	switch corr.Kind {
	case domain.JobKindInference:
		view, err = r.resolveInference(ctx, corr)
	case domain.JobKindTraining:
		view, err = r.resolveTraining(ctx, corr)
	default:
		err = fmt.Errorf("unknown job kind %q", corr.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve request %s: %w", token, err)
	}

	if view.State == StateComplete || view.State == StateFailed {
		r.remember(ctx, view)
	}
	return view, nil
}

func (r *Resolver) resolveInference(ctx context.Context, corr *domain.Correlation) (*ResultView, error) {
	view := &ResultView{RequestID: corr.Token, Kind: corr.Kind}

	prediction, err := r.store.GetPredictionByTask(ctx, corr.JobID)
	if err == nil {
		view.State = StateComplete
		view.Prediction = &PredictionView{
			PredictionID: prediction.ID,
			TaskID:       prediction.TaskID,
			Output:       prediction.Output,
			CreatedAt:    prediction.CreatedAt,
		}
		return view, nil
	}
	if !errors.Is(err, domain.ErrPredictionNotFound) {
		return nil, err
	}

	failure, err := r.store.GetFailure(ctx, corr.Kind, corr.JobID)
	if err == nil {
		view.State = StateFailed
		view.Error = failure.Reason
		return view, nil
	}
	if !errors.Is(err, domain.ErrFailureNotFound) {
		return nil, err
	}

	view.State = StatePending
	return view, nil
}

func (r *Resolver) resolveTraining(ctx context.Context, corr *domain.Correlation) (*ResultView, error) {
	job, err := r.store.GetTrainingJob(ctx, corr.JobID)
	if err != nil {
		return nil, err
	}

	view := &ResultView{
		RequestID: corr.Token,
		Kind:      corr.Kind,
		Training:  newTrainingView(job),
	}
	switch job.Status {
	case domain.TrainingStatusCompleted:
		view.State = StateComplete
	case domain.TrainingStatusFailed:
		view.State = StateFailed
		if job.Error != nil {
			view.Error = *job.Error
		}
	default:
		view.State = StatePending
	}
	return view, nil
}

// TrainingStatus returns the current snapshot of a training job
func (r *Resolver) TrainingStatus(ctx context.Context, jobID int64) (*TrainingView, error) {
	job, err := r.store.GetTrainingJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return newTrainingView(job), nil
}

func newTrainingView(job *domain.TrainingJob) *TrainingView {
	return &TrainingView{
		JobID:        job.ID,
		ModelType:    job.ModelType,
		Status:       job.Status,
		Metrics:      job.Metrics,
		ArtifactPath: job.ArtifactPath,
		Error:        job.Error,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}

func (r *Resolver) cached(ctx context.Context, token string) (*ResultView, bool) {
	if r.cache == nil {
		return nil, false
	}

	var view ResultView
	err := r.cache.GetJSON(ctx, cacheKeyPrefix+token, &view)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			r.logger.Warn("Result cache read failed",
				slog.String("request_id", token),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}
	return &view, true
}

func (r *Resolver) remember(ctx context.Context, view *ResultView) {
	if r.cache == nil {
		return
	}

	if err := r.cache.SetJSON(ctx, cacheKeyPrefix+view.RequestID, view, r.ttl); err != nil {
		r.logger.Warn("Result cache write failed",
			slog.String("request_id", view.RequestID),
			slog.String("error", err.Error()),
		)
	}
}
