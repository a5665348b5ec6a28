// Package dispatcher turns client requests into persisted, queued jobs and
// hands back the correlation token used to poll for the result.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
	"github.com/Alexander76Kuznetsov/mfdp/internal/queue"
	"github.com/Alexander76Kuznetsov/mfdp/internal/storage"
	"github.com/google/uuid"
)

// Config holds the queue names and submission defaults
type Config struct {
	InferenceQueue    string
	TrainingQueue     string
	TaskCost          float64
	DefaultIterations int
	DefaultFactors    int
}

// InferenceRequest asks for one prediction
type InferenceRequest struct {
	UserID  int64
	ModelID int64
}

// TrainingRequest asks for one training run
type TrainingRequest struct {
	UserID      int64
	ModelType   string
	DataPath    string
	Hyperparams map[string]any
}

// Dispatcher persists jobs and publishes them
type Dispatcher struct {
	store     storage.Store
	publisher queue.Publisher
	config    Config
	logger    *slog.Logger
	newToken  func() string
}

// New creates a Dispatcher
func New(store storage.Store, publisher queue.Publisher, config Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		config:    config,
		logger:    logger,
		newToken:  uuid.NewString,
	}
}

// SubmitInference records a Task and queues it. The returned token resolves
// to the task as soon as this call returns.
func (d *Dispatcher) SubmitInference(ctx context.Context, req InferenceRequest) (string, error) {
	if req.UserID <= 0 {
		return "", fmt.Errorf("%w: user_id must be positive", domain.ErrInvalidRequest)
	}
	if req.ModelID <= 0 {
		return "", fmt.Errorf("%w: model_id must be positive", domain.ErrInvalidRequest)
	}

	task := &domain.Task{
		UserID:  req.UserID,
		ModelID: req.ModelID,
		Cost:    d.config.TaskCost,
	}

	// an unpublished task stays behind as an orphan row; nothing resolves to it
	return d.submit(ctx, domain.JobKindInference, d.config.InferenceQueue,
		func(tx storage.Tx) (int64, error) {
			if err := tx.CreateTask(ctx, task); err != nil {
				return 0, err
			}
			return task.ID, nil
		},
		func(token string) any {
			return domain.NewInferenceMessage(task, token)
		},
	)
}

// SubmitTraining records a TrainingJob in status submitted and queues it.
// A job that could not be queued is marked failed.
func (d *Dispatcher) SubmitTraining(ctx context.Context, req TrainingRequest) (string, error) {
	if req.UserID <= 0 {
		return "", fmt.Errorf("%w: user_id must be positive", domain.ErrInvalidRequest)
	}
	switch req.ModelType {
	case domain.ModelTypePopular, domain.ModelTypeALS:
	default:
		return "", fmt.Errorf("%w: %w: %q", domain.ErrInvalidRequest, domain.ErrUnknownModelType, req.ModelType)
	}
	if strings.TrimSpace(req.DataPath) == "" {
		return "", fmt.Errorf("%w: data_path is required", domain.ErrInvalidRequest)
	}

	job := &domain.TrainingJob{
		UserID:      req.UserID,
		ModelType:   req.ModelType,
		DataPath:    req.DataPath,
		Hyperparams: d.withDefaults(req.Hyperparams),
	}

	token, err := d.submit(ctx, domain.JobKindTraining, d.config.TrainingQueue,
		func(tx storage.Tx) (int64, error) {
			if err := tx.CreateTrainingJob(ctx, job); err != nil {
				return 0, err
			}
			return job.ID, nil
		},
		func(token string) any {
			return domain.NewTrainingMessage(job, token)
		},
	)
	if errors.Is(err, domain.ErrTransport) && job.ID != 0 {
		d.abandonTraining(ctx, job.ID, err)
	}
	return token, err
}

// abandonTraining fails a job whose message never reached the queue
func (d *Dispatcher) abandonTraining(ctx context.Context, jobID int64, cause error) {
	reason := fmt.Sprintf("not queued: %v", cause)
	err := d.store.TransitionTrainingJob(context.WithoutCancel(ctx), jobID,
		domain.TrainingStatusSubmitted, domain.TrainingStatusFailed, storage.TrainingUpdate{Error: &reason})
	if err != nil {
		d.logger.Error("Failed to mark unqueued training job failed",
			slog.Int64("job_id", jobID),
			slog.Any("error", err),
		)
	}
}

func (d *Dispatcher) withDefaults(hyperparams map[string]any) map[string]any {
	merged := maps.Clone(hyperparams)
	if merged == nil {
		merged = map[string]any{}
	}
	if _, ok := merged[domain.HyperparamIterations]; !ok {
		merged[domain.HyperparamIterations] = d.config.DefaultIterations
	}
	if _, ok := merged[domain.HyperparamFactors]; !ok {
		merged[domain.HyperparamFactors] = d.config.DefaultFactors
	}
	return merged
}

// submit commits the job row, publishes the message, then records the
// correlation. A worker therefore always finds the row it is handed, and a
// token is only returned for a job that reached the queue.
func (d *Dispatcher) submit(
	ctx context.Context,
	kind domain.JobKind,
	queueName string,
	create func(tx storage.Tx) (int64, error),
	message func(token string) any,
) (string, error) {
	var jobID int64
	err := d.inTx(ctx, func(tx storage.Tx) error {
		var err error
		jobID, err = create(tx)
		return err
	})
	if err != nil {
		return "", err
	}

	token := d.newToken()
	body, err := json.Marshal(message(token))
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s message: %w", kind, err)
	}

	if err := d.publisher.Publish(ctx, queueName, queue.Message{Body: body}); err != nil {
		d.logger.Error("Failed to publish job",
			slog.String("kind", string(kind)),
			slog.Int64("job_id", jobID),
			slog.String("queue", queueName),
			slog.Any("error", err),
		)
		if !errors.Is(err, domain.ErrTransport) {
			err = fmt.Errorf("%w: %w", domain.ErrTransport, err)
		}
		return "", err
	}

	// the message is out; a canceled request must not drop its correlation
	recordCtx := context.WithoutCancel(ctx)
	err = d.inTx(recordCtx, func(tx storage.Tx) error {
		return tx.CreateCorrelation(recordCtx, &domain.Correlation{Token: token, Kind: kind, JobID: jobID})
	})
	if err != nil {
		d.logger.Error("Job published but correlation was not recorded",
			slog.String("kind", string(kind)),
			slog.Int64("job_id", jobID),
			slog.String("request_id", token),
			slog.Any("error", err),
		)
		return "", err
	}

	d.logger.Info("Job submitted",
		slog.String("kind", string(kind)),
		slog.Int64("job_id", jobID),
		slog.String("queue", queueName),
		slog.String("request_id", token),
	)

	return token, nil
}

// inTx runs fn in a store transaction and commits it
func (d *Dispatcher) inTx(ctx context.Context, fn func(tx storage.Tx) error) (err error) {
	tx, err := d.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Error("Failed to rollback transaction", slog.Any("error", rbErr))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		if !errors.Is(err, domain.ErrPersistence) {
			err = fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
		return err
	}
	return nil
}
