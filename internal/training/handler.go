// Package training runs recommender training jobs through their status
// phases: submitted, loading_data, preprocessing, training, completed, with
// failed reachable from every non-terminal phase.
package training

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Alexander76Kuznetsov/mfdp/internal/artifact"
	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
	"github.com/Alexander76Kuznetsov/mfdp/internal/queue"
	"github.com/Alexander76Kuznetsov/mfdp/internal/storage"
)

// artifactTimeLayout stamps model artifact keys
const artifactTimeLayout = "20060102_150405"

// defaultLease is how long a running job may go without a heartbeat
const defaultLease = time.Minute

// Config holds evaluation settings and hyperparameter defaults
type Config struct {
	EvalDays          int
	TopK              int
	DefaultIterations int
	DefaultFactors    int
	Regularization    float64
	Alpha             float64
	// Lease is how long a running job may go without a heartbeat before a
	// redelivered message declares it interrupted
	Lease time.Duration
}

// Handler executes one training job per message
type Handler struct {
	store      storage.Store
	artifacts  artifact.Store
	strategies map[string]Strategy
	config     Config
	lease      time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewHandler creates a Handler with the popular and als strategies registered
func NewHandler(store storage.Store, artifacts artifact.Store, config Config, logger *slog.Logger) *Handler {
	lease := config.Lease
	if lease <= 0 {
		lease = defaultLease
	}

	return &Handler{
		store:     store,
		artifacts: artifacts,
		strategies: map[string]Strategy{
			domain.ModelTypePopular: PopularStrategy{},
			domain.ModelTypeALS:     ALSStrategy{},
		},
		config: config,
		lease:  lease,
		logger: logger,
		now:    time.Now,
	}
}

func (h *Handler) defaults() Params {
	return Params{
		TopK:           h.config.TopK,
		Iterations:     h.config.DefaultIterations,
		Factors:        h.config.DefaultFactors,
		Regularization: h.config.Regularization,
		Alpha:          h.config.Alpha,
	}
}

// Handle runs the job named in the message. Jobs already finished are
// skipped. A job found part way through is either still running under
// another consumer or was interrupted; see reclaim.
func (h *Handler) Handle(ctx context.Context, delivery queue.Message) error {
	msg, err := domain.ParseTrainingMessage(delivery.Body)
	if err != nil {
		return err
	}

	job, err := h.store.GetTrainingJob(ctx, msg.JobID)
	if err != nil {
		// jobs are committed before publish, so this is a store outage or a lagging replica
		return domain.NewRetryableError(fmt.Errorf("failed to load training job %d: %w", msg.JobID, err))
	}

	log := h.logger.With(
		slog.Int64("job_id", job.ID),
		slog.String("model_type", job.ModelType),
	)

	if domain.IsTerminalTrainingStatus(job.Status) {
		log.Info("Training job already finished, skipping", slog.String("status", job.Status))
		return nil
	}

	if job.Status != domain.TrainingStatusSubmitted {
		if !delivery.Redelivered {
			// a second copy of the message; the consumer holding the first owns the run
			log.Info("Training job already running, duplicate message dropped", slog.String("status", job.Status))
			return nil
		}
		return h.reclaim(ctx, job, log)
	}

	m := &machine{store: h.store, job: job, status: job.Status, logger: log}
	return h.execute(ctx, m)
}

// reclaim settles a redelivered job found mid-phase. While the job's
// heartbeat is fresh some consumer still runs it, so reclaim waits for the
// outcome. Once the heartbeat lapses for a full lease the run is gone and
// the job is failed rather than re-entered.
func (h *Handler) reclaim(ctx context.Context, job *domain.TrainingJob, log *slog.Logger) error {
	poll := h.lease / 4

	for {
		if domain.IsTerminalTrainingStatus(job.Status) {
			log.Info("Training job finished by another consumer", slog.String("status", job.Status))
			return nil
		}

		if idle := h.now().Sub(job.UpdatedAt); idle >= h.lease {
			reason := fmt.Sprintf("interrupted: job found in status %s on redelivery", job.Status)
			err := h.store.TransitionTrainingJob(ctx, job.ID, job.Status, domain.TrainingStatusFailed, storage.TrainingUpdate{
				Error: &reason,
			})
			if err == nil {
				log.Warn("Interrupted training job marked failed",
					slog.String("status", job.Status),
					slog.Duration("idle", idle),
				)
				return nil
			}
			if !errors.Is(err, domain.ErrInvalidTransition) {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return domain.NewRetryableError(fmt.Errorf("failed to await training job %d: %w", job.ID, ctx.Err()))
		case <-time.After(poll):
		}

		next, err := h.store.GetTrainingJob(ctx, job.ID)
		if err != nil {
			return err
		}
		job = next
	}
}

// heartbeat touches the job every third of a lease until stop is called
func (h *Handler) heartbeat(ctx context.Context, jobID int64, log *slog.Logger) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(h.lease / 3)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := h.store.TouchTrainingJob(ctx, jobID); err != nil {
					log.Warn("Failed to update training job heartbeat", slog.String("error", err.Error()))
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

func (h *Handler) execute(ctx context.Context, m *machine) error {
	job := m.job

	if err := m.advance(ctx, domain.TrainingStatusLoadingData, storage.TrainingUpdate{}); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			m.logger.Info("Training job claimed by another consumer")
			return nil
		}
		return err
	}

	stop := h.heartbeat(ctx, job.ID, m.logger)
	defer stop()

	dataset, err := LoadDataset(ctx, h.artifacts, job.DataPath)
	if err != nil {
		return fmt.Errorf("loading data: %w", err)
	}

	if err := m.advance(ctx, domain.TrainingStatusPreprocessing, storage.TrainingUpdate{}); err != nil {
		return err
	}
	split, err := Preprocess(dataset, h.config.EvalDays)
	if err != nil {
		return fmt.Errorf("preprocessing: %w", err)
	}
	m.logger.Info("Dataset split",
		slog.Int("train_rows", len(split.Train)),
		slog.Int("eval_pairs", len(split.Eval)),
		slog.Time("threshold", split.Threshold),
	)

	if err := m.advance(ctx, domain.TrainingStatusTraining, storage.TrainingUpdate{}); err != nil {
		return err
	}
	metrics, artifactPath, err := h.train(ctx, job, split)
	if err != nil {
		return fmt.Errorf("training: %w", err)
	}

	return m.advance(ctx, domain.TrainingStatusCompleted, storage.TrainingUpdate{
		Metrics:      &metrics,
		ArtifactPath: artifactPath,
	})
}

func (h *Handler) train(ctx context.Context, job *domain.TrainingJob, split *Split) (domain.Metrics, *string, error) {
	strategy, ok := h.strategies[job.ModelType]
	if !ok {
		return domain.Metrics{}, nil, fmt.Errorf("%w: %q", domain.ErrUnknownModelType, job.ModelType)
	}

	params, err := resolveParams(job.Hyperparams, h.defaults())
	if err != nil {
		return domain.Metrics{}, nil, err
	}

	result, err := strategy.Fit(ctx, split, params)
	if err != nil {
		return domain.Metrics{}, nil, err
	}

	metrics := Evaluate(split.Eval, result.Recommendations, params.TopK)

	if result.Artifact == nil {
		return metrics, nil, nil
	}

	key := fmt.Sprintf("models/%s_model_%d_%s.json", job.ModelType, job.ID, h.now().UTC().Format(artifactTimeLayout))
	if err := h.artifacts.Put(ctx, key, bytes.NewReader(result.Artifact)); err != nil {
		return domain.Metrics{}, nil, fmt.Errorf("failed to save model artifact: %w", err)
	}
	return metrics, &key, nil
}

// RecordFailure moves the job to failed with cause as its error text
func (h *Handler) RecordFailure(ctx context.Context, body []byte, cause error, attempts int) error {
	msg, err := domain.ParseTrainingMessage(body)
	if err != nil {
		h.logger.Warn("No job id in failed message, nothing to record", slog.Any("cause", cause))
		return nil
	}

	job, err := h.store.GetTrainingJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			h.logger.Warn("Failed training job does not exist",
				slog.Int64("job_id", msg.JobID),
				slog.Any("cause", cause),
			)
			return nil
		}
		return err
	}

	if domain.IsTerminalTrainingStatus(job.Status) {
		return nil
	}

	reason := cause.Error()
	err = h.store.TransitionTrainingJob(ctx, job.ID, job.Status, domain.TrainingStatusFailed, storage.TrainingUpdate{
		Error: &reason,
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		current, getErr := h.store.GetTrainingJob(ctx, job.ID)
		if getErr == nil && domain.IsTerminalTrainingStatus(current.Status) {
			return nil
		}
	}
	if err != nil {
		return err
	}

	h.logger.Warn("Training job failed",
		slog.Int64("job_id", job.ID),
		slog.String("phase", job.Status),
		slog.Int("attempts", attempts),
		slog.String("reason", reason),
	)
	return nil
}

// machine tracks the status a running job was last moved to
type machine struct {
	store  storage.Store
	job    *domain.TrainingJob
	status string
	logger *slog.Logger
}

func (m *machine) advance(ctx context.Context, to string, update storage.TrainingUpdate) error {
	if err := m.store.TransitionTrainingJob(ctx, m.job.ID, m.status, to, update); err != nil {
		return err
	}
	m.logger.Info("Training job advanced",
		slog.String("from", m.status),
		slog.String("to", to),
	)
	m.status = to
	return nil
}
