package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/Alexander76Kuznetsov/mfdp/internal/artifact"
	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
	"golang.org/x/sync/singleflight"
)

// ModelCatalog looks up model catalog rows
type ModelCatalog interface {
	GetModel(ctx context.Context, modelID int64) (*domain.Model, error)
}

// Registry is the process-wide model-handle cache. A model is loaded once
// per id on first use and then shared read-only by every consumer.
type Registry struct {
	catalog   ModelCatalog
	artifacts artifact.Store
	logger    *slog.Logger

	mu     sync.RWMutex
	models map[int64]Model
	group  singleflight.Group
}

// NewRegistry creates an empty Registry
func NewRegistry(catalog ModelCatalog, artifacts artifact.Store, logger *slog.Logger) *Registry {
	return &Registry{
		catalog:   catalog,
		artifacts: artifacts,
		logger:    logger,
		models:    make(map[int64]Model),
	}
}

// Get returns the model for modelID, loading it on a cache miss
func (r *Registry) Get(ctx context.Context, modelID int64) (Model, error) {
	r.mu.RLock()
	model, ok := r.models[modelID]
	r.mu.RUnlock()
	if ok {
		return model, nil
	}

	v, err, _ := r.group.Do(strconv.FormatInt(modelID, 10), func() (any, error) {
		r.mu.RLock()
		cached, ok := r.models[modelID]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}

		loaded, err := r.load(ctx, modelID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.models[modelID] = loaded
		r.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Model), nil
}

// Len reports how many models are cached
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

func (r *Registry) load(ctx context.Context, modelID int64) (Model, error) {
	entry, err := r.catalog.GetModel(ctx, modelID)
	if err != nil {
		return nil, err
	}

	data, err := r.artifacts.Get(ctx, entry.ArtifactPath)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, fmt.Errorf("%w: artifact %s of model %d: %w", domain.ErrModelNotFound, entry.ArtifactPath, modelID, err)
		}
		return nil, domain.NewRetryableError(fmt.Errorf("failed to load model %d: %w", modelID, err))
	}

	model, err := ParseModel(data)
	if err != nil {
		return nil, fmt.Errorf("%w: model %d: %w", domain.ErrModelNotFound, modelID, err)
	}

	r.logger.Info("Model loaded",
		slog.Int64("model_id", modelID),
		slog.String("name", entry.Name),
		slog.String("artifact_path", entry.ArtifactPath),
	)

	return model, nil
}
