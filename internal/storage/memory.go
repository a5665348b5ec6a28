package storage

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
)

// MemoryStore is an in-process Store used by tests and local runs
type MemoryStore struct {
	mu sync.RWMutex

	nextID int64
	now    func() time.Time

	models       map[int64]*domain.Model
	features     map[int64]map[string]float64
	tasks        map[int64]*domain.Task
	predictions  map[int64]*domain.Prediction // by task id
	trainingJobs map[int64]*domain.TrainingJob
	correlations map[string]*domain.Correlation
	failures     map[failureKey]*domain.JobFailure
}

type failureKey struct {
	kind  domain.JobKind
	jobID int64
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:          func() time.Time { return time.Now().UTC() },
		models:       make(map[int64]*domain.Model),
		features:     make(map[int64]map[string]float64),
		tasks:        make(map[int64]*domain.Task),
		predictions:  make(map[int64]*domain.Prediction),
		trainingJobs: make(map[int64]*domain.TrainingJob),
		correlations: make(map[string]*domain.Correlation),
		failures:     make(map[failureKey]*domain.JobFailure),
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

// Begin starts a buffered transaction applied on Commit
func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w: %w", domain.ErrPersistence, err)
	}
	return &memoryTx{store: s}, nil
}

type memoryTx struct {
	store        *MemoryStore
	tasks        []*domain.Task
	jobs         []*domain.TrainingJob
	correlations []*domain.Correlation
	done         bool
}

func (t *memoryTx) CreateTask(ctx context.Context, task *domain.Task) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if _, ok := t.store.models[task.ModelID]; !ok {
		return fmt.Errorf("%w: %w: model %d", domain.ErrInvalidRequest, domain.ErrModelNotFound, task.ModelID)
	}

	task.ID = t.store.id()
	task.CreatedAt = t.store.now()
	copied := *task
	t.tasks = append(t.tasks, &copied)
	return nil
}

func (t *memoryTx) CreateTrainingJob(ctx context.Context, job *domain.TrainingJob) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	job.ID = t.store.id()
	job.Status = domain.TrainingStatusSubmitted
	job.CreatedAt = t.store.now()
	job.UpdatedAt = job.CreatedAt
	t.jobs = append(t.jobs, cloneTrainingJob(job))
	return nil
}

func (t *memoryTx) CreateCorrelation(ctx context.Context, c *domain.Correlation) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if _, exists := t.store.correlations[c.Token]; exists {
		return fmt.Errorf("failed to create correlation: %w: duplicate token", domain.ErrPersistence)
	}

	c.CreatedAt = t.store.now()
	copied := *c
	t.correlations = append(t.correlations, &copied)
	return nil
}

func (t *memoryTx) Commit() error {
	if t.done {
		return fmt.Errorf("failed to commit transaction: %w: already finished", domain.ErrPersistence)
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for _, task := range t.tasks {
		t.store.tasks[task.ID] = task
	}
	for _, job := range t.jobs {
		t.store.trainingJobs[job.ID] = job
	}
	for _, c := range t.correlations {
		t.store.correlations[c.Token] = c
	}
	return nil
}

func (t *memoryTx) Rollback() error {
	t.done = true
	t.tasks, t.jobs, t.correlations = nil, nil, nil
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, taskID int64) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	copied := *task
	return &copied, nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*domain.Task, 0)
	for _, task := range s.tasks {
		if task.UserID != filter.UserID {
			continue
		}
		if filter.Cursor != nil && !before(task.CreatedAt, task.ID, filter.Cursor) {
			continue
		}
		copied := *task
		tasks = append(tasks, &copied)
	}

	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID > tasks[j].ID
	})

	if limit := filter.PageSize + 1; len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (s *MemoryStore) GetCorrelation(ctx context.Context, token string) (*domain.Correlation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.correlations[token]
	if !ok {
		return nil, domain.ErrCorrelationNotFound
	}
	copied := *c
	return &copied, nil
}

func (s *MemoryStore) GetPredictionByTask(ctx context.Context, taskID int64) (*domain.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.predictions[taskID]
	if !ok {
		return nil, domain.ErrPredictionNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *MemoryStore) CreatePrediction(ctx context.Context, p *domain.Prediction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.predictions[p.TaskID]; ok {
		*p = *existing
		return false, nil
	}
	if _, ok := s.tasks[p.TaskID]; !ok {
		return false, fmt.Errorf("failed to create prediction: %w: unknown task %d", domain.ErrPersistence, p.TaskID)
	}

	p.ID = s.id()
	p.CreatedAt = s.now()
	copied := *p
	s.predictions[p.TaskID] = &copied
	return true, nil
}

func (s *MemoryStore) GetTrainingJob(ctx context.Context, jobID int64) (*domain.TrainingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.trainingJobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneTrainingJob(job), nil
}

func (s *MemoryStore) ListTrainingJobs(ctx context.Context, filter TrainingJobFilter) ([]*domain.TrainingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*domain.TrainingJob, 0, len(s.trainingJobs))
	for _, job := range s.trainingJobs {
		if filter.UserID != 0 && job.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Cursor != nil && !before(job.CreatedAt, job.ID, filter.Cursor) {
			continue
		}
		jobs = append(jobs, cloneTrainingJob(job))
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})

	if limit := filter.PageSize + 1; len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// before reports whether job sorts strictly after the cursor row in newest-first order
func before(createdAt time.Time, id int64, cursor *JobCursor) bool {
	if createdAt.Equal(cursor.CreatedAt) {
		return id < cursor.JobID
	}
	return createdAt.Before(cursor.CreatedAt)
}

func (s *MemoryStore) TransitionTrainingJob(ctx context.Context, jobID int64, from, to string, update TrainingUpdate) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.trainingJobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status != from {
		return fmt.Errorf("%w: job %d is %s, expected %s", domain.ErrInvalidTransition, jobID, job.Status, from)
	}

	job.Status = to
	job.UpdatedAt = s.now()
	if update.Metrics != nil {
		metrics := *update.Metrics
		job.Metrics = &metrics
	}
	if update.ArtifactPath != nil {
		path := *update.ArtifactPath
		job.ArtifactPath = &path
	}
	if update.Error != nil {
		msg := *update.Error
		job.Error = &msg
	}
	return nil
}

func (s *MemoryStore) TouchTrainingJob(ctx context.Context, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.trainingJobs[jobID]; ok && !domain.IsTerminalTrainingStatus(job.Status) {
		job.UpdatedAt = s.now()
	}
	return nil
}

func (s *MemoryStore) RecordFailure(ctx context.Context, f *domain.JobFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := failureKey{kind: f.Kind, jobID: f.JobID}
	if existing, ok := s.failures[key]; ok {
		f.ID = existing.ID
	} else {
		f.ID = s.id()
	}
	f.FailedAt = s.now()

	copied := *f
	s.failures[key] = &copied
	return nil
}

func (s *MemoryStore) GetFailure(ctx context.Context, kind domain.JobKind, jobID int64) (*domain.JobFailure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.failures[failureKey{kind: kind, jobID: jobID}]
	if !ok {
		return nil, domain.ErrFailureNotFound
	}
	copied := *f
	return &copied, nil
}

func (s *MemoryStore) CreateModel(ctx context.Context, m *domain.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = s.id()
	m.CreatedAt = s.now()
	copied := *m
	s.models[m.ID] = &copied
	return nil
}

func (s *MemoryStore) GetModel(ctx context.Context, modelID int64) (*domain.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.models[modelID]
	if !ok {
		return nil, domain.ErrModelNotFound
	}
	copied := *m
	return &copied, nil
}

func (s *MemoryStore) UpsertUserFeatures(ctx context.Context, userID int64, features map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.features[userID] = maps.Clone(features)
	return nil
}

func (s *MemoryStore) GetUserFeatures(ctx context.Context, userID int64) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	features, ok := s.features[userID]
	if !ok {
		return nil, domain.ErrFeaturesNotFound
	}
	return maps.Clone(features), nil
}

func cloneTrainingJob(job *domain.TrainingJob) *domain.TrainingJob {
	copied := *job
	copied.Hyperparams = maps.Clone(job.Hyperparams)
	if job.Metrics != nil {
		metrics := *job.Metrics
		copied.Metrics = &metrics
	}
	if job.ArtifactPath != nil {
		path := *job.ArtifactPath
		copied.ArtifactPath = &path
	}
	if job.Error != nil {
		msg := *job.Error
		copied.Error = &msg
	}
	return &copied
}
