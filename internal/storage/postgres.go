package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const foreignKeyViolation = "23503"

// PostgresStore implements Store with sqlx and raw SQL
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore instance
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// dbError tags a driver failure as a persistence error
func dbError(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, domain.ErrPersistence, err)
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}

// Begin starts a submission transaction
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, dbError("begin transaction", err)
	}
	return &postgresTx{tx: tx}, nil
}

type postgresTx struct {
	tx *sqlx.Tx
}

func (t *postgresTx) CreateTask(ctx context.Context, task *domain.Task) error {
	query := `
		INSERT INTO ml_tasks (user_id, model_id, cost)
		VALUES ($1, $2, $3)
		RETURNING task_id, created_at
	`

	err := t.tx.QueryRowxContext(ctx, query, task.UserID, task.ModelID, task.Cost).Scan(&task.ID, &task.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %w: model %d", domain.ErrInvalidRequest, domain.ErrModelNotFound, task.ModelID)
		}
		return dbError("create task", err)
	}

	return nil
}

func (t *postgresTx) CreateTrainingJob(ctx context.Context, job *domain.TrainingJob) error {
	hyperparams, err := json.Marshal(job.Hyperparams)
	if err != nil {
		return fmt.Errorf("failed to marshal hyperparams: %w", err)
	}

	query := `
		INSERT INTO training_jobs (user_id, model_type, data_path, hyperparams, status)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		RETURNING job_id, created_at, updated_at
	`

	err = t.tx.QueryRowxContext(ctx, query,
		job.UserID,
		job.ModelType,
		job.DataPath,
		string(hyperparams),
		domain.TrainingStatusSubmitted,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return dbError("create training job", err)
	}

	job.Status = domain.TrainingStatusSubmitted
	return nil
}

func (t *postgresTx) CreateCorrelation(ctx context.Context, c *domain.Correlation) error {
	query := `
		INSERT INTO correlations (token, job_kind, job_id)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`

	if err := t.tx.QueryRowxContext(ctx, query, c.Token, c.Kind, c.JobID).Scan(&c.CreatedAt); err != nil {
		return dbError("create correlation", err)
	}
	return nil
}

func (t *postgresTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return dbError("commit transaction", err)
	}
	return nil
}

func (t *postgresTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return dbError("rollback transaction", err)
	}
	return nil
}

// GetTask retrieves a task by its ID
func (s *PostgresStore) GetTask(ctx context.Context, taskID int64) (*domain.Task, error) {
	query := `
		SELECT task_id, user_id, model_id, cost, created_at
		FROM ml_tasks
		WHERE task_id = $1
	`

	var task domain.Task
	if err := s.db.GetContext(ctx, &task, query, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, dbError("get task", err)
	}

	return &task, nil
}

// ListTasks returns one user's tasks newest first, one past the page size
func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, error) {
	query := `
		SELECT task_id, user_id, model_id, cost, created_at
		FROM ml_tasks
		WHERE user_id = $1`
	args := []interface{}{filter.UserID}
	argIdx := 2

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, task_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, task_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	tasks := []*domain.Task{}
	if err := s.db.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, dbError("list tasks", err)
	}
	return tasks, nil
}

// GetCorrelation retrieves the correlation record of a token
func (s *PostgresStore) GetCorrelation(ctx context.Context, token string) (*domain.Correlation, error) {
	query := `
		SELECT token, job_kind, job_id, created_at
		FROM correlations
		WHERE token = $1
	`

	var c domain.Correlation
	if err := s.db.GetContext(ctx, &c, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCorrelationNotFound
		}
		return nil, dbError("get correlation", err)
	}

	return &c, nil
}

// GetPredictionByTask retrieves the prediction written for a task
func (s *PostgresStore) GetPredictionByTask(ctx context.Context, taskID int64) (*domain.Prediction, error) {
	query := `
		SELECT prediction_id, task_id, output, created_at
		FROM predictions
		WHERE task_id = $1
	`

	var p domain.Prediction
	if err := s.db.GetContext(ctx, &p, query, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPredictionNotFound
		}
		return nil, dbError("get prediction", err)
	}

	return &p, nil
}

// CreatePrediction inserts a prediction, keeping the existing row on redelivery
func (s *PostgresStore) CreatePrediction(ctx context.Context, p *domain.Prediction) (bool, error) {
	query := `
		INSERT INTO predictions (task_id, output)
		VALUES ($1, $2)
		ON CONFLICT (task_id) DO NOTHING
		RETURNING prediction_id, created_at
	`

	err := s.db.QueryRowxContext(ctx, query, p.TaskID, p.Output).Scan(&p.ID, &p.CreatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, dbError("create prediction", err)
	}

	existing, err := s.GetPredictionByTask(ctx, p.TaskID)
	if err != nil {
		return false, err
	}

	s.logger.Warn("Prediction already exists, keeping the stored one",
		slog.Int64("task_id", p.TaskID),
		slog.Int64("prediction_id", existing.ID),
	)

	*p = *existing
	return false, nil
}

// trainingJobRow mirrors training_jobs with nullable columns
type trainingJobRow struct {
	ID           int64          `db:"job_id"`
	UserID       int64          `db:"user_id"`
	ModelType    string         `db:"model_type"`
	DataPath     string         `db:"data_path"`
	Hyperparams  []byte         `db:"hyperparams"`
	Status       string         `db:"status"`
	Metrics      []byte         `db:"metrics"`
	ArtifactPath sql.NullString `db:"artifact_path"`
	ErrorMessage sql.NullString `db:"error_message"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

const trainingJobColumns = `
	job_id, user_id, model_type, data_path, hyperparams, status,
	metrics, artifact_path, error_message, created_at, updated_at
`

func (r *trainingJobRow) toDomain() (*domain.TrainingJob, error) {
	job := &domain.TrainingJob{
		ID:        r.ID,
		UserID:    r.UserID,
		ModelType: r.ModelType,
		DataPath:  r.DataPath,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	if len(r.Hyperparams) > 0 {
		if err := json.Unmarshal(r.Hyperparams, &job.Hyperparams); err != nil {
			return nil, fmt.Errorf("failed to decode hyperparams of job %d: %w", r.ID, err)
		}
	}

	if len(r.Metrics) > 0 {
		var metrics domain.Metrics
		if err := json.Unmarshal(r.Metrics, &metrics); err != nil {
			return nil, fmt.Errorf("failed to decode metrics of job %d: %w", r.ID, err)
		}
		job.Metrics = &metrics
	}

	if r.ArtifactPath.Valid {
		job.ArtifactPath = &r.ArtifactPath.String
	}
	if r.ErrorMessage.Valid {
		job.Error = &r.ErrorMessage.String
	}

	return job, nil
}

// GetTrainingJob retrieves a training job by its ID
func (s *PostgresStore) GetTrainingJob(ctx context.Context, jobID int64) (*domain.TrainingJob, error) {
	query := `SELECT ` + trainingJobColumns + ` FROM training_jobs WHERE job_id = $1`

	var row trainingJobRow
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, dbError("get training job", err)
	}

	return row.toDomain()
}

// ListTrainingJobs returns up to PageSize+1 jobs so the caller can tell whether more exist
func (s *PostgresStore) ListTrainingJobs(ctx context.Context, filter TrainingJobFilter) ([]*domain.TrainingJob, error) {
	query := `SELECT ` + trainingJobColumns + ` FROM training_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != 0 {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []trainingJobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, dbError("list training jobs", err)
	}

	jobs := make([]*domain.TrainingJob, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// TransitionTrainingJob moves a job from one status to the next with optimistic locking
func (s *PostgresStore) TransitionTrainingJob(ctx context.Context, jobID int64, from, to string, update TrainingUpdate) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	var metrics *string
	if update.Metrics != nil {
		data, err := json.Marshal(update.Metrics)
		if err != nil {
			return fmt.Errorf("failed to marshal metrics: %w", err)
		}
		encoded := string(data)
		metrics = &encoded
	}

	query := `
		UPDATE training_jobs
		SET status = $1,
		    metrics = COALESCE($2::jsonb, metrics),
		    artifact_path = COALESCE($3, artifact_path),
		    error_message = COALESCE($4, error_message),
		    updated_at = NOW()
		WHERE job_id = $5
		  AND status = $6
	`

	result, err := s.db.ExecContext(ctx, query, to, metrics, update.ArtifactPath, update.Error, jobID, from)
	if err != nil {
		return dbError("update training job status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dbError("get rows affected", err)
	}

	if rowsAffected == 0 {
		current, err := s.GetTrainingJob(ctx, jobID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: job %d is %s, expected %s", domain.ErrInvalidTransition, jobID, current.Status, from)
	}

	s.logger.Info("Training job status updated",
		slog.Int64("job_id", jobID),
		slog.String("from", from),
		slog.String("to", to),
	)

	return nil
}

// TouchTrainingJob updates updated_at of a job that has not finished
func (s *PostgresStore) TouchTrainingJob(ctx context.Context, jobID int64) error {
	query := `
		UPDATE training_jobs
		SET updated_at = NOW()
		WHERE job_id = $1
		  AND status NOT IN ($2, $3)
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.TrainingStatusCompleted, domain.TrainingStatusFailed)
	if err != nil {
		return dbError("touch training job", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dbError("get rows affected", err)
	}

	if rowsAffected == 0 {
		s.logger.Debug("Training job heartbeat - no rows affected (job may have finished)",
			slog.Int64("job_id", jobID),
		)
	}

	return nil
}

// RecordFailure records (or updates) the failure record of a job
func (s *PostgresStore) RecordFailure(ctx context.Context, f *domain.JobFailure) error {
	query := `
		INSERT INTO job_failures (job_kind, job_id, request_id, reason, attempts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_kind, job_id) DO UPDATE
		SET reason = EXCLUDED.reason,
		    attempts = EXCLUDED.attempts,
		    failed_at = NOW()
		RETURNING failure_id, failed_at
	`

	err := s.db.QueryRowxContext(ctx, query, f.Kind, f.JobID, f.RequestID, f.Reason, f.Attempts).Scan(&f.ID, &f.FailedAt)
	if err != nil {
		return dbError("record job failure", err)
	}

	return nil
}

// GetFailure retrieves the failure record of a job
func (s *PostgresStore) GetFailure(ctx context.Context, kind domain.JobKind, jobID int64) (*domain.JobFailure, error) {
	query := `
		SELECT failure_id, job_kind, job_id, request_id, reason, attempts, failed_at
		FROM job_failures
		WHERE job_kind = $1 AND job_id = $2
	`

	var f domain.JobFailure
	if err := s.db.GetContext(ctx, &f, query, kind, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrFailureNotFound
		}
		return nil, dbError("get job failure", err)
	}

	return &f, nil
}

// CreateModel registers a model artifact in the catalog
func (s *PostgresStore) CreateModel(ctx context.Context, m *domain.Model) error {
	query := `
		INSERT INTO ml_models (name, artifact_path)
		VALUES ($1, $2)
		RETURNING model_id, created_at
	`

	if err := s.db.QueryRowxContext(ctx, query, m.Name, m.ArtifactPath).Scan(&m.ID, &m.CreatedAt); err != nil {
		return dbError("create model", err)
	}
	return nil
}

// GetModel retrieves a catalog entry
func (s *PostgresStore) GetModel(ctx context.Context, modelID int64) (*domain.Model, error) {
	query := `
		SELECT model_id, name, artifact_path, created_at
		FROM ml_models
		WHERE model_id = $1
	`

	var m domain.Model
	if err := s.db.GetContext(ctx, &m, query, modelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrModelNotFound
		}
		return nil, dbError("get model", err)
	}
	return &m, nil
}

// UpsertUserFeatures replaces the feature row of a user
func (s *PostgresStore) UpsertUserFeatures(ctx context.Context, userID int64, features map[string]float64) error {
	data, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	query := `
		INSERT INTO user_features (user_id, features)
		VALUES ($1, $2::jsonb)
		ON CONFLICT (user_id) DO UPDATE
		SET features = EXCLUDED.features,
		    updated_at = NOW()
	`

	if _, err := s.db.ExecContext(ctx, query, userID, string(data)); err != nil {
		return dbError("upsert user features", err)
	}
	return nil
}

// GetUserFeatures retrieves the feature row of a user
func (s *PostgresStore) GetUserFeatures(ctx context.Context, userID int64) (map[string]float64, error) {
	var data []byte
	err := s.db.QueryRowxContext(ctx, `SELECT features FROM user_features WHERE user_id = $1`, userID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrFeaturesNotFound
		}
		return nil, dbError("get user features", err)
	}

	features := map[string]float64{}
	if err := json.Unmarshal(data, &features); err != nil {
		return nil, fmt.Errorf("failed to decode features of user %d: %w", userID, err)
	}
	return features, nil
}
