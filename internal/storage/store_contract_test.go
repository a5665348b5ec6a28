package storage

import (
	"context"
	"testing"
	"time"

	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises behavior every Store implementation must share
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("committed submission is visible", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		model := createModel(t, store)

		tx, err := store.Begin(ctx)
		require.NoError(t, err)

		task := &domain.Task{UserID: 7, ModelID: model.ID, Cost: 20}
		require.NoError(t, tx.CreateTask(ctx, task))
		require.NotZero(t, task.ID)

		corr := &domain.Correlation{Token: "tok-commit", Kind: domain.JobKindInference, JobID: task.ID}
		require.NoError(t, tx.CreateCorrelation(ctx, corr))
		require.NoError(t, tx.Commit())

		got, err := store.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.UserID)
		assert.Equal(t, model.ID, got.ModelID)

		gotCorr, err := store.GetCorrelation(ctx, "tok-commit")
		require.NoError(t, err)
		assert.Equal(t, domain.JobKindInference, gotCorr.Kind)
		assert.Equal(t, task.ID, gotCorr.JobID)
	})

	t.Run("rolled back submission leaves nothing", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		model := createModel(t, store)

		tx, err := store.Begin(ctx)
		require.NoError(t, err)

		task := &domain.Task{UserID: 7, ModelID: model.ID, Cost: 20}
		require.NoError(t, tx.CreateTask(ctx, task))
		require.NoError(t, tx.CreateCorrelation(ctx, &domain.Correlation{
			Token: "tok-rollback", Kind: domain.JobKindInference, JobID: task.ID,
		}))
		require.NoError(t, tx.Rollback())

		_, err = store.GetTask(ctx, task.ID)
		assert.ErrorIs(t, err, domain.ErrTaskNotFound)
		_, err = store.GetCorrelation(ctx, "tok-rollback")
		assert.ErrorIs(t, err, domain.ErrCorrelationNotFound)
	})

	t.Run("task for unknown model is rejected", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback()

		err = tx.CreateTask(ctx, &domain.Task{UserID: 1, ModelID: 999999, Cost: 20})
		assert.ErrorIs(t, err, domain.ErrModelNotFound)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("second prediction for a task keeps the first", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		task := createTask(t, store)

		first := &domain.Prediction{TaskID: task.ID, Output: strPtr("0.75")}
		created, err := store.CreatePrediction(ctx, first)
		require.NoError(t, err)
		assert.True(t, created)

		second := &domain.Prediction{TaskID: task.ID, Output: strPtr("0.10")}
		created, err = store.CreatePrediction(ctx, second)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		require.NotNil(t, second.Output)
		assert.Equal(t, "0.75", *second.Output)

		got, err := store.GetPredictionByTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, "0.75", *got.Output)
	})

	t.Run("missing rows report not found", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		_, err := store.GetTask(ctx, 424242)
		assert.ErrorIs(t, err, domain.ErrTaskNotFound)
		_, err = store.GetPredictionByTask(ctx, 424242)
		assert.ErrorIs(t, err, domain.ErrPredictionNotFound)
		_, err = store.GetTrainingJob(ctx, 424242)
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
		_, err = store.GetCorrelation(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrCorrelationNotFound)
		_, err = store.GetFailure(ctx, domain.JobKindInference, 424242)
		assert.ErrorIs(t, err, domain.ErrFailureNotFound)
		_, err = store.GetModel(ctx, 424242)
		assert.ErrorIs(t, err, domain.ErrModelNotFound)
		_, err = store.GetUserFeatures(ctx, 424242)
		assert.ErrorIs(t, err, domain.ErrFeaturesNotFound)
	})

	t.Run("training job walks the success path", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		job := createTrainingJob(t, store, 3)

		got, err := store.GetTrainingJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TrainingStatusSubmitted, got.Status)
		assert.Equal(t, float64(5), got.Hyperparams[domain.HyperparamIterations])

		steps := []string{
			domain.TrainingStatusLoadingData,
			domain.TrainingStatusPreprocessing,
			domain.TrainingStatusTraining,
		}
		from := domain.TrainingStatusSubmitted
		for _, to := range steps {
			require.NoError(t, store.TransitionTrainingJob(ctx, job.ID, from, to, TrainingUpdate{}))
			from = to
		}

		metrics := &domain.Metrics{K: 40, RecallAtK: 0.5, PrecisionAtK: 0.25, F1AtK: 1.0 / 3, EvalUsers: 2}
		path := "models/als_model_1_20240101_000000.json"
		require.NoError(t, store.TransitionTrainingJob(ctx, job.ID, from, domain.TrainingStatusCompleted, TrainingUpdate{
			Metrics:      metrics,
			ArtifactPath: &path,
		}))

		got, err = store.GetTrainingJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TrainingStatusCompleted, got.Status)
		require.NotNil(t, got.Metrics)
		assert.InDelta(t, 0.5, got.Metrics.RecallAtK, 1e-9)
		assert.Equal(t, 40, got.Metrics.K)
		require.NotNil(t, got.ArtifactPath)
		assert.Equal(t, path, *got.ArtifactPath)
		assert.Nil(t, got.Error)
	})

	t.Run("transition rejects stale and illegal moves", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		job := createTrainingJob(t, store, 3)

		err := store.TransitionTrainingJob(ctx, job.ID, domain.TrainingStatusSubmitted, domain.TrainingStatusTraining, TrainingUpdate{})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		require.NoError(t, store.TransitionTrainingJob(ctx, job.ID,
			domain.TrainingStatusSubmitted, domain.TrainingStatusLoadingData, TrainingUpdate{}))

		err = store.TransitionTrainingJob(ctx, job.ID, domain.TrainingStatusSubmitted, domain.TrainingStatusLoadingData, TrainingUpdate{})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		msg := "data path not found"
		require.NoError(t, store.TransitionTrainingJob(ctx, job.ID,
			domain.TrainingStatusLoadingData, domain.TrainingStatusFailed, TrainingUpdate{Error: &msg}))

		err = store.TransitionTrainingJob(ctx, job.ID, domain.TrainingStatusFailed, domain.TrainingStatusCompleted, TrainingUpdate{})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		got, err := store.GetTrainingJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TrainingStatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, msg, *got.Error)

		err = store.TransitionTrainingJob(ctx, 424242, domain.TrainingStatusSubmitted, domain.TrainingStatusLoadingData, TrainingUpdate{})
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})

	t.Run("touch refreshes only running jobs", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		running := createTrainingJob(t, store, 3)
		finished := createTrainingJob(t, store, 3)

		require.NoError(t, store.TransitionTrainingJob(ctx, running.ID,
			domain.TrainingStatusSubmitted, domain.TrainingStatusLoadingData, TrainingUpdate{}))
		require.NoError(t, store.TransitionTrainingJob(ctx, finished.ID,
			domain.TrainingStatusSubmitted, domain.TrainingStatusFailed, TrainingUpdate{}))

		before, err := store.GetTrainingJob(ctx, running.ID)
		require.NoError(t, err)
		done, err := store.GetTrainingJob(ctx, finished.ID)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, store.TouchTrainingJob(ctx, running.ID))
		require.NoError(t, store.TouchTrainingJob(ctx, finished.ID))
		require.NoError(t, store.TouchTrainingJob(ctx, 424242))

		after, err := store.GetTrainingJob(ctx, running.ID)
		require.NoError(t, err)
		assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
		assert.Equal(t, domain.TrainingStatusLoadingData, after.Status)

		stillDone, err := store.GetTrainingJob(ctx, finished.ID)
		require.NoError(t, err)
		assert.True(t, stillDone.UpdatedAt.Equal(done.UpdatedAt))
	})

	t.Run("list training jobs pages newest first", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		var ids []int64
		for i := 0; i < 5; i++ {
			ids = append(ids, createTrainingJob(t, store, 11).ID)
		}
		createTrainingJob(t, store, 12)

		page, err := store.ListTrainingJobs(ctx, TrainingJobFilter{UserID: 11, PageSize: 2})
		require.NoError(t, err)
		require.Len(t, page, 3)
		assert.Equal(t, ids[4], page[0].ID)
		assert.Equal(t, ids[3], page[1].ID)

		last := page[1]
		page, err = store.ListTrainingJobs(ctx, TrainingJobFilter{
			UserID:   11,
			PageSize: 2,
			Cursor:   &JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID},
		})
		require.NoError(t, err)
		require.Len(t, page, 3)
		assert.Equal(t, ids[2], page[0].ID)
		assert.Equal(t, ids[1], page[1].ID)

		page, err = store.ListTrainingJobs(ctx, TrainingJobFilter{Status: domain.TrainingStatusCompleted, PageSize: 10})
		require.NoError(t, err)
		assert.Empty(t, page)
	})

	t.Run("list tasks pages one user newest first", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		model := createModel(t, store)

		submit := func(userID int64) int64 {
			tx, err := store.Begin(ctx)
			require.NoError(t, err)
			task := &domain.Task{UserID: userID, ModelID: model.ID, Cost: 20}
			require.NoError(t, tx.CreateTask(ctx, task))
			require.NoError(t, tx.Commit())
			return task.ID
		}

		var ids []int64
		for i := 0; i < 3; i++ {
			ids = append(ids, submit(21))
		}
		submit(22)

		page, err := store.ListTasks(ctx, TaskFilter{UserID: 21, PageSize: 2})
		require.NoError(t, err)
		require.Len(t, page, 3)
		assert.Equal(t, ids[2], page[0].ID)
		assert.Equal(t, ids[1], page[1].ID)
		assert.Equal(t, model.ID, page[0].ModelID)

		last := page[1]
		page, err = store.ListTasks(ctx, TaskFilter{
			UserID:   21,
			PageSize: 2,
			Cursor:   &JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID},
		})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, ids[0], page[0].ID)

		page, err = store.ListTasks(ctx, TaskFilter{UserID: 99, PageSize: 10})
		require.NoError(t, err)
		assert.Empty(t, page)
	})

	t.Run("failure record is upserted per job", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		first := &domain.JobFailure{Kind: domain.JobKindInference, JobID: 9, RequestID: "tok-9", Reason: "model not found", Attempts: 1}
		require.NoError(t, store.RecordFailure(ctx, first))
		require.NotZero(t, first.ID)

		second := &domain.JobFailure{Kind: domain.JobKindInference, JobID: 9, RequestID: "tok-9", Reason: "features not found", Attempts: 2}
		require.NoError(t, store.RecordFailure(ctx, second))
		assert.Equal(t, first.ID, second.ID)

		got, err := store.GetFailure(ctx, domain.JobKindInference, 9)
		require.NoError(t, err)
		assert.Equal(t, "features not found", got.Reason)
		assert.Equal(t, 2, got.Attempts)
		assert.Equal(t, "tok-9", got.RequestID)

		_, err = store.GetFailure(ctx, domain.JobKindTraining, 9)
		assert.ErrorIs(t, err, domain.ErrFailureNotFound)
	})

	t.Run("user features round trip", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.UpsertUserFeatures(ctx, 5, map[string]float64{"age": 31, "visits": 4}))
		require.NoError(t, store.UpsertUserFeatures(ctx, 5, map[string]float64{"age": 32}))

		got, err := store.GetUserFeatures(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"age": 32}, got)
	})
}

func createModel(t *testing.T, store Store) *domain.Model {
	t.Helper()

	model := &domain.Model{Name: "churn", ArtifactPath: "models/churn.json"}
	require.NoError(t, store.CreateModel(context.Background(), model))
	require.NotZero(t, model.ID)
	return model
}

func createTask(t *testing.T, store Store) *domain.Task {
	t.Helper()
	ctx := context.Background()
	model := createModel(t, store)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	task := &domain.Task{UserID: 1, ModelID: model.ID, Cost: 20}
	require.NoError(t, tx.CreateTask(ctx, task))
	require.NoError(t, tx.Commit())
	return task
}

func createTrainingJob(t *testing.T, store Store, userID int64) *domain.TrainingJob {
	t.Helper()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	job := &domain.TrainingJob{
		UserID:      userID,
		ModelType:   domain.ModelTypeALS,
		DataPath:    "datasets/sample",
		Hyperparams: map[string]any{domain.HyperparamIterations: float64(5)},
	}
	require.NoError(t, tx.CreateTrainingJob(ctx, job))
	require.NoError(t, tx.Commit())
	return job
}

func strPtr(s string) *string {
	return &s
}
