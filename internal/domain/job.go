package domain

import "time"

// Task is an inference job
type Task struct {
	ID        int64     `db:"task_id" json:"task_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	ModelID   int64     `db:"model_id" json:"model_id"`
	Cost      float64   `db:"cost" json:"cost"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Prediction is the result of executing a Task
type Prediction struct {
	ID        int64     `db:"prediction_id" json:"prediction_id"`
	TaskID    int64     `db:"task_id" json:"task_id"`
	Output    *string   `db:"output" json:"output,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Correlation maps an opaque request token to exactly one job
type Correlation struct {
	Token     string    `db:"token" json:"request_id"`
	Kind      JobKind   `db:"job_kind" json:"job_kind"`
	JobID     int64     `db:"job_id" json:"job_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Metrics holds ranking quality at a fixed cutoff
type Metrics struct {
	K            int     `json:"k"`
	RecallAtK    float64 `json:"recall_at_k"`
	PrecisionAtK float64 `json:"precision_at_k"`
	F1AtK        float64 `json:"f1_at_k"`
	EvalUsers    int     `json:"eval_users"`
}

// TrainingJob is a long running job with an evolving status
type TrainingJob struct {
	ID           int64
	UserID       int64
	ModelType    string
	DataPath     string
	Hyperparams  map[string]any
	Status       string
	Metrics      *Metrics
	ArtifactPath *string
	Error        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// JobFailure records a job that could not be executed
type JobFailure struct {
	ID        int64     `db:"failure_id"`
	Kind      JobKind   `db:"job_kind"`
	JobID     int64     `db:"job_id"`
	RequestID string    `db:"request_id"`
	Reason    string    `db:"reason"`
	Attempts  int       `db:"attempts"`
	FailedAt  time.Time `db:"failed_at"`
}

// Model is a catalog entry for an inference model artifact
type Model struct {
	ID           int64     `db:"model_id"`
	Name         string    `db:"name"`
	ArtifactPath string    `db:"artifact_path"`
	CreatedAt    time.Time `db:"created_at"`
}
