package domain

// JobKind discriminates the job bodies carried through the queue
type JobKind string

const (
	JobKindInference JobKind = "inference"
	JobKindTraining  JobKind = "training"
)

// Training job status constants
const (
	TrainingStatusSubmitted     = "submitted"
	TrainingStatusLoadingData   = "loading_data"
	TrainingStatusPreprocessing = "preprocessing"
	TrainingStatusTraining      = "training"
	TrainingStatusCompleted     = "completed"
	TrainingStatusFailed        = "failed"
)

// Training model types
const (
	ModelTypePopular = "popular"
	ModelTypeALS     = "als"
)

// Hyperparameter keys understood by the training strategies
const (
	HyperparamIterations     = "iterations"
	HyperparamFactors        = "factors"
	HyperparamRegularization = "regularization"
	HyperparamAlpha          = "alpha"
	HyperparamSeed           = "seed"
)

// Queue message headers
const (
	HeaderRetryCount  = "x-retry-count"
	HeaderError       = "x-error"
	HeaderSourceQueue = "x-source-queue"
)
