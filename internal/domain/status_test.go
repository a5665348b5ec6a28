package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{name: "submitted to loading_data", from: TrainingStatusSubmitted, to: TrainingStatusLoadingData, want: true},
		{name: "loading_data to preprocessing", from: TrainingStatusLoadingData, to: TrainingStatusPreprocessing, want: true},
		{name: "preprocessing to training", from: TrainingStatusPreprocessing, to: TrainingStatusTraining, want: true},
		{name: "training to completed", from: TrainingStatusTraining, to: TrainingStatusCompleted, want: true},
		{name: "skip a phase", from: TrainingStatusSubmitted, to: TrainingStatusPreprocessing, want: false},
		{name: "repeat a phase", from: TrainingStatusTraining, to: TrainingStatusTraining, want: false},
		{name: "go backwards", from: TrainingStatusTraining, to: TrainingStatusLoadingData, want: false},
		{name: "fail from submitted", from: TrainingStatusSubmitted, to: TrainingStatusFailed, want: true},
		{name: "fail from training", from: TrainingStatusTraining, to: TrainingStatusFailed, want: true},
		{name: "fail after completed", from: TrainingStatusCompleted, to: TrainingStatusFailed, want: false},
		{name: "leave failed", from: TrainingStatusFailed, to: TrainingStatusSubmitted, want: false},
		{name: "unknown source status", from: "paused", to: TrainingStatusFailed, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestNextTrainingStatus(t *testing.T) {
	status := TrainingStatusSubmitted
	var observed []string
	for {
		next, ok := NextTrainingStatus(status)
		if !ok {
			break
		}
		observed = append(observed, next)
		status = next
	}

	assert.Equal(t, []string{
		TrainingStatusLoadingData,
		TrainingStatusPreprocessing,
		TrainingStatusTraining,
		TrainingStatusCompleted,
	}, observed)

	_, ok := NextTrainingStatus(TrainingStatusFailed)
	assert.False(t, ok)
}
