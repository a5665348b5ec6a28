package domain

// trainingPhases is the success path, in order
var trainingPhases = []string{
	TrainingStatusSubmitted,
	TrainingStatusLoadingData,
	TrainingStatusPreprocessing,
	TrainingStatusTraining,
	TrainingStatusCompleted,
}

// NextTrainingStatus returns the status that follows status on the success path
func NextTrainingStatus(status string) (string, bool) {
	for i, phase := range trainingPhases[:len(trainingPhases)-1] {
		if phase == status {
			return trainingPhases[i+1], true
		}
	}
	return "", false
}

// IsTerminalTrainingStatus reports whether no further transition is allowed
func IsTerminalTrainingStatus(status string) bool {
	return status == TrainingStatusCompleted || status == TrainingStatusFailed
}

// IsValidTrainingStatus reports whether status belongs to the closed status set
func IsValidTrainingStatus(status string) bool {
	if status == TrainingStatusFailed {
		return true
	}
	for _, phase := range trainingPhases {
		if phase == status {
			return true
		}
	}
	return false
}

// CanTransition reports whether a training job may move from one status to another.
// Failure is reachable from every non-terminal status; otherwise only the next phase is.
func CanTransition(from, to string) bool {
	if IsTerminalTrainingStatus(from) || !IsValidTrainingStatus(from) {
		return false
	}
	if to == TrainingStatusFailed {
		return true
	}
	next, ok := NextTrainingStatus(from)
	return ok && next == to
}
