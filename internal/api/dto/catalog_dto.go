package dto

type CreateModelRequest struct {
	Name         string `json:"name" binding:"required"`
	ArtifactPath string `json:"artifact_path" binding:"required"`
}

type CreateModelResponse struct {
	ModelID int64 `json:"model_id"`
}

// UserFeaturesRequest replaces the whole feature row of a user
type UserFeaturesRequest struct {
	Features map[string]float64 `json:"features" binding:"required"`
}
