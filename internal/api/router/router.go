package router

import (
	"github.com/Alexander76Kuznetsov/mfdp/internal/api/handler"
	"github.com/gin-gonic/gin"
)

const serviceName = "mfdp-api-service"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", handler.NewHealthHandler(deps, serviceName).Health)

	jobHandler := handler.NewJobHandler(deps)
	catalogHandler := handler.NewCatalogHandler(deps)

	v1 := r.Group("/api/v1")
	{
		predictions := v1.Group("/predictions")
		{
			predictions.POST("", jobHandler.SubmitPrediction)
			predictions.GET("", jobHandler.ListPredictions)
			predictions.GET("/:request_id", jobHandler.GetResult)
		}

		training := v1.Group("/training")
		{
			training.POST("", jobHandler.SubmitTraining)
			training.GET("", jobHandler.ListTraining)
			training.GET("/:job_id", jobHandler.GetTraining)
		}

		v1.POST("/models", catalogHandler.CreateModel)
		v1.PUT("/users/:user_id/features", catalogHandler.PutUserFeatures)

		// results resolves a token of any job kind
		v1.GET("/results/:request_id", jobHandler.GetResult)
	}

	return r
}
