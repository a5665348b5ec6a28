package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 3 * time.Second

// StatsReporter is implemented by components that expose pool statistics
type StatsReporter interface {
	Stats() string
}

// HealthHandler reports the reachability of the backing services
type HealthHandler struct {
	logger  *slog.Logger
	service string
	checks  map[string]HealthChecker
}

// NewHealthHandler creates a HealthHandler
func NewHealthHandler(deps *Dependencies, service string) *HealthHandler {
	return &HealthHandler{
		logger:  deps.Logger,
		service: service,
		checks:  deps.HealthChecks,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(h.checks))
	details := make(map[string]string)
	for name, check := range h.checks {
		if reporter, ok := check.(StatsReporter); ok {
			details[name] = reporter.Stats()
		}
		if err := check.HealthCheck(ctx); err != nil {
			h.logger.Warn("Health check failed",
				slog.String("component", name),
				slog.String("error", err.Error()),
			)
			components[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "healthy"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}

	body := gin.H{
		"status":     overall,
		"service":    h.service,
		"components": components,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	c.JSON(status, body)
}
