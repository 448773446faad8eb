package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// HealthController handles health check endpoints
type HealthController struct {
	checks  map[string]HealthCheck
	timeout time.Duration
}

// NewHealthController creates a new HealthController instance
func NewHealthController(checks map[string]HealthCheck) *HealthController {
	return &HealthController{checks: checks, timeout: 3 * time.Second}
}

// GetName returns the name of this controller for logging
func (c *HealthController) GetName() string {
	return "HealthController"
}

func (c *HealthController) RegisterRoutes(g *echo.Group) {
	g.GET("/health", c.HealthCheck)
}

// HealthCheck handles GET /health requests to check server health
func (c *HealthController) HealthCheck(ctx echo.Context) error {
	if len(c.checks) == 0 {
		return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}

	checkCtx, cancel := context.WithTimeout(ctx.Request().Context(), c.timeout)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(c.checks))
	for name, check := range c.checks {
		if err := check(checkCtx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	return ctx.JSON(status, map[string]any{
		"status": overall,
		"checks": results,
	})
}
