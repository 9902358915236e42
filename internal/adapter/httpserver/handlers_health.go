package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/crowdpulse/internal/domain"
	"github.com/pscheid92/crowdpulse/internal/platform/version"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named dependency probe: the ledger database, the relay
// Redis, the sweeper heartbeat.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type livenessResponse struct {
	Status   string          `json:"status"`
	Uptime   float64         `json:"uptime"`
	Presence domain.Presence `json:"presence"`
}

type readinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()
	return s.runHealthChecks(ctx, c)
}

// handleLiveness never touches dependencies; it reports the crowd this
// instance is serving.
func (s *Server) handleLiveness(c echo.Context) error {
	response := livenessResponse{
		Status:   "ok",
		Uptime:   time.Since(s.startTime).Seconds(),
		Presence: s.app.Presence(""),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()
	return s.runHealthChecks(ctx, c)
}

// runHealthChecks runs every check so one response names all failing dependencies.
func (s *Server) runHealthChecks(ctx context.Context, c echo.Context) error {
	response := readinessResponse{Status: "ready"}
	status := http.StatusOK

	if len(s.healthChecks) > 0 {
		response.Checks = make(map[string]string, len(s.healthChecks))
	}
	for _, hc := range s.healthChecks {
		if err := hc.Check(ctx); err != nil {
			slog.WarnContext(ctx, "Health check failed", "check", hc.Name, "error", err)
			response.Checks[hc.Name] = err.Error()
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		response.Checks[hc.Name] = "ok"
	}

	if err := c.JSON(status, response); err != nil {
		return fmt.Errorf("failed to write health response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
