package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/crowdpulse/internal/adapter/metrics"
	"github.com/pscheid92/crowdpulse/internal/app"
	"github.com/pscheid92/crowdpulse/internal/domain"
	"github.com/pscheid92/crowdpulse/internal/platform/config"
)

type appService interface {
	Snapshot(ctx context.Context, room string) domain.Snapshot
	Presence(room string) domain.Presence
	Emotions() domain.EmotionAggregate
	ActivateEmotion(ctx context.Context, identity domain.Identity, emotionType string) (domain.EmotionAggregate, error)

	CreatePool(ctx context.Context, identity domain.Identity, args app.CreatePoolArgs) (domain.Pool, error)
	PlaceStake(ctx context.Context, identity domain.Identity, args app.StakeArgs) (domain.PoolTotals, error)
	ClosePool(ctx context.Context, identity domain.Identity, args app.ResolveArgs) (domain.PoolOutcome, error)
	ResolvePool(ctx context.Context, identity domain.Identity, args app.ResolveArgs) (domain.PoolOutcome, error)
	Pool(poolID string) (domain.Pool, error)
	Pools(room string) []domain.Pool
	Settlement(ctx context.Context, poolID string) (*domain.Settlement, error)

	Propose(ctx context.Context, identity domain.Identity, args app.ProposeArgs) (domain.Proposal, error)
	Vote(ctx context.Context, identity domain.Identity, args app.VoteArgs) (domain.Proposal, error)
	Proposal(proposalID string) (domain.Proposal, error)
	Proposals(room string) []domain.Proposal
}

type tokenVerifier interface {
	Verify(raw string) (domain.Identity, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app      appService
	verifier tokenVerifier

	websocketHandler echo.HandlerFunc
	metricsHandler   http.Handler
	httpMetrics      *metrics.HTTPMetrics

	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer wires routes. metricsHandler and httpMetrics may be nil.
func NewServer(cfg *config.Config, app appService, verifier tokenVerifier, websocketHandler echo.HandlerFunc, metricsHandler http.Handler, httpMetrics *metrics.HTTPMetrics, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:             e,
		config:           cfg,
		app:              app,
		verifier:         verifier,
		websocketHandler: websocketHandler,
		metricsHandler:   metricsHandler,
		httpMetrics:      httpMetrics,
		healthChecks:     healthChecks,
		startTime:        time.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP exposes the router, mainly for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
