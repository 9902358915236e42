package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/crowdpulse/internal/app"
	"github.com/pscheid92/crowdpulse/internal/betting"
	"github.com/pscheid92/crowdpulse/internal/broadcast"
	"github.com/pscheid92/crowdpulse/internal/collective"
	"github.com/pscheid92/crowdpulse/internal/domain"
	"github.com/pscheid92/crowdpulse/internal/emotion"
	"github.com/pscheid92/crowdpulse/internal/platform/config"
	"github.com/pscheid92/crowdpulse/internal/session"
	"github.com/stretchr/testify/require"
)

// stubVerifier accepts the user id itself as token; "admin" is an administrator.
type stubVerifier struct{}

func (stubVerifier) Verify(raw string) (domain.Identity, error) {
	if raw == "bad" {
		return domain.Identity{}, domain.ErrInvalidToken
	}
	return domain.Identity{UserID: raw, Admin: raw == "admin"}, nil
}

type testEnv struct {
	srv   *Server
	clock *clockwork.FakeClock
}

func newTestServer(t *testing.T, opts ...func(*Server)) *testEnv {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC))
	hub := broadcast.NewBroadcaster(nil)
	ledger := app.NewMemoryLedger(16)
	writer := app.NewLedgerWriter(ledger, 16, nil, nil)
	t.Cleanup(func() { _ = writer.Close(context.Background()) })

	svc := app.NewService(app.Deps{
		Emotions:    emotion.NewAggregator(emotion.DefaultTypes, 5*time.Second, hub),
		Pools:       betting.NewManager(betting.Config{Retention: time.Hour}, hub, writer.RecordSettlement),
		Proposals:   collective.NewManager(collective.Policy{Retention: time.Hour}, hub, writer.RecordProposalOutcome),
		Sessions:    session.NewRegistry(clock),
		Hub:         hub,
		Publisher:   hub,
		Clock:       clock,
		Settlements: ledger,
	})

	srv := &Server{
		echo:      echo.New(),
		config:    &config.Config{Port: "0", APIRateLimit: 1000, APIRateBurst: 1000},
		app:       svc,
		verifier:  stubVerifier{},
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.registerRoutes()

	return &testEnv{srv: srv, clock: clock}
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

func withRateLimit(perSecond float64, burst int) func(*Server) {
	return func(s *Server) {
		s.config.APIRateLimit = perSecond
		s.config.APIRateBurst = burst
	}
}

// do sends a request through the full middleware stack.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// callHandler wraps a handler with error middleware, matching production behavior.
func callHandler(handler echo.HandlerFunc, c echo.Context) error {
	return ErrorHandlingMiddleware()(handler)(c)
}
