package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/crowdpulse/internal/adapter/eventpublisher"
	"github.com/pscheid92/crowdpulse/internal/adapter/httpserver"
	"github.com/pscheid92/crowdpulse/internal/adapter/metrics"
	"github.com/pscheid92/crowdpulse/internal/adapter/postgres"
	"github.com/pscheid92/crowdpulse/internal/adapter/redis"
	"github.com/pscheid92/crowdpulse/internal/adapter/websocket"
	"github.com/pscheid92/crowdpulse/internal/app"
	"github.com/pscheid92/crowdpulse/internal/betting"
	"github.com/pscheid92/crowdpulse/internal/broadcast"
	"github.com/pscheid92/crowdpulse/internal/collective"
	"github.com/pscheid92/crowdpulse/internal/domain"
	"github.com/pscheid92/crowdpulse/internal/emotion"
	"github.com/pscheid92/crowdpulse/internal/platform/config"
	"github.com/pscheid92/crowdpulse/internal/platform/logging"
	"github.com/pscheid92/crowdpulse/internal/platform/version"
	"github.com/pscheid92/crowdpulse/internal/session"
	goredis "github.com/redis/go-redis/v9"
)

const memoryLedgerCapacity = 10_000

type appMetrics struct {
	registry  *prometheus.Registry
	http      *metrics.HTTPMetrics
	websocket *metrics.WebSocketMetrics
	emotion   *metrics.EmotionMetrics
	betting   *metrics.BettingMetrics
	vote      *metrics.VoteMetrics
	sweep     *metrics.SweepMetrics
	redis     *metrics.RedisMetrics
	database  *metrics.DatabaseMetrics
}

func setupMetrics() appMetrics {
	reg := metrics.NewRegistry(version.Get())
	return appMetrics{
		registry:  reg,
		http:      metrics.NewHTTPMetrics(reg),
		websocket: metrics.NewWebSocketMetrics(reg),
		emotion:   metrics.NewEmotionMetrics(reg),
		betting:   metrics.NewBettingMetrics(reg),
		vote:      metrics.NewVoteMetrics(reg),
		sweep:     metrics.NewSweepMetrics(reg),
		redis:     metrics.NewRedisMetrics(reg),
		database:  metrics.NewDatabaseMetrics(reg),
	}
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config, m *metrics.DatabaseMetrics) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.Options{
		MaxConns: cfg.DatabaseMaxConns,
		Metrics:  m,
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config, m *metrics.RedisMetrics) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL, m)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

type ledgerStore interface {
	domain.Ledger
	domain.SettlementReader
}

type shutdownDeps struct {
	timeout     time.Duration
	srv         *httpserver.Server
	stopSweeper context.CancelFunc
	sweeperDone <-chan struct{}
	broadcaster *broadcast.Broadcaster
	relay       *redis.EventRelay
	ledger      *app.LedgerWriter
}

func runGracefulShutdown(deps shutdownDeps) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		ctx, cancel := context.WithTimeout(context.Background(), deps.timeout)
		defer cancel()

		if err := deps.srv.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		deps.stopSweeper()
		<-deps.sweeperDone

		deps.broadcaster.Stop("server shutting down")

		if deps.relay != nil {
			if err := deps.relay.Stop(ctx); err != nil {
				slog.Error("Event relay did not drain", "error", err)
			}
		}
		if err := deps.ledger.Close(ctx); err != nil {
			slog.Error("Ledger writer did not drain", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat, logging.InstanceAttrs("crowdpulse", version.Version)...)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Version)

	emotionTypes, err := emotion.ParseTypes(cfg.EmotionTypeList())
	if err != nil {
		slog.Error("Invalid EMOTION_TYPES", "error", err)
		os.Exit(1)
	}

	m := setupMetrics()
	var healthChecks []httpserver.HealthCheck

	var store ledgerStore = app.NewMemoryLedger(memoryLedgerCapacity)
	if cfg.DatabaseURL != "" {
		pool := setupDB(cfg, m.database)
		defer pool.Close()
		store = postgres.NewLedgerRepo(pool)
		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "postgres", Check: pool.Ping})
	} else {
		slog.Warn("DATABASE_URL not set, settlements are kept in memory only")
	}

	broadcaster := broadcast.NewBroadcaster(m.websocket)

	var relay *redis.EventRelay
	publisher := eventpublisher.New(broadcaster)
	if cfg.RedisURL != "" {
		redisClient := setupRedis(cfg, m.redis)
		defer func() { _ = redisClient.Close() }()
		relay = redis.NewEventRelay(redisClient, cfg.RelayQueueSize, m.redis)
		publisher = eventpublisher.New(broadcaster, relay)
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	ledger := app.NewLedgerWriter(store, cfg.LedgerQueueSize, m.betting, m.vote)

	aggregator := emotion.NewAggregator(emotionTypes, cfg.EmotionDecayWindow, publisher)
	pools := betting.NewManager(betting.Config{
		ResolutionGrace: cfg.PoolResolutionGrace,
		Retention:       cfg.EntityRetention,
	}, publisher, ledger.RecordSettlement)
	proposals := collective.NewManager(collective.Policy{
		Quorum:         cfg.ProposalQuorum,
		EarlyThreshold: cfg.ProposalEarlyThreshold,
		Retention:      cfg.EntityRetention,
	}, publisher, ledger.RecordProposalOutcome)

	verifier := session.NewJWTVerifier(cfg.IdentitySecret, clock)

	appSvc := app.NewService(app.Deps{
		Emotions:           aggregator,
		Pools:              pools,
		Proposals:          proposals,
		Sessions:           session.NewRegistry(clock),
		Hub:                broadcaster,
		Publisher:          publisher,
		Clock:              clock,
		Settlements:        store,
		ForgetOnDisconnect: cfg.EmotionForgetOnDisconnect,
		EmotionMetrics:     m.emotion,
		BettingMetrics:     m.betting,
		VoteMetrics:        m.vote,
	})

	sweeper := app.NewSweeper(clock, m.sweep, appSvc.SweepTasks(cfg.EmotionSweepInterval, cfg.LifecycleSweepInterval)...)
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper.Run(sweepCtx)
	}()

	healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "sweeper", Check: sweeper.Check})

	limits := websocket.NewConnectionLimits(clock, int64(cfg.MaxConnections), cfg.MaxConnectionsPerIP, cfg.ConnectRate, cfg.ConnectBurst)
	wsHandler := websocket.NewHandler(websocket.HandlerConfig{
		CheckOrigin: websocket.NewCheckOrigin(websocket.OriginPolicy{
			AppURL:     cfg.AppURL,
			Extra:      cfg.AllowedOriginList(),
			AllowLocal: cfg.IsDevelopment(),
		}),
		QueueSize:   cfg.ConnectionQueueSize,
		IdleTimeout: cfg.SessionIdleTimeout,
	}, verifier, appSvc, limits, clock, m.websocket)

	srv := httpserver.NewServer(cfg, appSvc, verifier, wsHandler.Serve, metrics.Handler(m.registry), m.http, healthChecks)

	done := runGracefulShutdown(shutdownDeps{
		timeout:     cfg.ShutdownTimeout,
		srv:         srv,
		stopSweeper: stopSweeper,
		sweeperDone: sweeperDone,
		broadcaster: broadcaster,
		relay:       relay,
		ledger:      ledger,
	})

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
