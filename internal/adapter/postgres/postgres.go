package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/tern/v2/migrate"
	"github.com/pscheid92/crowdpulse/internal/adapter/metrics"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const defaultApplicationName = "crowdpulse-ledger"

// Options shapes the ledger pool. The ledger has one writer draining the
// settlement queue plus occasional settlement lookups, so it needs few conns.
type Options struct {
	MaxConns        int32
	ApplicationName string
	Metrics         *metrics.DatabaseMetrics
}

// Connect opens the ledger pool and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string, opts Options) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}
	appName := opts.ApplicationName
	if appName == "" {
		appName = defaultApplicationName
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = appName
	if opts.Metrics != nil {
		poolCfg.ConnConfig.Tracer = &MetricsTracer{metrics: opts.Metrics}
	}

	target := describeTarget(databaseURL)
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach ledger database %s: %w", target.host, err)
	}

	slog.Info("Ledger database connected",
		"host", target.host, "database", target.database, "sslmode", target.sslMode,
		"max_conns", poolCfg.MaxConns, "application_name", appName)
	return pool, nil
}

type dbTarget struct {
	host     string
	database string
	sslMode  string
}

// describeTarget extracts the loggable parts of a connection URL; credentials
// never leave this function.
func describeTarget(databaseURL string) dbTarget {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return dbTarget{host: "unknown", database: "unknown", sslMode: "unknown"}
	}
	t := dbTarget{
		host:     u.Host,
		database: strings.TrimPrefix(u.Path, "/"),
		sslMode:  strings.ToLower(u.Query().Get("sslmode")),
	}
	if t.sslMode == "" {
		t.sslMode = "prefer"
	}
	return t
}

const (
	// migrationLockID is "crowdp" in ASCII hex; replicas starting together
	// apply the ledger schema one at a time.
	migrationLockID             = 0x63726f776470
	migrationLockReleaseTimeout = 5 * time.Second
)

// RunMigrationsWithLock brings the ledger schema up to date under a
// session-level advisory lock.
func RunMigrationsWithLock(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migration: %w", err)
	}
	defer conn.Release()

	return withAdvisoryLock(ctx, conn.Conn(), migrationLockID, func() error {
		return migrateLedger(ctx, conn.Conn())
	})
}

func migrateLedger(ctx context.Context, conn *pgx.Conn) error {
	sqlFiles, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	migrator, err := migrate.NewMigrator(ctx, conn, "public.schema_version")
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := migrator.LoadMigrations(sqlFiles); err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	from, err := migrator.GetCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	target := int32(len(migrator.Migrations))
	if from == target {
		slog.Debug("Ledger schema up to date", "version", from)
		return nil
	}

	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate ledger schema from %d to %d: %w", from, target, err)
	}
	slog.Info("Ledger schema migrated", "from", from, "to", target)
	return nil
}

func withAdvisoryLock(ctx context.Context, conn *pgx.Conn, key int64, fn func() error) error {
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		return fmt.Errorf("failed to acquire advisory lock %#x: %w", key, err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), migrationLockReleaseTimeout)
		defer cancel()
		if _, err := conn.Exec(releaseCtx, "SELECT pg_advisory_unlock($1)", key); err != nil {
			slog.Error("Failed to release advisory lock", "key", key, "error", err)
		}
	}()
	return fn()
}
