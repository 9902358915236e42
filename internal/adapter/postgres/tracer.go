package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pscheid92/crowdpulse/internal/adapter/metrics"
)

// MetricsTracer times every query, labelled by its leading SQL verb to keep
// cardinality bounded.
type MetricsTracer struct {
	metrics *metrics.DatabaseMetrics
}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

type queryContextKey struct{}

type queryContext struct {
	start time.Time
	name  string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryContextKey{}, queryContext{start: time.Now(), name: queryName(data.SQL)})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qctx, ok := ctx.Value(queryContextKey{}).(queryContext)
	if !ok {
		return
	}
	t.metrics.QueryDuration.WithLabelValues(qctx.name).Observe(time.Since(qctx.start).Seconds())
	if data.Err != nil {
		t.metrics.QueryErrors.WithLabelValues(qctx.name).Inc()
	}
}

func queryName(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	verb := strings.ToLower(fields[0])
	switch verb {
	case "select", "insert", "update", "delete", "begin", "commit", "rollback", "with":
		return verb
	default:
		return "other"
	}
}
