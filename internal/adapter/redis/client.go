package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/pscheid92/crowdpulse/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// NewClient connects to redisURL behind a circuit breaker and verifies the
// connection. m may be nil.
func NewClient(ctx context.Context, redisURL string, m *metrics.RedisMetrics) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := goredis.NewClient(opts)
	client.AddHook(NewCircuitBreakerHook(m))

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
