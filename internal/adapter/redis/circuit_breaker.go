package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pscheid92/crowdpulse/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// Breaker tuning. Relay publishes are fire-and-forget, so once Redis looks
// sick the relay should shed events at once rather than stack goroutines on
// dead sockets: open at 60% failures over at least 5 calls in 10s, probe
// again after 30s, close on the first good call.
const (
	breakerFailureRatio = 0.6
	breakerMinCalls     = 5
	breakerWindow       = 10 * time.Second
	breakerCooldown     = 30 * time.Second
)

// CircuitBreakerHook is a go-redis hook that routes every dial, command and
// pipeline through one failsafe breaker.
type CircuitBreakerHook struct {
	cb circuitbreaker.CircuitBreaker[any]
}

var _ goredis.Hook = (*CircuitBreakerHook)(nil)

// NewCircuitBreakerHook builds the hook. m may be nil.
func NewCircuitBreakerHook(m *metrics.RedisMetrics) *CircuitBreakerHook {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(breakerFailureRatio, breakerMinCalls, breakerWindow).
		WithDelay(breakerCooldown).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Relay breaker changed state", "from", e.OldState.String(), "to", e.NewState.String())
			if m != nil {
				m.CircuitStateChanges.WithLabelValues(e.NewState.String()).Inc()
				m.CircuitState.Set(stateGaugeValue(e.NewState))
			}
		}).
		Build()
	return &CircuitBreakerHook{cb: cb}
}

func (h *CircuitBreakerHook) State() circuitbreaker.State {
	return h.cb.State()
}

// stateGaugeValue maps closed/half-open/open to 0/1/2.
func stateGaugeValue(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	}
	return -1
}

// guard runs call if the breaker admits it and records the result. A cache
// miss (goredis.Nil) is an answer, not a failure.
func (h *CircuitBreakerHook) guard(op string, call func() error) error {
	if !h.cb.TryAcquirePermit() {
		return fmt.Errorf("redis %s rejected: %w", op, circuitbreaker.ErrOpen)
	}
	err := call()
	if err != nil && !errors.Is(err, goredis.Nil) {
		h.cb.RecordError(err)
		return fmt.Errorf("redis %s: %w", op, err)
	}
	h.cb.RecordSuccess()
	return err
}

func (h *CircuitBreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		var conn net.Conn
		err := h.guard("dial", func() (err error) {
			conn, err = next(ctx, network, addr)
			return err
		})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

func (h *CircuitBreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		return h.guard(cmd.Name(), func() error { return next(ctx, cmd) })
	}
}

func (h *CircuitBreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		return h.guard("pipeline", func() error { return next(ctx, cmds) })
	}
}
