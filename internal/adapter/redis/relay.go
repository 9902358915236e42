package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pscheid92/crowdpulse/internal/adapter/metrics"
	"github.com/pscheid92/crowdpulse/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// EventsChannel carries every event. Room-scoped events are also published
// on RoomChannel(room).
const EventsChannel = "crowdpulse:events"

const publishTimeout = 2 * time.Second

func RoomChannel(room string) string {
	return EventsChannel + ":" + room
}

// PubSubClient is the part of go-redis the relay needs.
type PubSubClient interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
}

// EventRelay mirrors published events onto Redis pub/sub for consumers
// outside this process. Publish never blocks: when the queue is full the
// event is dropped and counted.
type EventRelay struct {
	client  PubSubClient
	metrics *metrics.RedisMetrics
	queue   chan domain.Event

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewEventRelay starts the relay worker. m may be nil.
func NewEventRelay(client PubSubClient, queueSize int, m *metrics.RedisMetrics) *EventRelay {
	r := &EventRelay{
		client:  client,
		metrics: m,
		queue:   make(chan domain.Event, queueSize),
	}
	r.wg.Go(r.run)
	return r
}

func (r *EventRelay) Publish(event domain.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- event:
	default:
		if r.metrics != nil {
			r.metrics.RelayDropped.Inc()
		}
		slog.Warn("Relay queue full, event dropped", "kind", event.Kind, "entity_id", event.EntityID)
	}
}

// Stop drains queued events. When ctx ends first the rest is abandoned.
func (r *EventRelay) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *EventRelay) run() {
	for event := range r.queue {
		r.relay(event)
	}
}

func (r *EventRelay) relay(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal relayed event", "kind", event.Kind, "error", err)
		r.fail()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	channels := []string{EventsChannel}
	if event.Room != "" {
		channels = append(channels, RoomChannel(event.Room))
	}
	for _, ch := range channels {
		if err := r.client.Publish(ctx, ch, data).Err(); err != nil {
			slog.Debug("Failed to relay event", "channel", ch, "kind", event.Kind, "error", err)
			r.fail()
			return
		}
	}
	if r.metrics != nil {
		r.metrics.Relayed.Inc()
	}
}

func (r *EventRelay) fail() {
	if r.metrics != nil {
		r.metrics.RelayFailures.Inc()
	}
}
