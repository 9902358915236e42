package broadcast

import (
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pscheid92/crowdpulse/internal/adapter/metrics"
	"github.com/pscheid92/crowdpulse/internal/domain"
)

// ErrStopped is returned by Attach after Stop.
var ErrStopped = errors.New("broadcaster stopped")

// Outbound is one spectator's bounded delivery queue.
type Outbound interface {
	// Enqueue offers data without blocking and reports whether it was accepted.
	Enqueue(data []byte) bool
	// Close shuts the queue down, telling the peer why.
	Close(reason string)
}

type subscriber struct {
	room string
	out  Outbound
}

type table map[string]subscriber

// Broadcaster delivers events to attached queues. Reads go through an atomically
// swapped copy of the subscriber table; Attach and Detach copy under mu.
type Broadcaster struct {
	metrics *metrics.WebSocketMetrics

	mu      sync.Mutex
	stopped bool
	subs    atomic.Pointer[table]
}

// NewBroadcaster creates a broadcaster. wsMetrics may be nil.
func NewBroadcaster(wsMetrics *metrics.WebSocketMetrics) *Broadcaster {
	b := &Broadcaster{metrics: wsMetrics}
	b.subs.Store(&table{})
	return b
}

// Attach registers out under connID. Events for room, and room-less events,
// are delivered to it. An existing entry for connID is replaced.
func (b *Broadcaster) Attach(connID, room string, out Outbound) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return ErrStopped
	}
	next := maps.Clone(*b.subs.Load())
	next[connID] = subscriber{room: room, out: out}
	b.subs.Store(&next)
	return nil
}

// Detach removes connID and reports whether it was attached. The queue is not closed.
func (b *Broadcaster) Detach(connID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.subs.Load()
	if _, ok := current[connID]; !ok {
		return false
	}
	next := maps.Clone(current)
	delete(next, connID)
	b.subs.Store(&next)
	return true
}

// Publish implements domain.EventPublisher.
func (b *Broadcaster) Publish(ev domain.Event) {
	b.Broadcast(ev, ev.Room)
}

// Broadcast encodes ev once and offers it to every queue in room. An empty
// room reaches every queue. It returns how many queues accepted the event.
func (b *Broadcaster) Broadcast(ev domain.Event, room string) int {
	subs := *b.subs.Load()
	if len(subs) == 0 {
		return 0
	}

	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to encode event", "kind", ev.Kind, "entity_id", ev.EntityID, "error", err)
		return 0
	}

	delivered, dropped := 0, 0
	for _, s := range subs {
		if room != "" && s.room != room {
			continue
		}
		if s.out.Enqueue(data) {
			delivered++
		} else {
			dropped++
		}
	}

	if b.metrics != nil {
		b.metrics.MessagesDelivered.Add(float64(delivered))
		b.metrics.MessagesDropped.Add(float64(dropped))
	}
	if dropped > 0 {
		slog.Debug("Event dropped for slow spectators", "kind", ev.Kind, "entity_id", ev.EntityID, "dropped", dropped)
	}
	return delivered
}

// Count returns the number of attached queues.
func (b *Broadcaster) Count() int {
	return len(*b.subs.Load())
}

// Stop detaches and closes every queue with reason. Later Attach calls fail.
func (b *Broadcaster) Stop(reason string) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	current := *b.subs.Load()
	b.subs.Store(&table{})
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range current {
		wg.Go(func() { s.out.Close(reason) })
	}
	wg.Wait()
	slog.Info("Broadcaster stopped", "closed_connections", len(current))
}
