package websocket

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/crowdpulse/internal/adapter/metrics"
	"github.com/pscheid92/crowdpulse/internal/domain"
)

const (
	writeDeadline      = 5 * time.Second
	pingInterval       = 30 * time.Second
	pongDeadline       = 60 * time.Second
	defaultIdleTimeout = 5 * time.Minute
)

type writerOptions struct {
	queueSize int
	// idle disconnects a spectator who has sent no data frame for this long.
	// Pongs keep the socket alive but do not count. A session.idle notice
	// goes out at 80% of it.
	idle time.Duration
	ping time.Duration
}

// connWriter is the only goroutine writing to its connection. Broadcast
// events are offered without blocking; command replies wait for room.
type connWriter struct {
	conn    *websocket.Conn
	clock   clockwork.Clock
	metrics *metrics.WebSocketMetrics
	idle    time.Duration
	ping    time.Duration
	queue   chan []byte
	done    chan struct{}
	broken  atomic.Bool
	once    sync.Once
	wg      sync.WaitGroup

	mu       sync.Mutex
	lastSeen time.Time
	warned   bool
}

func newConnWriter(conn *websocket.Conn, clock clockwork.Clock, m *metrics.WebSocketMetrics, opts writerOptions) *connWriter {
	if opts.queueSize <= 0 {
		opts.queueSize = defaultQueueSize
	}
	if opts.idle <= 0 {
		opts.idle = defaultIdleTimeout
	}
	if opts.ping <= 0 {
		opts.ping = pingInterval
	}
	cw := &connWriter{
		conn:     conn,
		clock:    clock,
		metrics:  m,
		idle:     opts.idle,
		ping:     opts.ping,
		queue:    make(chan []byte, opts.queueSize),
		done:     make(chan struct{}),
		lastSeen: clock.Now(),
	}
	cw.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		cw.extendReadDeadline()
		return nil
	})
	cw.wg.Go(cw.run)
	return cw
}

// Enqueue implements broadcast.Outbound.
func (cw *connWriter) Enqueue(data []byte) bool {
	if cw.broken.Load() || cw.stopped() {
		return false
	}
	select {
	case cw.queue <- data:
		return true
	default:
		return false
	}
}

// Reply queues a command reply, waiting while the queue is full.
func (cw *connWriter) Reply(data []byte) bool {
	if cw.broken.Load() || cw.stopped() {
		return false
	}
	select {
	case cw.queue <- data:
		return true
	case <-cw.done:
		return false
	}
}

// Close implements broadcast.Outbound: it sends a close frame carrying reason.
func (cw *connWriter) Close(reason string) {
	cw.once.Do(func() {
		close(cw.done)
		cw.wg.Wait()

		cw.extendWriteDeadline()
		_ = cw.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
		_ = cw.conn.Close()
	})
	cw.wg.Wait()
}

// stop closes without a close frame; the read side has already ended.
func (cw *connWriter) stop() {
	cw.once.Do(func() {
		close(cw.done)
		_ = cw.conn.Close()
	})
	cw.wg.Wait()
}

func (cw *connWriter) stopped() bool {
	select {
	case <-cw.done:
		return true
	default:
		return false
	}
}

func (cw *connWriter) run() {
	ticker := cw.clock.NewTicker(cw.ping)
	defer ticker.Stop()

	for {
		select {
		case msg := <-cw.queue:
			if !cw.write(websocket.TextMessage, msg) {
				return
			}
		case <-ticker.Chan():
			if cw.idleExpired() {
				if cw.metrics != nil {
					cw.metrics.IdleDisconnects.Inc()
				}
				cw.extendWriteDeadline()
				_ = cw.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "idle timeout"))
				cw.abort()
				return
			}
			cw.extendWriteDeadline()
			if err := cw.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if cw.metrics != nil {
					cw.metrics.PingFailures.Inc()
				}
				cw.abort()
				return
			}
		case <-cw.done:
			return
		}
	}
}

func (cw *connWriter) write(kind int, msg []byte) bool {
	start := cw.clock.Now()
	cw.extendWriteDeadline()
	if err := cw.conn.WriteMessage(kind, msg); err != nil {
		cw.abort()
		return false
	}
	if cw.metrics != nil {
		cw.metrics.SendDuration.Observe(cw.clock.Since(start).Seconds())
	}
	return true
}

// abort closes the socket from the write side so the read loop ends too.
func (cw *connWriter) abort() {
	cw.broken.Store(true)
	_ = cw.conn.Close()
}

// Socket deadlines are wall-clock; the injected clock only drives idle accounting.
func (cw *connWriter) extendWriteDeadline() {
	_ = cw.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
}

func (cw *connWriter) extendReadDeadline() {
	_ = cw.conn.SetReadDeadline(time.Now().Add(pongDeadline))
}

func (cw *connWriter) recordActivity() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.lastSeen = cw.clock.Now()
	cw.warned = false
}

// idleExpired reports whether the idle limit has passed, sending a single
// session.idle notice once the connection enters the warning window.
func (cw *connWriter) idleExpired() bool {
	now := cw.clock.Now()
	cw.mu.Lock()
	lastSeen, warned := cw.lastSeen, cw.warned
	cw.mu.Unlock()

	idleFor := now.Sub(lastSeen)
	if idleFor >= cw.idle {
		return true
	}
	if warned || idleFor < cw.idle-cw.idle/5 {
		return false
	}

	notice, err := json.Marshal(domain.Event{
		Kind:       domain.EventSessionIdle,
		Payload:    domain.IdleNotice{DisconnectAt: lastSeen.Add(cw.idle)},
		ServerTime: now,
	})
	if err == nil && cw.write(websocket.TextMessage, notice) {
		cw.mu.Lock()
		cw.warned = true
		cw.mu.Unlock()
	}
	return false
}
