package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/crowdpulse/internal/adapter/metrics"
	"github.com/pscheid92/crowdpulse/internal/broadcast"
	"github.com/pscheid92/crowdpulse/internal/domain"
	"github.com/pscheid92/crowdpulse/internal/platform/correlation"
	"github.com/pscheid92/crowdpulse/internal/platform/version"
)

const (
	maxMessageSize   = 8 * 1024
	defaultQueueSize = 64
)

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(raw string) (domain.Identity, error)
}

// Service is the part of the application the transport drives.
type Service interface {
	Connect(ctx context.Context, connID string, identity domain.Identity, room string, out broadcast.Outbound) (domain.Snapshot, error)
	Disconnect(ctx context.Context, connID string)
	Execute(ctx context.Context, connID string, cmd domain.Command) domain.Reply
}

// Welcome is the first frame on every connection.
type Welcome struct {
	Kind         string          `json:"kind"`
	Protocol     int             `json:"protocol"`
	ConnectionID string          `json:"connectionId"`
	UserID       string          `json:"userId"`
	Room         string          `json:"room,omitempty"`
	Snapshot     domain.Snapshot `json:"snapshot"`
}

type HandlerConfig struct {
	CheckOrigin func(r *http.Request) bool
	// QueueSize bounds each connection's outbound queue.
	QueueSize int
	// IdleTimeout closes connections that stop answering pings and sending
	// commands. Zero means five minutes.
	IdleTimeout time.Duration
}

// Handler serves GET /ws.
type Handler struct {
	verifier TokenVerifier
	service  Service
	limits   *ConnectionLimits
	clock    clockwork.Clock
	metrics  *metrics.WebSocketMetrics
	upgrader websocket.Upgrader
	writer   writerOptions
}

// NewHandler creates the websocket endpoint. limits and wsMetrics may be nil.
func NewHandler(cfg HandlerConfig, verifier TokenVerifier, service Service, limits *ConnectionLimits, clock clockwork.Clock, wsMetrics *metrics.WebSocketMetrics) *Handler {
	return &Handler{
		verifier: verifier,
		service:  service,
		limits:   limits,
		clock:    clock,
		metrics:  wsMetrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		writer: writerOptions{queueSize: cfg.QueueSize, idle: cfg.IdleTimeout},
	}
}

// Serve authenticates, upgrades and then blocks reading commands until the
// connection ends.
func (h *Handler) Serve(c echo.Context) error {
	identity, err := h.verifier.Verify(c.QueryParam("token"))
	if err != nil {
		h.reject("unauthenticated")
		return err
	}

	ip := c.RealIP()
	if h.limits != nil {
		ok, reason := h.limits.Acquire(ip)
		if !ok {
			h.reject(string(reason))
			slog.WarnContext(c.Request().Context(), "WebSocket connection refused", "reason", reason, "ip", ip)
			if reason == LimitReasonRate {
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many connection attempts")
			}
			return echo.NewHTTPError(http.StatusServiceUnavailable, "connection limit reached")
		}
		defer h.limits.Release(ip)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		slog.DebugContext(c.Request().Context(), "WebSocket upgrade failed", "error", err)
		return nil
	}
	conn.SetReadLimit(maxMessageSize)

	connID := uuid.NewString()
	room := c.QueryParam("room")
	ctx := correlation.WithID(context.WithoutCancel(c.Request().Context()), correlation.NewID())
	ctx = correlation.WithSpectator(ctx, correlation.Spectator{UserID: identity.UserID, Room: room})

	writer := newConnWriter(conn, h.clock, h.metrics, h.writer)
	snapshot, err := h.service.Connect(ctx, connID, identity, room, writer)
	if err != nil {
		slog.WarnContext(ctx, "Session registration failed", "error", err)
		writer.Close(domain.Code(err))
		return nil
	}
	if h.metrics != nil {
		h.metrics.ActiveConnections.Inc()
		defer h.metrics.ActiveConnections.Dec()
	}
	slog.InfoContext(ctx, "Spectator connected", "connection_id", connID)

	defer func() {
		h.service.Disconnect(ctx, connID)
		writer.stop()
		slog.InfoContext(ctx, "Spectator disconnected", "connection_id", connID)
	}()

	welcome, err := json.Marshal(Welcome{
		Kind:         "welcome",
		Protocol:     version.Protocol,
		ConnectionID: connID,
		UserID:       identity.UserID,
		Room:         room,
		Snapshot:     snapshot,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode welcome", "error", err)
		return nil
	}
	writer.Reply(welcome)

	h.readLoop(ctx, connID, conn, writer)
	return nil
}

func (h *Handler) readLoop(ctx context.Context, connID string, conn *websocket.Conn, writer *connWriter) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				slog.DebugContext(ctx, "WebSocket read ended", "connection_id", connID, "error", err)
			}
			return
		}
		writer.recordActivity()

		reply := h.handleFrame(ctx, connID, data)
		out, err := json.Marshal(reply)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to encode reply", "kind", reply.Kind, "error", err)
			continue
		}
		if !writer.Reply(out) {
			return
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, connID string, data []byte) domain.Reply {
	var cmd domain.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		h.countCommand("malformed", domain.Code(domain.ErrInvalidArgument))
		return domain.Reply{
			Kind:  "reply",
			Error: &domain.Fault{Code: domain.Code(domain.ErrInvalidArgument), Message: "malformed command frame"},
		}
	}

	cmdCtx := correlation.WithID(ctx, correlation.NewID())
	start := h.clock.Now()
	reply := h.service.Execute(cmdCtx, connID, cmd)

	result := "ok"
	if reply.Error != nil {
		result = reply.Error.Code
	}
	h.countCommand(commandLabel(cmd.Kind), result)
	slog.DebugContext(cmdCtx, "Command handled", "kind", cmd.Kind, "request_id", cmd.RequestID,
		"result", result, "duration", h.clock.Since(start).Round(time.Microsecond))
	return reply
}

func (h *Handler) countCommand(kind, result string) {
	if h.metrics != nil {
		h.metrics.Commands.WithLabelValues(kind, result).Inc()
	}
}

func (h *Handler) reject(reason string) {
	if h.metrics != nil {
		h.metrics.RejectedConnections.WithLabelValues(reason).Inc()
	}
}

// commandLabel keeps metric cardinality bounded to known kinds.
func commandLabel(kind domain.CommandKind) string {
	switch kind {
	case domain.CommandActivateEmotion, domain.CommandCreatePool, domain.CommandPlaceStake,
		domain.CommandClosePool, domain.CommandResolvePool, domain.CommandPropose,
		domain.CommandVote, domain.CommandSnapshot:
		return string(kind)
	default:
		return "unknown"
	}
}

func isExpectedClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway
	}
	return false
}
