package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

type (
	contextKey   struct{}
	spectatorKey struct{}
)

// Spectator names who a request or connection acts for.
type Spectator struct {
	UserID string
	Room   string
}

// Header carries a caller-supplied correlation ID on HTTP requests.
const Header = "X-Correlation-ID"

const maxInboundIDLength = 64

// NewID generates an 8-character hex correlation ID (4 random bytes).
func NewID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// WithID returns a new context carrying the given correlation ID.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// ID extracts the correlation ID from ctx, returning ("", false) if not present.
func ID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// WithSpectator tags ctx so every log line under it names the spectator.
func WithSpectator(ctx context.Context, s Spectator) context.Context {
	return context.WithValue(ctx, spectatorKey{}, s)
}

// SpectatorFrom returns the spectator ctx was tagged with.
func SpectatorFrom(ctx context.Context) (Spectator, bool) {
	s, ok := ctx.Value(spectatorKey{}).(Spectator)
	return s, ok && s.UserID != ""
}

// Ensure returns ctx unchanged if it already carries an ID, otherwise a copy
// carrying a fresh one.
func Ensure(ctx context.Context) (context.Context, string) {
	if id, ok := ID(ctx); ok {
		return ctx, id
	}
	id := NewID()
	return WithID(ctx, id), id
}

// Sanitize accepts an inbound ID only if it is short and printable ASCII.
func Sanitize(id string) (string, bool) {
	if id == "" || len(id) > maxInboundIDLength {
		return "", false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return "", false
		}
	}
	return id, true
}

// Handler wraps an slog.Handler and adds correlation_id, user_id and room
// from the record's context.
type Handler struct {
	inner slog.Handler
}

// NewHandler creates a correlation-aware handler wrapping the given handler.
func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ID(ctx); ok {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	if s, ok := SpectatorFrom(ctx); ok {
		r.AddAttrs(slog.String("user_id", s.UserID))
		if s.Room != "" {
			r.AddAttrs(slog.String("room", s.Room))
		}
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
