package httpserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/crowdpulse/internal/domain"
	"github.com/pscheid92/crowdpulse/internal/platform/correlation"
	apperrors "github.com/pscheid92/crowdpulse/internal/platform/errors"
)

const identityKey = "identity"

// correlationMiddleware adopts a well-formed inbound correlation id or mints
// one, and echoes it on the response.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := correlation.Sanitize(c.Request().Header.Get(correlation.Header))
		if !ok {
			id = correlation.NewID()
		}
		c.SetRequest(c.Request().WithContext(correlation.WithID(c.Request().Context(), id)))
		c.Response().Header().Set(correlation.Header, id)
		return next(c)
	}
}

// requireIdentity rejects requests without a verified bearer identity.
func (s *Server) requireIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := s.authenticate(c); err != nil {
			return err
		}
		return next(c)
	}
}

// authenticate verifies the bearer token once per request and stores the
// identity on the context; later calls reuse it.
func (s *Server) authenticate(c echo.Context) (domain.Identity, error) {
	if identity, ok := c.Get(identityKey).(domain.Identity); ok && identity.UserID != "" {
		return identity, nil
	}
	token, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return domain.Identity{}, apperrors.UnauthenticatedError("missing bearer token")
	}
	identity, err := s.verifier.Verify(token)
	if err != nil {
		return domain.Identity{}, err
	}
	c.Set(identityKey, identity)
	ctx := correlation.WithSpectator(c.Request().Context(), correlation.Spectator{UserID: identity.UserID})
	c.SetRequest(c.Request().WithContext(ctx))
	return identity, nil
}

func identityFrom(c echo.Context) domain.Identity {
	identity, _ := c.Get(identityKey).(domain.Identity)
	return identity
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := next(c); err != nil {
				handleHTTPError(err, c)
			}
			return nil
		}
	}
}

// handleHTTPError is also installed as echo's HTTPErrorHandler, which
// receives errors that middleware such as the rate limiter report through
// c.Error instead of returning them.
func handleHTTPError(err error, c echo.Context) {
	structuredErr := toStructuredError(err)
	logError(c, structuredErr)

	if c.Response().Committed {
		return
	}
	if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
		slog.ErrorContext(c.Request().Context(), "Failed to write error response", "error", err)
	}
}

// toStructuredError maps echo and domain errors onto the structured taxonomy.
func toStructuredError(err error) *apperrors.Error {
	var structuredErr *apperrors.Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return WrapHTTPError(httpErr)
	}

	if t := apperrors.ErrorType(domain.Code(err)); t != apperrors.TypeInternal {
		return &apperrors.Error{Type: t, Message: err.Error(), Context: make(map[string]any)}
	}
	return apperrors.InternalError("internal server error", err)
}

func WrapHTTPError(httpErr *echo.HTTPError) *apperrors.Error {
	message := http.StatusText(httpErr.Code)
	if msg, ok := httpErr.Message.(string); ok && msg != "" {
		message = msg
	}

	err := apperrors.FromStatus(httpErr.Code, message)
	if httpErr.Internal != nil {
		err.Cause = httpErr.Internal
	}
	return err
}

func logError(c echo.Context, err *apperrors.Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	ctx := c.Request().Context()
	switch {
	case err.Severe():
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Request failed", attrs...)
	case err.Type == apperrors.TypeConflict || err.Type == apperrors.TypeRateLimited:
		slog.WarnContext(ctx, "Request rejected", attrs...)
	default:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	}
}
