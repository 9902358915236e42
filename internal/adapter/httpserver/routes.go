package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) registerRoutes() {
	s.echo.HTTPErrorHandler = handleHTTPError
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	if s.httpMetrics != nil {
		s.echo.Use(s.httpMetrics.Middleware())
	}
	s.echo.Use(middleware.Recover())
	s.echo.Use(ErrorHandlingMiddleware())
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            63072000, // 2 years; only sent over HTTPS
		HSTSPreloadEnabled:    true,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
	}))

	s.registerHealthRoutes()
	if s.metricsHandler != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}
	if s.websocketHandler != nil {
		s.echo.GET("/ws", s.websocketHandler)
	}
	s.registerAPIRoutes()
}

// quietPaths are polled by probes and scrapers and are not request-logged.
var quietPaths = map[string]bool{
	"/health/live":    true,
	"/health/ready":   true,
	"/health/startup": true,
	"/metrics":        true,
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return quietPaths[c.Request().URL.Path]
		},
		LogStatus:    true,
		LogURIPath:   true,
		LogRoutePath: true,
		LogMethod:    true,
		LogLatency:   true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"path", v.URIPath,
				"route", v.RoutePath,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.Log(c.Request().Context(), requestLogLevel(v.Status), "Request", attrs...)
			return nil
		},
	})
}

func requestLogLevel(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status == http.StatusTooManyRequests:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
