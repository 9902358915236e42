package httpserver

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/pscheid92/crowdpulse/internal/platform/errors"
	"golang.org/x/time/rate"
)

const spectatorBucketTTL = 5 * time.Minute

// newSpectatorLimiter gives every caller a token bucket for API calls. It runs
// ahead of requireIdentity so requests without a valid token are throttled too.
func newSpectatorLimiter(perSecond float64, burst int, key middleware.Extractor) echo.MiddlewareFunc {
	buckets := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     burst,
		ExpiresIn: spectatorBucketTTL,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: key,
		Store:               buckets,
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return apperrors.FromStatus(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}

// spectatorKey buckets by verified user, since a whole venue can sit behind
// one NAT address. Callers without a valid token share their IP's bucket.
func (s *Server) spectatorKey(c echo.Context) (string, error) {
	if identity, err := s.authenticate(c); err == nil {
		return "user:" + identity.UserID, nil
	}
	return "ip:" + c.RealIP(), nil
}
