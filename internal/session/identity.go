package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/crowdpulse/internal/domain"
)

const (
	issuer    = "crowdpulse"
	roleAdmin = "admin"
)

type claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 identity assertions issued as "crowdpulse".
// The subject is the user id.
type JWTVerifier struct {
	secret []byte
	clock  clockwork.Clock
}

func NewJWTVerifier(secret string, clock clockwork.Clock) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), clock: clock}
}

func (v *JWTVerifier) Verify(raw string) (domain.Identity, error) {
	if raw == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing token", domain.ErrInvalidToken)
	}

	token, err := jwt.ParseWithClaims(raw, &claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.clock.Now), jwt.WithExpirationRequired(), jwt.WithIssuer(issuer))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.Subject == "" {
		return domain.Identity{}, fmt.Errorf("%w: invalid claims", domain.ErrInvalidToken)
	}
	return domain.Identity{UserID: c.Subject, Admin: c.Role == roleAdmin}, nil
}

// Issue signs a token for identity. Used by the token CLI and tests; production
// tokens come from the external identity provider sharing the secret.
func (v *JWTVerifier) Issue(identity domain.Identity, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if identity.Admin {
		c.Role = roleAdmin
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign identity token: %w", err)
	}
	return signed, nil
}
