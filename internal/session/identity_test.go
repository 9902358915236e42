package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/crowdpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-identity-secret-0123456789"

func TestVerify_RoundTrip(t *testing.T) {
	v := NewJWTVerifier(testSecret, clockwork.NewFakeClock())
	token, err := v.Issue(domain.Identity{UserID: "alice", Admin: true}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)

	require.NoError(t, err)
	assert.Equal(t, domain.Identity{UserID: "alice", Admin: true}, id)
}

func TestVerify_Expired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewJWTVerifier(testSecret, clock)
	token, err := v.Issue(domain.Identity{UserID: "alice"}, time.Minute)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = v.Verify(token)

	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestVerify_WrongSecret(t *testing.T) {
	clock := clockwork.NewFakeClock()
	token, err := NewJWTVerifier("another-secret-entirely-000000", clock).Issue(domain.Identity{UserID: "alice"}, time.Hour)
	require.NoError(t, err)

	_, err = NewJWTVerifier(testSecret, clock).Verify(token)

	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestVerify_RejectsMissingSubjectAndEmpty(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewJWTVerifier(testSecret, clock)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = v.Verify(noSubject)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = v.Verify("")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewJWTVerifier(testSecret, clock)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "mallory",
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(unsigned)

	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestVerify_RejectsForeignIssuer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewJWTVerifier(testSecret, clock)

	for name, iss := range map[string]string{"other issuer": "someone-else", "no issuer": ""} {
		t.Run(name, func(t *testing.T) {
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
				Subject:   "alice",
				Issuer:    iss,
				ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
			}).SignedString([]byte(testSecret))
			require.NoError(t, err)

			_, err = v.Verify(token)

			assert.ErrorIs(t, err, domain.ErrInvalidToken)
		})
	}
}
