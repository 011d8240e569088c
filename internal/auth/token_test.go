package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
)

var userID = id.UserID(uuid.New())

func newService(t *testing.T, opts ...TokenOption) *TokenService {
	t.Helper()
	s, err := NewTokenService("test-signing-key", "docket", "docket-api", opts...)
	require.NoError(t, err)
	return s
}

func TestIssueAndValidate(t *testing.T) {
	s := newService(t)
	token, jti, err := s.Issue(userID, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, jti)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, jti, claims.JTI)

	parsed, err := s.Parse(token)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), parsed.ExpiresAt.Time, time.Minute)
}

func TestValidateRejects(t *testing.T) {
	s := newService(t)
	valid, _, err := s.Issue(userID, time.Hour)
	require.NoError(t, err)

	past := newService(t, WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }))
	expired, _, err := past.Issue(userID, time.Hour)
	require.NoError(t, err)

	otherAudience, err := NewTokenService("test-signing-key", "docket", "someone-else")
	require.NoError(t, err)
	foreign, _, err := otherAudience.Issue(userID, time.Hour)
	require.NoError(t, err)

	otherKey, err := NewTokenService("another-key", "docket", "docket-api")
	require.NoError(t, err)
	forged, _, err := otherKey.Issue(userID, time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: userID.String()}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		msg   string
	}{
		{name: "garbage", token: "not-a-token", msg: "invalid token"},
		{name: "expired", token: expired, msg: "token has expired"},
		{name: "wrong audience", token: foreign, msg: "invalid token"},
		{name: "wrong key", token: forged, msg: "invalid token"},
		{name: "alg none", token: none, msg: "invalid token"},
		{name: "truncated", token: valid[:len(valid)-4], msg: "invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ValidateToken(tt.token)
			require.Error(t, err)
			de, ok := dErrors.As(err)
			require.True(t, ok)
			assert.Equal(t, dErrors.CodeUnauthorized, de.Code)
			assert.Equal(t, tt.msg, de.Message)
		})
	}
}

func TestNewTokenServiceRequiresKey(t *testing.T) {
	_, err := NewTokenService("", "docket", "docket-api")
	assert.Error(t, err)
}
