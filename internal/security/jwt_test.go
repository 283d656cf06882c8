package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("s3cret", 0)

	tok, err := v.Sign("user-42", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-42", id)
}

func TestVerifier_Rejects(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	signer := NewVerifier("s3cret", 0)
	signer.now = func() time.Time { return base }

	expired, err := signer.Sign("u1", time.Minute)
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{Subject: "u1"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	otherKey, err := NewVerifier("other", 0).Sign("u1", 0)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		skew    time.Duration
		wantErr error
	}{
		{"garbage", "not-a-token", 0, ErrInvalidToken},
		{"wrong key", otherKey, 0, ErrInvalidToken},
		{"missing user", noUser, 0, ErrInvalidToken},
		{"expired", expired, 0, ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier("s3cret", tt.skew)
			v.now = func() time.Time { return base.Add(2 * time.Minute) }
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerifier_ClockSkew(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	signer := NewVerifier("k", 0)
	signer.now = func() time.Time { return base }
	tok, err := signer.Sign("u1", time.Minute)
	require.NoError(t, err)

	v := NewVerifier("k", 5*time.Minute)
	v.now = func() time.Time { return base.Add(3 * time.Minute) }
	id, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
}

func TestVerifier_NoSecret(t *testing.T) {
	_, err := NewVerifier("", 0).Verify("x")
	assert.ErrorIs(t, err, ErrNoSecret)
}
