package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrNoSecret     = errors.New("jwt secret is not configured")
)

// DocClaims is the document API token payload: {"user": {"id": "..."}}.
type DocClaims struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	jwt.StandardClaims
}

// Signs and verifies with HS256.
type Verifier struct {
	secret    []byte
	clockSkew time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, clockSkew time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), clockSkew: clockSkew, now: time.Now}
}

// Sign issues a token for userID; ttl <= 0 means no expiry.
func (v *Verifier) Sign(userID string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrNoSecret
	}
	now := v.now()
	claims := DocClaims{}
	claims.User.ID = userID
	claims.IssuedAt = now.Unix()
	if ttl > 0 {
		claims.ExpiresAt = now.Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify checks the signature and time claims and returns the user id.
func (v *Verifier) Verify(tokenStr string) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrNoSecret
	}

	claims := &DocClaims{}
	parser := jwt.Parser{SkipClaimsValidation: true}
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	// time claims, with clockSkew tolerance
	now := v.now()
	if claims.ExpiresAt != 0 && now.After(time.Unix(claims.ExpiresAt, 0).Add(v.clockSkew)) {
		return "", ErrTokenExpired
	}
	if claims.NotBefore != 0 && now.Before(time.Unix(claims.NotBefore, 0).Add(-v.clockSkew)) {
		return "", ErrInvalidToken
	}

	if claims.User.ID == "" {
		return "", ErrInvalidToken
	}
	return claims.User.ID, nil
}
