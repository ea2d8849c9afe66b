// Package auth verifies bearer credentials and signed admin requests.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/nzlov/relay/internal/apperr"
	"github.com/nzlov/relay/internal/identity"
)

// Verifier turns a bearer credential into a principal.
type Verifier interface {
	Verify(token string) (identity.Principal, error)
}

// Claims is the credential payload issued by the platform's auth service.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWT verifies HS256 tokens signed with a shared secret.
type JWT struct {
	secret []byte
}

func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret)}
}

func (j *JWT) Verify(token string) (identity.Principal, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return identity.Principal{}, apperr.Authentication("missing token", nil)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method " + t.Method.Alg())
		}
		return j.secret, nil
	})
	if err != nil {
		return identity.Principal{}, apperr.Authentication("invalid token", err)
	}

	id := identity.UserID(strings.TrimSpace(claims.Subject))
	if id == "" || id.IsSentinel() {
		return identity.Principal{}, apperr.Authentication("invalid subject", nil)
	}
	role := identity.Role(strings.ToLower(strings.TrimSpace(claims.Role)))
	if role == "" {
		return identity.Principal{}, apperr.Authentication("missing role", nil)
	}
	return identity.Principal{ID: id, Role: role}, nil
}

// Issue signs a token for p. The relay never issues credentials to clients;
// this exists for the development client and tests.
func (j *JWT) Issue(p identity.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(p.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// Sign computes the admin request signature over body and timestamp.
func Sign(secret, body, timestamp string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(body + timestamp))
	return hex.EncodeToString(h.Sum(nil))
}

// CheckSign validates an admin request signature and rejects timestamps
// further than skew from now.
func CheckSign(secret, body, timestamp, sign string, skew time.Duration) bool {
	if secret == "" || sign == "" {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if skew > 0 {
		d := time.Since(time.Unix(ts, 0))
		if d > skew || d < -skew {
			return false
		}
	}
	return hmac.Equal([]byte(Sign(secret, body, timestamp)), []byte(sign))
}
