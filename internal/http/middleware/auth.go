// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file authenticates management API callers. With a signing secret
// configured, requests must carry "Authorization: Bearer <jwt>" signed with
// HS256; the token subject becomes the user id. Without a secret the API runs
// in trusted-header mode and takes the user id from X-User-ID, which is only
// suitable behind an authenticating proxy or in development.
//
// The user id is stored under the Gin key "userID" for handlers, the rate
// limiter and the access log.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userIDKey        = "userID"
	userIDHeader     = "X-User-ID"
	maxUserIDLength  = 64
	bearerPrefix     = "bearer "
	defaultTokenLife = 24 * time.Hour
)

// ErrInvalidToken is returned for tokens that fail parsing or validation.
var ErrInvalidToken = errors.New("invalid token")

// Tokens signs and validates management API bearer tokens.
type Tokens struct {
	secret []byte
	issuer string
}

// NewTokens builds a token helper. An empty secret disables bearer auth.
func NewTokens(secret, issuer string) *Tokens {
	return &Tokens{secret: []byte(secret), issuer: issuer}
}

// Enabled reports whether a signing secret is configured.
func (t *Tokens) Enabled() bool { return t != nil && len(t.secret) > 0 }

// Issue signs a token for userID valid for ttl (24h when ttl <= 0).
func (t *Tokens) Issue(userID string, ttl time.Duration) (string, error) {
	if !t.Enabled() {
		return "", errors.New("jwt secret not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" || len(userID) > maxUserIDLength {
		return "", fmt.Errorf("user id must be 1..%d characters", maxUserIDLength)
	}
	if ttl <= 0 {
		ttl = defaultTokenLife
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse validates raw and returns its subject.
func (t *Tokens) Parse(raw string) (string, error) {
	if !t.Enabled() {
		return "", ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" || len(sub) > maxUserIDLength {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// Auth returns a Gin middleware that authenticates the caller or aborts
// with 401.
func Auth(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := authenticate(c, tokens)
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="chat-bridge"`)
			abortJSON(c, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		c.Set(userIDKey, uid)
		c.Next()
	}
}

func authenticate(c *gin.Context, tokens *Tokens) (string, error) {
	if !tokens.Enabled() {
		uid := strings.TrimSpace(c.GetHeader(userIDHeader))
		if uid == "" || len(uid) > maxUserIDLength {
			return "", errors.New("missing or invalid X-User-ID")
		}
		return uid, nil
	}
	h := c.GetHeader("Authorization")
	if len(h) <= len(bearerPrefix) || !strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return "", errors.New("bearer token required")
	}
	return tokens.Parse(strings.TrimSpace(h[len(bearerPrefix):]))
}
