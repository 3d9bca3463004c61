// Package auth ties HTTP requests to sign-up sessions through short-lived
// bearer tokens.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const sessionIDKey contextKey = "signupSessionID"

// GetSessionID returns the sign-up session id bound by JWTMiddleware.
func GetSessionID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(sessionIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// TokenIssuer signs session tokens handed to the client when a sign-up screen opens.
type TokenIssuer struct {
	secret   []byte
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenIssuer builds an issuer; tokens expire after ttl.
func NewTokenIssuer(secret, audience string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:   []byte(strings.TrimSpace(secret)),
		audience: strings.TrimSpace(audience),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Issue returns a signed token whose subject is the session id.
func (i *TokenIssuer) Issue(sessionID string) (string, error) {
	if len(i.secret) == 0 {
		return "", errors.New("missing JWT secret")
	}
	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// JWTMiddleware admits requests carrying a live sign-up session token and
// binds the session id to the request context. Tokens must be HS256 and carry
// an expiry.
func JWTMiddleware(secret, audience string) gin.HandlerFunc {
	key := []byte(strings.TrimSpace(secret))
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if audience = strings.TrimSpace(audience); audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		raw, err := bearerToken(c.Request.Header.Get("Authorization"))
		if err != nil {
			rejectSession(c, err.Error())
			return
		}
		if len(key) == 0 {
			rejectSession(c, "missing JWT secret")
			return
		}

		claims := &jwt.RegisteredClaims{}
		if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		}); err != nil {
			rejectSession(c, sessionTokenError(err))
			return
		}
		if claims.Subject == "" {
			rejectSession(c, "token names no sign-up session")
			return
		}

		ctx := context.WithValue(c.Request.Context(), sessionIDKey, claims.Subject)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(sessionIDKey), claims.Subject)

		c.Next()
	}
}

func sessionTokenError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "sign-up session expired"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "invalid audience"
	default:
		return "invalid token"
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func rejectSession(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
