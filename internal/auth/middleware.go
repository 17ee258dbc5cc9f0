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

const (
	subjectKey   contextKey = "authSubject"
	expiresAtKey contextKey = "authExpiresAt"
)

// GetSubject retrieves the authenticated face id from context.
func GetSubject(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(subjectKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// GetExpiresAt retrieves the session expiry from context.
func GetExpiresAt(ctx context.Context) (time.Time, bool) {
	if ctx == nil {
		return time.Time{}, false
	}
	value, ok := ctx.Value(expiresAtKey).(time.Time)
	return value, ok && !value.IsZero()
}

// Middleware validates bearer session tokens and injects the subject.
func (s *Sessions) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := extractBearerToken(c.Request.Header.Get("Authorization"))
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		claims, err := s.Parse(tokenString)
		switch {
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			unauthorized(c, "invalid audience")
			return
		case errors.Is(err, jwt.ErrTokenExpired):
			unauthorized(c, "token expired")
			return
		case errors.Is(err, ErrMissingSubject):
			unauthorized(c, "missing subject")
			return
		case err != nil:
			unauthorized(c, "invalid token")
			return
		}

		ctx := context.WithValue(c.Request.Context(), subjectKey, claims.Subject)
		if claims.ExpiresAt != nil {
			ctx = context.WithValue(ctx, expiresAtKey, claims.ExpiresAt.Time)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(subjectKey), claims.Subject)

		c.Next()
	}
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
