package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "face-auth-gateway"

// ErrMissingSubject is returned for a valid token without a subject.
var ErrMissingSubject = errors.New("missing subject")

// Sessions issues and verifies the HS256 tokens handed out after a face match.
type Sessions struct {
	secret   []byte
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewSessions returns a Sessions signing with secret. An empty audience
// leaves the aud claim unset and unchecked.
func NewSessions(secret, audience string, ttl time.Duration) (*Sessions, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("missing JWT secret")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	return &Sessions{
		secret:   []byte(secret),
		audience: strings.TrimSpace(audience),
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Issue signs a session token for subject.
func (s *Sessions) Issue(subject string) (string, error) {
	if subject == "" {
		return "", errors.New("subject required")
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse validates tokenString and returns its claims.
func (s *Sessions) Parse(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	opts := []jwt.ParserOption{jwt.WithTimeFunc(s.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}
