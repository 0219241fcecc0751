// Package auth validates API keys and issues short-lived JWT session
// tokens for the admin surface.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrInvalidToken  = errors.New("invalid token")
)

const tokenTTL = 24 * time.Hour

// Claims are the session-token claims.
type Claims struct {
	jwt.RegisteredClaims
}

// Service handles authentication operations.
type Service struct {
	apiKey    string
	jwtSecret []byte
}

// NewService creates the auth service. An empty jwtSecret gets a random
// one; tokens then survive only until restart.
func NewService(apiKey, jwtSecret string) (*Service, error) {
	secret := []byte(jwtSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
	}
	return &Service{apiKey: apiKey, jwtSecret: secret}, nil
}

// ValidateAPIKey checks the presented key in constant time. An empty
// configured key rejects everything.
func (s *Service) ValidateAPIKey(key string) error {
	if s.apiKey == "" {
		return ErrInvalidAPIKey
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
		return ErrInvalidAPIKey
	}
	return nil
}

// SetAPIKey replaces the active key after a rotation.
func (s *Service) SetAPIKey(key string) {
	s.apiKey = key
}

// GenerateAPIKey creates a new random key. The caller persists it to the
// settings store.
func GenerateAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// GenerateToken mints a session JWT.
func (s *Service) GenerateToken() (string, error) {
	now := time.Now()
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "harborr",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

// ValidateToken parses and verifies a session JWT.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
