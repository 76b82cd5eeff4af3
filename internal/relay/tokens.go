package relay

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"time"
)

const defaultTokenBytes = 32

const (
	// DefaultAccessTokenTTL is the default access token TTL.
	DefaultAccessTokenTTL = 15 * time.Minute
	// DefaultRefreshTokenTTL is the default refresh token TTL.
	DefaultRefreshTokenTTL = 365 * 24 * time.Hour
)

var (
	// ErrTokenNotFound is returned when a token is missing.
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenExpired is returned when a token is expired.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is returned when a token is revoked.
	ErrTokenRevoked = errors.New("token revoked")
)

func randomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return enc.EncodeToString(buf), nil
}

// CreateAccessToken generates and stores an access token.
func (s *Store) CreateAccessToken(username string, ttl time.Duration, now time.Time) (AccessToken, error) {
	if s == nil {
		return AccessToken{}, fmt.Errorf("store is nil")
	}
	if username == "" {
		return AccessToken{}, fmt.Errorf("username is required")
	}
	value, err := randomToken(defaultTokenBytes)
	if err != nil {
		return AccessToken{}, err
	}
	token := AccessToken{
		Token:      value,
		Username:   username,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastUsedAt: now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AccessTokens == nil {
		s.AccessTokens = make(map[string]AccessToken)
	}
	s.AccessTokens[token.Token] = token
	return token, nil
}

// CreateRefreshToken generates and stores a refresh token.
func (s *Store) CreateRefreshToken(username string, ttl time.Duration, now time.Time) (RefreshToken, error) {
	if s == nil {
		return RefreshToken{}, fmt.Errorf("store is nil")
	}
	if username == "" {
		return RefreshToken{}, fmt.Errorf("username is required")
	}
	value, err := randomToken(defaultTokenBytes)
	if err != nil {
		return RefreshToken{}, err
	}
	token := RefreshToken{
		Token:     value,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RefreshTokens == nil {
		s.RefreshTokens = make(map[string]RefreshToken)
	}
	s.RefreshTokens[token.Token] = token
	return token, nil
}

// ValidateAccessToken checks access token validity.
func (s *Store) ValidateAccessToken(value string, now time.Time) (AccessToken, error) {
	if s == nil {
		return AccessToken{}, fmt.Errorf("store is nil")
	}
	if value == "" {
		return AccessToken{}, ErrTokenNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.AccessTokens[value]
	if !ok {
		return AccessToken{}, ErrTokenNotFound
	}
	if token.IsExpired(now) {
		return AccessToken{}, ErrTokenExpired
	}
	token.LastUsedAt = now
	s.AccessTokens[value] = token
	return token, nil
}

// ValidateRefreshToken checks refresh token validity.
func (s *Store) ValidateRefreshToken(value string, now time.Time) (RefreshToken, error) {
	if s == nil {
		return RefreshToken{}, fmt.Errorf("store is nil")
	}
	if value == "" {
		return RefreshToken{}, ErrTokenNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.RefreshTokens[value]
	if !ok {
		return RefreshToken{}, ErrTokenNotFound
	}
	if token.RevokedAt != nil {
		return RefreshToken{}, ErrTokenRevoked
	}
	if token.IsExpired(now) {
		return RefreshToken{}, ErrTokenExpired
	}
	token.LastUsedAt = &now
	s.RefreshTokens[value] = token
	return token, nil
}

// RevokeRefreshToken revokes a refresh token.
func (s *Store) RevokeRefreshToken(value string, now time.Time) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.RefreshTokens[value]
	if !ok {
		return ErrTokenNotFound
	}
	token.RevokedAt = &now
	s.RefreshTokens[value] = token
	return nil
}
