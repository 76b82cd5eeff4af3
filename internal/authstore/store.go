package authstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// State holds the CLI's persisted tokens for one relay endpoint.
type State struct {
	Endpoint         string    `json:"endpoint"`
	Username         string    `json:"username,omitempty"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// AccessValidAt reports whether the access token is still valid at t.
func (s State) AccessValidAt(t time.Time) bool {
	if s.AccessToken == "" || s.AccessExpiresAt.IsZero() {
		return false
	}
	return t.Before(s.AccessExpiresAt)
}

// RefreshValidAt reports whether the refresh token is still valid at t.
func (s State) RefreshValidAt(t time.Time) bool {
	if s.RefreshToken == "" || s.RefreshExpiresAt.IsZero() {
		return false
	}
	return t.Before(s.RefreshExpiresAt)
}

// Load reads auth state from disk.
func Load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, err
	}
	return state, nil
}

// Save writes auth state to disk with owner-only permissions.
func Save(path string, state State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
