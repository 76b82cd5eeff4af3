package authstore

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSaveLoadState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	now := time.Now().UTC()

	state := State{
		Endpoint:         "https://relay.example.com/v1",
		Username:         "host",
		AccessToken:      "access",
		AccessExpiresAt:  now.Add(10 * time.Minute),
		RefreshToken:     "refresh",
		RefreshExpiresAt: now.Add(24 * time.Hour),
	}
	if err := Save(path, state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Endpoint != state.Endpoint || loaded.Username != state.Username {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.AccessToken != state.AccessToken || !loaded.AccessExpiresAt.Equal(state.AccessExpiresAt) {
		t.Fatalf("access token mismatch")
	}
	if loaded.RefreshToken != state.RefreshToken || !loaded.RefreshExpiresAt.Equal(state.RefreshExpiresAt) {
		t.Fatalf("refresh token mismatch")
	}
}

func TestStateValidity(t *testing.T) {
	now := time.Now().UTC()
	state := State{
		AccessToken:      "access",
		AccessExpiresAt:  now.Add(time.Minute),
		RefreshToken:     "refresh",
		RefreshExpiresAt: now.Add(time.Hour),
	}

	if !state.AccessValidAt(now) || !state.RefreshValidAt(now) {
		t.Fatalf("tokens should be valid now")
	}
	if state.AccessValidAt(now.Add(2 * time.Minute)) {
		t.Fatalf("access token should be expired")
	}
	if state.RefreshValidAt(now.Add(2 * time.Hour)) {
		t.Fatalf("refresh token should be expired")
	}
	if (State{}).AccessValidAt(now) {
		t.Fatalf("empty state should never validate")
	}
}
