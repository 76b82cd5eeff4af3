package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	expectedDir := filepath.Join(home, DefaultConfigDirName)
	if got := DefaultConfigDir(); got != expectedDir {
		t.Fatalf("DefaultConfigDir() = %q, want %q", got, expectedDir)
	}

	expectedConfig := filepath.Join(expectedDir, DefaultConfigFileName)
	if got := DefaultConfigPath(); got != expectedConfig {
		t.Fatalf("DefaultConfigPath() = %q, want %q", got, expectedConfig)
	}

	expectedAuth := filepath.Join(expectedDir, DefaultAuthFileName)
	if got := DefaultAuthPath(); got != expectedAuth {
		t.Fatalf("DefaultAuthPath() = %q, want %q", got, expectedAuth)
	}

	expectedUsers := filepath.Join(expectedDir, DefaultUsersFileName)
	if got := DefaultUsersPath(); got != expectedUsers {
		t.Fatalf("DefaultUsersPath() = %q, want %q", got, expectedUsers)
	}

	expectedProfiles := filepath.Join(expectedDir, DefaultProfilesFileName)
	if got := DefaultProfilesPath(); got != expectedProfiles {
		t.Fatalf("DefaultProfilesPath() = %q, want %q", got, expectedProfiles)
	}

	expectedLog := filepath.Join(expectedDir, DefaultLogFileName)
	if got := DefaultLogPath(); got != expectedLog {
		t.Fatalf("DefaultLogPath() = %q, want %q", got, expectedLog)
	}
}
