package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfigUsesConstants(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := DefaultConfig()

	if cfg.Server.Listen != DefaultListenAddr {
		t.Fatalf("Listen = %q, want %q", cfg.Server.Listen, DefaultListenAddr)
	}
	if cfg.Server.BasePath != DefaultBasePath {
		t.Fatalf("BasePath = %q, want %q", cfg.Server.BasePath, DefaultBasePath)
	}
	if cfg.Server.Timezone != DefaultTimezone {
		t.Fatalf("Timezone = %q, want %q", cfg.Server.Timezone, DefaultTimezone)
	}

	expectedDir := filepath.Join(home, DefaultConfigDirName)
	if cfg.Server.DataDir != expectedDir {
		t.Fatalf("DataDir = %q, want %q", cfg.Server.DataDir, expectedDir)
	}
	if cfg.Server.UsersFile != filepath.Join(expectedDir, DefaultUsersFileName) {
		t.Fatalf("UsersFile = %q", cfg.Server.UsersFile)
	}
	if cfg.Server.ProfilesFile != filepath.Join(expectedDir, DefaultProfilesFileName) {
		t.Fatalf("ProfilesFile = %q", cfg.Server.ProfilesFile)
	}

	if cfg.Client.Endpoint != DefaultClientEndpoint {
		t.Fatalf("Client.Endpoint = %q, want %q", cfg.Client.Endpoint, DefaultClientEndpoint)
	}
	if cfg.Client.AuthFile != DefaultAuthPath() {
		t.Fatalf("Client.AuthFile = %q, want %q", cfg.Client.AuthFile, DefaultAuthPath())
	}
	if cfg.Client.LogFile != DefaultLogPath() {
		t.Fatalf("Client.LogFile = %q, want %q", cfg.Client.LogFile, DefaultLogPath())
	}

	if cfg.Session.CredentialTTL != DefaultCredentialTTL {
		t.Fatalf("CredentialTTL = %q, want %q", cfg.Session.CredentialTTL, DefaultCredentialTTL)
	}
	if cfg.Session.IdleSuspend != DefaultIdleSuspend {
		t.Fatalf("IdleSuspend = %q, want %q", cfg.Session.IdleSuspend, DefaultIdleSuspend)
	}
	if cfg.Session.SuspendClose != DefaultSuspendClose {
		t.Fatalf("SuspendClose = %q, want %q", cfg.Session.SuspendClose, DefaultSuspendClose)
	}
	if cfg.Session.BindTimeout != DefaultBindTimeout {
		t.Fatalf("BindTimeout = %q, want %q", cfg.Session.BindTimeout, DefaultBindTimeout)
	}
}
