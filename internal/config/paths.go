package config

import (
	"os"
	"path/filepath"
)

// DefaultConfigDir returns the default VNCConnect config directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return DefaultConfigDirName
	}
	return filepath.Join(home, DefaultConfigDirName)
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), DefaultConfigFileName)
}

// DefaultAuthPath returns the default auth file path.
func DefaultAuthPath() string {
	return filepath.Join(DefaultConfigDir(), DefaultAuthFileName)
}

// DefaultUsersPath returns the default users file path.
func DefaultUsersPath() string {
	return filepath.Join(DefaultConfigDir(), DefaultUsersFileName)
}

// DefaultProfilesPath returns the default profiles file path.
func DefaultProfilesPath() string {
	return filepath.Join(DefaultConfigDir(), DefaultProfilesFileName)
}

// DefaultLogPath returns the default client log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultConfigDir(), DefaultLogFileName)
}
