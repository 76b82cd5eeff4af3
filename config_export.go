package vncconnect

import "pkt.systems/vncconnect/internal/config"

// Config mirrors the VNCConnect configuration.
type Config = config.Config

// ServerConfig configures the signaling server.
type ServerConfig = config.ServerConfig

// ClientConfig configures CLI client defaults.
type ClientConfig = config.ClientConfig

// SessionConfig configures session lifecycle windows.
type SessionConfig = config.SessionConfig

// TLSConfig configures static TLS material for the server.
type TLSConfig = config.TLSConfig

// Loader wraps configuration loading via Viper.
type Loader = config.Loader

const (
	// DefaultConfigDirName is the directory name under the home directory.
	DefaultConfigDirName = config.DefaultConfigDirName
	// DefaultConfigFileName is the default config file name.
	DefaultConfigFileName = config.DefaultConfigFileName
	// DefaultAuthFileName is the default auth file name.
	DefaultAuthFileName = config.DefaultAuthFileName
	// DefaultUsersFileName is the default users file name.
	DefaultUsersFileName = config.DefaultUsersFileName
	// DefaultProfilesFileName is the default profiles file name.
	DefaultProfilesFileName = config.DefaultProfilesFileName
	// DefaultLogFileName is the default client log file name.
	DefaultLogFileName = config.DefaultLogFileName

	// DefaultListenAddr is the default server listen address.
	DefaultListenAddr = config.DefaultListenAddr
	// DefaultBasePath is the default HTTP base path.
	DefaultBasePath = config.DefaultBasePath
	// DefaultClientEndpoint is the default client endpoint.
	DefaultClientEndpoint = config.DefaultClientEndpoint
	// DefaultTimezone is the schedule evaluation timezone.
	DefaultTimezone = config.DefaultTimezone
)

// NewLoader returns a config loader with defaults wired.
func NewLoader() *config.Loader {
	return config.NewLoader()
}

// DefaultConfig returns the default VNCConnect configuration.
func DefaultConfig() Config {
	return config.DefaultConfig()
}

// DefaultConfigDir returns the default config directory.
func DefaultConfigDir() string {
	return config.DefaultConfigDir()
}

// DefaultConfigPath returns the default config path.
func DefaultConfigPath() string {
	return config.DefaultConfigPath()
}

// DefaultAuthPath returns the default auth file path.
func DefaultAuthPath() string {
	return config.DefaultAuthPath()
}

// DefaultUsersPath returns the default users file path.
func DefaultUsersPath() string {
	return config.DefaultUsersPath()
}

// DefaultProfilesPath returns the default profiles file path.
func DefaultProfilesPath() string {
	return config.DefaultProfilesPath()
}

// DefaultLogPath returns the default client log path.
func DefaultLogPath() string {
	return config.DefaultLogPath()
}
