package config

// DefaultConfig returns the default configuration values.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen:       DefaultListenAddr,
			DataDir:      DefaultConfigDir(),
			UsersFile:    DefaultUsersPath(),
			ProfilesFile: DefaultProfilesPath(),
			BasePath:     DefaultBasePath,
			Timezone:     DefaultTimezone,
		},
		Client: ClientConfig{
			Endpoint: DefaultClientEndpoint,
			AuthFile: DefaultAuthPath(),
			LogFile:  DefaultLogPath(),
		},
		Session: SessionConfig{
			CredentialTTL: DefaultCredentialTTL,
			IdleSuspend:   DefaultIdleSuspend,
			SuspendClose:  DefaultSuspendClose,
			BindTimeout:   DefaultBindTimeout,
		},
	}
}
