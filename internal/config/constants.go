package config

const (
	// DefaultConfigDirName is the directory name under the home directory.
	DefaultConfigDirName = ".vncconnect"
	// DefaultConfigFileName is the default config file name.
	DefaultConfigFileName = "config.yaml"
	// DefaultAuthFileName is the default auth file name.
	DefaultAuthFileName = "auth.json"
	// DefaultUsersFileName is the default users file name.
	DefaultUsersFileName = "users.json"
	// DefaultProfilesFileName is the default permission-profiles file name.
	DefaultProfilesFileName = "profiles.json"
	// DefaultLogFileName is the default client log file name.
	DefaultLogFileName = "vncconnect.log"

	// DefaultListenAddr is the default server listen address.
	DefaultListenAddr = "127.0.0.1:17900"
	// DefaultBasePath is the default HTTP base path.
	DefaultBasePath = "/v1"
	// DefaultClientEndpoint is the default client endpoint.
	DefaultClientEndpoint = "http://localhost:17900/v1"
	// DefaultTimezone is the schedule evaluation timezone.
	DefaultTimezone = "Local"

	// DefaultCredentialTTL is how long an access code stays redeemable.
	DefaultCredentialTTL = "10m"
	// DefaultIdleSuspend is the inactivity window before a session suspends.
	DefaultIdleSuspend = "60s"
	// DefaultSuspendClose is the suspension window before a session closes.
	DefaultSuspendClose = "5m"
	// DefaultBindTimeout is how long a tunnel may stay in connecting state.
	DefaultBindTimeout = "10s"
)
