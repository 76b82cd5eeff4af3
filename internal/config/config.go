package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration for VNCConnect.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Client  ClientConfig  `mapstructure:"client" yaml:"client"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
}

// ServerConfig configures the signaling server.
type ServerConfig struct {
	Listen       string    `mapstructure:"listen" yaml:"listen"`
	DataDir      string    `mapstructure:"data_dir" yaml:"data_dir"`
	UsersFile    string    `mapstructure:"users_file" yaml:"users_file"`
	ProfilesFile string    `mapstructure:"profiles_file" yaml:"profiles_file"`
	BasePath     string    `mapstructure:"base" yaml:"base"`
	Timezone     string    `mapstructure:"timezone" yaml:"timezone"`
	TLS          TLSConfig `mapstructure:"tls" yaml:"tls"`
}

// ClientConfig configures CLI client defaults.
type ClientConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	AuthFile string `mapstructure:"auth_file" yaml:"auth_file"`
	LogFile  string `mapstructure:"log_file" yaml:"log_file"`
}

// SessionConfig configures session lifecycle windows.
type SessionConfig struct {
	CredentialTTL string `mapstructure:"credential_ttl" yaml:"credential_ttl"`
	IdleSuspend   string `mapstructure:"idle_suspend" yaml:"idle_suspend"`
	SuspendClose  string `mapstructure:"suspend_close" yaml:"suspend_close"`
	BindTimeout   string `mapstructure:"bind_timeout" yaml:"bind_timeout"`
}

// TLSConfig configures static TLS material for the server.
type TLSConfig struct {
	CertFile string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file"`
}

// Loader wraps Viper configuration loading for VNCConnect.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader initializes a Loader with standard defaults.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix("VNCCONNECT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/vncconnect")
	v.AddConfigPath("$HOME/.vncconnect")

	return &Loader{v: v}
}

// Viper exposes the underlying Viper instance for flag binding and defaults.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = strings.TrimSpace(path)
}

// ReadInConfig reads configuration from file if available.
func (l *Loader) ReadInConfig() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

// Load reads configuration and unmarshals it into a Config struct.
func (l *Loader) Load() (Config, error) {
	if err := l.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
