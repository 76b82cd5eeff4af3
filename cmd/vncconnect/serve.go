package main

import (
	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/vncconnect"
)

// NewServeCommand builds the signaling server command.
func NewServeCommand(loader *vncconnect.Loader) *cobra.Command {
	v := loader.Viper()
	v.SetDefault("server.listen", vncconnect.DefaultListenAddr)
	v.SetDefault("server.base", vncconnect.DefaultBasePath)
	v.SetDefault("server.data_dir", vncconnect.DefaultConfigDir())
	v.SetDefault("server.users_file", vncconnect.DefaultUsersPath())
	v.SetDefault("server.profiles_file", vncconnect.DefaultProfilesPath())
	v.SetDefault("server.timezone", vncconnect.DefaultTimezone)

	var bindErr error

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the VNCConnect signaling relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if bindErr != nil {
				return bindErr
			}
			cfg, err := loader.Load()
			if err != nil {
				return err
			}

			logger := pslog.Ctx(cmd.Context()).With("component", "serve")
			return vncconnect.Serve(cmd.Context(), vncconnect.ServeOptions{
				Config: cfg,
				Logger: logger,
			})
		},
	}

	flags := cmd.Flags()
	flags.String("listen", vncconnect.DefaultListenAddr, "listen address for the HTTP server")
	flags.String("data-dir", vncconnect.DefaultConfigDir(), "path to data directory")
	flags.String("users-file", vncconnect.DefaultUsersPath(), "path to users file")
	flags.String("profiles-file", vncconnect.DefaultProfilesPath(), "path to permission profiles file")
	flags.String("base", vncconnect.DefaultBasePath, "base path prefix for all HTTP routes")
	flags.String("timezone", vncconnect.DefaultTimezone, "timezone for unattended-access schedules")
	flags.String("tls-cert", "", "path to TLS certificate file")
	flags.String("tls-key", "", "path to TLS key file")

	bind := func(key, name string) {
		if bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			bindErr = err
		}
	}

	bind("server.listen", "listen")
	bind("server.data_dir", "data-dir")
	bind("server.users_file", "users-file")
	bind("server.profiles_file", "profiles-file")
	bind("server.base", "base")
	bind("server.timezone", "timezone")
	bind("server.tls.cert_file", "tls-cert")
	bind("server.tls.key_file", "tls-key")

	return cmd
}
