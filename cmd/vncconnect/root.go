package main

import (
	"github.com/spf13/cobra"

	"pkt.systems/vncconnect"
)

// NewRootCommand builds the root CLI command.
func NewRootCommand(loader *vncconnect.Loader) *cobra.Command {
	var configFile string

	v := loader.Viper()
	v.SetDefault("client.endpoint", vncconnect.DefaultClientEndpoint)
	v.SetDefault("client.auth_file", vncconnect.DefaultAuthPath())
	v.SetDefault("client.log_file", vncconnect.DefaultLogPath())

	cmd := &cobra.Command{
		Use:   "vncconnect",
		Short: "VNCConnect session signaling relay and CLI",
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if configFile != "" {
				loader.SetConfigFile(configFile)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewLoginCommand(loader))
	cmd.AddCommand(NewServeCommand(loader))
	cmd.AddCommand(NewUsersCommand(loader))
	cmd.AddCommand(NewProfilesCommand(loader))
	cmd.AddCommand(NewCredentialCommand(loader))
	cmd.AddCommand(NewSessionsCommand(loader))
	cmd.AddCommand(NewTunnelsCommand(loader))
	cmd.AddCommand(NewBootstrapCommand())

	return cmd
}
