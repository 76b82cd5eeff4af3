package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/vncconnect"
)

// NewTunnelsCommand builds the tunnel management command. Hosts authenticate
// with their stored tokens; clients pass the client token from redemption.
func NewTunnelsCommand(loader *vncconnect.Loader) *cobra.Command {
	var endpoint string
	var accessToken string
	var authFile string
	var clientToken string

	cmd := &cobra.Command{
		Use:   "tunnels",
		Short: "Manage TCP tunnels on a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&endpoint, "endpoint", "e", vncconnect.DefaultClientEndpoint, "relay endpoint (https base URL)")
	flags.StringVar(&accessToken, "access-token", "", "access token for authenticated request")
	flags.StringVar(&authFile, "auth-file", vncconnect.DefaultAuthPath(), "path to auth file")
	flags.StringVar(&clientToken, "client-token", "", "session client token (instead of host auth)")

	resolveAuth := func(cmd *cobra.Command) (vncconnect.TunnelAuth, error) {
		if clientToken != "" {
			cfg, err := loader.Load()
			if err != nil {
				return vncconnect.TunnelAuth{}, err
			}
			endpointValue := endpoint
			if !cmd.Flags().Changed("endpoint") {
				endpointValue = cfg.Client.Endpoint
			}
			if endpointValue == "" {
				return vncconnect.TunnelAuth{}, fmt.Errorf("endpoint is required")
			}
			return vncconnect.TunnelAuth{Endpoint: endpointValue, ClientToken: clientToken}, nil
		}
		endpointValue, tokenValue, err := resolveClient(cmd, loader, endpoint, authFile, accessToken)
		if err != nil {
			return vncconnect.TunnelAuth{}, err
		}
		return vncconnect.TunnelAuth{Endpoint: endpointValue, AccessToken: tokenValue}, nil
	}

	var localPort int
	var remoteHost string
	var remotePort int
	openCmd := &cobra.Command{
		Use:   "open <session-id>",
		Short: "Open a TCP tunnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := resolveAuth(cmd)
			if err != nil {
				return err
			}
			tun, err := vncconnect.TunnelOpen(cmd.Context(), vncconnect.TunnelOpenOptions{
				Auth:       auth,
				SessionID:  args[0],
				LocalPort:  localPort,
				RemoteHost: remoteHost,
				RemotePort: remotePort,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, tun)
		},
	}
	openCmd.Flags().IntVar(&localPort, "local-port", 0, "local port to bind")
	openCmd.Flags().StringVar(&remoteHost, "remote-host", "localhost", "remote host to reach")
	openCmd.Flags().IntVar(&remotePort, "remote-port", 0, "remote port to reach")

	listCmd := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List a session's tunnels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := resolveAuth(cmd)
			if err != nil {
				return err
			}
			tunnels, err := vncconnect.TunnelsList(cmd.Context(), auth, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, tunnels)
		},
	}

	closeCmd := &cobra.Command{
		Use:   "close <session-id> <tunnel-id>",
		Short: "Close a tunnel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := resolveAuth(cmd)
			if err != nil {
				return err
			}
			tun, err := vncconnect.TunnelClose(cmd.Context(), auth, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, tun)
		},
	}

	cmd.AddCommand(openCmd)
	cmd.AddCommand(listCmd)
	cmd.AddCommand(closeCmd)

	return cmd
}
