package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/vncconnect"
)

// NewSessionsCommand builds the session management command.
func NewSessionsCommand(loader *vncconnect.Loader) *cobra.Command {
	var endpoint string
	var accessToken string
	var authFile string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and manage sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			endpointValue, tokenValue, err := resolveClient(cmd, loader, endpoint, authFile, accessToken)
			if err != nil {
				return err
			}
			sessions, err := vncconnect.SessionsList(cmd.Context(), endpointValue, tokenValue)
			if err != nil {
				return err
			}
			return printJSON(cmd, sessions)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&endpoint, "endpoint", "e", vncconnect.DefaultClientEndpoint, "relay endpoint (https base URL)")
	flags.StringVar(&accessToken, "access-token", "", "access token for authenticated request")
	flags.StringVar(&authFile, "auth-file", vncconnect.DefaultAuthPath(), "path to auth file")

	endCmd := &cobra.Command{
		Use:   "end <session-id>",
		Short: "Close a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpointValue, tokenValue, err := resolveClient(cmd, loader, endpoint, authFile, accessToken)
			if err != nil {
				return err
			}
			if err := vncconnect.SessionEnd(cmd.Context(), endpointValue, tokenValue, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "session closed")
			return nil
		},
	}
	cmd.AddCommand(endCmd)

	return cmd
}
