package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"pkt.systems/vncconnect"
)

// NewCredentialCommand builds the access-code command group.
func NewCredentialCommand(loader *vncconnect.Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Issue and redeem session access codes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newCredentialIssueCommand(loader))
	cmd.AddCommand(newCredentialRedeemCommand(loader))

	return cmd
}

func newCredentialIssueCommand(loader *vncconnect.Loader) *cobra.Command {
	var endpoint string
	var accessToken string
	var authFile string
	var ttl string

	cmd := &cobra.Command{
		Use:   "issue <profile-id>",
		Short: "Create a session and print its access code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpointValue, tokenValue, err := resolveClient(cmd, loader, endpoint, authFile, accessToken)
			if err != nil {
				return err
			}

			var ttlValue time.Duration
			if ttl != "" {
				parsed, err := time.ParseDuration(ttl)
				if err != nil {
					return fmt.Errorf("invalid ttl: %w", err)
				}
				ttlValue = parsed
			}

			resp, err := vncconnect.CredentialIssue(cmd.Context(), vncconnect.CredentialIssueOptions{
				Endpoint:    endpointValue,
				AccessToken: tokenValue,
				ProfileID:   args[0],
				TTL:         ttlValue,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			codeStyle := color.New(color.FgGreen, color.Bold)
			fmt.Fprint(out, "access code: ")
			_, _ = codeStyle.Fprintln(out, resp.Code)
			fmt.Fprintf(out, "session_id: %s\n", resp.SessionID)
			fmt.Fprintf(out, "expires_at: %s\n", resp.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&endpoint, "endpoint", "e", vncconnect.DefaultClientEndpoint, "relay endpoint (https base URL)")
	flags.StringVar(&accessToken, "access-token", "", "access token for authenticated request")
	flags.StringVar(&authFile, "auth-file", vncconnect.DefaultAuthPath(), "path to auth file")
	flags.StringVar(&ttl, "ttl", "", "code ttl (e.g. 10m, 1h)")

	return cmd
}

func newCredentialRedeemCommand(loader *vncconnect.Loader) *cobra.Command {
	var endpoint string
	var clientID string
	var secret string

	cmd := &cobra.Command{
		Use:   "redeem <code>",
		Short: "Redeem an access code and print the client token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			endpointValue := endpoint
			if !cmd.Flags().Changed("endpoint") {
				endpointValue = cfg.Client.Endpoint
			}
			if endpointValue == "" {
				return fmt.Errorf("endpoint is required")
			}
			if clientID == "" {
				return fmt.Errorf("client id is required")
			}

			resp, err := vncconnect.CredentialRedeem(cmd.Context(), vncconnect.CredentialRedeemOptions{
				Endpoint:         endpointValue,
				Code:             args[0],
				ClientID:         clientID,
				UnattendedSecret: secret,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&endpoint, "endpoint", "e", vncconnect.DefaultClientEndpoint, "relay endpoint (https base URL)")
	flags.StringVar(&clientID, "client-id", "", "identifier for this client")
	flags.StringVar(&secret, "secret", "", "unattended access password")

	return cmd
}
