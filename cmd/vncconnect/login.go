package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pkt.systems/pslog"
	"pkt.systems/vncconnect"
)

// NewLoginCommand builds the login command.
func NewLoginCommand(loader *vncconnect.Loader) *cobra.Command {
	var endpoint string
	var authFile string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate a host account and store tokens locally",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			logPath := cfg.Client.LogFile
			if logPath == "" {
				logPath = vncconnect.DefaultLogPath()
			}
			logger, closer, err := openClientLogger(logPath)
			if err != nil {
				return err
			}
			defer func() {
				_ = closer.Close()
			}()
			ctx := pslog.ContextWithLogger(cmd.Context(), logger.With("component", "login"))
			endpointValue := endpoint
			if !cmd.Flags().Changed("endpoint") {
				endpointValue = cfg.Client.Endpoint
			}
			if endpointValue == "" {
				return fmt.Errorf("endpoint is required")
			}
			authPath := authFile
			if !cmd.Flags().Changed("auth-file") {
				authPath = cfg.Client.AuthFile
			}

			reader := bufio.NewReader(os.Stdin)
			fmt.Fprint(os.Stdout, "Username: ")
			username, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			username = strings.TrimSpace(username)
			if username == "" {
				return fmt.Errorf("username is required")
			}

			password, err := promptPassword("Password: ")
			if err != nil {
				return err
			}
			totp, err := promptPassword("TOTP: ")
			if err != nil {
				return err
			}

			state, err := vncconnect.Login(ctx, vncconnect.LoginOptions{
				Endpoint: endpointValue,
				Username: username,
				Password: password,
				TOTP:     totp,
			})
			if err != nil {
				return err
			}
			if err := vncconnect.SaveAuth(authPath, state); err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("login succeeded", "auth_file", authPath)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&endpoint, "endpoint", "e", vncconnect.DefaultClientEndpoint, "relay endpoint (https base URL)")
	flags.StringVar(&authFile, "auth-file", vncconnect.DefaultAuthPath(), "path to auth file")

	return cmd
}

func promptPassword(label string) (string, error) {
	fmt.Fprint(os.Stdout, label)
	value, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stdout)
	if err != nil {
		return "", err
	}
	return string(value), nil
}
