package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/prettyx"
	"pkt.systems/vncconnect"
	"pkt.systems/vncconnect/internal/permission"
)

// NewProfilesCommand builds the permission-profile management command.
func NewProfilesCommand(loader *vncconnect.Loader) *cobra.Command {
	var endpoint string
	var accessToken string
	var authFile string

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage permission profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&endpoint, "endpoint", "e", vncconnect.DefaultClientEndpoint, "relay endpoint (https base URL)")
	flags.StringVar(&accessToken, "access-token", "", "access token for authenticated request")
	flags.StringVar(&authFile, "auth-file", vncconnect.DefaultAuthPath(), "path to auth file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List built-in and owned profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			endpointValue, tokenValue, err := resolveClient(cmd, loader, endpoint, authFile, accessToken)
			if err != nil {
				return err
			}
			profiles, err := vncconnect.ProfilesList(cmd.Context(), endpointValue, tokenValue)
			if err != nil {
				return err
			}
			data, err := json.Marshal(profiles)
			if err != nil {
				return err
			}
			return prettyx.PrettyTo(cmd.OutOrStdout(), data, prettyx.DefaultOptions)
		},
	}

	var createOpts profileFlagSet
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a custom profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpointValue, tokenValue, err := resolveClient(cmd, loader, endpoint, authFile, accessToken)
			if err != nil {
				return err
			}
			opts, err := createOpts.build(cmd)
			if err != nil {
				return err
			}
			opts.Endpoint = endpointValue
			opts.AccessToken = tokenValue
			opts.Name = strings.TrimSpace(args[0])
			profile, err := vncconnect.ProfilesCreate(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, profile)
		},
	}
	createOpts.register(createCmd)

	var updateOpts profileFlagSet
	updateCmd := &cobra.Command{
		Use:   "update <profile-id>",
		Short: "Update a custom profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpointValue, tokenValue, err := resolveClient(cmd, loader, endpoint, authFile, accessToken)
			if err != nil {
				return err
			}
			opts, err := updateOpts.build(cmd)
			if err != nil {
				return err
			}
			opts.Endpoint = endpointValue
			opts.AccessToken = tokenValue
			profile, err := vncconnect.ProfilesUpdate(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, profile)
		},
	}
	updateOpts.register(updateCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete <profile-id>",
		Short: "Delete a custom profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpointValue, tokenValue, err := resolveClient(cmd, loader, endpoint, authFile, accessToken)
			if err != nil {
				return err
			}
			if err := vncconnect.ProfilesDelete(cmd.Context(), endpointValue, tokenValue, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "profile deleted")
			return nil
		},
	}

	cmd.AddCommand(listCmd)
	cmd.AddCommand(createCmd)
	cmd.AddCommand(updateCmd)
	cmd.AddCommand(deleteCmd)

	return cmd
}

// profileFlagSet collects the shared create/update mutation flags.
type profileFlagSet struct {
	description        string
	baseProfile        string
	grants             []string
	denies             []string
	enabled            bool
	unattended         bool
	unattendedPassword string
	allowedUsers       []string
	window             string
	days               []string
}

func (f *profileFlagSet) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.description, "description", "", "profile description")
	flags.StringVar(&f.baseProfile, "base", "", "base profile id to copy grants from")
	flags.StringArrayVar(&f.grants, "grant", nil, "capability to grant (repeatable)")
	flags.StringArrayVar(&f.denies, "deny", nil, "capability to deny (repeatable)")
	flags.BoolVar(&f.enabled, "enabled", true, "whether the profile accepts new sessions")
	flags.BoolVar(&f.unattended, "unattended", false, "mark as unattended-access profile")
	flags.StringVar(&f.unattendedPassword, "unattended-password", "", "unattended access password")
	flags.StringArrayVar(&f.allowedUsers, "allow-user", nil, "client id allowed for unattended access (repeatable)")
	flags.StringVar(&f.window, "window", "", "unattended access window as HH:MM-HH:MM")
	flags.StringArrayVar(&f.days, "day", nil, "weekday for the access window (repeatable)")
}

func (f *profileFlagSet) build(cmd *cobra.Command) (vncconnect.ProfileOptions, error) {
	opts := vncconnect.ProfileOptions{
		Description:        f.description,
		BaseProfileID:      f.baseProfile,
		UnattendedPassword: f.unattendedPassword,
	}
	if cmd.Flags().Changed("enabled") {
		opts.IsEnabled = &f.enabled
	}
	if cmd.Flags().Changed("unattended") {
		opts.IsUnattendedAccess = &f.unattended
	}
	if cmd.Flags().Changed("allow-user") {
		opts.AllowedUsers = f.allowedUsers
	}
	if len(f.grants) > 0 || len(f.denies) > 0 {
		set := make(map[string]bool, len(f.grants)+len(f.denies))
		for _, name := range f.grants {
			cap, err := parseCapability(name)
			if err != nil {
				return vncconnect.ProfileOptions{}, err
			}
			set[string(cap)] = true
		}
		for _, name := range f.denies {
			cap, err := parseCapability(name)
			if err != nil {
				return vncconnect.ProfileOptions{}, err
			}
			set[string(cap)] = false
		}
		opts.Permissions = set
	}
	if f.window != "" {
		start, end, ok := strings.Cut(f.window, "-")
		if !ok {
			return vncconnect.ProfileOptions{}, fmt.Errorf("window must be HH:MM-HH:MM")
		}
		opts.Schedule = &vncconnect.ProfileSchedule{
			Start: strings.TrimSpace(start),
			End:   strings.TrimSpace(end),
			Days:  f.days,
		}
	}
	return opts, nil
}

func parseCapability(name string) (permission.Capability, error) {
	trimmed := strings.TrimSpace(name)
	for _, cap := range permission.AllCapabilities {
		if strings.EqualFold(string(cap), trimmed) {
			return cap, nil
		}
	}
	return "", fmt.Errorf("unknown capability %q", name)
}

func printJSON(cmd *cobra.Command, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return prettyx.PrettyTo(cmd.OutOrStdout(), data, prettyx.DefaultOptions)
}
