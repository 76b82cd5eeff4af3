package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/vncconnect"
)

func resolveAccessToken(ctx context.Context, endpoint, authPath string) (string, error) {
	state, err := vncconnect.EnsureAccessToken(ctx, endpoint, authPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("auth file not found at %s; run `vncconnect login -e %s`", authPath, endpoint)
		}
		return "", fmt.Errorf("%s; run `vncconnect login -e %s`", err.Error(), endpoint)
	}
	if state.AccessToken == "" {
		return "", fmt.Errorf("access token missing; run `vncconnect login -e %s`", endpoint)
	}
	return state.AccessToken, nil
}

// resolveClient picks the effective endpoint and access token from flags,
// config, and the stored auth state, in that order.
func resolveClient(cmd *cobra.Command, loader *vncconnect.Loader, endpoint, authFile, accessToken string) (string, string, error) {
	cfg, err := loader.Load()
	if err != nil {
		return "", "", err
	}
	endpointValue := endpoint
	if !cmd.Flags().Changed("endpoint") {
		endpointValue = cfg.Client.Endpoint
	}
	if endpointValue == "" {
		return "", "", fmt.Errorf("endpoint is required")
	}

	authPath := authFile
	if !cmd.Flags().Changed("auth-file") {
		authPath = cfg.Client.AuthFile
	}

	tokenValue := accessToken
	if !cmd.Flags().Changed("access-token") {
		resolved, err := resolveAccessToken(cmd.Context(), endpointValue, authPath)
		if err != nil {
			return "", "", err
		}
		tokenValue = resolved
	}
	if tokenValue == "" {
		return "", "", fmt.Errorf("access token is required")
	}
	return endpointValue, tokenValue, nil
}
