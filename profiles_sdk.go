package vncconnect

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"pkt.systems/vncconnect/internal/permission"
)

// Profile is a named capability-grant set applied to sessions.
type Profile = permission.Profile

// ProfileSchedule restricts unattended access to a daily window.
type ProfileSchedule = permission.Schedule

// ProfileOptions configures profile creation or update.
type ProfileOptions struct {
	Endpoint    string `json:"-"`
	AccessToken string `json:"-"`

	Name               string           `json:"name,omitempty"`
	Description        string           `json:"description,omitempty"`
	BaseProfileID      string           `json:"base_profile_id,omitempty"`
	Permissions        map[string]bool  `json:"permissions,omitempty"`
	IsEnabled          *bool            `json:"is_enabled,omitempty"`
	IsUnattendedAccess *bool            `json:"is_unattended_access,omitempty"`
	UnattendedPassword string           `json:"unattended_password,omitempty"`
	AllowedUsers       []string         `json:"allowed_users,omitempty"`
	Schedule           *ProfileSchedule `json:"schedule,omitempty"`
}

// ProfilesList lists built-in and owned profiles.
func ProfilesList(ctx context.Context, endpoint, accessToken string) ([]Profile, error) {
	httpURL, err := normalizeHTTPURL(endpoint)
	if err != nil {
		return nil, err
	}
	var out []Profile
	if err := apiDo(ctx, http.MethodGet, httpURL+"/profiles", accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProfilesCreate creates a custom profile.
func ProfilesCreate(ctx context.Context, opts ProfileOptions) (Profile, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return Profile{}, fmt.Errorf("profile name is required")
	}
	httpURL, err := normalizeHTTPURL(opts.Endpoint)
	if err != nil {
		return Profile{}, err
	}
	var out Profile
	if err := apiDo(ctx, http.MethodPost, httpURL+"/profiles", opts.AccessToken, opts, &out); err != nil {
		return Profile{}, err
	}
	return out, nil
}

// ProfilesUpdate mutates an existing custom profile.
func ProfilesUpdate(ctx context.Context, profileID string, opts ProfileOptions) (Profile, error) {
	if strings.TrimSpace(profileID) == "" {
		return Profile{}, fmt.Errorf("profile id is required")
	}
	httpURL, err := normalizeHTTPURL(opts.Endpoint)
	if err != nil {
		return Profile{}, err
	}
	var out Profile
	if err := apiDo(ctx, http.MethodPut, httpURL+"/profiles/"+profileID, opts.AccessToken, opts, &out); err != nil {
		return Profile{}, err
	}
	return out, nil
}

// ProfilesDelete removes a custom profile.
func ProfilesDelete(ctx context.Context, endpoint, accessToken, profileID string) error {
	httpURL, err := normalizeHTTPURL(endpoint)
	if err != nil {
		return err
	}
	return apiDo(ctx, http.MethodDelete, httpURL+"/profiles/"+profileID, accessToken, nil, nil)
}
