package vncconnect

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// UserSummary is the user info returned by list operations.
type UserSummary struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// UserCreateOptions configures user creation.
type UserCreateOptions struct {
	Endpoint    string
	AccessToken string
	Username    string
	Password    string
}

// UserCreateResponse contains the created user details.
type UserCreateResponse struct {
	Username   string    `json:"username"`
	Password   string    `json:"password"`
	TOTPSecret string    `json:"totp_secret"`
	TOTPURL    string    `json:"totp_url"`
	CreatedAt  time.Time `json:"created_at"`
}

// UserTOTPResponse contains TOTP details.
type UserTOTPResponse struct {
	TOTPSecret string `json:"totp_secret"`
	TOTPURL    string `json:"totp_url"`
}

// UsersList lists host accounts.
func UsersList(ctx context.Context, endpoint, accessToken string) ([]UserSummary, error) {
	httpURL, err := normalizeHTTPURL(endpoint)
	if err != nil {
		return nil, err
	}
	var out []UserSummary
	if err := apiDo(ctx, http.MethodGet, httpURL+"/users", accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UsersAdd creates a new host account.
func UsersAdd(ctx context.Context, opts UserCreateOptions) (UserCreateResponse, error) {
	if strings.TrimSpace(opts.Username) == "" {
		return UserCreateResponse{}, fmt.Errorf("username is required")
	}
	httpURL, err := normalizeHTTPURL(opts.Endpoint)
	if err != nil {
		return UserCreateResponse{}, err
	}
	payload := map[string]string{"username": opts.Username, "password": opts.Password}
	var out UserCreateResponse
	if err := apiDo(ctx, http.MethodPost, httpURL+"/users", opts.AccessToken, payload, &out); err != nil {
		return UserCreateResponse{}, err
	}
	return out, nil
}

// UsersDelete deletes a host account by username.
func UsersDelete(ctx context.Context, endpoint, accessToken, username string) error {
	httpURL, err := normalizeHTTPURL(endpoint)
	if err != nil {
		return err
	}
	return apiDo(ctx, http.MethodDelete, httpURL+"/users/"+username, accessToken, nil, nil)
}

// UsersRotateTOTP rotates a user's TOTP secret.
func UsersRotateTOTP(ctx context.Context, endpoint, accessToken, username string) (UserTOTPResponse, error) {
	httpURL, err := normalizeHTTPURL(endpoint)
	if err != nil {
		return UserTOTPResponse{}, err
	}
	var out UserTOTPResponse
	if err := apiDo(ctx, http.MethodPost, httpURL+"/users/"+username+"/rotate-totp", accessToken, map[string]string{}, &out); err != nil {
		return UserTOTPResponse{}, err
	}
	return out, nil
}

// UsersChpasswd changes a user's password. An empty password asks the relay
// to generate one.
func UsersChpasswd(ctx context.Context, endpoint, accessToken, username, password string) (string, error) {
	httpURL, err := normalizeHTTPURL(endpoint)
	if err != nil {
		return "", err
	}
	var out struct {
		Password string `json:"password"`
	}
	payload := map[string]string{"password": password}
	if err := apiDo(ctx, http.MethodPost, httpURL+"/users/"+username+"/password", accessToken, payload, &out); err != nil {
		return "", err
	}
	return out.Password, nil
}
