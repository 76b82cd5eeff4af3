package vncconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pkt.systems/vncconnect/internal/authstore"
)

// DefaultAccessRefreshSkew controls how soon we refresh before access expiry.
const DefaultAccessRefreshSkew = time.Minute

// AuthState holds persisted authentication tokens.
type AuthState = authstore.State

// LoginOptions contains the inputs for login.
type LoginOptions struct {
	Endpoint string
	Username string
	Password string
	TOTP     string
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTP     string `json:"totp"`
}

type loginResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login authenticates to the relay and returns auth state.
func Login(ctx context.Context, opts LoginOptions) (AuthState, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return AuthState{}, fmt.Errorf("endpoint is required")
	}
	if opts.Username == "" || opts.Password == "" || opts.TOTP == "" {
		return AuthState{}, fmt.Errorf("username, password, and totp are required")
	}
	httpURL, err := normalizeHTTPURL(opts.Endpoint)
	if err != nil {
		return AuthState{}, err
	}
	out, err := postAuth(ctx, httpURL+"/auth/login", loginRequest{
		Username: opts.Username,
		Password: opts.Password,
		TOTP:     opts.TOTP,
	})
	if err != nil {
		return AuthState{}, err
	}
	return AuthState{
		Endpoint:         httpURL,
		Username:         opts.Username,
		AccessToken:      out.AccessToken,
		AccessExpiresAt:  out.AccessExpiresAt,
		RefreshToken:     out.RefreshToken,
		RefreshExpiresAt: out.RefreshExpiresAt,
	}, nil
}

// Refresh uses the refresh token to obtain a new access token.
func Refresh(ctx context.Context, endpoint, refreshToken string) (AuthState, error) {
	if refreshToken == "" {
		return AuthState{}, fmt.Errorf("refresh token is required")
	}
	httpURL, err := normalizeHTTPURL(endpoint)
	if err != nil {
		return AuthState{}, err
	}
	out, err := postAuth(ctx, httpURL+"/auth/refresh", refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return AuthState{}, err
	}
	return AuthState{
		Endpoint:         httpURL,
		AccessToken:      out.AccessToken,
		AccessExpiresAt:  out.AccessExpiresAt,
		RefreshToken:     out.RefreshToken,
		RefreshExpiresAt: out.RefreshExpiresAt,
	}, nil
}

func postAuth(ctx context.Context, url string, payload any) (loginResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return loginResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return loginResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := newHTTPClient().Do(req)
	if err != nil {
		return loginResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return loginResponse{}, decodeAPIError("auth", resp)
	}
	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return loginResponse{}, err
	}
	return out, nil
}

// LoadAuth loads auth state from disk.
func LoadAuth(path string) (AuthState, error) {
	return authstore.Load(path)
}

// SaveAuth saves auth state to disk.
func SaveAuth(path string, state AuthState) error {
	return authstore.Save(path, state)
}

// EnsureAccessToken loads auth state and refreshes if needed.
func EnsureAccessToken(ctx context.Context, endpoint, authPath string) (AuthState, error) {
	state, err := LoadAuth(authPath)
	if err != nil {
		return AuthState{}, err
	}
	normalized, err := normalizeHTTPURL(endpoint)
	if err != nil {
		return AuthState{}, err
	}
	if state.Endpoint != "" && state.Endpoint != normalized {
		return AuthState{}, fmt.Errorf("auth endpoint %s does not match %s", state.Endpoint, normalized)
	}
	state.Endpoint = normalized
	now := time.Now().UTC()
	if state.AccessValidAt(now.Add(DefaultAccessRefreshSkew)) {
		return state, nil
	}
	if !state.RefreshValidAt(now) {
		return AuthState{}, errors.New("refresh token expired")
	}
	refreshed, err := Refresh(ctx, normalized, state.RefreshToken)
	if err != nil {
		return AuthState{}, err
	}
	refreshed.Username = state.Username
	if err := SaveAuth(authPath, refreshed); err != nil {
		return AuthState{}, err
	}
	return refreshed, nil
}
