package vncconnect

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"pkt.systems/vncconnect/internal/tunnel"
)

// Tunnel is a TCP port-forward binding carried over the relay.
type Tunnel = tunnel.Tunnel

// TunnelAuth identifies the caller for tunnel operations. Hosts authenticate
// with their access token; clients use the session-scoped client token from
// redemption.
type TunnelAuth struct {
	Endpoint    string
	AccessToken string
	ClientToken string
}

// TunnelOpenOptions configures a port-forward request.
type TunnelOpenOptions struct {
	Auth       TunnelAuth
	SessionID  string
	LocalPort  int
	RemoteHost string
	RemotePort int
}

// TunnelOpen registers a tunnel binding on the session. The tunnel stays in
// connecting state until the remote endpoint acknowledges the bind.
func TunnelOpen(ctx context.Context, opts TunnelOpenOptions) (Tunnel, error) {
	if strings.TrimSpace(opts.SessionID) == "" {
		return Tunnel{}, fmt.Errorf("session id is required")
	}
	base, err := tunnelsURL(opts.Auth, opts.SessionID, "")
	if err != nil {
		return Tunnel{}, err
	}
	payload := map[string]any{
		"local_port":  opts.LocalPort,
		"remote_host": opts.RemoteHost,
		"remote_port": opts.RemotePort,
	}
	var out Tunnel
	if err := apiDo(ctx, http.MethodPost, base, opts.Auth.AccessToken, payload, &out); err != nil {
		return Tunnel{}, err
	}
	return out, nil
}

// TunnelsList lists the session's tunnels.
func TunnelsList(ctx context.Context, auth TunnelAuth, sessionID string) ([]Tunnel, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	base, err := tunnelsURL(auth, sessionID, "")
	if err != nil {
		return nil, err
	}
	var out []Tunnel
	if err := apiDo(ctx, http.MethodGet, base, auth.AccessToken, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TunnelClose releases a tunnel and its local port.
func TunnelClose(ctx context.Context, auth TunnelAuth, sessionID, tunnelID string) (Tunnel, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(tunnelID) == "" {
		return Tunnel{}, fmt.Errorf("session and tunnel ids are required")
	}
	base, err := tunnelsURL(auth, sessionID, "/"+tunnelID)
	if err != nil {
		return Tunnel{}, err
	}
	var out Tunnel
	if err := apiDo(ctx, http.MethodDelete, base, auth.AccessToken, nil, &out); err != nil {
		return Tunnel{}, err
	}
	return out, nil
}

// tunnelsURL builds a session tunnel URL, carrying the client token as a
// query parameter when the caller has no host token.
func tunnelsURL(auth TunnelAuth, sessionID, suffix string) (string, error) {
	httpURL, err := normalizeHTTPURL(auth.Endpoint)
	if err != nil {
		return "", err
	}
	full := httpURL + "/sessions/" + sessionID + "/tunnels" + suffix
	if auth.AccessToken == "" && auth.ClientToken != "" {
		full += "?token=" + url.QueryEscape(auth.ClientToken)
	}
	return full, nil
}
