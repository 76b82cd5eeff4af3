package vncconnect

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"pkt.systems/vncconnect/internal/registry"
)

// Session is a host/client pairing tracked by the relay.
type Session = registry.Session

// SessionsList lists the authenticated host's sessions, newest first.
func SessionsList(ctx context.Context, endpoint, accessToken string) ([]Session, error) {
	httpURL, err := normalizeHTTPURL(endpoint)
	if err != nil {
		return nil, err
	}
	var out []Session
	if err := apiDo(ctx, http.MethodGet, httpURL+"/sessions", accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SessionEnd closes one of the host's sessions.
func SessionEnd(ctx context.Context, endpoint, accessToken, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	httpURL, err := normalizeHTTPURL(endpoint)
	if err != nil {
		return err
	}
	return apiDo(ctx, http.MethodDelete, httpURL+"/sessions/"+sessionID, accessToken, nil, nil)
}
