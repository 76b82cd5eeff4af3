package vncconnect

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CredentialIssueOptions configures access code issuance.
type CredentialIssueOptions struct {
	Endpoint    string
	AccessToken string
	ProfileID   string
	TTL         time.Duration
}

// CredentialIssueResponse is the issued access code and its session.
type CredentialIssueResponse struct {
	Code      string    `json:"code"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CredentialRedeemOptions configures access code redemption on the client
// side. UnattendedSecret is only consulted for unattended-access profiles.
type CredentialRedeemOptions struct {
	Endpoint         string
	Code             string
	ClientID         string
	UnattendedSecret string
}

// CredentialRedeemResponse is the attached session and the client token used
// for relay and tunnel access.
type CredentialRedeemResponse struct {
	SessionID   string  `json:"session_id"`
	Profile     Profile `json:"profile"`
	ClientToken string  `json:"client_token"`
}

// CredentialIssue creates a session bound to the profile and returns its
// single-use access code.
func CredentialIssue(ctx context.Context, opts CredentialIssueOptions) (CredentialIssueResponse, error) {
	if strings.TrimSpace(opts.ProfileID) == "" {
		return CredentialIssueResponse{}, fmt.Errorf("profile id is required")
	}
	httpURL, err := normalizeHTTPURL(opts.Endpoint)
	if err != nil {
		return CredentialIssueResponse{}, err
	}
	payload := map[string]string{"profile_id": opts.ProfileID}
	if opts.TTL > 0 {
		payload["ttl"] = opts.TTL.String()
	}
	var out CredentialIssueResponse
	if err := apiDo(ctx, http.MethodPost, httpURL+"/sessions/credential", opts.AccessToken, payload, &out); err != nil {
		return CredentialIssueResponse{}, err
	}
	return out, nil
}

// CredentialRedeem consumes an access code and attaches the caller as the
// session's client. Redemption needs no host account.
func CredentialRedeem(ctx context.Context, opts CredentialRedeemOptions) (CredentialRedeemResponse, error) {
	if strings.TrimSpace(opts.Code) == "" {
		return CredentialRedeemResponse{}, fmt.Errorf("access code is required")
	}
	if strings.TrimSpace(opts.ClientID) == "" {
		return CredentialRedeemResponse{}, fmt.Errorf("client id is required")
	}
	httpURL, err := normalizeHTTPURL(opts.Endpoint)
	if err != nil {
		return CredentialRedeemResponse{}, err
	}
	payload := map[string]string{
		"code":      opts.Code,
		"client_id": opts.ClientID,
	}
	if opts.UnattendedSecret != "" {
		payload["unattended_secret"] = opts.UnattendedSecret
	}
	var out CredentialRedeemResponse
	if err := apiDo(ctx, http.MethodPost, httpURL+"/sessions/redeem", "", payload, &out); err != nil {
		return CredentialRedeemResponse{}, err
	}
	return out, nil
}
