package relay

import "time"

// User represents a host account allowed to publish sessions.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	TOTPSecret   string    `json:"totp_secret"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccessToken represents a short-lived API token.
type AccessToken struct {
	Token      string    `json:"token"`
	Username   string    `json:"username"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// RefreshToken represents a long-lived token used to mint access tokens.
type RefreshToken struct {
	Token      string     `json:"token"`
	Username   string     `json:"username"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// ClientToken grants one client websocket access to one session. It is
// minted when an access code is redeemed and dies with the session.
type ClientToken struct {
	Token     string     `json:"token"`
	SessionID string     `json:"session_id"`
	ClientID  string     `json:"client_id"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// IsExpired reports whether the access token is expired.
func (t AccessToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsExpired reports whether the refresh token is expired or revoked.
func (t RefreshToken) IsExpired(now time.Time) bool {
	if t.RevokedAt != nil {
		return true
	}
	return now.After(t.ExpiresAt)
}

// IsRevoked reports whether the client token has been revoked.
func (t ClientToken) IsRevoked() bool {
	return t.RevokedAt != nil
}
