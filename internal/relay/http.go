package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"pkt.systems/pslog"
	"pkt.systems/vncconnect/internal/credential"
	"pkt.systems/vncconnect/internal/permission"
	"pkt.systems/vncconnect/internal/policy"
	"pkt.systems/vncconnect/internal/registry"
	"pkt.systems/vncconnect/internal/tunnel"
)

const (
	wsReadLimit    = 1 << 20
	wsPingInterval = 30 * time.Second
	wsPongTimeout  = 60 * time.Second
)

// HTTPServer exposes the signaling REST and websocket endpoints.
type HTTPServer struct {
	Store         *Store
	Users         *UserStore
	Authenticator *Authenticator
	Profiles      *permission.Store
	Issuer        *credential.Issuer
	Registry      *registry.Registry
	Broker        *tunnel.Broker
	Policy        *policy.Engine
	Hub           *Hub
	Logger        pslog.Logger
	DataDir       string
	UsersFile     string
	ProfilesFile  string
	CredentialTTL time.Duration
}

// Handler returns the HTTP handler for all endpoints.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/auth/login", s.handleLogin)
	mux.HandleFunc("/auth/refresh", s.handleRefresh)
	mux.HandleFunc("/users", s.handleUsers)
	mux.HandleFunc("/users/", s.handleUserAction)
	mux.HandleFunc("/profiles", s.handleProfiles)
	mux.HandleFunc("/profiles/", s.handleProfileAction)
	mux.HandleFunc("/sessions", s.handleListSessions)
	mux.HandleFunc("/sessions/", s.handleSessionAction)
	return mux
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTP     string `json:"totp"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type loginResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.Hub == nil {
		writeJSON(w, http.StatusOK, map[string]uint64{})
		return
	}
	writeJSON(w, http.StatusOK, s.Hub.Metrics().Snapshot())
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.Users == nil {
		writeError(w, http.StatusInternalServerError, "internal", "user store unavailable")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	user, err := s.Authenticator.Validate(req.Username, req.Password, req.TOTP, time.Now())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	now := time.Now().UTC()
	access, err := s.Store.CreateAccessToken(user.Username, DefaultAccessTokenTTL, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "token generation failed")
		return
	}
	refresh, err := s.Store.CreateRefreshToken(user.Username, DefaultRefreshTokenTTL, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "token generation failed")
		return
	}
	if err := s.persist(); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to persist state")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
	})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	now := time.Now().UTC()
	refresh, err := s.Store.ValidateRefreshToken(req.RefreshToken, now)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", err.Error())
		return
	}
	access, err := s.Store.CreateAccessToken(refresh.Username, DefaultAccessTokenTTL, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "token generation failed")
		return
	}
	if err := s.persist(); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to persist state")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
	})
}

type userResponse struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type userCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

type userCreateResponse struct {
	Username   string    `json:"username"`
	Password   string    `json:"password"`
	TOTPSecret string    `json:"totp_secret"`
	TOTPURL    string    `json:"totp_url"`
	CreatedAt  time.Time `json:"created_at"`
}

type userPasswordRequest struct {
	Password string `json:"password,omitempty"`
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if _, err := s.requireAuth(r); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		users := s.Users.List()
		resp := make([]userResponse, 0, len(users))
		for _, user := range users {
			resp = append(resp, userResponse{Username: user.Username, CreatedAt: user.CreatedAt})
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req userCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid json")
			return
		}
		result, err := CreateUser(s.Users, req.Username, req.Password, time.Now().UTC())
		if err != nil {
			switch {
			case errors.Is(err, ErrUsernameRequired):
				writeError(w, http.StatusBadRequest, "validation", "username is required")
			case errors.Is(err, ErrInvalidUsername):
				writeError(w, http.StatusBadRequest, "validation", err.Error())
			case errors.Is(err, ErrUserExists):
				writeError(w, http.StatusConflict, "user_exists", "username already exists")
			default:
				writeError(w, http.StatusInternalServerError, "internal", "user creation failed")
			}
			return
		}
		if err := s.persistUsers(); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to persist state")
			return
		}
		writeJSON(w, http.StatusOK, userCreateResponse{
			Username:   result.User.Username,
			Password:   result.Password,
			TOTPSecret: result.TOTPSecret,
			TOTPURL:    result.TOTPURL,
			CreatedAt:  result.User.CreatedAt,
		})
	}
}

func (s *HTTPServer) handleUserAction(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireAuth(r); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/users/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "validation", "user is required")
		return
	}
	username := parts[0]

	if len(parts) == 1 && r.Method == http.MethodDelete {
		user, err := DeleteUser(s.Users, username)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		s.Store.RevokeTokensForUsername(user.Username)
		if err := s.persistUsers(); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to persist state")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		return
	}

	if len(parts) == 2 && r.Method == http.MethodPost {
		switch parts[1] {
		case "rotate-totp":
			result, err := RotateUserTOTP(s.Users, username)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			if err := s.persistUsers(); err != nil {
				writeError(w, http.StatusInternalServerError, "internal", "failed to persist state")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"totp_secret": result.TOTPSecret, "totp_url": result.TOTPURL})
			return
		case "password":
			var req userPasswordRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_json", "invalid json")
				return
			}
			result, err := ChangeUserPassword(s.Users, username, req.Password)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			if err := s.persistUsers(); err != nil {
				writeError(w, http.StatusInternalServerError, "internal", "failed to persist state")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"password": result.Password})
			return
		}
	}

	writeError(w, http.StatusNotFound, "not_found", "unsupported user action")
}

type profileRequest struct {
	Name               string               `json:"name"`
	Description        string               `json:"description,omitempty"`
	BaseProfileID      string               `json:"base_profile_id,omitempty"`
	Permissions        permission.Set       `json:"permissions,omitempty"`
	IsEnabled          *bool                `json:"is_enabled,omitempty"`
	IsUnattendedAccess *bool                `json:"is_unattended_access,omitempty"`
	UnattendedPassword string               `json:"unattended_password,omitempty"`
	AllowedUsers       []string             `json:"allowed_users,omitempty"`
	Schedule           *permission.Schedule `json:"schedule,omitempty"`
}

func (s *HTTPServer) handleProfiles(w http.ResponseWriter, r *http.Request) {
	username, err := s.requireAuth(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.Profiles.List(username))
	case http.MethodPost:
		var req profileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid json")
			return
		}
		base := permission.Profile{Permissions: req.Permissions, IsEnabled: true}
		if req.BaseProfileID != "" {
			existing, ok := s.Profiles.Get(req.BaseProfileID)
			if !ok {
				writeError(w, http.StatusNotFound, "profile_not_found", "base profile not found")
				return
			}
			base = existing
			if req.Permissions != nil {
				base.Permissions = req.Permissions
			}
		}
		created, err := s.Profiles.Create(req.Name, username, base, time.Now().UTC())
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		updated, err := s.applyProfileRequest(created, req)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		if err := s.persistProfiles(); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to persist state")
			return
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *HTTPServer) handleProfileAction(w http.ResponseWriter, r *http.Request) {
	username, err := s.requireAuth(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/profiles/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "validation", "profile id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		profile, ok := s.Profiles.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "profile_not_found", "profile not found")
			return
		}
		if profile.Owner != "" && profile.Owner != username {
			writeError(w, http.StatusNotFound, "profile_not_found", "profile not found")
			return
		}
		writeJSON(w, http.StatusOK, profile)
	case http.MethodPut:
		var req profileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid json")
			return
		}
		profile, ok := s.Profiles.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "profile_not_found", "profile not found")
			return
		}
		if profile.Owner != "" && profile.Owner != username {
			writeError(w, http.StatusNotFound, "profile_not_found", "profile not found")
			return
		}
		if req.Name != "" {
			profile.Name = req.Name
		}
		updated, err := s.applyProfileRequest(profile, req)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		if err := s.persistProfiles(); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to persist state")
			return
		}
		// Live sessions carry a profile snapshot; swap it and tell both ends.
		if s.Registry != nil {
			for _, sessionID := range s.Registry.UpdateProfile(updated) {
				if s.Hub != nil {
					s.Hub.BroadcastProfileChanged(r.Context(), sessionID, updated.ID)
				}
			}
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		var inUse func(string) bool
		if s.Registry != nil {
			inUse = s.Registry.ProfileInUse
		}
		if err := s.Profiles.Delete(id, inUse); err != nil {
			s.writeMappedError(w, err)
			return
		}
		if err := s.persistProfiles(); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to persist state")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// applyProfileRequest copies the optional mutation fields onto the profile
// and stores the result. The unattended password is hashed before storage.
func (s *HTTPServer) applyProfileRequest(profile permission.Profile, req profileRequest) (permission.Profile, error) {
	if req.Description != "" {
		profile.Description = req.Description
	}
	if req.Permissions != nil {
		profile.Permissions = req.Permissions
	}
	if req.IsEnabled != nil {
		profile.IsEnabled = *req.IsEnabled
	}
	if req.IsUnattendedAccess != nil {
		profile.IsUnattendedAccess = *req.IsUnattendedAccess
	}
	if req.UnattendedPassword != "" {
		hash, err := policy.HashSecret(req.UnattendedPassword)
		if err != nil {
			return permission.Profile{}, err
		}
		profile.UnattendedHash = hash
	}
	if req.AllowedUsers != nil {
		profile.AllowedUsers = req.AllowedUsers
	}
	if req.Schedule != nil {
		profile.Schedule = req.Schedule
	}
	return s.Profiles.Update(profile)
}

func (s *HTTPServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	username, err := s.requireAuth(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Registry.ListSessions(username))
}

type credentialRequest struct {
	ProfileID string `json:"profile_id"`
	TTL       string `json:"ttl,omitempty"`
}

type credentialResponse struct {
	Code      string    `json:"code"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type redeemRequest struct {
	Code             string `json:"code"`
	ClientID         string `json:"client_id"`
	UnattendedSecret string `json:"unattended_secret,omitempty"`
}

type redeemResponse struct {
	SessionID   string             `json:"session_id"`
	Profile     permission.Profile `json:"profile"`
	ClientToken string             `json:"client_token"`
}

type tunnelRequest struct {
	LocalPort  int    `json:"local_port"`
	RemoteHost string `json:"remote_host"`
	RemotePort int    `json:"remote_port"`
}

func (s *HTTPServer) handleSessionAction(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "validation", "session id is required")
		return
	}

	switch parts[0] {
	case "credential":
		s.handleCredentialIssue(w, r)
		return
	case "redeem":
		s.handleCredentialRedeem(w, r)
		return
	}

	sessionID := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.handleEndSession(w, r, sessionID)
	case len(parts) == 2 && parts[1] == "relay":
		s.handleRelayWS(w, r, sessionID)
	case len(parts) == 2 && parts[1] == "tunnels":
		s.handleTunnels(w, r, sessionID)
	case len(parts) == 3 && parts[1] == "tunnels" && r.Method == http.MethodDelete:
		s.handleTunnelClose(w, r, sessionID, parts[2])
	default:
		writeError(w, http.StatusNotFound, "not_found", "unsupported session action")
	}
}

func (s *HTTPServer) handleCredentialIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	username, err := s.requireAuth(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	profile, ok := s.Profiles.Get(req.ProfileID)
	if !ok {
		writeError(w, http.StatusNotFound, "profile_not_found", "profile not found")
		return
	}
	if !profile.IsEnabled {
		writeError(w, http.StatusForbidden, "profile_disabled", "profile is disabled")
		return
	}
	ttl := s.CredentialTTL
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", "invalid ttl")
			return
		}
		ttl = parsed
	}
	session := s.Registry.CreateSession(username, profile)
	cred, err := s.Issuer.Issue(session.ID, profile.ID, ttl)
	if err != nil {
		_ = s.Registry.EndSession(session.ID, "credential issue failed")
		writeError(w, http.StatusInternalServerError, "internal", "credential issue failed")
		return
	}
	writeJSON(w, http.StatusOK, credentialResponse{
		Code:      credential.Format(cred.Code),
		SessionID: session.ID,
		ExpiresAt: cred.ExpiresAt,
	})
}

func (s *HTTPServer) handleCredentialRedeem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	if strings.TrimSpace(req.ClientID) == "" {
		writeError(w, http.StatusBadRequest, "validation", "client id is required")
		return
	}
	cred, err := s.Issuer.Redeem(req.Code)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	session, ok := s.Registry.Get(cred.HostSessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found", "session not found")
		return
	}
	if session.Profile.IsUnattendedAccess {
		decision := s.Policy.Evaluate(session.Profile, req.ClientID, req.UnattendedSecret, time.Now())
		if !decision.Allowed {
			writeError(w, http.StatusForbidden, string(decision.Reason), "unattended access denied")
			return
		}
	}
	attached, err := s.Registry.AttachClient(r.Context(), cred.HostSessionID, req.ClientID)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	token, err := s.Store.CreateClientToken(attached.ID, req.ClientID, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "token generation failed")
		return
	}
	if err := s.persist(); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to persist state")
		return
	}
	writeJSON(w, http.StatusOK, redeemResponse{
		SessionID:   attached.ID,
		Profile:     attached.Profile,
		ClientToken: token.Token,
	})
}

func (s *HTTPServer) handleEndSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	// Either side may hang up: the host with its bearer token, the client
	// with its session token.
	_, role, err := s.authSession(r, sessionID)
	if err != nil {
		s.writeSessionAuthError(w, err)
		return
	}
	if err := s.Registry.EndSession(sessionID, "ended by "+string(role)); err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *HTTPServer) handleTunnels(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, role, err := s.authSession(r, sessionID)
	if err != nil {
		s.writeSessionAuthError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.Broker.List(sessionID))
	case http.MethodPost:
		if role == RoleClient && !permission.Resolve(session.Profile, permission.CapTCPTunneling) {
			writeError(w, http.StatusForbidden, "permission_denied", "profile does not grant tcp tunneling")
			return
		}
		var req tunnelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid json")
			return
		}
		tun, err := s.Broker.Open(r.Context(), sessionID, req.LocalPort, req.RemoteHost, req.RemotePort)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tun)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *HTTPServer) handleTunnelClose(w http.ResponseWriter, r *http.Request, sessionID, tunnelID string) {
	if _, _, err := s.authSession(r, sessionID); err != nil {
		s.writeSessionAuthError(w, err)
		return
	}
	tun, ok := s.Broker.Get(tunnelID)
	if !ok || tun.SessionID != sessionID {
		writeError(w, http.StatusNotFound, "tunnel_not_found", "tunnel not found")
		return
	}
	closed, err := s.Broker.Close(tunnelID)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, closed)
}

func (s *HTTPServer) handleRelayWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	role := Role(r.URL.Query().Get("role"))
	if role != RoleHost && role != RoleClient {
		writeError(w, http.StatusBadRequest, "validation", "role must be host or client")
		return
	}

	session, ok := s.Registry.Get(sessionID)
	if !ok || session.Terminal() {
		writeError(w, http.StatusNotFound, "session_not_found", "session not found")
		return
	}

	switch role {
	case RoleHost:
		username, err := s.requireAuth(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		if session.HostID != username {
			writeError(w, http.StatusNotFound, "session_not_found", "session not found")
			return
		}
	case RoleClient:
		token := r.URL.Query().Get("token")
		if _, err := s.Store.ValidateClientToken(token, sessionID); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid client token")
			return
		}
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(wsReadLimit)

	ctx := r.Context()
	logger := s.loggerWithContext(ctx).With("role", string(role), "session", sessionID)
	ws := newWSConn(conn, role, sessionID)
	defer func() {
		s.Hub.Unregister(ws)
		_ = ws.Close(ctx, "closing")
	}()

	if err := s.Hub.Register(ctx, ws); err != nil {
		_ = ws.Send(ctx, errorEnvelope(sessionID, err.Error()))
		return
	}
	logger.Info("relay connected")

	s.serveWSLoop(ctx, ws, logger)
}

func (s *HTTPServer) serveWSLoop(ctx context.Context, ws *wsConn, logger pslog.Logger) {
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(pingCtx, ws, logger, wsPingInterval)

	for {
		env, err := ws.Receive(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				logger.Debug("relay read failed", "err", err)
			}
			return
		}
		if err := s.Hub.Send(ctx, ws, env); err != nil {
			_ = ws.Send(ctx, errorEnvelope(ws.SessionID(), err.Error()))
		}
	}
}

func (s *HTTPServer) pingLoop(ctx context.Context, ws *wsConn, logger pslog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsPongTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Debug("websocket ping failed", "err", err)
				continue
			}
			// A pong proves both endpoints are still alive. Count it as
			// session activity so a quiet but connected pair is not swept
			// into suspension.
			s.Registry.Touch(ws.SessionID())
		}
	}
}

// requireAuth validates the bearer access token and returns the username.
func (s *HTTPServer) requireAuth(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	access, err := s.Store.ValidateAccessToken(token, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return access.Username, nil
}

// authSession accepts either the host's access token or a session-scoped
// client token and reports which role the caller holds.
func (s *HTTPServer) authSession(r *http.Request, sessionID string) (registry.Session, Role, error) {
	session, ok := s.Registry.Get(sessionID)
	if !ok {
		return registry.Session{}, "", registry.ErrSessionNotFound
	}
	if username, err := s.requireAuth(r); err == nil {
		// A valid bearer held by a different host must not learn the
		// session exists; it gets the same answer as an unknown id.
		if session.HostID != username {
			return registry.Session{}, "", registry.ErrSessionNotFound
		}
		return session, RoleHost, nil
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("X-Client-Token")
	}
	if _, err := s.Store.ValidateClientToken(token, sessionID); err != nil {
		return registry.Session{}, "", errors.New("missing or invalid token")
	}
	return session, RoleClient, nil
}

// writeSessionAuthError keeps the not-found/unauthorized split: unknown or
// foreign sessions answer 404, bad tokens answer 401.
func (s *HTTPServer) writeSessionAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, registry.ErrSessionNotFound) {
		s.writeMappedError(w, err)
		return
	}
	writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
}

// writeMappedError translates sentinel errors into the documented status
// and machine-readable code.
func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, permission.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "invalid_name", err.Error())
	case errors.Is(err, permission.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "profile_not_found", err.Error())
	case errors.Is(err, permission.ErrImmutableProfile):
		writeError(w, http.StatusForbidden, "immutable_profile", err.Error())
	case errors.Is(err, permission.ErrProfileInUse):
		writeError(w, http.StatusConflict, "profile_in_use", err.Error())
	case errors.Is(err, credential.ErrCodeNotFound):
		writeError(w, http.StatusNotFound, "code_not_found", err.Error())
	case errors.Is(err, credential.ErrCodeExpired):
		writeError(w, http.StatusGone, "code_expired", err.Error())
	case errors.Is(err, credential.ErrCodeConsumed):
		writeError(w, http.StatusConflict, "already_consumed", err.Error())
	case errors.Is(err, registry.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, registry.ErrSessionFull):
		writeError(w, http.StatusConflict, "session_full", err.Error())
	case errors.Is(err, registry.ErrSessionClosed):
		writeError(w, http.StatusGone, "session_closed", err.Error())
	case errors.Is(err, tunnel.ErrTunnelNotFound):
		writeError(w, http.StatusNotFound, "tunnel_not_found", err.Error())
	case errors.Is(err, tunnel.ErrPortInUse):
		writeError(w, http.StatusConflict, "port_in_use", err.Error())
	case errors.Is(err, ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, ErrUsernameRequired), errors.Is(err, ErrInvalidUsername):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusBadRequest, "cancelled", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

func (s *HTTPServer) persist() error {
	if s.Store == nil || s.DataDir == "" {
		return nil
	}
	if err := s.Store.Save(s.DataDir); err != nil {
		s.Logger.Error("failed to persist relay state", "err", err)
		return err
	}
	return nil
}

func (s *HTTPServer) persistUsers() error {
	if s.Users == nil || s.UsersFile == "" {
		return nil
	}
	if err := s.Users.Save(s.UsersFile); err != nil {
		s.Logger.Error("failed to persist users", "err", err)
		return err
	}
	return nil
}

func (s *HTTPServer) persistProfiles() error {
	if s.Profiles == nil || s.ProfilesFile == "" {
		return nil
	}
	if err := s.Profiles.Save(s.ProfilesFile); err != nil {
		s.Logger.Error("failed to persist profiles", "err", err)
		return err
	}
	return nil
}

func (s *HTTPServer) loggerWithContext(ctx context.Context) pslog.Logger {
	if ctx != nil {
		if logger := pslog.Ctx(ctx); logger != nil {
			return logger
		}
	}
	return s.Logger
}
