package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"pkt.systems/vncconnect/internal/credential"
	"pkt.systems/vncconnect/internal/permission"
	"pkt.systems/vncconnect/internal/policy"
	"pkt.systems/vncconnect/internal/registry"
	"pkt.systems/vncconnect/internal/tunnel"
)

const testPassword = "correct horse"

func newTestServer(t *testing.T) (*HTTPServer, User) {
	t.Helper()
	users := NewUserStore()
	result, err := CreateUser(users, "host", testPassword, time.Now().UTC())
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	reg := registry.NewRegistry(0, 0, nil)
	broker := tunnel.NewBroker(time.Minute, nil)
	server := &HTTPServer{
		Store:         NewStore(),
		Users:         users,
		Authenticator: NewAuthenticator(users),
		Profiles:      permission.NewStore(),
		Issuer:        credential.NewIssuer(nil),
		Registry:      reg,
		Broker:        broker,
		Policy:        policy.NewEngine(time.UTC, nil),
	}
	server.Hub = NewHub(reg, broker, nil, nil)
	return server, result.User
}

func bearerToken(t *testing.T, server *HTTPServer, username string) string {
	t.Helper()
	access, err := server.Store.CreateAccessToken(username, DefaultAccessTokenTTL, time.Now().UTC())
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}
	return access.Token
}

func doJSON(t *testing.T, server *HTTPServer, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	server.Handler().ServeHTTP(resp, req)
	return resp
}

func TestLoginFlow(t *testing.T) {
	server, user := newTestServer(t)

	code, err := totp.GenerateCodeCustom(user.TOTPSecret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom: %v", err)
	}

	resp := doJSON(t, server, http.MethodPost, "/auth/login", "", loginRequest{
		Username: user.Username,
		Password: testPassword,
		TOTP:     code,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.Code, resp.Body.String())
	}
	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		t.Fatalf("expected tokens")
	}

	bad := doJSON(t, server, http.MethodPost, "/auth/login", "", loginRequest{
		Username: user.Username,
		Password: "wrong",
		TOTP:     code,
	})
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", bad.Code)
	}
}

func TestRefreshFlow(t *testing.T) {
	server, user := newTestServer(t)
	refresh, err := server.Store.CreateRefreshToken(user.Username, DefaultRefreshTokenTTL, time.Now().UTC())
	if err != nil {
		t.Fatalf("CreateRefreshToken: %v", err)
	}

	resp := doJSON(t, server, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: refresh.Token})
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.Code, resp.Body.String())
	}
	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.AccessToken == "" {
		t.Fatalf("expected access token")
	}
}

func TestCredentialRedeemFlow(t *testing.T) {
	server, user := newTestServer(t)
	token := bearerToken(t, server, user.Username)

	resp := doJSON(t, server, http.MethodPost, "/sessions/credential", token, credentialRequest{
		ProfileID: permission.BuiltInFullAccess,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("issue status = %d, body %s", resp.Code, resp.Body.String())
	}
	var issued credentialResponse
	if err := json.NewDecoder(resp.Body).Decode(&issued); err != nil {
		t.Fatalf("decode issue: %v", err)
	}
	if issued.Code == "" || issued.SessionID == "" {
		t.Fatalf("issue response = %+v", issued)
	}

	resp = doJSON(t, server, http.MethodPost, "/sessions/redeem", "", redeemRequest{
		Code:     issued.Code,
		ClientID: "alice",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("redeem status = %d, body %s", resp.Code, resp.Body.String())
	}
	var redeemed redeemResponse
	if err := json.NewDecoder(resp.Body).Decode(&redeemed); err != nil {
		t.Fatalf("decode redeem: %v", err)
	}
	if redeemed.SessionID != issued.SessionID || redeemed.ClientToken == "" {
		t.Fatalf("redeem response = %+v", redeemed)
	}
	if redeemed.Profile.ID != permission.BuiltInFullAccess {
		t.Fatalf("profile = %s, want full-access", redeemed.Profile.ID)
	}

	session, ok := server.Registry.Get(issued.SessionID)
	if !ok || session.State != registry.StateActive || session.ClientID != "alice" {
		t.Fatalf("session = %+v", session)
	}

	// A code redeems exactly once.
	resp = doJSON(t, server, http.MethodPost, "/sessions/redeem", "", redeemRequest{
		Code:     issued.Code,
		ClientID: "mallory",
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("second redeem status = %d, want 409", resp.Code)
	}
}

func TestRedeemUnknownCode(t *testing.T) {
	server, _ := newTestServer(t)
	resp := doJSON(t, server, http.MethodPost, "/sessions/redeem", "", redeemRequest{
		Code:     "ABC-123-XYZ",
		ClientID: "alice",
	})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
}

func TestRedeemUnattendedPolicy(t *testing.T) {
	server, user := newTestServer(t)
	token := bearerToken(t, server, user.Username)

	hash, err := policy.HashSecret("open sesame")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	base, _ := server.Profiles.Get(permission.BuiltInFullAccess)
	profile, err := server.Profiles.Create("servers", user.Username, base, time.Now().UTC())
	if err != nil {
		t.Fatalf("Create profile: %v", err)
	}
	profile.IsUnattendedAccess = true
	profile.UnattendedHash = hash
	if _, err := server.Profiles.Update(profile); err != nil {
		t.Fatalf("Update profile: %v", err)
	}

	issue := func() credentialResponse {
		resp := doJSON(t, server, http.MethodPost, "/sessions/credential", token, credentialRequest{ProfileID: profile.ID})
		if resp.Code != http.StatusOK {
			t.Fatalf("issue status = %d, body %s", resp.Code, resp.Body.String())
		}
		var issued credentialResponse
		if err := json.NewDecoder(resp.Body).Decode(&issued); err != nil {
			t.Fatalf("decode issue: %v", err)
		}
		return issued
	}

	issued := issue()
	resp := doJSON(t, server, http.MethodPost, "/sessions/redeem", "", redeemRequest{
		Code:             issued.Code,
		ClientID:         "alice",
		UnattendedSecret: "wrong",
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("bad secret status = %d, want 403", resp.Code)
	}
	var denial map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&denial); err != nil {
		t.Fatalf("decode denial: %v", err)
	}
	if denial["code"] != string(policy.ReasonBadPassword) {
		t.Fatalf("denial code = %q, want bad_password", denial["code"])
	}

	issued = issue()
	resp = doJSON(t, server, http.MethodPost, "/sessions/redeem", "", redeemRequest{
		Code:             issued.Code,
		ClientID:         "alice",
		UnattendedSecret: "open sesame",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("good secret status = %d, body %s", resp.Code, resp.Body.String())
	}
}

func TestProfileEndpoints(t *testing.T) {
	server, user := newTestServer(t)
	token := bearerToken(t, server, user.Username)

	resp := doJSON(t, server, http.MethodPost, "/profiles", token, profileRequest{
		Name:          "support",
		BaseProfileID: permission.BuiltInScreenSharing,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("create status = %d, body %s", resp.Code, resp.Body.String())
	}
	var created permission.Profile
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	if created.IsBuiltIn || created.ID == permission.BuiltInScreenSharing {
		t.Fatalf("created profile should get a fresh identity: %+v", created)
	}

	resp = doJSON(t, server, http.MethodGet, "/profiles", token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list status = %d", resp.Code)
	}
	var listed []permission.Profile
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("listed %d profiles, want built-ins plus one", len(listed))
	}

	// Built-ins reject deletion.
	resp = doJSON(t, server, http.MethodDelete, "/profiles/"+permission.BuiltInFullAccess, token, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("delete built-in status = %d, want 403", resp.Code)
	}

	resp = doJSON(t, server, http.MethodDelete, "/profiles/"+created.ID, token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body %s", resp.Code, resp.Body.String())
	}
}

func TestProfileReadScopedToOwner(t *testing.T) {
	server, user := newTestServer(t)
	token := bearerToken(t, server, user.Username)

	base, _ := server.Profiles.Get(permission.BuiltInScreenSharing)
	profile, err := server.Profiles.Create("support", user.Username, base, time.Now().UTC())
	if err != nil {
		t.Fatalf("Create profile: %v", err)
	}

	resp := doJSON(t, server, http.MethodGet, "/profiles/"+profile.ID, token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("owner read status = %d, body %s", resp.Code, resp.Body.String())
	}

	// Another host's profile must read as not found, matching the update
	// and delete scoping.
	other := bearerToken(t, server, "other-host")
	resp = doJSON(t, server, http.MethodGet, "/profiles/"+profile.ID, other, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("foreign read status = %d, want 404", resp.Code)
	}

	// Built-ins have no owner and stay visible to everyone.
	resp = doJSON(t, server, http.MethodGet, "/profiles/"+permission.BuiltInFullAccess, other, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("built-in read status = %d, want 200", resp.Code)
	}
}

func TestProfileDeleteInUse(t *testing.T) {
	server, user := newTestServer(t)
	token := bearerToken(t, server, user.Username)

	base, _ := server.Profiles.Get(permission.BuiltInScreenSharing)
	profile, err := server.Profiles.Create("support", user.Username, base, time.Now().UTC())
	if err != nil {
		t.Fatalf("Create profile: %v", err)
	}
	server.Registry.CreateSession(user.Username, profile)

	resp := doJSON(t, server, http.MethodDelete, "/profiles/"+profile.ID, token, nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.Code)
	}
}

func TestTunnelEndpoints(t *testing.T) {
	server, user := newTestServer(t)
	token := bearerToken(t, server, user.Username)

	issueAndRedeem := func(profileID string) (string, string) {
		resp := doJSON(t, server, http.MethodPost, "/sessions/credential", token, credentialRequest{ProfileID: profileID})
		if resp.Code != http.StatusOK {
			t.Fatalf("issue status = %d", resp.Code)
		}
		var issued credentialResponse
		_ = json.NewDecoder(resp.Body).Decode(&issued)
		resp = doJSON(t, server, http.MethodPost, "/sessions/redeem", "", redeemRequest{Code: issued.Code, ClientID: "alice"})
		if resp.Code != http.StatusOK {
			t.Fatalf("redeem status = %d", resp.Code)
		}
		var redeemed redeemResponse
		_ = json.NewDecoder(resp.Body).Decode(&redeemed)
		return redeemed.SessionID, redeemed.ClientToken
	}

	// View-only clients may not open tunnels.
	sessionID, clientToken := issueAndRedeem(permission.BuiltInScreenSharing)
	resp := doJSON(t, server, http.MethodPost, "/sessions/"+sessionID+"/tunnels?token="+clientToken, "", tunnelRequest{
		LocalPort: 8080, RemoteHost: "db.internal", RemotePort: 5432,
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("view-only tunnel status = %d, want 403", resp.Code)
	}

	sessionID, clientToken = issueAndRedeem(permission.BuiltInFullAccess)
	resp = doJSON(t, server, http.MethodPost, "/sessions/"+sessionID+"/tunnels?token="+clientToken, "", tunnelRequest{
		LocalPort: 8080, RemoteHost: "db.internal", RemotePort: 5432,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("tunnel open status = %d, body %s", resp.Code, resp.Body.String())
	}
	var tun tunnel.Tunnel
	if err := json.NewDecoder(resp.Body).Decode(&tun); err != nil {
		t.Fatalf("decode tunnel: %v", err)
	}
	if tun.State != tunnel.StateConnecting {
		t.Fatalf("state = %s, want connecting", tun.State)
	}

	resp = doJSON(t, server, http.MethodPost, "/sessions/"+sessionID+"/tunnels?token="+clientToken, "", tunnelRequest{
		LocalPort: 8080, RemoteHost: "other.internal", RemotePort: 80,
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("duplicate port status = %d, want 409", resp.Code)
	}

	resp = doJSON(t, server, http.MethodGet, "/sessions/"+sessionID+"/tunnels", token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list status = %d", resp.Code)
	}
	var tunnels []tunnel.Tunnel
	if err := json.NewDecoder(resp.Body).Decode(&tunnels); err != nil {
		t.Fatalf("decode tunnels: %v", err)
	}
	if len(tunnels) != 1 {
		t.Fatalf("listed %d tunnels, want 1", len(tunnels))
	}

	resp = doJSON(t, server, http.MethodDelete, "/sessions/"+sessionID+"/tunnels/"+tun.ID, token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("close status = %d, body %s", resp.Code, resp.Body.String())
	}
}

func TestEndSession(t *testing.T) {
	server, user := newTestServer(t)
	token := bearerToken(t, server, user.Username)

	resp := doJSON(t, server, http.MethodPost, "/sessions/credential", token, credentialRequest{
		ProfileID: permission.BuiltInFullAccess,
	})
	var issued credentialResponse
	_ = json.NewDecoder(resp.Body).Decode(&issued)

	resp = doJSON(t, server, http.MethodDelete, "/sessions/"+issued.SessionID, token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("end status = %d, body %s", resp.Code, resp.Body.String())
	}
	session, ok := server.Registry.Get(issued.SessionID)
	if !ok || session.State != registry.StateClosed {
		t.Fatalf("session = %+v, want closed", session)
	}

	// Ending again reports the terminal state.
	resp = doJSON(t, server, http.MethodDelete, "/sessions/"+issued.SessionID, token, nil)
	if resp.Code != http.StatusGone {
		t.Fatalf("double end status = %d, want 410", resp.Code)
	}
}

func TestSessionAuthForeignHostGets404(t *testing.T) {
	server, user := newTestServer(t)
	token := bearerToken(t, server, user.Username)

	resp := doJSON(t, server, http.MethodPost, "/sessions/credential", token, credentialRequest{
		ProfileID: permission.BuiltInFullAccess,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("issue status = %d", resp.Code)
	}
	var issued credentialResponse
	_ = json.NewDecoder(resp.Body).Decode(&issued)

	// A valid bearer held by a different host must see the same answer as
	// an unknown session id, not an auth failure.
	foreign := bearerToken(t, server, "other-host")
	for _, call := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/sessions/" + issued.SessionID + "/tunnels"},
		{http.MethodDelete, "/sessions/" + issued.SessionID},
	} {
		resp := doJSON(t, server, call.method, call.path, foreign, nil)
		if resp.Code != http.StatusNotFound {
			t.Fatalf("%s %s status = %d, want 404", call.method, call.path, resp.Code)
		}
		var body map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["code"] != "session_not_found" {
			t.Fatalf("code = %q, want session_not_found", body["code"])
		}
	}

	// No credentials at all still answers 401.
	resp = doJSON(t, server, http.MethodDelete, "/sessions/"+issued.SessionID, "", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous end status = %d, want 401", resp.Code)
	}
}

func TestListSessionsRequiresAuth(t *testing.T) {
	server, _ := newTestServer(t)
	resp := doJSON(t, server, http.MethodGet, "/sessions", "", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Code)
	}
}
