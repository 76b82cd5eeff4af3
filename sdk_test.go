package vncconnect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"pkt.systems/vncconnect/internal/credential"
	"pkt.systems/vncconnect/internal/permission"
	"pkt.systems/vncconnect/internal/policy"
	"pkt.systems/vncconnect/internal/registry"
	"pkt.systems/vncconnect/internal/relay"
	"pkt.systems/vncconnect/internal/tunnel"
)

const sdkTestPassword = "correct horse"

func newSDKServer(t *testing.T) (*httptest.Server, relay.User) {
	t.Helper()
	users := relay.NewUserStore()
	result, err := relay.CreateUser(users, "host", sdkTestPassword, time.Now().UTC())
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	reg := registry.NewRegistry(0, 0, nil)
	broker := tunnel.NewBroker(time.Minute, nil)
	server := &relay.HTTPServer{
		Store:         relay.NewStore(),
		Users:         users,
		Authenticator: relay.NewAuthenticator(users),
		Profiles:      permission.NewStore(),
		Issuer:        credential.NewIssuer(nil),
		Registry:      reg,
		Broker:        broker,
		Policy:        policy.NewEngine(time.UTC, nil),
	}
	server.Hub = relay.NewHub(reg, broker, nil, nil)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, result.User
}

func sdkLogin(t *testing.T, ts *httptest.Server, user relay.User) AuthState {
	t.Helper()
	code, err := totp.GenerateCodeCustom(user.TOTPSecret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom: %v", err)
	}
	state, err := Login(context.Background(), LoginOptions{
		Endpoint: ts.URL,
		Username: user.Username,
		Password: sdkTestPassword,
		TOTP:     code,
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return state
}

func TestLoginAndRefreshSDK(t *testing.T) {
	ts, user := newSDKServer(t)
	state := sdkLogin(t, ts, user)
	if state.AccessToken == "" || state.RefreshToken == "" {
		t.Fatalf("expected tokens")
	}
	if state.Username != user.Username {
		t.Fatalf("expected username %q, got %q", user.Username, state.Username)
	}

	refreshed, err := Refresh(context.Background(), ts.URL, state.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.AccessToken == "" {
		t.Fatalf("expected access token")
	}
}

func TestRefreshSDKErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(ts.Close)

	if _, err := Refresh(context.Background(), ts.URL, "bad"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEnsureAccessTokenSDK(t *testing.T) {
	ts, user := newSDKServer(t)
	state := sdkLogin(t, ts, user)

	authPath := filepath.Join(t.TempDir(), "auth.json")
	if err := SaveAuth(authPath, state); err != nil {
		t.Fatalf("SaveAuth: %v", err)
	}

	ensured, err := EnsureAccessToken(context.Background(), ts.URL, authPath)
	if err != nil {
		t.Fatalf("EnsureAccessToken: %v", err)
	}
	if ensured.AccessToken != state.AccessToken {
		t.Fatalf("expected stored token to be reused")
	}

	if _, err := EnsureAccessToken(context.Background(), "http://other.example", authPath); err == nil {
		t.Fatalf("expected endpoint mismatch error")
	}
}

func TestCredentialAndSessionSDKFlow(t *testing.T) {
	ts, user := newSDKServer(t)
	state := sdkLogin(t, ts, user)
	ctx := context.Background()

	issued, err := CredentialIssue(ctx, CredentialIssueOptions{
		Endpoint:    ts.URL,
		AccessToken: state.AccessToken,
		ProfileID:   "full-access",
	})
	if err != nil {
		t.Fatalf("CredentialIssue: %v", err)
	}
	if issued.Code == "" || issued.SessionID == "" {
		t.Fatalf("expected code and session id")
	}

	redeemed, err := CredentialRedeem(ctx, CredentialRedeemOptions{
		Endpoint: ts.URL,
		Code:     issued.Code,
		ClientID: "workstation-1",
	})
	if err != nil {
		t.Fatalf("CredentialRedeem: %v", err)
	}
	if redeemed.SessionID != issued.SessionID || redeemed.ClientToken == "" {
		t.Fatalf("unexpected redeem response: %+v", redeemed)
	}

	sessions, err := SessionsList(ctx, ts.URL, state.AccessToken)
	if err != nil {
		t.Fatalf("SessionsList: %v", err)
	}
	if len(sessions) != 1 || sessions[0].State != registry.StateActive {
		t.Fatalf("expected one active session, got %+v", sessions)
	}

	clientAuth := TunnelAuth{Endpoint: ts.URL, ClientToken: redeemed.ClientToken}
	tun, err := TunnelOpen(ctx, TunnelOpenOptions{
		Auth:       clientAuth,
		SessionID:  redeemed.SessionID,
		LocalPort:  5901,
		RemoteHost: "localhost",
		RemotePort: 5900,
	})
	if err != nil {
		t.Fatalf("TunnelOpen: %v", err)
	}
	if tun.State != tunnel.StateConnecting {
		t.Fatalf("expected connecting tunnel, got %s", tun.State)
	}

	listed, err := TunnelsList(ctx, clientAuth, redeemed.SessionID)
	if err != nil {
		t.Fatalf("TunnelsList: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != tun.ID {
		t.Fatalf("unexpected tunnel list: %+v", listed)
	}

	closed, err := TunnelClose(ctx, clientAuth, redeemed.SessionID, tun.ID)
	if err != nil {
		t.Fatalf("TunnelClose: %v", err)
	}
	if closed.State != tunnel.StateClosed {
		t.Fatalf("expected closed tunnel, got %s", closed.State)
	}

	if err := SessionEnd(ctx, ts.URL, state.AccessToken, redeemed.SessionID); err != nil {
		t.Fatalf("SessionEnd: %v", err)
	}
	if err := SessionEnd(ctx, ts.URL, state.AccessToken, redeemed.SessionID); err == nil {
		t.Fatalf("expected error ending a closed session")
	}
}

func TestUsersSDK(t *testing.T) {
	ts, user := newSDKServer(t)
	state := sdkLogin(t, ts, user)
	ctx := context.Background()

	created, err := UsersAdd(ctx, UserCreateOptions{
		Endpoint:    ts.URL,
		AccessToken: state.AccessToken,
		Username:    "operator",
	})
	if err != nil {
		t.Fatalf("UsersAdd: %v", err)
	}
	if created.Password == "" || created.TOTPSecret == "" {
		t.Fatalf("expected generated password and totp secret")
	}

	users, err := UsersList(ctx, ts.URL, state.AccessToken)
	if err != nil {
		t.Fatalf("UsersList: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}

	rotated, err := UsersRotateTOTP(ctx, ts.URL, state.AccessToken, "operator")
	if err != nil {
		t.Fatalf("UsersRotateTOTP: %v", err)
	}
	if rotated.TOTPSecret == created.TOTPSecret {
		t.Fatalf("expected a new totp secret")
	}

	password, err := UsersChpasswd(ctx, ts.URL, state.AccessToken, "operator", "")
	if err != nil {
		t.Fatalf("UsersChpasswd: %v", err)
	}
	if password == "" {
		t.Fatalf("expected generated password")
	}

	if err := UsersDelete(ctx, ts.URL, state.AccessToken, "operator"); err != nil {
		t.Fatalf("UsersDelete: %v", err)
	}
	if _, err := UsersRotateTOTP(ctx, ts.URL, state.AccessToken, "operator"); err == nil {
		t.Fatalf("expected error for deleted user")
	}
}

func TestProfilesSDK(t *testing.T) {
	ts, user := newSDKServer(t)
	state := sdkLogin(t, ts, user)
	ctx := context.Background()

	enabled := true
	created, err := ProfilesCreate(ctx, ProfileOptions{
		Endpoint:      ts.URL,
		AccessToken:   state.AccessToken,
		Name:          "support desk",
		BaseProfileID: "screen-sharing",
		Description:   "view only support",
		IsEnabled:     &enabled,
	})
	if err != nil {
		t.Fatalf("ProfilesCreate: %v", err)
	}
	if created.ID == "" || created.Name != "support desk" {
		t.Fatalf("unexpected profile: %+v", created)
	}

	updated, err := ProfilesUpdate(ctx, created.ID, ProfileOptions{
		Endpoint:    ts.URL,
		AccessToken: state.AccessToken,
		Permissions: map[string]bool{string(permission.CapClipboard): true},
	})
	if err != nil {
		t.Fatalf("ProfilesUpdate: %v", err)
	}
	if !permission.Resolve(updated, permission.CapClipboard) {
		t.Fatalf("expected clipboard grant after update")
	}

	profiles, err := ProfilesList(ctx, ts.URL, state.AccessToken)
	if err != nil {
		t.Fatalf("ProfilesList: %v", err)
	}
	if len(profiles) != 3 {
		t.Fatalf("expected built-ins plus custom, got %d", len(profiles))
	}

	if err := ProfilesDelete(ctx, ts.URL, state.AccessToken, created.ID); err != nil {
		t.Fatalf("ProfilesDelete: %v", err)
	}
	if err := ProfilesDelete(ctx, ts.URL, state.AccessToken, "screen-sharing"); err == nil {
		t.Fatalf("expected error deleting a built-in profile")
	}
}

func TestNormalizeHTTPURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "https://relay.example/v1", want: "https://relay.example/v1"},
		{in: "http://localhost:17900/", want: "http://localhost:17900"},
		{in: "wss://relay.example", want: "https://relay.example"},
		{in: "ws://localhost:17900", want: "http://localhost:17900"},
		{in: "relay.example", err: true},
		{in: "ftp://relay.example", err: true},
	}
	for _, tc := range cases {
		got, err := normalizeHTTPURL(tc.in)
		if tc.err {
			if err == nil {
				t.Fatalf("%s: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.in, got, tc.want)
		}
	}
}
