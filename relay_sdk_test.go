package vncconnect

import (
	"context"
	"testing"
	"time"

	"pkt.systems/vncconnect/internal/permission"
)

func dialSessionPair(ctx context.Context, t *testing.T, endpoint, accessToken, profileID string) (*RelayConn, *RelayConn) {
	t.Helper()
	issued, err := CredentialIssue(ctx, CredentialIssueOptions{
		Endpoint:    endpoint,
		AccessToken: accessToken,
		ProfileID:   profileID,
	})
	if err != nil {
		t.Fatalf("CredentialIssue: %v", err)
	}
	redeemed, err := CredentialRedeem(ctx, CredentialRedeemOptions{
		Endpoint: endpoint,
		Code:     issued.Code,
		ClientID: "alice",
	})
	if err != nil {
		t.Fatalf("CredentialRedeem: %v", err)
	}

	host, err := RelayDial(ctx, RelayDialOptions{
		Endpoint:    endpoint,
		SessionID:   issued.SessionID,
		Role:        RelayRoleHost,
		AccessToken: accessToken,
	})
	if err != nil {
		t.Fatalf("RelayDial host: %v", err)
	}
	t.Cleanup(func() { _ = host.Close() })

	// The host must be registered before the client joins, or the
	// peer-joined notification has no recipient.
	time.Sleep(100 * time.Millisecond)

	client, err := RelayDial(ctx, RelayDialOptions{
		Endpoint:    endpoint,
		SessionID:   issued.SessionID,
		Role:        RelayRoleClient,
		ClientToken: redeemed.ClientToken,
	})
	if err != nil {
		t.Fatalf("RelayDial client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return host, client
}

func TestRelaySDKEndToEnd(t *testing.T) {
	ts, user := newSDKServer(t)
	state := sdkLogin(t, ts, user)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	host, client := dialSessionPair(ctx, t, ts.URL, state.AccessToken, permission.BuiltInFullAccess)

	env, err := host.Receive(ctx)
	if err != nil {
		t.Fatalf("host receive: %v", err)
	}
	if env.Channel != ChannelControl {
		t.Fatalf("channel = %s, want control", env.Channel)
	}
	var control ControlPayload
	if err := env.DecodePayload(&control); err != nil {
		t.Fatalf("decode control: %v", err)
	}
	if control.Event != ControlPeerJoined {
		t.Fatalf("event = %q, want peer-joined", control.Event)
	}

	if err := client.Send(ctx, ChannelChat, ChatPayload{Text: "hello from the browser"}); err != nil {
		t.Fatalf("client send: %v", err)
	}
	env, err = host.Receive(ctx)
	if err != nil {
		t.Fatalf("host receive chat: %v", err)
	}
	if env.Channel != ChannelChat || env.SenderRole != RelayRoleClient || env.Seq == 0 {
		t.Fatalf("chat envelope = %+v", env)
	}
	var chat ChatPayload
	if err := env.DecodePayload(&chat); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if chat.Text != "hello from the browser" {
		t.Fatalf("chat text = %q", chat.Text)
	}

	if err := host.Send(ctx, ChannelClipboard, ClipboardPayload{Content: "copied"}); err != nil {
		t.Fatalf("host send: %v", err)
	}
	env, err = client.Receive(ctx)
	if err != nil {
		t.Fatalf("client receive: %v", err)
	}
	if env.Channel != ChannelClipboard || env.SenderRole != RelayRoleHost {
		t.Fatalf("clipboard envelope = %+v", env)
	}
	var clip ClipboardPayload
	if err := env.DecodePayload(&clip); err != nil {
		t.Fatalf("decode clipboard: %v", err)
	}
	if clip.Content != "copied" {
		t.Fatalf("clipboard content = %q", clip.Content)
	}
}

func TestRelaySDKCapabilityDenied(t *testing.T) {
	ts, user := newSDKServer(t)
	state := sdkLogin(t, ts, user)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_, client := dialSessionPair(ctx, t, ts.URL, state.AccessToken, permission.BuiltInScreenSharing)

	// View-only profiles do not grant tcp tunneling; the relay answers the
	// sender with an error frame instead of forwarding.
	if err := client.Send(ctx, ChannelTunnel, TunnelPayload{Event: TunnelEventOpen, TunnelID: "tun_x"}); err != nil {
		t.Fatalf("client send: %v", err)
	}
	env, err := client.Receive(ctx)
	if err != nil {
		t.Fatalf("client receive: %v", err)
	}
	if env.Channel != ChannelControl {
		t.Fatalf("channel = %s, want control", env.Channel)
	}
	var control ControlPayload
	if err := env.DecodePayload(&control); err != nil {
		t.Fatalf("decode control: %v", err)
	}
	if control.Event != ControlError {
		t.Fatalf("event = %q, want error", control.Event)
	}
}

func TestRelayDialRejectsBadOptions(t *testing.T) {
	ctx := context.Background()
	if _, err := RelayDial(ctx, RelayDialOptions{Endpoint: "https://relay.example.com", Role: RelayRoleHost}); err == nil {
		t.Fatalf("expected error for missing session id")
	}
	if _, err := RelayDial(ctx, RelayDialOptions{Endpoint: "https://relay.example.com", SessionID: "sess_x", Role: "viewer"}); err == nil {
		t.Fatalf("expected error for unknown role")
	}
	if _, err := RelayDial(ctx, RelayDialOptions{Endpoint: "https://relay.example.com", SessionID: "sess_x", Role: RelayRoleClient}); err == nil {
		t.Fatalf("expected error for missing client token")
	}
}
