package vncconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"pkt.systems/vncconnect/internal/relay"
)

// Wire types re-exported so SDK callers can speak the signaling protocol
// without reaching into internal packages.
type (
	Envelope         = relay.Envelope
	Channel          = relay.Channel
	RelayRole        = relay.Role
	ControlPayload   = relay.ControlPayload
	ChatPayload      = relay.ChatPayload
	ClipboardPayload = relay.ClipboardPayload
	TunnelPayload    = relay.TunnelPayload
)

// Relay endpoint roles.
const (
	RelayRoleHost   = relay.RoleHost
	RelayRoleClient = relay.RoleClient
)

// Channels multiplexed over a session's relay connection.
const (
	ChannelChat       = relay.ChannelChat
	ChannelClipboard  = relay.ChannelClipboard
	ChannelFile       = relay.ChannelFile
	ChannelWhiteboard = relay.ChannelWhiteboard
	ChannelTunnel     = relay.ChannelTunnel
	ChannelControl    = relay.ChannelControl
)

// Control events carried on the control channel.
const (
	ControlHello          = relay.ControlHello
	ControlWelcome        = relay.ControlWelcome
	ControlAck            = relay.ControlAck
	ControlError          = relay.ControlError
	ControlPeerJoined     = relay.ControlPeerJoined
	ControlPeerLeft       = relay.ControlPeerLeft
	ControlSessionClosed  = relay.ControlSessionClosed
	ControlProfileChanged = relay.ControlProfileChanged
)

// Tunnel signaling events carried on the tunnel channel.
const (
	TunnelEventOpen  = relay.TunnelOpen
	TunnelEventAck   = relay.TunnelAck
	TunnelEventFail  = relay.TunnelFail
	TunnelEventClose = relay.TunnelClose
)

// RelayDialOptions configures a signaling connection to a session.
type RelayDialOptions struct {
	Endpoint  string
	SessionID string
	Role      RelayRole

	// AccessToken authenticates the host role; ClientToken, minted at
	// redeem time, authenticates the client role.
	AccessToken string
	ClientToken string
}

// RelayConn is a live signaling connection to a session. One goroutine may
// call Receive while others call Send.
type RelayConn struct {
	ws        *websocket.Conn
	sessionID string
	role      RelayRole
}

// RelayDial connects to a session's signaling relay.
func RelayDial(ctx context.Context, opts RelayDialOptions) (*RelayConn, error) {
	if opts.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	base, err := normalizeWSURL(opts.Endpoint)
	if err != nil {
		return nil, err
	}
	wsURL := base + "/sessions/" + url.PathEscape(opts.SessionID) + "/relay?role=" + url.QueryEscape(string(opts.Role))
	header := http.Header{}
	switch opts.Role {
	case RelayRoleHost:
		if opts.AccessToken == "" {
			return nil, fmt.Errorf("access token is required for the host role")
		}
		header.Set("Authorization", "Bearer "+opts.AccessToken)
	case RelayRoleClient:
		if opts.ClientToken == "" {
			return nil, fmt.Errorf("client token is required for the client role")
		}
		wsURL += "&token=" + url.QueryEscape(opts.ClientToken)
	default:
		return nil, fmt.Errorf("role must be host or client")
	}
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: newHTTPClient(),
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("relay dial failed: %w", err)
	}
	conn.SetReadLimit(1 << 20)
	return &RelayConn{ws: conn, sessionID: opts.SessionID, role: opts.Role}, nil
}

// SessionID returns the session this connection belongs to.
func (c *RelayConn) SessionID() string { return c.sessionID }

// Role returns the side of the session this connection holds.
func (c *RelayConn) Role() RelayRole { return c.role }

// Send marshals payload into an envelope on the given channel.
func (c *RelayConn) Send(ctx context.Context, channel Channel, payload any) error {
	env, err := relay.NewEnvelope(channel, c.sessionID, c.role, payload)
	if err != nil {
		return err
	}
	return c.SendEnvelope(ctx, env)
}

// SendEnvelope writes a prebuilt envelope to the relay.
func (c *RelayConn) SendEnvelope(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Receive blocks until the next envelope arrives.
func (c *RelayConn) Receive(ctx context.Context) (Envelope, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Ack confirms receipt of a control frame so the relay stops retrying it.
func (c *RelayConn) Ack(ctx context.Context, seq uint64) error {
	return c.Send(ctx, ChannelControl, ControlPayload{Event: ControlAck, AckSeq: seq})
}

// Close ends the connection with a normal closure.
func (c *RelayConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
