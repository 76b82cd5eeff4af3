package relay

import (
	"encoding/json"
	"time"
)

// Role identifies a relay endpoint role.
type Role string

// Endpoint roles for relay routing.
const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// Channel identifies a multiplexed message stream within a session.
type Channel string

// Channels multiplexed over the relay.
const (
	ChannelChat       Channel = "chat"
	ChannelClipboard  Channel = "clipboard"
	ChannelFile       Channel = "file"
	ChannelWhiteboard Channel = "whiteboard"
	ChannelTunnel     Channel = "tunnel"
	ChannelControl    Channel = "control"
)

// Envelope wraps every relay message. Seq is assigned per session and
// channel, so ordering holds within a channel and nowhere else.
type Envelope struct {
	SessionID  string          `json:"session_id,omitempty"`
	Channel    Channel         `json:"channel"`
	Seq        uint64          `json:"seq,omitempty"`
	SenderRole Role            `json:"sender_role,omitempty"`
	TS         time.Time       `json:"ts,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope constructs an envelope with a marshaled payload.
func NewEnvelope(channel Channel, sessionID string, sender Role, payload any) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		raw = data
	}
	return Envelope{SessionID: sessionID, Channel: channel, SenderRole: sender, Payload: raw}, nil
}

// DecodePayload unmarshals the payload into the provided struct.
func (e Envelope) DecodePayload(out any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, out)
}

// Control events carried on the control channel.
const (
	ControlHello          = "hello"
	ControlWelcome        = "welcome"
	ControlAck            = "ack"
	ControlError          = "error"
	ControlPeerJoined     = "peer-joined"
	ControlPeerLeft       = "peer-left"
	ControlSessionClosed  = "session-closed"
	ControlProfileChanged = "profile-changed"
)

// ControlPayload carries session lifecycle signaling.
type ControlPayload struct {
	Event     string `json:"event"`
	AckSeq    uint64 `json:"ack_seq,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
	ProfileID string `json:"profile_id,omitempty"`
}

// Tunnel events carried on the tunnel channel.
const (
	TunnelOpen  = "open"
	TunnelAck   = "ack"
	TunnelFail  = "fail"
	TunnelClose = "close"
)

// TunnelPayload carries tunnel-setup signaling between the endpoints.
type TunnelPayload struct {
	Event      string `json:"event"`
	TunnelID   string `json:"tunnel_id"`
	LocalPort  int    `json:"local_port,omitempty"`
	RemoteHost string `json:"remote_host,omitempty"`
	RemotePort int    `json:"remote_port,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ChatPayload carries a chat line.
type ChatPayload struct {
	Text string `json:"text"`
}

// ClipboardPayload carries clipboard sync content.
type ClipboardPayload struct {
	Content string `json:"content"`
}

func controlEnvelope(sessionID string, sender Role, payload ControlPayload) Envelope {
	env, _ := NewEnvelope(ChannelControl, sessionID, sender, payload)
	return env
}

func errorEnvelope(sessionID, message string) Envelope {
	return controlEnvelope(sessionID, "", ControlPayload{Event: ControlError, Message: message})
}
