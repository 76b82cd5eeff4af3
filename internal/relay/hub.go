package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/vncconnect/internal/permission"
	"pkt.systems/vncconnect/internal/registry"
	"pkt.systems/vncconnect/internal/tunnel"
)

// ErrCapabilityDenied is returned when a client sends on a channel its
// permission profile does not grant.
var ErrCapabilityDenied = errors.New("capability denied")

// channelCapability maps gated channels to the capability they require.
// Chat and control are ungated; hosts are always privileged.
var channelCapability = map[Channel]permission.Capability{
	ChannelClipboard:  permission.CapClipboard,
	ChannelFile:       permission.CapFileTransfer,
	ChannelWhiteboard: permission.CapWhiteboard,
	ChannelTunnel:     permission.CapTCPTunneling,
}

type connection interface {
	ID() string
	Role() Role
	SessionID() string
	Send(ctx context.Context, env Envelope) error
	Close(ctx context.Context, reason string) error
}

// Hub routes envelopes between the two endpoints of each session. The hub
// lock only guards the link map; each link carries its own lock.
type Hub struct {
	mu    sync.Mutex
	links map[string]*link

	registry *registry.Registry
	broker   *tunnel.Broker
	metrics  *Metrics
	logger   pslog.Logger
}

type link struct {
	mu        sync.Mutex
	sessionID string
	host      connection
	client    connection
	seq       map[Channel]uint64
	pending   []pendingControl
}

// pendingControl is a lifecycle control frame retried until the recipient
// acknowledges it or the session closes.
type pendingControl struct {
	env Envelope
	to  Role
}

// NewHub constructs a Hub bound to the session registry and tunnel broker.
func NewHub(reg *registry.Registry, broker *tunnel.Broker, metrics *Metrics, logger pslog.Logger) *Hub {
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	hub := &Hub{
		links:    make(map[string]*link),
		registry: reg,
		broker:   broker,
		metrics:  metrics,
		logger:   logger,
	}
	if reg != nil {
		reg.OnClose(hub.closeSession)
	}
	return hub
}

// Metrics exposes the hub's counters.
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

// Register attaches a connection as its session endpoint, replacing a stale
// endpoint of the same role, and announces the arrival to the peer.
func (h *Hub) Register(ctx context.Context, conn connection) error {
	lk := h.link(conn.SessionID())

	lk.mu.Lock()
	var stale connection
	switch conn.Role() {
	case RoleHost:
		stale = lk.host
		lk.host = conn
	case RoleClient:
		stale = lk.client
		lk.client = conn
	default:
		lk.mu.Unlock()
		return fmt.Errorf("unknown role %q", conn.Role())
	}
	peer := lk.other(conn.Role())
	lk.mu.Unlock()

	if stale != nil {
		_ = stale.Close(ctx, "replaced by new connection")
	}
	if h.registry != nil {
		h.registry.Touch(conn.SessionID())
	}
	if peer != nil {
		_ = peer.Send(ctx, controlEnvelope(conn.SessionID(), conn.Role(), ControlPayload{Event: ControlPeerJoined}))
	}
	h.logger.Info("endpoint registered", "session", conn.SessionID(), "role", string(conn.Role()))
	return nil
}

// Unregister detaches a connection. A drop while the session is live
// suspends it; reconnection resumes it.
func (h *Hub) Unregister(conn connection) {
	lk := h.existing(conn.SessionID())
	if lk == nil {
		return
	}
	lk.mu.Lock()
	removed := false
	switch conn.Role() {
	case RoleHost:
		if lk.host != nil && lk.host.ID() == conn.ID() {
			lk.host = nil
			removed = true
		}
	case RoleClient:
		if lk.client != nil && lk.client.ID() == conn.ID() {
			lk.client = nil
			removed = true
		}
	}
	peer := lk.other(conn.Role())
	lk.mu.Unlock()

	if !removed {
		return
	}
	if h.registry != nil {
		h.registry.Suspend(conn.SessionID())
	}
	if peer != nil {
		_ = peer.Send(context.Background(), controlEnvelope(conn.SessionID(), conn.Role(), ControlPayload{Event: ControlPeerLeft}))
	}
	h.logger.Info("endpoint unregistered", "session", conn.SessionID(), "role", string(conn.Role()))
}

// Send routes an envelope from the sender to the session's other endpoint.
// Clients are capability-gated per channel; best-effort channels drop when
// the peer is absent; control frames are queued and retried until acked.
func (h *Hub) Send(ctx context.Context, sender connection, env Envelope) error {
	env.SessionID = sender.SessionID()
	env.SenderRole = sender.Role()
	if env.TS.IsZero() {
		env.TS = time.Now().UTC()
	}

	if sender.Role() == RoleClient {
		if required, gated := channelCapability[env.Channel]; gated {
			if !h.capabilityGranted(env.SessionID, required) {
				return fmt.Errorf("%w: channel %s requires %s", ErrCapabilityDenied, env.Channel, required)
			}
		}
	}

	lk := h.existing(env.SessionID)
	if lk == nil {
		return fmt.Errorf("unknown session %s", env.SessionID)
	}

	lk.mu.Lock()
	lk.seq[env.Channel]++
	env.Seq = lk.seq[env.Channel]
	recipient := lk.other(sender.Role())
	if env.Channel == ChannelControl {
		lk.applyControl(sender.Role(), env)
	}
	lk.mu.Unlock()

	if h.registry != nil {
		h.registry.Touch(env.SessionID)
	}
	if env.Channel == ChannelTunnel {
		h.applyTunnel(env)
	}

	if recipient == nil {
		h.metrics.addDropped(env.Channel)
		h.logger.Debug("no peer for message", "session", env.SessionID, "channel", string(env.Channel))
		return nil
	}
	if err := recipient.Send(ctx, env); err != nil {
		h.metrics.addDropped(env.Channel)
		h.logger.Debug("delivery failed", "session", env.SessionID, "channel", string(env.Channel), "err", err)
		return nil
	}
	h.metrics.addDelivered(env.Channel)
	return nil
}

// applyControl must run under lk.mu. Lifecycle controls queue for retry;
// acks clear matching queued frames.
func (lk *link) applyControl(sender Role, env Envelope) {
	var payload ControlPayload
	if err := env.DecodePayload(&payload); err != nil {
		return
	}
	switch {
	case payload.Event == ControlAck:
		kept := lk.pending[:0]
		for _, item := range lk.pending {
			if item.to == sender && item.env.Seq == payload.AckSeq {
				continue
			}
			kept = append(kept, item)
		}
		lk.pending = kept
	case ackless(payload.Event):
		// informational events are fire and forget
	default:
		lk.pending = append(lk.pending, pendingControl{env: env, to: otherRole(sender)})
	}
}

// ackless reports control events that never queue for retry.
func ackless(event string) bool {
	switch event {
	case ControlHello, ControlWelcome, ControlError, ControlPeerJoined, ControlPeerLeft:
		return true
	}
	return false
}

// applyTunnel feeds tunnel-channel signaling into the broker so bind acks
// and failures transition tunnel state.
func (h *Hub) applyTunnel(env Envelope) {
	if h.broker == nil {
		return
	}
	var payload TunnelPayload
	if err := env.DecodePayload(&payload); err != nil || payload.TunnelID == "" {
		return
	}
	switch payload.Event {
	case TunnelAck:
		if _, err := h.broker.Ack(payload.TunnelID); err != nil {
			h.logger.Debug("tunnel ack for unknown tunnel", "tunnel", payload.TunnelID)
		}
	case TunnelFail:
		reason := payload.Reason
		if reason == "" {
			reason = "remote bind failed"
		}
		h.broker.Fail(payload.TunnelID, reason)
	case TunnelClose:
		if _, err := h.broker.Close(payload.TunnelID); err != nil {
			h.logger.Debug("tunnel close for unknown tunnel", "tunnel", payload.TunnelID)
		}
	}
}

// BroadcastProfileChanged tells both endpoints the session's permission set
// was replaced, so in-flight operations re-validate.
func (h *Hub) BroadcastProfileChanged(ctx context.Context, sessionID, profileID string) {
	lk := h.existing(sessionID)
	if lk == nil {
		return
	}
	lk.mu.Lock()
	host, client := lk.host, lk.client
	lk.mu.Unlock()

	env := controlEnvelope(sessionID, "", ControlPayload{Event: ControlProfileChanged, ProfileID: profileID})
	if host != nil {
		_ = host.Send(ctx, env)
	}
	if client != nil {
		_ = client.Send(ctx, env)
	}
}

// StartRetryLoop re-sends unacknowledged lifecycle controls until ctx ends.
func (h *Hub) StartRetryLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.retryPending(ctx)
			}
		}
	}()
}

func (h *Hub) retryPending(ctx context.Context) {
	h.mu.Lock()
	links := make([]*link, 0, len(h.links))
	for _, lk := range h.links {
		links = append(links, lk)
	}
	h.mu.Unlock()

	for _, lk := range links {
		lk.mu.Lock()
		type resend struct {
			conn connection
			env  Envelope
		}
		var queue []resend
		for _, item := range lk.pending {
			if target := lk.endpoint(item.to); target != nil {
				queue = append(queue, resend{conn: target, env: item.env})
			}
		}
		lk.mu.Unlock()
		for _, item := range queue {
			h.metrics.addRetried()
			_ = item.conn.Send(ctx, item.env)
		}
	}
}

// closeSession runs as a registry cascade hook: notify endpoints, close
// their connections, and drop the link with any pending controls.
func (h *Hub) closeSession(sessionID, reason string) {
	h.mu.Lock()
	lk := h.links[sessionID]
	delete(h.links, sessionID)
	h.mu.Unlock()
	if lk == nil {
		return
	}

	lk.mu.Lock()
	host, client := lk.host, lk.client
	lk.host, lk.client = nil, nil
	lk.pending = nil
	lk.mu.Unlock()

	ctx := context.Background()
	env := controlEnvelope(sessionID, "", ControlPayload{Event: ControlSessionClosed, Reason: reason})
	for _, conn := range []connection{host, client} {
		if conn == nil {
			continue
		}
		_ = conn.Send(ctx, env)
		_ = conn.Close(ctx, reason)
	}
}

// PendingControls reports queued lifecycle frames for a session (tests).
func (h *Hub) PendingControls(sessionID string) int {
	lk := h.existing(sessionID)
	if lk == nil {
		return 0
	}
	lk.mu.Lock()
	defer lk.mu.Unlock()
	return len(lk.pending)
}

func (h *Hub) capabilityGranted(sessionID string, cap permission.Capability) bool {
	if h.registry == nil {
		return true
	}
	session, ok := h.registry.Get(sessionID)
	if !ok {
		return false
	}
	return permission.Resolve(session.Profile, cap)
}

func (h *Hub) link(sessionID string) *link {
	h.mu.Lock()
	defer h.mu.Unlock()
	lk := h.links[sessionID]
	if lk == nil {
		lk = &link{sessionID: sessionID, seq: make(map[Channel]uint64)}
		h.links[sessionID] = lk
	}
	return lk
}

func (h *Hub) existing(sessionID string) *link {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.links[sessionID]
}

// other must run under lk.mu.
func (lk *link) other(role Role) connection {
	if role == RoleHost {
		return lk.client
	}
	return lk.host
}

// endpoint must run under lk.mu.
func (lk *link) endpoint(role Role) connection {
	if role == RoleHost {
		return lk.host
	}
	return lk.client
}

func otherRole(role Role) Role {
	if role == RoleHost {
		return RoleClient
	}
	return RoleHost
}
