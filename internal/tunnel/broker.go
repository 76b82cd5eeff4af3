package tunnel

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
)

// State is a tunnel lifecycle state.
type State string

// Tunnel lifecycle states.
const (
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateClosed     State = "closed"
	StateError      State = "error"
)

// DefaultBindTimeout is how long a tunnel may wait for the remote bind ack.
const DefaultBindTimeout = 10 * time.Second

var (
	// ErrTunnelNotFound indicates an unknown tunnel id.
	ErrTunnelNotFound = errors.New("tunnel not found")
	// ErrPortInUse indicates the local port is already bound for the session.
	ErrPortInUse = errors.New("local port already bound for session")
)

// Tunnel is a logical TCP port-forward carried over the relay.
type Tunnel struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	LocalPort  int       `json:"local_port"`
	RemoteHost string    `json:"remote_host"`
	RemotePort int       `json:"remote_port"`
	State      State     `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Broker tracks port-forward bindings per session. Transitions out of
// connecting happen exactly once: the first of remote ack, explicit failure,
// or bind timeout wins.
type Broker struct {
	mu      sync.Mutex
	tunnels map[string]*Tunnel
	ports   map[string]map[int]string
	timers  map[string]*time.Timer

	bindTimeout time.Duration
	logger      pslog.Logger
	now         func() time.Time
}

// NewBroker constructs a Broker. A non-positive bindTimeout uses the default.
func NewBroker(bindTimeout time.Duration, logger pslog.Logger) *Broker {
	if bindTimeout <= 0 {
		bindTimeout = DefaultBindTimeout
	}
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	return &Broker{
		tunnels:     make(map[string]*Tunnel),
		ports:       make(map[string]map[int]string),
		timers:      make(map[string]*time.Timer),
		bindTimeout: bindTimeout,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Open registers a tunnel in connecting state and arms the bind timeout.
// Capability gating happens at the API layer; the broker only enforces
// per-session port uniqueness.
func (b *Broker) Open(ctx context.Context, sessionID string, localPort int, remoteHost string, remotePort int) (Tunnel, error) {
	if err := ctx.Err(); err != nil {
		return Tunnel{}, err
	}
	if sessionID == "" {
		return Tunnel{}, fmt.Errorf("session id is required")
	}
	if localPort <= 0 || localPort > 65535 || remotePort <= 0 || remotePort > 65535 {
		return Tunnel{}, fmt.Errorf("port out of range")
	}
	if strings.TrimSpace(remoteHost) == "" {
		return Tunnel{}, fmt.Errorf("remote host is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	bound := b.ports[sessionID]
	if bound == nil {
		bound = make(map[int]string)
		b.ports[sessionID] = bound
	}
	if _, taken := bound[localPort]; taken {
		return Tunnel{}, ErrPortInUse
	}
	tun := &Tunnel{
		ID:         newTunnelID(),
		SessionID:  sessionID,
		LocalPort:  localPort,
		RemoteHost: remoteHost,
		RemotePort: remotePort,
		State:      StateConnecting,
		CreatedAt:  b.now(),
	}
	b.tunnels[tun.ID] = tun
	bound[localPort] = tun.ID
	b.timers[tun.ID] = time.AfterFunc(b.bindTimeout, func() {
		b.Fail(tun.ID, "bind timeout")
	})
	b.logger.Info("tunnel opened", "tunnel", tun.ID, "session", sessionID,
		"local_port", localPort, "remote", fmt.Sprintf("%s:%d", remoteHost, remotePort))
	return *tun, nil
}

// Ack marks a connecting tunnel active after the remote endpoint confirmed
// the bind.
func (b *Broker) Ack(tunnelID string) (Tunnel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tun, ok := b.tunnels[tunnelID]
	if !ok {
		return Tunnel{}, ErrTunnelNotFound
	}
	if tun.State != StateConnecting {
		return *tun, nil
	}
	tun.State = StateActive
	b.disarmTimer(tunnelID)
	b.logger.Info("tunnel active", "tunnel", tunnelID)
	return *tun, nil
}

// Fail moves a connecting tunnel to error state. The port stays released so
// the host can retry.
func (b *Broker) Fail(tunnelID, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tun, ok := b.tunnels[tunnelID]
	if !ok || tun.State != StateConnecting {
		return
	}
	tun.State = StateError
	tun.Reason = reason
	b.disarmTimer(tunnelID)
	b.releasePort(tun)
	b.logger.Warn("tunnel failed", "tunnel", tunnelID, "reason", reason)
}

// Close releases the tunnel and its local port.
func (b *Broker) Close(tunnelID string) (Tunnel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tun, ok := b.tunnels[tunnelID]
	if !ok {
		return Tunnel{}, ErrTunnelNotFound
	}
	if tun.State == StateConnecting || tun.State == StateActive {
		tun.State = StateClosed
		b.disarmTimer(tunnelID)
		b.releasePort(tun)
		b.logger.Info("tunnel closed", "tunnel", tunnelID)
	}
	return *tun, nil
}

// CloseSession force-closes every tunnel owned by the session.
func (b *Broker) CloseSession(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	closed := 0
	for id, tun := range b.tunnels {
		if tun.SessionID != sessionID {
			continue
		}
		if tun.State == StateConnecting || tun.State == StateActive {
			tun.State = StateClosed
			b.disarmTimer(id)
			closed++
		}
		delete(b.tunnels, id)
	}
	delete(b.ports, sessionID)
	if closed > 0 {
		b.logger.Info("session tunnels closed", "session", sessionID, "count", closed)
	}
	return closed
}

// Get returns a snapshot of the tunnel.
func (b *Broker) Get(tunnelID string) (Tunnel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tun, ok := b.tunnels[tunnelID]
	if !ok {
		return Tunnel{}, false
	}
	return *tun, true
}

// List returns the session's tunnels sorted by creation time.
func (b *Broker) List(sessionID string) []Tunnel {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Tunnel
	for _, tun := range b.tunnels {
		if tun.SessionID == sessionID {
			out = append(out, *tun)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// releasePort must run under b.mu.
func (b *Broker) releasePort(tun *Tunnel) {
	if bound, ok := b.ports[tun.SessionID]; ok {
		if bound[tun.LocalPort] == tun.ID {
			delete(bound, tun.LocalPort)
		}
	}
}

// disarmTimer must run under b.mu.
func (b *Broker) disarmTimer(tunnelID string) {
	if timer, ok := b.timers[tunnelID]; ok {
		timer.Stop()
		delete(b.timers, tunnelID)
	}
}

const tunnelIDBytes = 10

func newTunnelID() string {
	buf := make([]byte, tunnelIDBytes)
	_, _ = rand.Read(buf)
	return "tun_" + strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf))
}
