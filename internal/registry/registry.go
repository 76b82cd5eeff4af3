package registry

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/vncconnect/internal/permission"
)

// State is a session lifecycle state.
type State string

// Session lifecycle states.
const (
	StateAwaitingClient State = "awaiting_client"
	StateActive         State = "active"
	StateSuspended      State = "suspended"
	StateClosing        State = "closing"
	StateClosed         State = "closed"
)

// Default lifecycle windows.
const (
	DefaultIdleSuspend  = 60 * time.Second
	DefaultSuspendClose = 5 * time.Minute
)

var (
	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionFull indicates a client is already attached.
	ErrSessionFull = errors.New("session already has a client")
	// ErrSessionClosed indicates the session is terminal.
	ErrSessionClosed = errors.New("session closed")
)

// Session tracks one host/client pairing and its resolved profile.
type Session struct {
	ID             string             `json:"id"`
	HostID         string             `json:"host_id"`
	ClientID       string             `json:"client_id,omitempty"`
	Profile        permission.Profile `json:"profile"`
	State          State              `json:"state"`
	CreatedAt      time.Time          `json:"created_at"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	CloseReason    string             `json:"close_reason,omitempty"`
}

// Terminal reports whether the session can no longer be used.
func (s Session) Terminal() bool {
	return s.State == StateClosing || s.State == StateClosed
}

// CloseFunc observes session closure for cascade teardown.
type CloseFunc func(sessionID, reason string)

// Registry tracks active sessions. The registry lock only guards the session
// map; each session carries its own lock so per-session transitions are
// linearized without a lock spanning unrelated sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	idleSuspend  time.Duration
	suspendClose time.Duration
	onClose      []CloseFunc
	logger       pslog.Logger
	now          func() time.Time
}

type entry struct {
	mu      sync.Mutex
	session Session
}

// NewRegistry constructs a Registry with the given lifecycle windows.
// Non-positive windows use the defaults.
func NewRegistry(idleSuspend, suspendClose time.Duration, logger pslog.Logger) *Registry {
	if idleSuspend <= 0 {
		idleSuspend = DefaultIdleSuspend
	}
	if suspendClose <= 0 {
		suspendClose = DefaultSuspendClose
	}
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	return &Registry{
		sessions:     make(map[string]*entry),
		idleSuspend:  idleSuspend,
		suspendClose: suspendClose,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the registry clock for tests.
func (r *Registry) SetNow(now func() time.Time) {
	r.now = now
}

// OnClose registers a cascade hook invoked after a session transitions to
// closing. Hooks run outside the session lock.
func (r *Registry) OnClose(fn CloseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClose = append(r.onClose, fn)
}

// CreateSession registers a host session awaiting its client.
func (r *Registry) CreateSession(hostID string, profile permission.Profile) Session {
	now := r.now()
	session := Session{
		ID:             newSessionID(),
		HostID:         hostID,
		Profile:        profile,
		State:          StateAwaitingClient,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	r.mu.Lock()
	r.sessions[session.ID] = &entry{session: session}
	r.mu.Unlock()
	r.logger.Info("session created", "session", session.ID, "host", hostID, "profile", profile.ID)
	return session
}

// Get returns a snapshot of the session.
func (r *Registry) Get(sessionID string) (Session, bool) {
	ent := r.entry(sessionID)
	if ent == nil {
		return Session{}, false
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.session, true
}

// AttachClient attaches a client to an awaiting session. At most one client
// may ever attach; the check and the write happen under the session lock.
func (r *Registry) AttachClient(ctx context.Context, sessionID, clientID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	ent := r.entry(sessionID)
	if ent == nil {
		return Session{}, ErrSessionNotFound
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.session.Terminal() {
		return Session{}, ErrSessionClosed
	}
	if ent.session.ClientID != "" {
		return Session{}, ErrSessionFull
	}
	ent.session.ClientID = clientID
	ent.session.State = StateActive
	ent.session.LastActivityAt = r.now()
	r.logger.Info("client attached", "session", sessionID, "client", clientID)
	return ent.session, nil
}

// Touch records relay activity, resuming a suspended session.
func (r *Registry) Touch(sessionID string) {
	ent := r.entry(sessionID)
	if ent == nil {
		return
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.session.Terminal() {
		return
	}
	ent.session.LastActivityAt = r.now()
	if ent.session.State == StateSuspended {
		ent.session.State = StateActive
		r.logger.Info("session resumed", "session", sessionID)
	}
}

// Suspend marks an active session suspended after a transient relay drop.
func (r *Registry) Suspend(sessionID string) {
	ent := r.entry(sessionID)
	if ent == nil {
		return
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.session.State != StateActive {
		return
	}
	ent.session.State = StateSuspended
	r.logger.Info("session suspended", "session", sessionID)
}

// EndSession transitions the session through closing to closed and fires the
// cascade hooks.
func (r *Registry) EndSession(sessionID, reason string) error {
	ent := r.entry(sessionID)
	if ent == nil {
		return ErrSessionNotFound
	}
	ent.mu.Lock()
	if ent.session.Terminal() {
		ent.mu.Unlock()
		return ErrSessionClosed
	}
	ent.session.State = StateClosing
	ent.session.CloseReason = reason
	ent.mu.Unlock()

	r.mu.RLock()
	hooks := append([]CloseFunc(nil), r.onClose...)
	r.mu.RUnlock()
	for _, hook := range hooks {
		hook(sessionID, reason)
	}

	ent.mu.Lock()
	ent.session.State = StateClosed
	ent.session.LastActivityAt = r.now()
	ent.mu.Unlock()
	r.logger.Info("session closed", "session", sessionID, "reason", reason)
	return nil
}

// ListSessions returns the host's sessions, newest first.
func (r *Registry) ListSessions(hostID string) []Session {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, ent := range r.sessions {
		entries = append(entries, ent)
	}
	r.mu.RUnlock()

	var out []Session
	for _, ent := range entries {
		ent.mu.Lock()
		if ent.session.HostID == hostID {
			out = append(out, ent.session)
		}
		ent.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// UpdateProfile swaps the profile snapshot on every live session holding it
// and returns the affected session ids so callers can notify endpoints.
func (r *Registry) UpdateProfile(profile permission.Profile) []string {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, ent := range r.sessions {
		entries = append(entries, ent)
	}
	r.mu.RUnlock()

	var affected []string
	for _, ent := range entries {
		ent.mu.Lock()
		if ent.session.Profile.ID == profile.ID && !ent.session.Terminal() {
			ent.session.Profile = profile.Clone()
			affected = append(affected, ent.session.ID)
		}
		ent.mu.Unlock()
	}
	return affected
}

// ProfileInUse reports whether any live session holds the profile.
func (r *Registry) ProfileInUse(profileID string) bool {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, ent := range r.sessions {
		entries = append(entries, ent)
	}
	r.mu.RUnlock()

	for _, ent := range entries {
		ent.mu.Lock()
		inUse := ent.session.Profile.ID == profileID && !ent.session.Terminal()
		ent.mu.Unlock()
		if inUse {
			return true
		}
	}
	return false
}

// SweepIdle applies the inactivity policy once and returns the ids it
// closed. Active sessions past the idle window suspend; suspended sessions
// past the close window close; awaiting sessions whose client never arrived
// close after the same window.
func (r *Registry) SweepIdle() []string {
	now := r.now()

	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var closed []string
	for _, id := range ids {
		ent := r.entry(id)
		if ent == nil {
			continue
		}
		ent.mu.Lock()
		state := ent.session.State
		idle := now.Sub(ent.session.LastActivityAt)
		switch {
		case state == StateActive && idle > r.idleSuspend:
			ent.session.State = StateSuspended
			r.logger.Info("session suspended", "session", id, "idle", idle.String())
			ent.mu.Unlock()
		case state == StateSuspended && idle > r.idleSuspend+r.suspendClose:
			ent.mu.Unlock()
			if err := r.EndSession(id, "inactivity timeout"); err == nil {
				closed = append(closed, id)
			}
		case state == StateAwaitingClient && idle > r.suspendClose:
			ent.mu.Unlock()
			if err := r.EndSession(id, "no client joined"); err == nil {
				closed = append(closed, id)
			}
		default:
			ent.mu.Unlock()
		}
	}
	return closed
}

// StartMonitor runs SweepIdle periodically until ctx is done. Closed
// sessions are dropped from the map once swept.
func (r *Registry) StartMonitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, id := range r.SweepIdle() {
					r.Remove(id)
				}
			}
		}
	}()
}

// Remove drops a closed session from the registry.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	ent.mu.Lock()
	terminal := ent.session.State == StateClosed
	ent.mu.Unlock()
	if terminal {
		delete(r.sessions, sessionID)
	}
}

func (r *Registry) entry(sessionID string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

const sessionIDBytes = 12

func newSessionID() string {
	buf := make([]byte, sessionIDBytes)
	_, _ = rand.Read(buf)
	return "sess_" + strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf))
}
