package credential

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
)

// DefaultTTL is how long an access code stays redeemable.
const DefaultTTL = 10 * time.Minute

const (
	codeLength   = 9
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// Collisions against outstanding codes are retried this many times
	// before the issuer reports an internal error.
	maxCodeAttempts = 5
)

var (
	// ErrCodeNotFound is returned when a code was never issued or already purged.
	ErrCodeNotFound = errors.New("access code not found")
	// ErrCodeExpired is returned when a code is past its expiry.
	ErrCodeExpired = errors.New("access code expired")
	// ErrCodeConsumed is returned when a code was already redeemed.
	ErrCodeConsumed = errors.New("access code already consumed")
)

// Credential is a short-lived pairing code bound to a host session and a
// permission profile.
type Credential struct {
	Code          string    `json:"code"`
	HostSessionID string    `json:"host_session_id"`
	ProfileID     string    `json:"profile_id"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Consumed      bool      `json:"consumed"`
}

// IsExpired reports whether the credential is past its expiry.
func (c Credential) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Issuer generates and redeems access codes. Redemption is at-most-once:
// the consumed flag flips under the issuer lock, so of two concurrent
// redeemers exactly one succeeds.
type Issuer struct {
	mu    sync.Mutex
	codes map[string]Credential

	logger pslog.Logger
	now    func() time.Time
}

// NewIssuer constructs an Issuer.
func NewIssuer(logger pslog.Logger) *Issuer {
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	return &Issuer{
		codes:  make(map[string]Credential),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the issuer clock for tests.
func (i *Issuer) SetNow(now func() time.Time) {
	i.now = now
}

// Issue generates a credential bound to the host session and profile.
// A non-positive ttl uses DefaultTTL.
func (i *Issuer) Issue(hostSessionID, profileID string, ttl time.Duration) (Credential, error) {
	if hostSessionID == "" {
		return Credential{}, fmt.Errorf("host session id is required")
	}
	if profileID == "" {
		return Credential{}, fmt.Errorf("profile id is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := i.now()

	i.mu.Lock()
	defer i.mu.Unlock()
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := newCode()
		if err != nil {
			return Credential{}, err
		}
		if existing, ok := i.codes[code]; ok && !existing.IsExpired(now) {
			continue
		}
		cred := Credential{
			Code:          code,
			HostSessionID: hostSessionID,
			ProfileID:     profileID,
			IssuedAt:      now,
			ExpiresAt:     now.Add(ttl),
		}
		i.codes[code] = cred
		return cred, nil
	}
	return Credential{}, fmt.Errorf("access code space exhausted")
}

// Redeem consumes a code. Expired codes are purged on lookup and reported
// as expired, never as not-found.
func (i *Issuer) Redeem(code string) (Credential, error) {
	code = Normalize(code)
	if len(code) != codeLength {
		return Credential{}, ErrCodeNotFound
	}
	now := i.now()

	i.mu.Lock()
	defer i.mu.Unlock()
	cred, ok := i.codes[code]
	if !ok {
		return Credential{}, ErrCodeNotFound
	}
	if cred.IsExpired(now) {
		delete(i.codes, code)
		return Credential{}, ErrCodeExpired
	}
	if cred.Consumed {
		return Credential{}, ErrCodeConsumed
	}
	cred.Consumed = true
	i.codes[code] = cred
	return cred, nil
}

// Revoke drops all outstanding codes for a host session.
func (i *Issuer) Revoke(hostSessionID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for code, cred := range i.codes {
		if cred.HostSessionID == hostSessionID {
			delete(i.codes, code)
		}
	}
}

// Sweep removes expired and consumed codes and returns how many were purged.
func (i *Issuer) Sweep() int {
	now := i.now()
	i.mu.Lock()
	defer i.mu.Unlock()
	purged := 0
	for code, cred := range i.codes {
		if cred.Consumed || cred.IsExpired(now) {
			delete(i.codes, code)
			purged++
		}
	}
	return purged
}

// StartSweepLoop purges expired codes periodically until ctx is done.
func (i *Issuer) StartSweepLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if purged := i.Sweep(); purged > 0 {
					i.logger.Debug("purged access codes", "count", purged)
				}
			}
		}
	}()
}

// Format renders a code in 3-character groups for display.
func Format(code string) string {
	code = Normalize(code)
	if len(code) != codeLength {
		return code
	}
	return code[0:3] + "-" + code[3:6] + "-" + code[6:9]
}

// Normalize strips separators and whitespace and uppercases a code.
func Normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// newCode draws codeLength characters from the CSPRNG. Bytes at or above
// the largest alphabet multiple are rejected to keep the draw unbiased.
func newCode() (string, error) {
	out := make([]byte, 0, codeLength)
	buf := make([]byte, codeLength*2)
	limit := byte(256 - 256%len(codeAlphabet))
	for len(out) < codeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("csprng unavailable: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == codeLength {
				break
			}
		}
	}
	return string(out), nil
}
