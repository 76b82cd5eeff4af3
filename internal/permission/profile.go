package permission

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidName indicates an empty or duplicate profile name.
	ErrInvalidName = errors.New("invalid profile name")
	// ErrImmutableProfile indicates a mutation attempt on a built-in profile.
	ErrImmutableProfile = errors.New("built-in profile is immutable")
	// ErrProfileNotFound indicates a missing profile.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrProfileInUse indicates the profile is attached to a live session.
	ErrProfileInUse = errors.New("profile in use by a live session")
)

// Schedule restricts unattended access to a daily window on listed days.
// Start and End are "15:04" clock values in the host's configured location.
type Schedule struct {
	Start string   `json:"start"`
	End   string   `json:"end"`
	Days  []string `json:"days_of_week"`
}

// Profile is a named, reusable capability-grant set applied to a session.
type Profile struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	Owner              string    `json:"owner,omitempty"`
	Permissions        Set       `json:"permissions"`
	IsBuiltIn          bool      `json:"is_built_in"`
	IsEnabled          bool      `json:"is_enabled"`
	IsUnattendedAccess bool      `json:"is_unattended_access"`
	UnattendedHash     string    `json:"unattended_hash,omitempty"`
	AllowedUsers       []string  `json:"allowed_users,omitempty"`
	Schedule           *Schedule `json:"schedule,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Clone returns a deep copy of the profile.
func (p Profile) Clone() Profile {
	out := p
	out.Permissions = p.Permissions.Clone()
	if p.AllowedUsers != nil {
		out.AllowedUsers = append([]string(nil), p.AllowedUsers...)
	}
	if p.Schedule != nil {
		sched := *p.Schedule
		sched.Days = append([]string(nil), p.Schedule.Days...)
		out.Schedule = &sched
	}
	return out
}

// Built-in profile ids, matching the product's stock profiles.
const (
	BuiltInScreenSharing = "screen-sharing"
	BuiltInFullAccess    = "full-access"
)

// BuiltInProfiles returns the immutable stock profiles.
func BuiltInProfiles() []Profile {
	return []Profile{
		{
			ID:          BuiltInScreenSharing,
			Name:        "Screen Sharing",
			Description: "View the remote screen and pointer only",
			Permissions: Set{
				CapShowRemotePointer: true,
			},
			IsBuiltIn: true,
			IsEnabled: true,
		},
		{
			ID:          BuiltInFullAccess,
			Name:        "Full Access",
			Description: "Every capability granted",
			Permissions: FullSet(),
			IsBuiltIn:   true,
			IsEnabled:   true,
		},
	}
}

// NewCustomProfile clones a base profile into a mutable custom profile owned
// by the given user. The base's permissions are copied; identity fields are
// reset.
func NewCustomProfile(name, owner string, base Profile, now time.Time) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Profile{}, ErrInvalidName
	}
	profile := base.Clone()
	profile.ID = newProfileID()
	profile.Name = name
	profile.Description = ""
	profile.Owner = owner
	profile.IsBuiltIn = false
	profile.IsEnabled = true
	profile.IsUnattendedAccess = false
	profile.UnattendedHash = ""
	profile.AllowedUsers = nil
	profile.Schedule = nil
	profile.CreatedAt = now
	return profile, nil
}

const profileIDBytes = 10

func newProfileID() string {
	buf := make([]byte, profileIDBytes)
	_, _ = rand.Read(buf)
	return "prof_" + strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf))
}
