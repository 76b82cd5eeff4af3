package policy

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pkt.systems/pslog"
	"pkt.systems/vncconnect/internal/permission"
)

// DenyReason explains why an unattended connection was refused.
type DenyReason string

// Deny reasons reported to audit logging and the caller.
const (
	ReasonNotEnabled      DenyReason = "not_enabled"
	ReasonBadPassword     DenyReason = "bad_password"
	ReasonUserNotAllowed  DenyReason = "user_not_allowed"
	ReasonOutsideSchedule DenyReason = "outside_schedule"
)

// Decision is the outcome of an unattended-access evaluation.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason DenyReason) Decision {
	return Decision{Reason: reason}
}

// Engine evaluates unattended-access requests against a profile's stored
// credentials, allow-list, and schedule. Schedule checks run in the host's
// configured location, not the requester's.
type Engine struct {
	location *time.Location
	logger   pslog.Logger
}

// NewEngine constructs an Engine. A nil location means host local time.
func NewEngine(location *time.Location, logger pslog.Logger) *Engine {
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	return &Engine{location: location, logger: logger}
}

// Evaluate decides whether the requester may connect without interactive
// approval. The secret is verified against the profile's stored hash and is
// never logged.
func (e *Engine) Evaluate(profile permission.Profile, requester, secret string, now time.Time) Decision {
	if !profile.IsUnattendedAccess || !profile.IsEnabled || profile.UnattendedHash == "" {
		return e.audit(profile, requester, deny(ReasonNotEnabled))
	}
	if bcrypt.CompareHashAndPassword([]byte(profile.UnattendedHash), []byte(secret)) != nil {
		return e.audit(profile, requester, deny(ReasonBadPassword))
	}
	if len(profile.AllowedUsers) > 0 && !userAllowed(profile.AllowedUsers, requester) {
		return e.audit(profile, requester, deny(ReasonUserNotAllowed))
	}
	if profile.Schedule != nil && !withinSchedule(*profile.Schedule, now.In(e.location)) {
		return e.audit(profile, requester, deny(ReasonOutsideSchedule))
	}
	return e.audit(profile, requester, allow())
}

func (e *Engine) audit(profile permission.Profile, requester string, decision Decision) Decision {
	if decision.Allowed {
		e.logger.Info("unattended access allowed", "profile", profile.ID, "requester", requester)
	} else {
		e.logger.Warn("unattended access denied", "profile", profile.ID, "requester", requester, "reason", string(decision.Reason))
	}
	return decision
}

// HashSecret derives the stored hash for an unattended password.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func userAllowed(allowed []string, requester string) bool {
	for _, user := range allowed {
		if strings.EqualFold(strings.TrimSpace(user), strings.TrimSpace(requester)) {
			return true
		}
	}
	return false
}

// withinSchedule checks the "15:04" window on a listed weekday. A window
// with end before start spans midnight.
func withinSchedule(sched permission.Schedule, now time.Time) bool {
	if !dayListed(sched.Days, now.Weekday()) {
		return false
	}
	start, err := minuteOfDay(sched.Start)
	if err != nil {
		return false
	}
	end, err := minuteOfDay(sched.End)
	if err != nil {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return minute >= start && minute <= end
	}
	return minute >= start || minute <= end
}

func dayListed(days []string, weekday time.Weekday) bool {
	name := strings.ToLower(weekday.String())
	for _, day := range days {
		if strings.ToLower(strings.TrimSpace(day)) == name {
			return true
		}
	}
	return false
}

func minuteOfDay(clock string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(clock))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
