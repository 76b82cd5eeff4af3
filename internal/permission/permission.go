package permission

// Capability names a single remote-control grant.
type Capability string

// Capabilities negotiable per session.
const (
	CapKeyboard          Capability = "keyboard"
	CapMouse             Capability = "mouse"
	CapClipboard         Capability = "clipboard"
	CapFileTransfer      Capability = "fileTransfer"
	CapFileManager       Capability = "fileManager"
	CapSystemInfo        Capability = "systemInfo"
	CapRestart           Capability = "restart"
	CapRecordSession     Capability = "recordSession"
	CapRemotePrint       Capability = "remotePrint"
	CapWhiteboard        Capability = "whiteboard"
	CapTCPTunneling      Capability = "tcpTunneling"
	CapPrivacyMode       Capability = "privacyMode"
	CapLockOnDisconnect  Capability = "lockOnDisconnect"
	CapShowRemotePointer Capability = "showRemotePointer"
	CapRestrictedView    Capability = "restrictedView"
	CapLockLocalInput    Capability = "lockLocalInput"
	CapAudio             Capability = "audio"
)

// AllCapabilities lists every known capability in display order.
var AllCapabilities = []Capability{
	CapKeyboard,
	CapMouse,
	CapClipboard,
	CapFileTransfer,
	CapFileManager,
	CapSystemInfo,
	CapRestart,
	CapRecordSession,
	CapRemotePrint,
	CapWhiteboard,
	CapTCPTunneling,
	CapPrivacyMode,
	CapLockOnDisconnect,
	CapShowRemotePointer,
	CapRestrictedView,
	CapLockLocalInput,
	CapAudio,
}

// Set maps capabilities to grants. Absent keys mean denied.
type Set map[Capability]bool

// Granted reports whether the capability is granted by the set.
func (s Set) Granted(cap Capability) bool {
	if s == nil {
		return false
	}
	return s[cap]
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for cap, granted := range s {
		out[cap] = granted
	}
	return out
}

// FullSet returns a set granting every known capability.
func FullSet() Set {
	out := make(Set, len(AllCapabilities))
	for _, cap := range AllCapabilities {
		out[cap] = true
	}
	return out
}

// Resolve reports whether the profile grants the capability. A disabled
// profile grants nothing regardless of its stored permissions.
func Resolve(profile Profile, cap Capability) bool {
	if !profile.IsEnabled {
		return false
	}
	return profile.Permissions.Granted(cap)
}
