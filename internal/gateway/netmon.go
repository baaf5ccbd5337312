package gateway

// NetMonitor reports device connectivity and app visibility. When either
// says "don't bother", the manager skips a reconnect cycle and instead asks
// to be woken once by OnRecover, rather than polling against a dead link.
type NetMonitor interface {
	// Online reports whether the device believes it has network access.
	Online() bool
	// Foreground reports whether the app is visible to the user.
	Foreground() bool
	// OnRecover registers fn to run once when connectivity or visibility
	// comes back. Implementations must coalesce duplicate registrations.
	OnRecover(fn func())
}

// alwaysUp is the default monitor for environments without connectivity
// signals (servers, tests).
type alwaysUp struct{}

func (alwaysUp) Online() bool         { return true }
func (alwaysUp) Foreground() bool     { return true }
func (alwaysUp) OnRecover(fn func())  {}
