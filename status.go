package tailctl

import "strings"

// BackendRunning is the backend run-state label reported by tailscaled
// while the tunnel is up.
const BackendRunning = "Running"

// Status is one point-in-time snapshot of the backend. Snapshots are
// replaced, never patched: every field is rebuilt from a single
// `tailscale status --json` invocation.
type Status struct {
	BackendState   string
	Self           *Device
	Devices        []Device // self first, then peers in report order
	ExitNodes      []Device // subset of Devices with ExitNodeOption set
	Connected      bool     // derived, see Derived
	ActiveExitNode *Device  // device currently routing our traffic, if any
}

// Derived recomputes the Connected flag from its inputs. Connected is a
// pure function of backend state and self addresses: running AND at least
// one tailnet address assigned.
func Derived(backendState string, self *Device) bool {
	return backendState == BackendRunning && self != nil && len(self.Addrs) > 0
}

// BackendRunningState reports whether the given run-state label means
// "running", ignoring case. The poller uses this for the disconnect
// early-exit: the label flips before the derived Connected flag does,
// because address clearing may lag.
func BackendRunningState(state string) bool {
	return strings.EqualFold(state, BackendRunning)
}
