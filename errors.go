package tailctl

import "errors"

// ErrUnavailable means no tailscale binary is reachable at all. The control
// surface disables every mutating control when it sees this.
var ErrUnavailable = errors.New("tailscale backend unavailable")

// ErrConvergenceTimeout means the requested state was never observed within
// the poller's timeout. The engine does not retry; the user re-triggers.
var ErrConvergenceTimeout = errors.New("timed out waiting for state change")

// CommandError is a mutating CLI call that returned non-success. The
// message is the backend's own output, surfaced verbatim.
type CommandError struct {
	Op      string // "up", "down", "set-exit-node", "status"
	Message string
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return "tailscale " + e.Op + " failed"
	}
	return "tailscale " + e.Op + ": " + e.Message
}

// IsTransient reports whether err is a status-fetch failure the poller may
// tolerate: anything except the binary being missing entirely.
func IsTransient(err error) bool {
	return err != nil && !errors.Is(err, ErrUnavailable)
}
