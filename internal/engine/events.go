package engine

import "tailctl"

// Update is the engine's observable state, pushed to the control surface
// after every change. The surface renders it verbatim; it never reads
// engine fields directly.
type Update struct {
	Status *tailctl.Status // latest snapshot, nil before the first fetch

	Busy     bool // connect/disconnect in flight or converging
	ExitBusy bool // exit-node command in flight

	// Toggle state per the confirmation-lag rule: while an exit-node
	// intent is pending and unconfirmed these reflect the intent,
	// otherwise the observed state. Keeps the toggle from flapping
	// between command completion and the next snapshot.
	ExitEnabled bool
	ExitTarget  string

	Message string // transient status text ("Connected", ...), may be empty
	Err     error  // terminal failure to surface, may be nil
}

// transition journal kinds recorded in the store.
const (
	transitionConnect    = "connect"
	transitionDisconnect = "disconnect"
	transitionExitNode   = "exit-node"

	outcomeOK      = "ok"
	outcomeFailed  = "failed"
	outcomeTimeout = "timeout"
)
