package engine

import (
	"context"

	"tailctl"
)

// Backend is the status/command collaborator. Mutating calls return before
// the backend has converged; the only way to observe progress is another
// Status snapshot.
// Production: adapter/tailscale.Client
// Testing: scripted fake
type Backend interface {
	Status(ctx context.Context) (tailctl.Status, error)
	Up(ctx context.Context, extraArgs []string) error
	Down(ctx context.Context) error
	SetExitNode(ctx context.Context, arg string) error // empty arg clears
}

// Store persists small bits of controller state across runs. The engine
// works without one (nil is fine everywhere).
// Production: adapter/sqlite.Store
// Testing: in-memory fake
type Store interface {
	LastExitNode() (string, error)
	SaveLastExitNode(arg string) error
	RecordTransition(kind, outcome, message string) error
}
