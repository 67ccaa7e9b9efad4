package engine

import (
	"context"
	"time"

	"tailctl"
)

// AwaitState blocks until the backend's observed connection state matches
// target, reusing the poll state machine the interactive engine runs. It
// returns ErrConvergenceTimeout when the state never settles and the
// context error when ctx is cancelled first. One-shot commands use this
// after issuing up or down.
func AwaitState(ctx context.Context, backend Backend, clock tailctl.Clock, target bool) error {
	session := newPollSession(target, !target, clock.Now())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}

		st, err := backend.Status(ctx)
		switch session.evaluate(st, err, clock.Now()) {
		case converged:
			return nil
		case timedOut:
			return tailctl.ErrConvergenceTimeout
		}
	}
}

// AwaitExitNode blocks until a snapshot confirms the requested exit-node
// selection, using the same satisfaction rules as the interactive
// reconciler. target is the canonical command argument; empty with enabled
// false waits for no device to be active.
func AwaitExitNode(ctx context.Context, backend Backend, clock tailctl.Clock, enabled bool, target string) error {
	intent := &exitIntent{enabled: enabled, target: target}
	startedAt := clock.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}

		st, err := backend.Status(ctx)
		if err == nil && intent.satisfied(&st, tailctl.BuildAliasMap(st.ExitNodes)) {
			return nil
		}
		if clock.Now().Sub(startedAt) > exitConfirmTimeout {
			return tailctl.ErrConvergenceTimeout
		}
	}
}
