package engine

import (
	"time"

	"github.com/google/uuid"

	"tailctl"
)

// pollSession is one convergence wait: connect or disconnect was issued and
// the engine re-fetches status until the observed state matches the target,
// a disconnect early-exit fires, or the timeout elapses. Exactly one
// session may be active; starting a new one supersedes the old, and stale
// ticks are discarded by session id, not by a nulled timer handle.
type pollSession struct {
	id            string
	target        bool // desired Connected value
	startedAt     time.Time
	downStartedAt time.Time // set when the disconnect was issued
	cancelTick    func()
}

// tickOutcome is the poller state machine's transition for one tick.
type tickOutcome int

const (
	keepPolling tickOutcome = iota
	converged
	timedOut
)

func (o tickOutcome) String() string {
	switch o {
	case keepPolling:
		return "polling"
	case converged:
		return "converged"
	case timedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

func newPollSession(target bool, downStartedNow bool, now time.Time) *pollSession {
	s := &pollSession{
		id:        uuid.NewString(),
		target:    target,
		startedAt: now,
	}
	if downStartedNow {
		s.downStartedAt = now
	}
	return s
}

func (s *pollSession) timeout() time.Duration {
	if s.target {
		return connectTimeout
	}
	return disconnectTimeout
}

// evaluate decides the state transition for one snapshot fetch result.
// Pure over (snapshot, fetchErr, now); the scheduling glue lives in the
// engine.
func (s *pollSession) evaluate(st tailctl.Status, fetchErr error, now time.Time) tickOutcome {
	if fetchErr != nil {
		// A failing status fetch while waiting for disconnection is
		// evidence the backend is already down. Other fetch failures
		// are tolerated silently; the next tick retries.
		if !s.target && tailctl.IsTransient(fetchErr) {
			return converged
		}
	} else {
		if st.Connected == s.target {
			return converged
		}
		// Disconnect early exit: the run-state label flips before the
		// derived flag does, because address clearing may lag.
		if !s.target &&
			now.Sub(s.downStartedAt) >= disconnectGrace &&
			!tailctl.BackendRunningState(st.BackendState) {
			return converged
		}
	}

	if now.Sub(s.startedAt) > s.timeout() {
		return timedOut
	}
	return keepPolling
}
