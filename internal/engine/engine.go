// Package engine reconciles local connection intent against the tailscale
// backend. Mutating CLI commands return before the backend has converged,
// so every operation follows the same shape: dispatch the blocking call
// off the interaction loop, then poll status snapshots until the observed
// state matches the requested one or a timeout fires.
//
// All mutable state (busy flags, pending exit-node intent, alias map, poll
// session) is owned by one interaction loop goroutine. Workers talk to it
// only through posted closures, so callbacks and poll ticks are serialized
// with respect to each other.
package engine

import (
	"context"
	"log/slog"
	"time"

	"tailctl"
	"tailctl/internal/check"
)

const (
	// refreshInterval is 5s: background snapshot cadence while idle.
	refreshInterval = 5 * time.Second
	// pollInterval is 300ms: convergence re-check cadence after a command.
	pollInterval = 300 * time.Millisecond
	// connectTimeout is 15s: tailscaled may need to negotiate auth and routes.
	connectTimeout = 15 * time.Second
	// disconnectTimeout is 6s: teardown is fast, so failure surfaces sooner.
	disconnectTimeout = 6 * time.Second
	// disconnectGrace is 1.5s: after this, a non-running backend counts as
	// disconnected even while stale addresses keep the derived flag true.
	disconnectGrace = 1500 * time.Millisecond
	// interactionDebounce is 350ms: delay between an interaction burst and
	// the refresh it triggers.
	interactionDebounce = 350 * time.Millisecond
	// minRefreshSpacing is 800ms: floor between completed refreshes.
	minRefreshSpacing = 800 * time.Millisecond
	// debounceRetry is 300ms: reschedule delay when the spacing floor
	// blocks a debounce fire.
	debounceRetry = 300 * time.Millisecond
	// exitConfirmTimeout bounds how long a one-shot exit-node command waits
	// for the selection to show up in a snapshot.
	exitConfirmTimeout = 6 * time.Second

	// updateBuffer bounds the update channel. The loop never blocks on a
	// slow surface; the oldest update is dropped instead.
	updateBuffer = 16
)

// Engine drives connect/disconnect/exit-node transitions and publishes
// Updates to the control surface.
type Engine struct {
	backend      Backend
	store        Store // may be nil
	clock        tailctl.Clock
	after        func(d time.Duration, fn func()) (cancel func())
	upArgs       []string
	refreshEvery time.Duration

	loop    chan func()
	done    chan struct{}
	updates chan Update

	// Owned by the interaction loop. Nothing else reads or writes these.
	status          *tailctl.Status
	aliases         map[string]string
	busy            bool
	exitBusy        bool
	intent          *exitIntent
	lastApplied     string
	session         *pollSession
	db              debouncer
	refreshInFlight bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore attaches a persistence store for the last applied exit node
// and the transition journal.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithClock overrides the wall clock. Tests use a fake.
func WithClock(c tailctl.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithUpArgs sets extra arguments passed to every `up` invocation.
func WithUpArgs(args []string) Option {
	return func(e *Engine) { e.upArgs = args }
}

// WithRefreshInterval overrides the background refresh cadence. Values
// at or below zero keep the default.
func WithRefreshInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.refreshEvery = d
		}
	}
}

// withScheduler overrides timer scheduling. Tests capture and fire
// scheduled callbacks by hand.
func withScheduler(after func(time.Duration, func()) func()) Option {
	return func(e *Engine) { e.after = after }
}

// New creates an Engine around the given backend. A nil backend is
// allowed: every mutating operation then fails fast with ErrUnavailable.
func New(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:      backend,
		clock:        tailctl.RealClock{},
		refreshEvery: refreshInterval,
		loop:         make(chan func(), 64),
		done:         make(chan struct{}),
		updates:      make(chan Update, updateBuffer),
	}
	e.after = func(d time.Duration, fn func()) func() {
		t := time.AfterFunc(d, fn)
		return func() { t.Stop() }
	}
	for _, opt := range opts {
		opt(e)
	}

	e.db = debouncer{
		clock: e.clock,
		schedule: func(d time.Duration, fn func()) func() {
			return e.after(d, func() { e.post(fn) })
		},
		refresh: func() { e.refreshLocked() },
	}

	if e.store != nil {
		if last, err := e.store.LastExitNode(); err == nil {
			e.lastApplied = last
		} else {
			slog.Debug("load last exit node", "err", err)
		}
	}
	return e
}

// Updates returns the channel of engine state updates. The engine never
// blocks sending on it.
func (e *Engine) Updates() <-chan Update { return e.updates }

// Run owns the interaction loop until ctx is cancelled. It performs an
// immediate refresh and then a background refresh every refreshInterval.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.refreshEvery)
	defer ticker.Stop()
	defer close(e.done)

	e.refreshLocked()

	for {
		select {
		case <-ctx.Done():
			e.stopLocked()
			return nil
		case fn := <-e.loop:
			fn()
		case <-ticker.C:
			e.refreshLocked()
		}
	}
}

// post marshals fn onto the interaction loop. Reports false when the loop
// has already stopped.
func (e *Engine) post(fn func()) bool {
	select {
	case e.loop <- fn:
		return true
	case <-e.done:
		return false
	}
}

// Connect asks the backend to bring the tunnel up and waits for the
// snapshot to confirm it.
func (e *Engine) Connect() { e.post(e.connectLocked) }

// Disconnect tears the tunnel down and waits for confirmation.
func (e *Engine) Disconnect() { e.post(e.disconnectLocked) }

// SetExitNode requests an egress selection. With enable true and an empty
// target the engine falls back to the last applied target still eligible,
// else the first eligible device. With enable false the selection is
// cleared.
func (e *Engine) SetExitNode(enable bool, target string) {
	e.post(func() { e.setExitNodeLocked(enable, target) })
}

// Refresh forces an immediate snapshot fetch, bypassing the debouncer.
func (e *Engine) Refresh() { e.post(e.refreshLocked) }

// NotifyInteraction feeds one user-interaction event to the debouncer.
func (e *Engine) NotifyInteraction() { e.post(e.db.notify) }

// --- interaction-loop internals ---

func (e *Engine) stopLocked() {
	e.db.stop()
	e.cancelSession()
}

func (e *Engine) cancelSession() {
	if e.session == nil {
		return
	}
	if e.session.cancelTick != nil {
		e.session.cancelTick()
	}
	e.session = nil
}

func (e *Engine) refreshLocked() {
	if e.backend == nil || e.refreshInFlight {
		return
	}
	e.refreshInFlight = true
	dispatch(e.post, func() (tailctl.Status, error) {
		return e.backend.Status(context.Background())
	}, func(st tailctl.Status, err error) {
		e.refreshInFlight = false
		if err != nil {
			// Transient status errors outside a poll session are
			// tolerated silently; the next cycle retries.
			slog.Debug("status refresh failed", "err", err)
			return
		}
		e.adoptSnapshot(st)
	})
}

// adoptSnapshot installs a fresh snapshot: alias map rebuilt, pending
// intent reconciled, refresh bookkeeping updated, surface notified.
func (e *Engine) adoptSnapshot(st tailctl.Status) {
	e.status = &st
	e.aliases = tailctl.BuildAliasMap(st.ExitNodes)

	if e.intent != nil && !e.exitBusy && e.intent.satisfied(e.status, e.aliases) {
		e.intent = nil
	}

	e.db.markRefreshed(e.clock.Now())
	e.pushUpdate("", nil)
}

func (e *Engine) connectLocked() {
	if e.busy {
		return
	}
	if e.backend == nil {
		e.pushUpdate("", tailctl.ErrUnavailable)
		return
	}
	e.busy = true
	e.pushUpdate("Connecting…", nil)

	args := e.upArgs
	dispatchErr(e.post, func() error {
		return e.backend.Up(context.Background(), args)
	}, func(err error) {
		if err != nil {
			e.finishTransition(transitionConnect, err)
			return
		}
		e.startPoll(true, false)
	})
}

func (e *Engine) disconnectLocked() {
	if e.busy {
		return
	}
	if e.backend == nil {
		e.pushUpdate("", tailctl.ErrUnavailable)
		return
	}
	e.busy = true
	e.pushUpdate("Disconnecting…", nil)

	dispatchErr(e.post, func() error {
		return e.backend.Down(context.Background())
	}, func(err error) {
		if err != nil {
			e.finishTransition(transitionDisconnect, err)
			return
		}
		e.startPoll(false, true)
	})
}

// startPoll begins a convergence wait, superseding any session in flight.
func (e *Engine) startPoll(target, downStartedNow bool) {
	e.cancelSession()
	e.session = newPollSession(target, downStartedNow, e.clock.Now())
	e.scheduleTick()
}

func (e *Engine) scheduleTick() {
	check.Assert(e.session != nil, "scheduleTick: no active session")
	id := e.session.id
	e.session.cancelTick = e.after(pollInterval, func() {
		e.post(func() { e.pollTick(id) })
	})
}

func (e *Engine) pollTick(id string) {
	if e.session == nil || e.session.id != id {
		return // superseded mid-tick
	}
	dispatch(e.post, func() (tailctl.Status, error) {
		return e.backend.Status(context.Background())
	}, func(st tailctl.Status, err error) {
		e.onPollFetch(id, st, err)
	})
}

func (e *Engine) onPollFetch(id string, st tailctl.Status, fetchErr error) {
	if e.session == nil || e.session.id != id {
		return
	}
	if fetchErr == nil {
		e.adoptSnapshot(st)
	}

	kind := transitionDisconnect
	if e.session.target {
		kind = transitionConnect
	}

	switch e.session.evaluate(st, fetchErr, e.clock.Now()) {
	case keepPolling:
		e.scheduleTick()
	case converged:
		e.finishTransition(kind, nil)
	case timedOut:
		e.finishTransition(kind, tailctl.ErrConvergenceTimeout)
	}
}

// finishTransition is the single terminal path for connect/disconnect:
// session torn down, busy cleared, journal written, surface notified, and
// one final refresh issued. Busy is never left stuck.
func (e *Engine) finishTransition(kind string, err error) {
	e.cancelSession()
	e.busy = false

	switch {
	case err == nil && kind == transitionConnect:
		e.recordTransition(kind, outcomeOK, "")
		e.pushUpdate("Connected", nil)
	case err == nil:
		e.recordTransition(kind, outcomeOK, "")
		e.pushUpdate("Disconnected", nil)
	default:
		outcome := outcomeFailed
		if err == tailctl.ErrConvergenceTimeout {
			outcome = outcomeTimeout
		}
		e.recordTransition(kind, outcome, err.Error())
		e.pushUpdate("", err)
	}

	e.refreshLocked()
}

func (e *Engine) setExitNodeLocked(enable bool, target string) {
	if e.exitBusy {
		return
	}
	if e.backend == nil {
		e.pushUpdate("", tailctl.ErrUnavailable)
		return
	}

	arg := ""
	if enable {
		var eligible []tailctl.Device
		if e.status != nil {
			eligible = e.status.ExitNodes
		}
		arg = ResolveEnableTarget(target, e.lastApplied, eligible)
		if arg == "" {
			e.pushUpdate("No exit nodes available", nil)
			return
		}
	}

	e.intent = &exitIntent{enabled: enable, target: arg}
	e.exitBusy = true
	e.pushUpdate("", nil)

	dispatchErr(e.post, func() error {
		return e.backend.SetExitNode(context.Background(), arg)
	}, func(err error) {
		e.exitBusy = false
		if err != nil {
			// Failed command: the intent is dead, surface the message.
			e.intent = nil
			e.recordTransition(transitionExitNode, outcomeFailed, err.Error())
			e.pushUpdate("", err)
			return
		}
		if enable {
			e.lastApplied = arg
			if e.store != nil {
				if serr := e.store.SaveLastExitNode(arg); serr != nil {
					slog.Debug("save last exit node", "err", serr)
				}
			}
		}
		e.recordTransition(transitionExitNode, outcomeOK, arg)
		// The intent stays pending until the next snapshot confirms it.
		e.pushUpdate("", nil)
		e.refreshLocked()
	})
}

func (e *Engine) recordTransition(kind, outcome, message string) {
	if e.store == nil {
		return
	}
	if err := e.store.RecordTransition(kind, outcome, message); err != nil {
		slog.Debug("record transition", "kind", kind, "err", err)
	}
}

// pushUpdate publishes the current observable state. While an exit-node
// intent is pending and unconfirmed the toggle fields reflect the intent;
// otherwise they reflect what the last snapshot observed.
func (e *Engine) pushUpdate(message string, err error) {
	u := Update{
		Status:   e.status,
		Busy:     e.busy || e.session != nil,
		ExitBusy: e.exitBusy,
		Message:  message,
		Err:      err,
	}
	if e.intent != nil {
		u.ExitEnabled = e.intent.enabled
		u.ExitTarget = e.intent.target
	} else if e.status != nil && e.status.ActiveExitNode != nil {
		u.ExitEnabled = true
		u.ExitTarget = activeArg(e.status, e.aliases)
	}

	select {
	case e.updates <- u:
	default:
		// Full buffer: drop the oldest so the surface converges on the
		// newest state.
		select {
		case <-e.updates:
		default:
		}
		select {
		case e.updates <- u:
		default:
		}
	}
}
