package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tailctl"
	"tailctl/internal/adapter/fake"
)

// fakeBackend scripts backend responses. Safe for concurrent dispatcher
// goroutines.
type fakeBackend struct {
	mu sync.Mutex

	status    tailctl.Status
	statusErr error

	upErr   error
	downErr error
	setErr  error

	upCalls   int
	downCalls int
	setArgs   []string
}

func (f *fakeBackend) Status(context.Context) (tailctl.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeBackend) Up(context.Context, []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upCalls++
	return f.upErr
}

func (f *fakeBackend) Down(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downCalls++
	return f.downErr
}

func (f *fakeBackend) SetExitNode(_ context.Context, arg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setArgs = append(f.setArgs, arg)
	return f.setErr
}

func (f *fakeBackend) setStatus(st tailctl.Status) {
	f.mu.Lock()
	f.status = st
	f.statusErr = nil
	f.mu.Unlock()
}

type fakeStore struct {
	mu          sync.Mutex
	last        string
	transitions []string
}

func (f *fakeStore) LastExitNode() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, nil
}

func (f *fakeStore) SaveLastExitNode(arg string) error {
	f.mu.Lock()
	f.last = arg
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) RecordTransition(kind, outcome, message string) error {
	f.mu.Lock()
	f.transitions = append(f.transitions, kind+"/"+outcome)
	f.mu.Unlock()
	return nil
}

// pump executes the next closure posted to the interaction loop, waiting
// for worker goroutines to deliver it.
func pump(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case fn := <-e.loop:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a loop callback")
	}
}

// lastUpdate drains the update channel and returns the newest value.
func lastUpdate(t *testing.T, e *Engine) Update {
	t.Helper()
	var u Update
	got := false
	for {
		select {
		case u = <-e.updates:
			got = true
		default:
			if !got {
				t.Fatal("no update published")
			}
			return u
		}
	}
}

func newTestEngine(t *testing.T, backend Backend, opts ...Option) (*Engine, *captureScheduler, *fake.Clock) {
	t.Helper()
	clk := fake.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	sched := &captureScheduler{}
	opts = append(opts, WithClock(clk), withScheduler(sched.after))
	return New(backend, opts...), sched, clk
}

func runningStatus() tailctl.Status {
	self := &tailctl.Device{Name: "laptop", Addrs: []string{"100.64.0.1"}}
	return tailctl.Status{
		BackendState: "Running",
		Self:         self,
		Devices:      []tailctl.Device{*self},
		Connected:    true,
	}
}

func stoppedStatus() tailctl.Status {
	self := &tailctl.Device{Name: "laptop"}
	return tailctl.Status{BackendState: "Stopped", Self: self, Devices: []tailctl.Device{*self}}
}

func TestEngine_ConnectConverges(t *testing.T) {
	backend := &fakeBackend{status: stoppedStatus()}
	e, sched, clk := newTestEngine(t, backend)

	e.connectLocked()
	if !e.busy {
		t.Fatal("busy flag not set while up is in flight")
	}
	pump(t, e) // up completion -> poll session starts

	if e.session == nil || !e.session.target {
		t.Fatalf("expected an active connect session, got %+v", e.session)
	}

	// First tick: still stopped, session continues.
	ticks := sched.pending()
	if len(ticks) != 1 || ticks[0].d != pollInterval {
		t.Fatalf("expected one %s tick, got %+v", pollInterval, ticks)
	}
	clk.Advance(pollInterval)
	ticks[0].fn() // posts the tick
	pump(t, e)    // run the tick -> dispatches status fetch
	pump(t, e)    // fetch completion -> evaluate
	if e.session == nil {
		t.Fatal("session ended before convergence")
	}

	// Backend converges; next tick observes it.
	backend.setStatus(runningStatus())
	ticks = sched.pending()
	if len(ticks) != 1 {
		t.Fatalf("expected a rescheduled tick, got %d", len(ticks))
	}
	clk.Advance(pollInterval)
	ticks[0].fn()
	pump(t, e)
	pump(t, e)

	if e.session != nil {
		t.Fatal("session still active after convergence")
	}
	if e.busy {
		t.Fatal("busy flag stuck after convergence")
	}

	u := lastUpdate(t, e)
	if u.Message != "Connected" || u.Busy {
		t.Fatalf("unexpected terminal update: %+v", u)
	}
	if backend.upCalls != 1 {
		t.Fatalf("up called %d times, want 1", backend.upCalls)
	}
}

func TestEngine_ConnectCommandFailure(t *testing.T) {
	backend := &fakeBackend{
		status: stoppedStatus(),
		upErr:  &tailctl.CommandError{Op: "up", Message: "permission denied"},
	}
	e, _, _ := newTestEngine(t, backend)

	e.connectLocked()
	pump(t, e) // failing up completion

	if e.busy {
		t.Fatal("busy flag stuck after command failure")
	}
	if e.session != nil {
		t.Fatal("no poll session should start after a failed command")
	}
	u := lastUpdate(t, e)
	if u.Err == nil || !strings.Contains(u.Err.Error(), "permission denied") {
		t.Fatalf("failure not surfaced verbatim: %+v", u.Err)
	}
}

func TestEngine_ConnectTimesOut(t *testing.T) {
	backend := &fakeBackend{status: stoppedStatus()}
	e, sched, clk := newTestEngine(t, backend)
	store := &fakeStore{}
	e.store = store

	e.connectLocked()
	pump(t, e)

	// Never converges; walk ticks past the 15s budget.
	for e.session != nil {
		ticks := sched.pending()
		if len(ticks) == 0 {
			t.Fatal("session active but no tick scheduled")
		}
		clk.Advance(pollInterval)
		ticks[0].fn()
		pump(t, e)
		pump(t, e)
	}

	if e.busy {
		t.Fatal("busy flag stuck after timeout")
	}
	u := lastUpdate(t, e)
	if !errors.Is(u.Err, tailctl.ErrConvergenceTimeout) {
		t.Fatalf("err = %v, want convergence timeout", u.Err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	found := false
	for _, tr := range store.transitions {
		if tr == "connect/timeout" {
			found = true
		}
	}
	if !found {
		t.Fatalf("journal missing connect/timeout: %v", store.transitions)
	}
}

func TestEngine_DisconnectConfirmedByFetchError(t *testing.T) {
	backend := &fakeBackend{status: runningStatus()}
	e, sched, clk := newTestEngine(t, backend)

	e.disconnectLocked()
	pump(t, e) // down completed, session starts

	// Status now fails with a transport-style error: for disconnect this
	// is treated as confirmation.
	backend.mu.Lock()
	backend.statusErr = &tailctl.CommandError{Op: "status", Message: "connection refused"}
	backend.mu.Unlock()

	ticks := sched.pending()
	clk.Advance(pollInterval)
	ticks[0].fn()
	pump(t, e)
	pump(t, e)

	if e.session != nil {
		t.Fatal("disconnect session should have converged on fetch failure")
	}
	if e.busy {
		t.Fatal("busy flag stuck")
	}
}

func TestEngine_NewPollSessionSupersedesOld(t *testing.T) {
	backend := &fakeBackend{status: stoppedStatus()}
	e, sched, _ := newTestEngine(t, backend)

	e.startPoll(true, false)
	oldID := e.session.id
	oldTicks := sched.pending()

	e.startPoll(false, true)
	if e.session.id == oldID {
		t.Fatal("new session must have a new identity")
	}
	if len(oldTicks) != 1 || !oldTicks[0].stopped {
		t.Fatal("old session's tick timer was not cancelled")
	}

	// A stale tick that was already in flight must be a no-op.
	e.pollTick(oldID)
	select {
	case <-e.loop:
		t.Fatal("stale tick dispatched work")
	default:
	}
}

func TestEngine_ExitNodeIntentLifecycle(t *testing.T) {
	exit := exitDevice("berlin", "dA", "berlin-host", "100.64.0.2")
	st := runningStatus()
	st.Devices = append(st.Devices, exit)
	st.ExitNodes = []tailctl.Device{exit}

	backend := &fakeBackend{status: st}
	store := &fakeStore{}
	e, _, _ := newTestEngine(t, backend, WithStore(store))
	e.adoptSnapshot(st)

	e.setExitNodeLocked(true, "berlin-host")
	if !e.exitBusy {
		t.Fatal("exit controls not marked busy")
	}
	u := lastUpdate(t, e)
	if !u.ExitEnabled || u.ExitTarget != "berlin-host" {
		t.Fatalf("toggle should reflect the intent, got %+v", u)
	}

	pump(t, e) // set completion
	if e.exitBusy {
		t.Fatal("exit busy flag stuck after command completion")
	}
	if e.intent == nil {
		t.Fatal("intent must stay pending until a snapshot confirms it")
	}
	if store.last != "berlin-host" {
		t.Fatalf("last exit node not persisted: %q", store.last)
	}

	// Unconfirmed snapshot: toggle keeps showing the intent (no flap).
	e.adoptSnapshot(st)
	u = lastUpdate(t, e)
	if !u.ExitEnabled || u.ExitTarget != "berlin-host" {
		t.Fatalf("toggle flapped before confirmation: %+v", u)
	}

	// Confirming snapshot clears the intent.
	confirmed := st
	active := exit
	active.ActiveExitNode = true
	confirmed.ActiveExitNode = &active
	e.adoptSnapshot(confirmed)
	if e.intent != nil {
		t.Fatal("intent not cleared after confirmation")
	}
	u = lastUpdate(t, e)
	if !u.ExitEnabled || u.ExitTarget != "berlin-host" {
		t.Fatalf("observed state wrong after confirmation: %+v", u)
	}
}

func TestEngine_ExitNodeFailureDiscardsIntent(t *testing.T) {
	exit := exitDevice("berlin", "dA", "berlin-host", "100.64.0.2")
	st := runningStatus()
	st.ExitNodes = []tailctl.Device{exit}

	backend := &fakeBackend{
		status: st,
		setErr: &tailctl.CommandError{Op: "set-exit-node", Message: "invalid exit node"},
	}
	e, _, _ := newTestEngine(t, backend)
	e.adoptSnapshot(st)

	e.setExitNodeLocked(true, "")
	pump(t, e)

	if e.intent != nil {
		t.Fatal("intent must be discarded on command failure")
	}
	if e.exitBusy {
		t.Fatal("exit busy flag stuck")
	}
	u := lastUpdate(t, e)
	if u.Err == nil || !strings.Contains(u.Err.Error(), "invalid exit node") {
		t.Fatalf("failure not surfaced: %+v", u.Err)
	}
}

func TestEngine_EnableWithoutTargetFallsBack(t *testing.T) {
	berlin := exitDevice("berlin", "dA", "berlin-host", "100.64.0.2")
	oslo := exitDevice("oslo", "dB", "", "100.64.0.3")
	st := runningStatus()
	st.ExitNodes = []tailctl.Device{berlin, oslo}

	backend := &fakeBackend{status: st}
	e, _, _ := newTestEngine(t, backend)
	e.adoptSnapshot(st)
	e.lastApplied = "oslo"

	e.setExitNodeLocked(true, "")
	pump(t, e)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.setArgs) != 1 || backend.setArgs[0] != "oslo" {
		t.Fatalf("setArgs = %v, want [oslo]", backend.setArgs)
	}
}

func TestEngine_EnableWithNothingEligible(t *testing.T) {
	backend := &fakeBackend{status: runningStatus()}
	e, _, _ := newTestEngine(t, backend)
	e.adoptSnapshot(runningStatus())

	e.setExitNodeLocked(true, "")

	backend.mu.Lock()
	calls := len(backend.setArgs)
	backend.mu.Unlock()
	if calls != 0 {
		t.Fatal("no command should be dispatched with nothing eligible")
	}
	u := lastUpdate(t, e)
	if u.Message == "" {
		t.Fatal("user should be told no exit nodes are available")
	}
}

func TestEngine_NilBackendFailsFast(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)

	e.connectLocked()
	u := lastUpdate(t, e)
	if !errors.Is(u.Err, tailctl.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", u.Err)
	}
	if e.busy {
		t.Fatal("busy flag set with no backend")
	}
}

func TestDispatch_ErrorAndPanicDelivery(t *testing.T) {
	loop := make(chan func(), 4)
	post := func(fn func()) bool { loop <- fn; return true }

	t.Run("task error reaches the failure path once", func(t *testing.T) {
		dispatchErr(post, func() error {
			return errors.New("boom")
		}, func(err error) {
			if err == nil || err.Error() != "boom" {
				t.Fatalf("err = %v", err)
			}
		})
		select {
		case fn := <-loop:
			fn()
		case <-time.After(2 * time.Second):
			t.Fatal("completion never delivered")
		}
	})

	t.Run("panic is captured as a failure message", func(t *testing.T) {
		dispatchErr(post, func() error {
			panic("exploded")
		}, func(err error) {
			if err == nil || !strings.Contains(err.Error(), "exploded") {
				t.Fatalf("err = %v", err)
			}
		})
		select {
		case fn := <-loop:
			fn()
		case <-time.After(2 * time.Second):
			t.Fatal("completion never delivered")
		}
	})

	t.Run("success delivers the value", func(t *testing.T) {
		dispatch(post, func() (int, error) {
			return 42, nil
		}, func(v int, err error) {
			if err != nil || v != 42 {
				t.Fatalf("v = %d, err = %v", v, err)
			}
		})
		select {
		case fn := <-loop:
			fn()
		case <-time.After(2 * time.Second):
			t.Fatal("completion never delivered")
		}
	})
}
